package rx

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// logger 包级日志，缺省静默；宿主通过SetLogger开启
var logger atomic.Pointer[zerolog.Logger]

func init() {
	nop := zerolog.Nop()
	logger.Store(&nop)
}

// SetLogger 替换包级日志
func SetLogger(l zerolog.Logger) {
	logger.Store(&l)
}

// Logger 返回当前包级日志
func Logger() *zerolog.Logger {
	return logger.Load()
}

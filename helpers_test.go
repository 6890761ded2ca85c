package rx

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recorder 记录收到的所有通知
type recorder struct {
	mu        sync.Mutex
	values    []interface{}
	err       error
	errors    int
	completed int

	done     chan struct{}
	doneOnce sync.Once
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) OnNext(value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, value)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	r.err = err
	r.errors++
	r.mu.Unlock()
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *recorder) OnCompleted() {
	r.mu.Lock()
	r.completed++
	r.mu.Unlock()
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *recorder) Values() []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]interface{}(nil), r.values...)
}

func (r *recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *recorder) Errors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors
}

func (r *recorder) Completed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

func (r *recorder) Terminated() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// wait 等待终止通知
func (r *recorder) wait(t *testing.T) {
	t.Helper()

	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("等待终止通知超时")
	}
}

// requirePanicsWith 断言fn以包装了target的错误panic
func requirePanicsWith(t *testing.T, target error, fn func()) {
	t.Helper()

	recovered := SafeExecute(fn)
	require.NotNil(t, recovered, "期望panic")

	err, ok := recovered.(error)
	require.True(t, ok, "panic值不是error: %v", recovered)
	require.True(t, errors.Is(err, target), "期望 %v, 得到 %v", target, err)
}

// fakeClock 可以手动设置的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// ints 把整数转换为[]interface{}，便于比较
func ints(values ...int) []interface{} {
	result := make([]interface{}, len(values))
	for i, v := range values {
		result[i] = v
	}
	return result
}

var errTest = errors.New("test error")

package rx

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerManager(t *testing.T) {
	t.Run("按到期时间触发", func(t *testing.T) {
		manager := NewTimerManager()
		defer manager.Close()

		var mu sync.Mutex
		var order []string
		done := make(chan struct{})

		now := manager.Now()
		manager.SetTimer(now.Add(40*time.Millisecond), nil, func() {
			mu.Lock()
			order = append(order, "late")
			mu.Unlock()
			close(done)
		})
		manager.SetTimer(now.Add(10*time.Millisecond), nil, func() {
			mu.Lock()
			order = append(order, "early")
			mu.Unlock()
		})

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("定时器没有触发")
		}

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"early", "late"}, order)
		assert.Equal(t, 0, manager.Len())
	})

	t.Run("定时器标识单调递增", func(t *testing.T) {
		manager := NewTimerManager()
		defer manager.Close()

		at := manager.Now().Add(time.Hour)
		first := manager.SetTimer(at, nil, func() {})
		second := manager.SetTimer(at, nil, func() {})
		assert.Greater(t, second, first)
	})

	t.Run("取消的定时器不触发", func(t *testing.T) {
		manager := NewTimerManager()
		defer manager.Close()

		fired := make(chan struct{}, 1)
		id := manager.SetTimer(manager.Now().Add(20*time.Millisecond), nil, func() { fired <- struct{}{} })
		assert.Equal(t, 1, manager.Len())

		manager.CancelTimer(id)
		manager.CancelTimer(id)
		assert.Equal(t, 0, manager.Len())

		select {
		case <-fired:
			t.Fatal("已取消的定时器不应该触发")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("任务交给条目的调度器执行", func(t *testing.T) {
		manager := NewTimerManager()
		defer manager.Close()
		scheduler := NewMainThreadScheduler()
		defer scheduler.Close()

		ran := false
		manager.SetTimer(manager.Now(), scheduler, func() { ran = true })

		require.Eventually(t, func() bool {
			return scheduler.Pending() == 1
		}, time.Second, 5*time.Millisecond)
		assert.False(t, ran)

		scheduler.RunPending()
		assert.True(t, ran)
	})

	t.Run("分发失败记录日志并继续运行", func(t *testing.T) {
		var mu sync.Mutex
		var buf bytes.Buffer
		SetLogger(zerolog.New(zerolog.SyncWriter(&lockedWriter{mu: &mu, w: &buf})))
		t.Cleanup(func() { SetLogger(zerolog.Nop()) })

		manager := NewTimerManager()
		defer manager.Close()

		closed := NewMainThreadScheduler()
		closed.Close()

		fired := make(chan struct{})
		now := manager.Now()
		manager.SetTimer(now, closed, func() {})
		manager.SetTimer(now.Add(5*time.Millisecond), nil, func() { close(fired) })

		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatal("定时器goroutine停止了")
		}

		mu.Lock()
		defer mu.Unlock()
		assert.Contains(t, buf.String(), "failed to dispatch timer work")
	})

	t.Run("关闭之后设置定时器panic", func(t *testing.T) {
		manager := NewTimerManager()
		manager.SetTimer(manager.Now().Add(time.Hour), nil, func() {})
		manager.Close()
		manager.Close()

		assert.Equal(t, 0, manager.Len())
		requirePanicsWith(t, ErrSchedulerClosed, func() {
			manager.SetTimer(manager.Now(), nil, func() {})
		})
	})

	t.Run("在定时器goroutine内关闭", func(t *testing.T) {
		manager := NewTimerManager()
		manager.SetTimer(manager.Now(), nil, manager.Close)

		select {
		case <-manager.done:
		case <-time.After(time.Second):
			t.Fatal("定时器goroutine没有退出")
		}
	})

	t.Run("nil任务panic", func(t *testing.T) {
		manager := NewTimerManager()
		defer manager.Close()

		requirePanicsWith(t, ErrNilWork, func() {
			manager.SetTimer(manager.Now(), nil, nil)
		})
	})
}

// lockedWriter 与测试goroutine共享缓冲区
type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

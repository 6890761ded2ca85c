// Run loop schedulers
// 基于运行循环的调度器：单线程调度器与宿主驱动的主线程调度器
package rx

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"
)

// ============================================================================
// 运行循环
// ============================================================================

type runLoopItem struct {
	work      func()
	cancelled atomic.Bool
}

// runLoop 线程亲和的FIFO任务队列，由run所在的goroutine消费
type runLoop struct {
	name string

	mu     sync.Mutex
	queue  []*runLoopItem
	closed bool

	wake chan struct{}
	stop chan struct{}
}

func newRunLoop(name string) *runLoop {
	return &runLoop{
		name: name,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
}

// post 投递任务；运行循环关闭后panic，任务不会被投递
func (l *runLoop) post(work func()) Disposable {
	item := &runLoopItem{work: work}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		panic(ErrSchedulerClosed.Wrap(l.name))
	}
	l.queue = append(l.queue, item)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}

	return NewDisposable(func() {
		item.cancelled.Store(true)
	})
}

// runPending 执行队列中的任务直到队列为空，返回执行的数量
func (l *runLoop) runPending() int {
	executed := 0
	for {
		l.mu.Lock()
		if l.closed || len(l.queue) == 0 {
			l.mu.Unlock()
			return executed
		}
		item := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		if item.cancelled.Load() {
			continue
		}
		item.work()
		executed++
	}
}

// run 在当前goroutine上泵送任务直到ctx结束或运行循环关闭
func (l *runLoop) run(ctx context.Context) error {
	for {
		l.runPending()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case <-l.wake:
		}
	}
}

// close 关闭运行循环；重复关闭返回false
func (l *runLoop) close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		Logger().Warn().Str("scheduler", l.name).Msg("redundant close")
		return false
	}

	l.closed = true
	l.queue = nil
	close(l.stop)
	return true
}

func (l *runLoop) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// ============================================================================
// 单线程调度器 - Single Thread Scheduler
// ============================================================================

// SingleThreadScheduler 所有任务在同一个专用goroutine上按投递顺序执行
type SingleThreadScheduler struct {
	config *Config
	loop   *runLoop
	done   chan struct{}
	gid    atomic.Int64
}

// NewSingleThreadScheduler 创建单线程调度器并启动其goroutine
func NewSingleThreadScheduler(options ...Option) *SingleThreadScheduler {
	s := &SingleThreadScheduler{
		config: newConfig(options),
		loop:   newRunLoop("single-thread"),
		done:   make(chan struct{}),
	}

	started := make(chan struct{})
	go func() {
		defer close(s.done)
		s.gid.Store(goid.Get())
		close(started)
		_ = s.loop.run(context.Background())
	}()
	<-started

	Logger().Debug().Msg("single thread scheduler started")
	return s
}

// Schedule 投递任务
func (s *SingleThreadScheduler) Schedule(work func()) Disposable {
	checkWork(work, "SingleThreadScheduler.Schedule")
	return s.loop.post(work)
}

// ScheduleWithDelay 到期后由定时器管理器投递任务
func (s *SingleThreadScheduler) ScheduleWithDelay(work func(), delay time.Duration) Disposable {
	checkWork(work, "SingleThreadScheduler.ScheduleWithDelay")

	if delay <= 0 {
		return s.loop.post(work)
	}
	return scheduleOnTimer(s.config.timerManager(), s, work, delay)
}

// IsCurrent 当前goroutine是否为调度器的工作goroutine
func (s *SingleThreadScheduler) IsCurrent() bool {
	return goid.Get() == s.gid.Load()
}

// Close 停止并等待工作goroutine退出，未执行的任务被丢弃
func (s *SingleThreadScheduler) Close() {
	if !s.loop.close() {
		return
	}

	if !s.IsCurrent() {
		<-s.done
	}
	Logger().Debug().Msg("single thread scheduler stopped")
}

// ============================================================================
// 主线程调度器 - Main Thread Scheduler
// ============================================================================

// MainThreadScheduler 把任务投递到宿主运行循环。
// 宿主在拥有界面或事件循环的goroutine上调用Run或RunPending来执行任务。
type MainThreadScheduler struct {
	config *Config
	loop   *runLoop
}

// NewMainThreadScheduler 创建主线程调度器
func NewMainThreadScheduler(options ...Option) *MainThreadScheduler {
	return &MainThreadScheduler{
		config: newConfig(options),
		loop:   newRunLoop("main-thread"),
	}
}

// Schedule 投递任务到宿主运行循环
func (s *MainThreadScheduler) Schedule(work func()) Disposable {
	checkWork(work, "MainThreadScheduler.Schedule")
	return s.loop.post(work)
}

// ScheduleWithDelay 到期后由定时器管理器投递任务
func (s *MainThreadScheduler) ScheduleWithDelay(work func(), delay time.Duration) Disposable {
	checkWork(work, "MainThreadScheduler.ScheduleWithDelay")

	if delay <= 0 {
		return s.loop.post(work)
	}
	return scheduleOnTimer(s.config.timerManager(), s, work, delay)
}

// Run 在调用者goroutine上执行任务，直到ctx结束或调度器关闭
func (s *MainThreadScheduler) Run(ctx context.Context) error {
	return s.loop.run(ctx)
}

// RunPending 执行所有已排队的任务并返回执行数量
func (s *MainThreadScheduler) RunPending() int {
	return s.loop.runPending()
}

// Pending 已排队的任务数量
func (s *MainThreadScheduler) Pending() int {
	return s.loop.pending()
}

// Close 关闭调度器，Run随之返回
func (s *MainThreadScheduler) Close() {
	s.loop.close()
}

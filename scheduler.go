// Scheduler implementations
// 调度器实现：立即、蹦床、新线程，以及调度辅助函数
package rx

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"
)

// checkWork 检查任务前置条件，任何状态变化之前panic
func checkWork(work func(), where string) {
	if work == nil {
		panic(ErrNilWork.Wrap(where))
	}
}

// ============================================================================
// 立即调度器 - Immediate Scheduler
// ============================================================================

// immediateScheduler 立即在当前goroutine中执行任务
type immediateScheduler struct{}

// NewImmediateScheduler 创建立即调度器
func NewImmediateScheduler() Scheduler {
	return &immediateScheduler{}
}

// Schedule 同步执行任务，返回已释放的句柄
func (s *immediateScheduler) Schedule(work func()) Disposable {
	checkWork(work, "immediateScheduler.Schedule")

	work()
	return Disposed()
}

// ScheduleWithDelay 阻塞当前goroutine直到延迟结束，然后同步执行任务
func (s *immediateScheduler) ScheduleWithDelay(work func(), delay time.Duration) Disposable {
	checkWork(work, "immediateScheduler.ScheduleWithDelay")

	if delay > 0 {
		time.Sleep(delay)
	}
	work()
	return Disposed()
}

// ============================================================================
// 蹦床调度器 - Trampoline Scheduler
// ============================================================================

// TrampolineScheduler 每个goroutine一个FIFO队列。
// 执行中再次调度的任务进入队列，由最外层调用在当前任务结束后依次执行，
// 因此递归调度退化为广度优先执行，栈不会增长。
type TrampolineScheduler struct {
	mu     sync.Mutex
	queues map[int64]*trampolineQueue
}

// trampolineQueue 只被所属goroutine访问
type trampolineQueue struct {
	items []*trampolineItem
	seq   uint64
}

type trampolineItem struct {
	due       time.Time
	seq       uint64
	work      func()
	cancelled atomic.Bool
}

// NewTrampolineScheduler 创建蹦床调度器
func NewTrampolineScheduler() *TrampolineScheduler {
	return &TrampolineScheduler{
		queues: make(map[int64]*trampolineQueue),
	}
}

// Schedule 调度任务
func (s *TrampolineScheduler) Schedule(work func()) Disposable {
	checkWork(work, "TrampolineScheduler.Schedule")
	return s.schedule(work, 0)
}

// ScheduleWithDelay 延迟调度任务，延迟在当前goroutine上等待
func (s *TrampolineScheduler) ScheduleWithDelay(work func(), delay time.Duration) Disposable {
	checkWork(work, "TrampolineScheduler.ScheduleWithDelay")
	return s.schedule(work, delay)
}

func (s *TrampolineScheduler) schedule(work func(), delay time.Duration) Disposable {
	gid := goid.Get()
	item := &trampolineItem{
		due:  time.Now().Add(delay),
		work: work,
	}

	s.mu.Lock()
	queue, draining := s.queues[gid]
	if draining {
		s.mu.Unlock()
		queue.push(item)
		return NewDisposable(func() {
			item.cancelled.Store(true)
		})
	}

	queue = &trampolineQueue{}
	s.queues[gid] = queue
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.queues, gid)
		s.mu.Unlock()
	}()

	queue.push(item)
	queue.drain()
	return Disposed()
}

// IsDraining 当前goroutine是否正在执行蹦床队列
func (s *TrampolineScheduler) IsDraining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.queues[goid.Get()]
	return ok
}

// push 按到期时间插入，相同时间保持先进先出
func (q *trampolineQueue) push(item *trampolineItem) {
	q.seq++
	item.seq = q.seq

	index := sort.Search(len(q.items), func(i int) bool {
		return q.items[i].due.After(item.due)
	})
	q.items = append(q.items, nil)
	copy(q.items[index+1:], q.items[index:])
	q.items[index] = item
}

func (q *trampolineQueue) drain() {
	for len(q.items) > 0 {
		item := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]

		if item.cancelled.Load() {
			continue
		}

		if wait := time.Until(item.due); wait > 0 {
			time.Sleep(wait)
		}

		if item.cancelled.Load() {
			continue
		}
		item.work()
	}
}

// ============================================================================
// 新线程调度器 - New Thread Scheduler
// ============================================================================

// NewThreadScheduler 为每个任务启动独立的goroutine，延迟任务由定时器管理器触发
type NewThreadScheduler struct {
	config *Config
	mu     sync.Mutex
	items  map[*newThreadItem]struct{}
}

type newThreadItem struct {
	cancelled atomic.Bool
}

// NewNewThreadScheduler 创建新线程调度器
func NewNewThreadScheduler(options ...Option) *NewThreadScheduler {
	return &NewThreadScheduler{
		config: newConfig(options),
		items:  make(map[*newThreadItem]struct{}),
	}
}

// Schedule 在新goroutine中执行任务
func (s *NewThreadScheduler) Schedule(work func()) Disposable {
	checkWork(work, "NewThreadScheduler.Schedule")

	item := s.track()
	go s.run(item, work)

	return NewDisposable(func() {
		item.cancelled.Store(true)
		s.untrack(item)
	})
}

// ScheduleWithDelay 延迟在新goroutine中执行任务
func (s *NewThreadScheduler) ScheduleWithDelay(work func(), delay time.Duration) Disposable {
	checkWork(work, "NewThreadScheduler.ScheduleWithDelay")

	if delay <= 0 {
		return s.Schedule(work)
	}

	item := s.track()
	manager := s.config.timerManager()
	id := manager.SetTimer(manager.Now().Add(delay), newThreadLauncher{s, item}, work)

	return NewDisposable(func() {
		manager.CancelTimer(id)
		item.cancelled.Store(true)
		s.untrack(item)
	})
}

// ThreadCount 存活的任务数量
func (s *NewThreadScheduler) ThreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *NewThreadScheduler) track() *newThreadItem {
	item := &newThreadItem{}

	s.mu.Lock()
	s.items[item] = struct{}{}
	s.mu.Unlock()

	return item
}

func (s *NewThreadScheduler) untrack(item *newThreadItem) {
	s.mu.Lock()
	delete(s.items, item)
	s.mu.Unlock()
}

func (s *NewThreadScheduler) run(item *newThreadItem, work func()) {
	defer s.untrack(item)

	if item.cancelled.Load() {
		return
	}
	work()
}

// newThreadLauncher 定时器到期时为已登记的任务启动goroutine
type newThreadLauncher struct {
	scheduler *NewThreadScheduler
	item      *newThreadItem
}

func (l newThreadLauncher) Schedule(work func()) Disposable {
	go l.scheduler.run(l.item, work)
	return Disposed()
}

func (l newThreadLauncher) ScheduleWithDelay(work func(), delay time.Duration) Disposable {
	return l.scheduler.ScheduleWithDelay(work, delay)
}

// ============================================================================
// 默认调度器
// ============================================================================

var (
	// Immediate 立即调度器实例
	Immediate Scheduler = NewImmediateScheduler()

	// Trampoline 蹦床调度器实例，队列按goroutine隔离
	Trampoline = NewTrampolineScheduler()

	// NewThread 新线程调度器实例
	NewThread = NewNewThreadScheduler()
)

// ============================================================================
// 调度器辅助函数
// ============================================================================

// ScheduleWithContext 调度任务，ctx结束时取消尚未执行的任务
func ScheduleWithContext(ctx context.Context, scheduler Scheduler, work func()) Disposable {
	checkWork(work, "ScheduleWithContext")

	disposable := scheduler.Schedule(func() {
		if ctx.Err() != nil {
			return
		}
		work()
	})

	stop := context.AfterFunc(ctx, disposable.Dispose)
	return NewDisposable(func() {
		stop()
		disposable.Dispose()
	})
}

// scheduleOnTimer 通过定时器管理器在到期后把任务交给目标调度器
func scheduleOnTimer(manager *TimerManager, target Scheduler, work func(), delay time.Duration) Disposable {
	var cancelled atomic.Bool
	id := manager.SetTimer(manager.Now().Add(delay), target, func() {
		if cancelled.Load() {
			return
		}
		work()
	})

	return NewDisposable(func() {
		cancelled.Store(true)
		manager.CancelTimer(id)
	})
}

// Virtual time scheduler
// 虚拟时间调度器，用于测试，可以手动推进时间
package rx

import (
	"sort"
	"sync"
	"time"
)

// VirtualTimeScheduler 虚拟时间调度器，同时作为Clock使用
type VirtualTimeScheduler struct {
	mu         sync.Mutex
	clock      time.Time
	queue      []*scheduledAction
	seq        uint64
	isDisposed bool
}

// scheduledAction 调度的动作
type scheduledAction struct {
	time   time.Time
	seq    uint64
	action func()
}

var (
	_ Scheduler = (*VirtualTimeScheduler)(nil)
	_ Clock     = (*VirtualTimeScheduler)(nil)
)

// NewVirtualTimeScheduler 创建虚拟时间调度器，时钟从Unix纪元开始
func NewVirtualTimeScheduler() *VirtualTimeScheduler {
	return &VirtualTimeScheduler{
		clock: time.Unix(0, 0).UTC(),
	}
}

// Schedule 在当前虚拟时刻调度任务，推进时间时执行
func (s *VirtualTimeScheduler) Schedule(work func()) Disposable {
	checkWork(work, "VirtualTimeScheduler.Schedule")
	return s.ScheduleAt(s.Now(), work)
}

// ScheduleWithDelay 延迟调度任务
func (s *VirtualTimeScheduler) ScheduleWithDelay(work func(), delay time.Duration) Disposable {
	checkWork(work, "VirtualTimeScheduler.ScheduleWithDelay")
	return s.ScheduleAt(s.Now().Add(delay), work)
}

// ScheduleAt 在指定时间调度任务
func (s *VirtualTimeScheduler) ScheduleAt(at time.Time, work func()) Disposable {
	checkWork(work, "VirtualTimeScheduler.ScheduleAt")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isDisposed {
		return Disposed()
	}

	// 插入到正确的位置以保持时间顺序
	s.seq++
	newAction := &scheduledAction{time: at, seq: s.seq, action: work}
	index := sort.Search(len(s.queue), func(i int) bool {
		return s.queue[i].time.After(at)
	})
	s.queue = append(s.queue, nil)
	copy(s.queue[index+1:], s.queue[index:])
	s.queue[index] = newAction

	return NewDisposable(func() {
		s.removeAction(newAction)
	})
}

// Now 当前虚拟时间
func (s *VirtualTimeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// AdvanceTimeBy 推进时间
func (s *VirtualTimeScheduler) AdvanceTimeBy(duration time.Duration) {
	s.AdvanceTimeTo(s.Now().Add(duration))
}

// AdvanceTimeTo 推进时间到指定时刻，按到期顺序执行任务，执行前把时钟设置为任务的到期时间
func (s *VirtualTimeScheduler) AdvanceTimeTo(target time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.isDisposed && len(s.queue) > 0 && !s.queue[0].time.After(target) {
		action := s.queue[0]
		s.queue = s.queue[1:]
		if action.time.After(s.clock) {
			s.clock = action.time
		}

		// 解锁以允许action执行时调度新任务
		s.mu.Unlock()
		action.action()
		s.mu.Lock()
	}

	if target.After(s.clock) {
		s.clock = target
	}
}

// Pending 待执行的任务数量
func (s *VirtualTimeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// NextDue 下一个任务的到期时间
func (s *VirtualTimeScheduler) NextDue() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return time.Time{}, false
	}
	return s.queue[0].time, true
}

// removeAction 移除动作
func (s *VirtualTimeScheduler) removeAction(actionToRemove *scheduledAction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, action := range s.queue {
		if action == actionToRemove {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
}

// Dispose 释放虚拟时间调度器
func (s *VirtualTimeScheduler) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.isDisposed = true
	s.queue = nil
}

// Timer manager
// 定时器管理器：一个专用goroutine维护按时间排序的任务队列
package rx

import (
	"sort"
	"sync"
	"time"

	"github.com/petermattis/goid"
)

// TimerID 定时器标识，单调递增
type TimerID uint64

// timerEntry 定时器条目，到期前只属于管理器的有序队列
type timerEntry struct {
	id        TimerID
	at        time.Time
	scheduler Scheduler
	work      func()
}

// TimerManager 由定时器goroutine决定"何时"，由条目的调度器决定"在哪里"执行。
// 只有定时器goroutine会弹出并分发到期条目。
type TimerManager struct {
	clock Clock

	mu      sync.Mutex
	entries []*timerEntry
	nextID  TimerID
	closed  bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	gid  int64
}

// NewTimerManager 创建定时器管理器并启动定时器goroutine
func NewTimerManager(options ...Option) *TimerManager {
	config := newConfig(options)

	tm := &TimerManager{
		clock: config.Clock,
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}

	started := make(chan struct{})
	go tm.loop(started)
	<-started

	Logger().Debug().Msg("timer manager started")
	return tm
}

var (
	defaultTimerManagerOnce sync.Once
	defaultTimerManager     *TimerManager
)

// DefaultTimerManager 进程级定时器管理器，首次使用时创建
func DefaultTimerManager() *TimerManager {
	defaultTimerManagerOnce.Do(func() {
		defaultTimerManager = NewTimerManager()
	})
	return defaultTimerManager
}

// Now 管理器时钟的当前时间
func (tm *TimerManager) Now() time.Time {
	return tm.clock.Now()
}

// SetTimer 在at时刻把work交给scheduler执行；scheduler为nil时在定时器goroutine上执行。
// 只有新条目成为队首时才唤醒定时器goroutine。
func (tm *TimerManager) SetTimer(at time.Time, scheduler Scheduler, work func()) TimerID {
	checkWork(work, "TimerManager.SetTimer")
	if scheduler == nil {
		scheduler = Immediate
	}

	tm.mu.Lock()
	if tm.closed {
		tm.mu.Unlock()
		panic(ErrSchedulerClosed.Wrap("timer manager is closed"))
	}

	tm.nextID++
	entry := &timerEntry{
		id:        tm.nextID,
		at:        at,
		scheduler: scheduler,
		work:      work,
	}

	index := sort.Search(len(tm.entries), func(i int) bool {
		return tm.entries[i].at.After(at)
	})
	tm.entries = append(tm.entries, nil)
	copy(tm.entries[index+1:], tm.entries[index:])
	tm.entries[index] = entry
	tm.mu.Unlock()

	Logger().Trace().Uint64("timer_id", uint64(entry.id)).Time("at", at).Msg("timer set")

	if index == 0 {
		tm.notify()
	}
	return entry.id
}

// CancelTimer 移除定时器；只有移除的是队首时才唤醒定时器goroutine
func (tm *TimerManager) CancelTimer(id TimerID) {
	tm.mu.Lock()
	wasHead := false
	for i, entry := range tm.entries {
		if entry.id == id {
			wasHead = i == 0
			tm.entries = append(tm.entries[:i], tm.entries[i+1:]...)
			break
		}
	}
	tm.mu.Unlock()

	Logger().Trace().Uint64("timer_id", uint64(id)).Bool("head", wasHead).Msg("timer canceled")

	if wasHead {
		tm.notify()
	}
}

// Len 待触发的定时器数量
func (tm *TimerManager) Len() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return len(tm.entries)
}

// Close 停止并等待定时器goroutine退出，丢弃未触发的条目
func (tm *TimerManager) Close() {
	tm.mu.Lock()
	if tm.closed {
		tm.mu.Unlock()
		return
	}
	tm.closed = true
	tm.entries = nil
	close(tm.stop)
	tm.mu.Unlock()

	// 在定时器goroutine内部关闭时不能等待自身
	if goid.Get() != tm.gid {
		<-tm.done
	}
	Logger().Debug().Msg("timer manager stopped")
}

func (tm *TimerManager) notify() {
	select {
	case tm.wake <- struct{}{}:
	default:
	}
}

func (tm *TimerManager) loop(started chan<- struct{}) {
	defer close(tm.done)

	tm.gid = goid.Get()
	close(started)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		tm.mu.Lock()
		if tm.closed {
			tm.mu.Unlock()
			return
		}

		if len(tm.entries) == 0 {
			tm.mu.Unlock()
			select {
			case <-tm.wake:
			case <-tm.stop:
				return
			}
			continue
		}

		head := tm.entries[0]
		now := tm.clock.Now()
		if !head.at.After(now) {
			tm.entries[0] = nil
			tm.entries = tm.entries[1:]
			tm.mu.Unlock()

			tm.dispatch(head)
			continue
		}
		tm.mu.Unlock()

		timer.Reset(head.at.Sub(now))
		select {
		case <-timer.C:
		case <-tm.wake:
			timer.Stop()
		case <-tm.stop:
			return
		}
	}
}

// dispatch 把到期任务交给条目的调度器；调度失败只记录日志，任务视为未被调度
func (tm *TimerManager) dispatch(entry *timerEntry) {
	if recovered := SafeExecute(func() {
		entry.scheduler.Schedule(entry.work)
	}); recovered != nil {
		Logger().Error().
			Uint64("timer_id", uint64(entry.id)).
			Interface("panic", recovered).
			Msg("failed to dispatch timer work")
	}
}

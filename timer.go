// Timer observables
// 定时器Observable：Once、Interval与Timer，周期任务带漂移校正
package rx

import (
	"sync/atomic"
	"time"
)

// ============================================================================
// 定时器工厂函数
// ============================================================================

// Once 在delay之后发射0然后完成
func Once(delay time.Duration, options ...Option) Observable {
	return newTimerObservable(delay, 0, options)
}

// Interval 每隔period发射一个递增整数：0, 1, 2, ...
func Interval(period time.Duration, options ...Option) Observable {
	return newTimerObservable(period, period, options)
}

// Timer 在delay之后发射第一个值，之后每隔period发射一次；period不大于0时等同于Once
func Timer(delay, period time.Duration, options ...Option) Observable {
	return newTimerObservable(delay, period, options)
}

// ============================================================================
// 定时器生产者
// ============================================================================

// timerProducer 通过调度器的ScheduleWithDelay逐个安排下一次触发
type timerProducer struct {
	*Producer
	scheduler Scheduler
	clock     Clock
	period    time.Duration
	// anchor 第一次触发的计划时间，之后的触发都对齐到anchor+k*period
	anchor  time.Time
	count   atomic.Int64
	pending chainSubscription
}

func newTimerObservable(delay, period time.Duration, options []Option) Observable {
	config := newConfig(options)

	return NewObservable(func(observer Observer) Subscription {
		p := &timerProducer{
			scheduler: config.scheduler(),
			clock:     config.Clock,
			period:    period,
		}
		p.Producer = NewProducer(observer, p.pending.dispose)
		p.anchor = p.clock.Now().Add(delay)

		p.arm(delay)
		return p
	})
}

func (p *timerProducer) arm(delay time.Duration) {
	p.pending.run(func() Disposable {
		return p.scheduler.ScheduleWithDelay(p.tick, delay)
	})
}

func (p *timerProducer) tick() {
	if p.IsUnsubscribed() {
		return
	}

	p.EmitOnNext(int(p.count.Add(1) - 1))

	if p.period <= 0 {
		p.EmitOnCompleted()
		return
	}

	now := p.clock.Now()
	next := nextFireTime(p.anchor, now, p.period)
	Logger().Trace().Time("next", next).Dur("delay", next.Sub(now)).Msg("timer rearmed")
	p.arm(next.Sub(now))
}

// nextFireTime 返回origin + k*period（k >= 1）中严格晚于now的最小时刻。
// 唤醒过晚时跳过整段周期，而不是连续补发错过的触发。
func nextFireTime(origin, now time.Time, period time.Duration) time.Time {
	if !now.After(origin) {
		return origin.Add(period)
	}

	k := now.Sub(origin)/period + 1
	return origin.Add(k * period)
}

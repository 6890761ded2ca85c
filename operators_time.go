// Time-based operators
// 时间操作符实现，包含ThrottleFirst, Debounce, Delay, Timeout
package rx

import (
	"sync"
	"time"
)

// ============================================================================
// ThrottleFirst
// ============================================================================

// ThrottleFirst 发射一个值后，在duration内丢弃后续的值；窗口从上一次发射的时刻开始计算
func (o *observableImpl) ThrottleFirst(duration time.Duration, options ...Option) Observable {
	config := newConfig(options)

	return o.lift(func(op *operatorProducer) Observer {
		var mu sync.Mutex
		var last time.Time
		emitted := false

		return forward(op, func(value interface{}) {
			now := config.Clock.Now()

			mu.Lock()
			if emitted && now.Sub(last) < duration {
				mu.Unlock()
				return
			}
			last = now
			emitted = true
			mu.Unlock()

			op.EmitOnNext(value)
		})
	})
}

// ============================================================================
// Debounce
// ============================================================================

// debounceProducer 只有在duration内没有新值时才发射最后一个值
type debounceProducer struct {
	*Producer
	scheduler Scheduler
	duration  time.Duration
	upstream  serialSubscription
	timer     serialSubscription

	// mu 保护待发射的值并串行化发射
	mu    sync.Mutex
	gen   uint64
	value interface{}
	has   bool
}

// Debounce 防抖操作符；完成时先发射尚未发出的最后一个值
func (o *observableImpl) Debounce(duration time.Duration, options ...Option) Observable {
	config := newConfig(options)

	return NewObservable(func(observer Observer) Subscription {
		p := &debounceProducer{
			scheduler: config.scheduler(),
			duration:  duration,
		}
		p.Producer = NewProducer(observer, func() {
			p.upstream.dispose()
			p.timer.dispose()
		})

		p.upstream.set(o.Subscribe(NewObserver(p.onNext, p.onError, p.onCompleted)))
		return p
	})
}

func (p *debounceProducer) onNext(value interface{}) {
	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.value = value
	p.has = true
	p.mu.Unlock()

	p.timer.set(p.scheduler.ScheduleWithDelay(func() {
		p.fire(gen)
	}, p.duration))
}

func (p *debounceProducer) fire(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.gen || !p.has {
		return
	}
	p.has = false
	value := p.value
	p.value = nil
	p.EmitOnNext(value)
}

func (p *debounceProducer) onError(err error) {
	p.mu.Lock()
	p.gen++
	p.has = false
	p.value = nil
	p.mu.Unlock()

	p.EmitOnError(err)
}

func (p *debounceProducer) onCompleted() {
	p.timer.dispose()

	p.mu.Lock()
	p.gen++
	if p.has {
		p.has = false
		p.EmitOnNext(p.value)
		p.value = nil
	}
	p.mu.Unlock()

	p.EmitOnCompleted()
}

// ============================================================================
// Delay
// ============================================================================

// delayedSignal 等待发射的通知
type delayedSignal struct {
	due  time.Time
	emit func()
}

// delayProducer 按到达顺序把值和完成通知推迟duration后发射；错误立即发射
type delayProducer struct {
	*Producer
	scheduler Scheduler
	clock     Clock
	duration  time.Duration
	upstream  serialSubscription
	timer     chainSubscription

	mu    sync.Mutex
	queue []delayedSignal
	armed bool
}

// Delay 延迟操作符
func (o *observableImpl) Delay(duration time.Duration, options ...Option) Observable {
	config := newConfig(options)

	return NewObservable(func(observer Observer) Subscription {
		p := &delayProducer{
			scheduler: config.scheduler(),
			clock:     config.Clock,
			duration:  duration,
		}
		p.Producer = NewProducer(observer, func() {
			p.upstream.dispose()
			p.timer.dispose()
		})

		p.upstream.set(o.Subscribe(NewObserver(
			func(value interface{}) {
				p.enqueue(func() { p.EmitOnNext(value) })
			},
			p.onError,
			func() {
				p.enqueue(p.EmitOnCompleted)
			},
		)))
		return p
	})
}

func (p *delayProducer) enqueue(emit func()) {
	p.mu.Lock()
	p.queue = append(p.queue, delayedSignal{
		due:  p.clock.Now().Add(p.duration),
		emit: emit,
	})
	if p.armed {
		p.mu.Unlock()
		return
	}
	p.armed = true
	p.mu.Unlock()

	p.arm(p.duration)
}

func (p *delayProducer) arm(delay time.Duration) {
	p.timer.run(func() Disposable {
		return p.scheduler.ScheduleWithDelay(p.drain, delay)
	})
}

// drain 发射所有到期的通知，然后为下一个通知重新安排
func (p *delayProducer) drain() {
	for {
		if p.IsUnsubscribed() {
			return
		}

		p.mu.Lock()
		if len(p.queue) == 0 {
			p.armed = false
			p.mu.Unlock()
			return
		}

		head := p.queue[0]
		if wait := head.due.Sub(p.clock.Now()); wait > 0 {
			p.mu.Unlock()
			p.arm(wait)
			return
		}
		p.queue[0] = delayedSignal{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		head.emit()
	}
}

func (p *delayProducer) onError(err error) {
	p.mu.Lock()
	p.queue = nil
	p.mu.Unlock()

	p.EmitOnError(err)
}

// ============================================================================
// Timeout
// ============================================================================

// timeoutProducer 让源与一个Once定时器竞争，每个值都会重新启动定时器
type timeoutProducer struct {
	*Producer
	scheduler Scheduler
	duration  time.Duration
	upstream  serialSubscription
	timer     serialSubscription

	mu  sync.Mutex
	gen uint64
}

// Timeout 在duration内没有收到任何通知时发射ErrTimeout
func (o *observableImpl) Timeout(duration time.Duration, options ...Option) Observable {
	config := newConfig(options)

	return NewObservable(func(observer Observer) Subscription {
		p := &timeoutProducer{
			scheduler: config.scheduler(),
			duration:  duration,
		}
		p.Producer = NewProducer(observer, func() {
			p.upstream.dispose()
			p.timer.dispose()
		})

		p.arm()
		if p.IsUnsubscribed() {
			return p
		}

		p.upstream.set(o.Subscribe(NewObserver(
			func(value interface{}) {
				if p.IsTerminated() {
					return
				}
				p.arm()
				p.EmitOnNext(value)
			},
			func(err error) {
				p.disarm()
				p.EmitOnError(err)
			},
			func() {
				p.disarm()
				p.EmitOnCompleted()
			},
		)))
		return p
	})
}

func (p *timeoutProducer) arm() {
	p.mu.Lock()
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	p.timer.set(Once(p.duration, WithScheduler(p.scheduler)).Subscribe(NewObserver(
		func(interface{}) { p.expire(gen) },
		nil,
		nil,
	)))
}

func (p *timeoutProducer) disarm() {
	p.mu.Lock()
	p.gen++
	p.mu.Unlock()

	p.timer.dispose()
}

func (p *timeoutProducer) expire(gen uint64) {
	p.mu.Lock()
	stale := gen != p.gen
	p.mu.Unlock()

	if stale {
		return
	}
	p.EmitOnError(ErrTimeout.Wrapf("no notification within %s", p.duration))
}

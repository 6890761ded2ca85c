// Scheduling operators
// 调度操作符：ObserveOn把通知切换到目标调度器，SubscribeOn把订阅动作切换到目标调度器
package rx

import (
	"sync"
)

// ============================================================================
// ObserveOn
// ============================================================================

// ObserveOn 把OnNext/OnError/OnCompleted按到达顺序投递到scheduler上执行。
// 通知先进入队列，只有队列由空闲转为非空时才投递一次排空任务，
// 因此并发调度器上的通知也不会乱序。取消订阅后尚未执行的通知会被丢弃。
func (o *observableImpl) ObserveOn(scheduler Scheduler) Observable {
	return o.lift(func(op *operatorProducer) Observer {
		var queue serializer
		op.RegisterUnsubscribeNotification(queue.clear)

		deliver := func(emit func()) {
			if !queue.enqueue(func() {
				if op.IsUnsubscribed() {
					return
				}
				emit()
			}) {
				return
			}
			scheduler.Schedule(queue.drain)
		}

		return NewObserver(
			func(value interface{}) {
				deliver(func() { op.EmitOnNext(value) })
			},
			func(err error) {
				deliver(func() { op.EmitOnError(err) })
			},
			func() {
				deliver(op.EmitOnCompleted)
			},
		)
	})
}

// ============================================================================
// SubscribeOn
// ============================================================================

// subscribeOnProducer 在调度器上订阅上游，并在同一调度器上取消订阅
type subscribeOnProducer struct {
	*Producer
	scheduler Scheduler

	mu          sync.Mutex
	pendingWork Disposable
	upstream    Subscription
}

// SubscribeOn 把订阅上游的动作（而不仅是通知）放到scheduler上执行；
// 取消订阅同样在该调度器上执行，避免与订阅动作竞争。
func (o *observableImpl) SubscribeOn(scheduler Scheduler) Observable {
	return NewObservable(func(observer Observer) Subscription {
		p := &subscribeOnProducer{scheduler: scheduler}
		p.Producer = NewProducer(observer, p.onUnsubscribe)

		work := scheduler.Schedule(func() {
			sub := o.Subscribe(p.AsObserver())

			p.mu.Lock()
			if p.IsUnsubscribed() {
				p.mu.Unlock()
				sub.Dispose()
				return
			}
			p.upstream = sub
			p.mu.Unlock()
		})

		p.mu.Lock()
		if p.upstream == nil && !p.IsUnsubscribed() {
			p.pendingWork = work
		}
		p.mu.Unlock()

		return p
	})
}

func (p *subscribeOnProducer) onUnsubscribe() {
	p.mu.Lock()
	work := p.pendingWork
	upstream := p.upstream
	p.pendingWork = nil
	p.upstream = nil
	p.mu.Unlock()

	if work != nil {
		work.Dispose()
	}

	if upstream == nil {
		return
	}

	// 调度器已关闭时就地取消
	if recovered := SafeExecute(func() {
		p.scheduler.Schedule(upstream.Dispose)
	}); recovered != nil {
		upstream.Dispose()
	}
}

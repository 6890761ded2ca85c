// Factory functions
// 工厂函数：从值、切片、channel或自定义发射器创建Observable
package rx

import (
	"context"
)

// ============================================================================
// 创建操作符
// ============================================================================

// Create 从自定义发射器创建Observable。
// emitter在订阅的goroutine上同步执行，可以通过subscription检查下游是否已取消订阅。
func Create(emitter func(observer Observer, subscription Subscription)) Observable {
	return NewObservable(func(observer Observer) Subscription {
		p := NewProducer(observer, nil)
		emitter(p.AsObserver(), liveSubscription{p})
		return p
	})
}

// liveSubscription 交给发射器的订阅句柄，下游链上任一环节取消订阅都视为已取消
type liveSubscription struct {
	*Producer
}

func (s liveSubscription) IsUnsubscribed() bool {
	return s.isDownstreamDone()
}

// CreateOn 在scheduler上执行发射器；取消订阅时ctx被取消，尚未执行的发射器不再执行
func CreateOn(scheduler Scheduler, emitter func(ctx context.Context, observer Observer)) Observable {
	return NewObservable(func(observer Observer) Subscription {
		ctx, cancel := context.WithCancel(context.Background())

		var work serialSubscription
		p := NewProducer(observer, func() {
			cancel()
			work.dispose()
		})

		work.set(scheduler.Schedule(func() {
			if ctx.Err() != nil {
				return
			}
			emitter(ctx, p.AsObserver())
		}))
		return p
	})
}

// Defer 延迟创建Observable，直到有观察者订阅
func Defer(factory func() Observable) Observable {
	return NewObservable(func(observer Observer) Subscription {
		var observable Observable
		if recovered := SafeExecute(func() {
			observable = factory()
		}); recovered != nil {
			return Error(panicToError(recovered)).Subscribe(observer)
		}

		if observable == nil {
			return Error(ErrNilObservable.Wrap("Defer")).Subscribe(observer)
		}
		return observable.Subscribe(observer)
	})
}

// Start 在指定调度器上执行函数并发射结果
func Start(fn func() (interface{}, error), scheduler Scheduler) Observable {
	return CreateOn(scheduler, func(ctx context.Context, observer Observer) {
		result, err := fn()
		if err != nil {
			observer.OnError(err)
			return
		}
		observer.OnNext(result)
		observer.OnCompleted()
	})
}

// ============================================================================
// 基础工厂函数
// ============================================================================

// Just 从给定的值创建Observable，订阅时同步发射
func Just(values ...interface{}) Observable {
	return FromSlice(values)
}

// FromSlice 从切片创建Observable；下游取消订阅后停止发射
func FromSlice(slice []interface{}) Observable {
	return Create(func(observer Observer, subscription Subscription) {
		for _, value := range slice {
			if subscription.IsUnsubscribed() {
				return
			}
			observer.OnNext(value)
		}
		observer.OnCompleted()
	})
}

// Range 创建发射[start, start+count)整数的Observable
func Range(start, count int) Observable {
	return Create(func(observer Observer, subscription Subscription) {
		for i := 0; i < count; i++ {
			if subscription.IsUnsubscribed() {
				return
			}
			observer.OnNext(start + i)
		}
		observer.OnCompleted()
	})
}

// Empty 创建一个立即完成的Observable
func Empty() Observable {
	return Create(func(observer Observer, _ Subscription) {
		observer.OnCompleted()
	})
}

// Never 创建一个永不发射任何通知的Observable
func Never() Observable {
	return NewObservable(func(observer Observer) Subscription {
		return NewProducer(observer, nil)
	})
}

// Error 创建一个立即发射错误的Observable
func Error(err error) Observable {
	return Create(func(observer Observer, _ Subscription) {
		observer.OnError(err)
	})
}

// ============================================================================
// 从channel创建
// ============================================================================

// FromChannel 从Go channel创建Observable，channel关闭时完成。
// 读取在独立goroutine上进行，取消订阅后停止读取。
func FromChannel(ch <-chan interface{}) Observable {
	return NewObservable(func(observer Observer) Subscription {
		ctx, cancel := context.WithCancel(context.Background())
		p := NewProducer(observer, cancel)

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case value, ok := <-ch:
					if !ok {
						p.EmitOnCompleted()
						return
					}
					p.EmitOnNext(value)
				}
			}
		}()

		return p
	})
}

// FromItemChannel 从Item channel创建Observable；错误项终止序列
func FromItemChannel(ch <-chan Item) Observable {
	return NewObservable(func(observer Observer) Subscription {
		ctx, cancel := context.WithCancel(context.Background())
		p := NewProducer(observer, cancel)

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case item, ok := <-ch:
					if !ok {
						p.EmitOnCompleted()
						return
					}
					if item.IsError() {
						p.EmitOnError(item.Error)
						return
					}
					p.EmitOnNext(item.Value)
				}
			}
		}()

		return p
	})
}

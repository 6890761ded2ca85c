// Side effect operators
// 副作用操作符实现，包含DoOnNext, DoOnError, DoOnCompleted, DoOnTerminate, Finally等
package rx

import (
	"sync"
)

// ============================================================================
// 副作用操作符实现
// ============================================================================

// DoOnNext 在每个值发射前执行副作用操作
func (o *observableImpl) DoOnNext(action OnNext) Observable {
	return o.lift(func(op *operatorProducer) Observer {
		return forward(op, func(value interface{}) {
			if action != nil {
				action(value)
			}
			op.EmitOnNext(value)
		})
	})
}

// DoOnError 在发生错误时执行副作用操作
func (o *observableImpl) DoOnError(action OnError) Observable {
	return o.lift(func(op *operatorProducer) Observer {
		return NewObserver(op.EmitOnNext, func(err error) {
			if action != nil && !op.IsTerminated() {
				action(err)
			}
			op.EmitOnError(err)
		}, op.EmitOnCompleted)
	})
}

// DoOnCompleted 在完成时执行副作用操作
func (o *observableImpl) DoOnCompleted(action OnCompleted) Observable {
	return o.lift(func(op *operatorProducer) Observer {
		return NewObserver(op.EmitOnNext, op.EmitOnError, func() {
			if action != nil && !op.IsTerminated() {
				action()
			}
			op.EmitOnCompleted()
		})
	})
}

// DoOnSubscribe 在订阅上游之前执行副作用操作
func (o *observableImpl) DoOnSubscribe(action func()) Observable {
	return NewObservable(func(observer Observer) Subscription {
		if action != nil {
			action()
		}
		return o.Subscribe(observer)
	})
}

// DoOnUnsubscribe 在订阅结束时执行副作用操作，无论因终止还是外部取消
func (o *observableImpl) DoOnUnsubscribe(action func()) Observable {
	return NewObservable(func(observer Observer) Subscription {
		op := newOperatorProducer(observer)
		if action != nil {
			op.RegisterUnsubscribeNotification(action)
		}
		op.upstream.set(o.Subscribe(op.AsObserver()))
		return op
	})
}

// DoOnTerminate 在终止通知发出之前，或者在外部取消时执行副作用操作，只执行一次
func (o *observableImpl) DoOnTerminate(action func()) Observable {
	return o.terminate(action, true)
}

// Finally 在终止通知发出之后，或者在外部取消时执行副作用操作，只执行一次
func (o *observableImpl) Finally(action func()) Observable {
	return o.terminate(action, false)
}

// terminateProducer 保证副作用在终止路径和取消路径中只执行一次
type terminateProducer struct {
	*Producer
	upstream serialSubscription
	action   func()
	once     sync.Once
	before   bool
}

func (o *observableImpl) terminate(action func(), before bool) Observable {
	return NewObservable(func(observer Observer) Subscription {
		p := &terminateProducer{
			action: action,
			before: before,
		}
		p.Producer = NewProducer(observer, p.onUnsubscribe)

		p.upstream.set(o.Subscribe(NewObserver(
			p.EmitOnNext,
			func(err error) {
				p.runBeforeTerminal()
				p.EmitOnError(err)
			},
			func() {
				p.runBeforeTerminal()
				p.EmitOnCompleted()
			},
		)))
		return p
	})
}

func (p *terminateProducer) runBeforeTerminal() {
	if p.before && !p.IsTerminated() {
		p.runAction()
	}
}

func (p *terminateProducer) runAction() {
	p.once.Do(func() {
		if p.action != nil {
			p.action()
		}
	})
}

func (p *terminateProducer) onUnsubscribe() {
	p.upstream.dispose()
	p.runAction()
}

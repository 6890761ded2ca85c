// Error handling operators
// 错误处理操作符实现，包含Catch, Retry, RetryWithBackOff等
package rx

import (
	"errors"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// ============================================================================
// Catch
// ============================================================================

// catchProducer 源出错时切换到handler返回的Observable
type catchProducer struct {
	*Producer
	handler func(error) Observable
	chain   chainSubscription
}

// Catch 错误捕获操作符，当发生错误时取消源的订阅并订阅handler返回的Observable。
// handler自身panic时，该panic作为最终错误发往下游，不会再次进入handler。
// handler返回nil时原错误继续向下游传递。
func (o *observableImpl) Catch(handler func(error) Observable) Observable {
	return NewObservable(func(observer Observer) Subscription {
		p := &catchProducer{handler: handler}
		p.Producer = NewProducer(observer, p.chain.dispose)

		p.chain.subscribe(o, NewObserver(p.EmitOnNext, p.onSourceError, p.EmitOnCompleted))
		return p
	})
}

func (p *catchProducer) onSourceError(err error) {
	if p.IsTerminated() {
		return
	}

	var next Observable
	if recovered := SafeExecute(func() {
		next = p.handler(err)
	}); recovered != nil {
		Logger().Warn().Interface("panic", recovered).Msg("catch handler panicked")
		p.EmitOnError(panicToError(recovered))
		return
	}

	if next == nil {
		p.EmitOnError(err)
		return
	}

	// 替换源产生的错误直接发往下游
	p.chain.subscribe(next, p.AsObserver())
}

// OnErrorResumeNext 出错时切换到指定的Observable
func (o *observableImpl) OnErrorResumeNext(next Observable) Observable {
	return o.Catch(func(error) Observable {
		return next
	})
}

// OnErrorReturn 出错时发射指定的值然后完成
func (o *observableImpl) OnErrorReturn(value interface{}) Observable {
	return o.Catch(func(error) Observable {
		return Just(value)
	})
}

// ============================================================================
// Retry
// ============================================================================

// retryProducer 出错后重新订阅源
type retryProducer struct {
	*Producer
	source Observable
	chain  chainSubscription
	mu     sync.Mutex
	// next 决定是否重试；返回false时携带的错误作为最终错误
	next func(err error) (retry bool, final error)
	// resubscribe 执行重新订阅，可以直接执行或者经由调度器延迟执行
	resubscribe func()
}

func (p *retryProducer) subscribeSource() {
	p.chain.subscribe(p.source, NewObserver(p.EmitOnNext, p.onSourceError, p.EmitOnCompleted))
}

func (p *retryProducer) onSourceError(err error) {
	if p.IsTerminated() {
		return
	}

	p.mu.Lock()
	retry, final := p.next(err)
	p.mu.Unlock()

	if !retry {
		p.EmitOnError(final)
		return
	}
	p.resubscribe()
}

// Retry 重试操作符，发生错误时重新订阅，最多count次，之后发射最后一次错误
func (o *observableImpl) Retry(count int) Observable {
	return NewObservable(func(observer Observer) Subscription {
		attempts := 0
		p := &retryProducer{source: o}
		p.Producer = NewProducer(observer, p.chain.dispose)
		p.next = func(err error) (bool, error) {
			if attempts >= count {
				return false, err
			}
			attempts++
			return true, nil
		}
		p.resubscribe = p.subscribeSource

		p.subscribeSource()
		return p
	})
}

// RetryWithBackOff 按退避策略重试；策略返回backoff.Stop时发射ErrRetryExhausted与最后一次错误。
// 重新订阅经由WithScheduler指定的调度器延迟执行。
// 退避策略带有状态且不能并发使用，每次订阅都调用newBackOff创建自己的策略。
func (o *observableImpl) RetryWithBackOff(newBackOff func() backoff.BackOff, options ...Option) Observable {
	config := newConfig(options)

	return NewObservable(func(observer Observer) Subscription {
		var pending chainSubscription
		var wait time.Duration
		b := newBackOff()

		p := &retryProducer{source: o}
		p.Producer = NewProducer(observer, func() {
			pending.dispose()
			p.chain.dispose()
		})

		p.next = func(err error) (bool, error) {
			wait = b.NextBackOff()
			if wait == backoff.Stop {
				return false, errors.Join(ErrRetryExhausted, err)
			}
			return true, nil
		}
		p.resubscribe = func() {
			pending.run(func() Disposable {
				return config.scheduler().ScheduleWithDelay(p.subscribeSource, wait)
			})
		}

		b.Reset()
		p.subscribeSource()
		return p
	})
}

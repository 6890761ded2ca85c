// Combination operators
// 组合操作符实现，包含Merge与Concat
package rx

import (
	"sync"
	"sync/atomic"
)

// ============================================================================
// Merge
// ============================================================================

// mergeProducer 同时订阅所有源；所有源完成后完成，任一源出错即终止
type mergeProducer struct {
	*Producer
	subs   *CompositeDisposable
	active atomic.Int32
	// emitter 串行化来自不同源的通知；下游回调中重入的通知排队，由当前执行者发射
	emitter serializer
}

// Merge 合并多个Observable，值按到达顺序发射
func Merge(observables ...Observable) Observable {
	if len(observables) == 0 {
		return Empty()
	}

	return NewObservable(func(observer Observer) Subscription {
		p := &mergeProducer{subs: NewCompositeDisposable()}
		p.Producer = NewProducer(observer, p.subs.Dispose)
		p.active.Store(int32(len(observables)))

		for _, source := range observables {
			if p.IsUnsubscribed() {
				break
			}
			p.subs.Add(source.Subscribe(NewObserver(p.onNext, p.onError, p.onCompleted)))
		}
		return p
	})
}

// Merge 与其他Observable合并
func (o *observableImpl) Merge(others ...Observable) Observable {
	return Merge(append([]Observable{o}, others...)...)
}

func (p *mergeProducer) onNext(value interface{}) {
	p.emitter.run(func() { p.EmitOnNext(value) })
}

func (p *mergeProducer) onError(err error) {
	p.emitter.run(func() { p.EmitOnError(err) })
}

func (p *mergeProducer) onCompleted() {
	if p.active.Add(-1) > 0 {
		return
	}
	p.emitter.run(p.EmitOnCompleted)
}

// ============================================================================
// Concat
// ============================================================================

// concatProducer 依次订阅每个源，前一个完成后才订阅下一个
type concatProducer struct {
	*Producer
	sources []Observable
	chain   chainSubscription

	mu    sync.Mutex
	index int
}

// Concat 顺序连接多个Observable
func Concat(observables ...Observable) Observable {
	if len(observables) == 0 {
		return Empty()
	}

	return NewObservable(func(observer Observer) Subscription {
		p := &concatProducer{sources: observables}
		p.Producer = NewProducer(observer, p.chain.dispose)
		p.subscribeNext()
		return p
	})
}

// Concat 在当前Observable完成后依次连接其他Observable
func (o *observableImpl) Concat(others ...Observable) Observable {
	return Concat(append([]Observable{o}, others...)...)
}

// subscribeNext 订阅下一个源；源同步完成时会在订阅调用返回前重入
func (p *concatProducer) subscribeNext() {
	if p.IsTerminated() {
		return
	}

	p.mu.Lock()
	if p.index >= len(p.sources) {
		p.mu.Unlock()
		p.EmitOnCompleted()
		return
	}
	source := p.sources[p.index]
	p.index++
	p.mu.Unlock()

	p.chain.subscribe(source, NewObserver(p.EmitOnNext, p.EmitOnError, p.subscribeNext))
}

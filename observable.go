// Observable implementation
// Observable核心实现：订阅入口与基础转换操作符
package rx

import (
	"context"
	"sync"
	"sync/atomic"
)

// ============================================================================
// Observable 核心实现
// ============================================================================

// observableImpl Observable的核心实现；每次订阅都由source创建新的生产者
type observableImpl struct {
	source func(observer Observer) Subscription
}

// NewObservable 创建新的Observable
func NewObservable(source func(observer Observer) Subscription) Observable {
	if source == nil {
		panic(ErrNilObservable.Wrap("NewObservable"))
	}

	return &observableImpl{
		source: source,
	}
}

// Subscribe 订阅观察者；源的错误只经由OnError传递，不会从这里返回
func (o *observableImpl) Subscribe(observer Observer) Subscription {
	if observer == nil {
		panic(ErrNilObserver.Wrap("Subscribe"))
	}

	return o.source(observer)
}

// SubscribeWithCallbacks 使用回调函数订阅
func (o *observableImpl) SubscribeWithCallbacks(onNext OnNext, onError OnError, onCompleted OnCompleted) Subscription {
	return o.Subscribe(NewObserver(onNext, onError, onCompleted))
}

// ============================================================================
// 单上游操作符的公共结构
// ============================================================================

// operatorProducer 只有一个上游订阅的生产者
type operatorProducer struct {
	*Producer
	upstream serialSubscription
}

func newOperatorProducer(observer Observer) *operatorProducer {
	op := &operatorProducer{}
	op.Producer = NewProducer(observer, op.upstream.dispose)
	return op
}

// lift 基于上游创建新的Observable，build返回订阅上游时使用的观察者
func (o *observableImpl) lift(build func(op *operatorProducer) Observer) Observable {
	return NewObservable(func(observer Observer) Subscription {
		op := newOperatorProducer(observer)
		op.upstream.set(o.Subscribe(linkedObserver{Observer: build(op), producer: op.Producer}))
		return op
	})
}

// forward 把错误和完成原样转发的观察者
func forward(op *operatorProducer, onNext OnNext) Observer {
	return NewObserver(onNext, op.EmitOnError, op.EmitOnCompleted)
}

// ============================================================================
// 转换操作符
// ============================================================================

// Map 转换操作符，转换函数返回的错误会终止序列
func (o *observableImpl) Map(transformer Transformer) Observable {
	return o.lift(func(op *operatorProducer) Observer {
		return forward(op, func(value interface{}) {
			result, err := transformer(value)
			if err != nil {
				op.EmitOnError(err)
				return
			}
			op.EmitOnNext(result)
		})
	})
}

// Filter 过滤操作符
func (o *observableImpl) Filter(predicate Predicate) Observable {
	return o.lift(func(op *operatorProducer) Observer {
		return forward(op, func(value interface{}) {
			if predicate(value) {
				op.EmitOnNext(value)
			}
		})
	})
}

// Take 取前N个元素后完成并取消上游订阅
func (o *observableImpl) Take(count int) Observable {
	if count <= 0 {
		return Empty()
	}

	return o.lift(func(op *operatorProducer) Observer {
		var taken int64
		return forward(op, func(value interface{}) {
			n := atomic.AddInt64(&taken, 1)
			if n > int64(count) {
				return
			}

			op.EmitOnNext(value)
			if n == int64(count) {
				op.EmitOnCompleted()
			}
		})
	})
}

// Skip 跳过前N个元素
func (o *observableImpl) Skip(count int) Observable {
	return o.lift(func(op *operatorProducer) Observer {
		var skipped int64
		return forward(op, func(value interface{}) {
			if atomic.AddInt64(&skipped, 1) > int64(count) {
				op.EmitOnNext(value)
			}
		})
	})
}

// ============================================================================
// 转换为其他类型
// ============================================================================

// ToChannel 转换为Go channel；错误作为最后一项发送，随后关闭channel。
// 订阅在独立goroutine上进行，同步源不会因缓冲区已满而阻塞调用者。
// WithContext指定的ctx结束时取消订阅并关闭channel，消费者不再读取时发送方也不会永久阻塞。
func (o *observableImpl) ToChannel(options ...Option) <-chan Item {
	config := newConfig(options)
	sink := &channelSink{
		ctx: config.Context,
		ch:  make(chan Item, config.BufferSize),
	}

	go func() {
		var op *operatorProducer
		op = newOperatorProducer(NewObserver(
			func(value interface{}) {
				if !sink.send(Item{Value: value}) {
					op.Unsubscribe()
				}
			},
			func(err error) {
				sink.send(Item{Error: err})
				sink.close()
			},
			sink.close,
		))
		op.RegisterUnsubscribeNotification(sink.close)

		stop := context.AfterFunc(sink.ctx, op.Unsubscribe)
		op.RegisterUnsubscribeNotification(func() { stop() })

		op.upstream.set(o.Subscribe(linkedObserver{Observer: op.AsObserver(), producer: op.Producer}))
	}()

	return sink.ch
}

// channelSink 在锁内发送与关闭，关闭不会与阻塞中的发送竞争
type channelSink struct {
	ctx context.Context
	ch  chan Item

	mu     sync.Mutex
	closed bool
}

// send 发送一项；ctx结束或channel已关闭时返回false
func (s *channelSink) send(item Item) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- item:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *channelSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

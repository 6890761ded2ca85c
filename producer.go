// Producer: the state machine shared by all operators
// 生产者：位于上游源与下游观察者之间，负责终止与取消订阅语义
package rx

import (
	"sync"
	"sync/atomic"
)

// ============================================================================
// Producer 核心实现
// ============================================================================

// Producer 所有操作符共享的状态机。
//
// terminated 表示不再向下游发射；unsubscribed 蕴含 terminated，反之不成立。
// 两个标志都只能由一次CAS迁移，保证"首次"逻辑只执行一次。
type Producer struct {
	observerMu sync.Mutex
	observer   Observer

	terminated   atomic.Bool
	unsubscribed atomic.Bool

	// onUnsubscribe 由具体操作符提供，负责释放上游订阅及共享状态
	onUnsubscribe func()
	notifications notificationRegistry
}

var (
	_ Subscription        = (*Producer)(nil)
	_ UnsubscribeNotifier = (*Producer)(nil)
)

// NewProducer 创建生产者；onUnsubscribe可以为nil
func NewProducer(observer Observer, onUnsubscribe func()) *Producer {
	if observer == nil {
		panic(ErrNilObserver.Wrap("NewProducer"))
	}

	return &Producer{
		observer:      observer,
		onUnsubscribe: onUnsubscribe,
	}
}

// currentObserver 返回下游观察者；取消订阅后为nil
func (p *Producer) currentObserver() Observer {
	p.observerMu.Lock()
	defer p.observerMu.Unlock()
	return p.observer
}

// EmitOnNext 向下游发射值；终止后为空操作
func (p *Producer) EmitOnNext(value interface{}) {
	if p.terminated.Load() {
		return
	}

	if observer := p.currentObserver(); observer != nil {
		observer.OnNext(value)
	}
}

// EmitOnError 发射错误并取消订阅；只有第一个终止调用生效
func (p *Producer) EmitOnError(err error) {
	if !p.markTerminated() {
		return
	}

	if observer := p.currentObserver(); observer != nil {
		observer.OnError(err)
	}
	p.Unsubscribe()
}

// EmitOnCompleted 发射完成并取消订阅；只有第一个终止调用生效
func (p *Producer) EmitOnCompleted() {
	if !p.markTerminated() {
		return
	}

	if observer := p.currentObserver(); observer != nil {
		observer.OnCompleted()
	}
	p.Unsubscribe()
}

// Unsubscribe 取消订阅，幂等。
// 依次执行onUnsubscribe钩子、释放通知，最后释放下游观察者以断开引用环。
func (p *Producer) Unsubscribe() {
	if !p.markUnsubscribed() {
		return
	}

	p.terminated.Store(true)

	if p.onUnsubscribe != nil {
		p.onUnsubscribe()
	}

	p.notifications.fire()

	p.observerMu.Lock()
	p.observer = nil
	p.observerMu.Unlock()
}

// Dispose 等同于Unsubscribe
func (p *Producer) Dispose() {
	p.Unsubscribe()
}

// IsDisposed 检查是否已取消订阅
func (p *Producer) IsDisposed() bool {
	return p.unsubscribed.Load()
}

// IsUnsubscribed 检查是否已取消订阅
func (p *Producer) IsUnsubscribed() bool {
	return p.unsubscribed.Load()
}

// IsTerminated 检查是否已终止
func (p *Producer) IsTerminated() bool {
	return p.terminated.Load()
}

// RegisterUnsubscribeNotification 注册取消订阅通知；已取消订阅时返回false，
// 调用方应视为"已经结束"。
func (p *Producer) RegisterUnsubscribeNotification(callback func()) (NotificationID, bool) {
	if p.IsUnsubscribed() {
		return 0, false
	}
	return p.notifications.register(callback)
}

// UnregisterUnsubscribeNotification 移除尚未触发的通知
func (p *Producer) UnregisterUnsubscribeNotification(id NotificationID) {
	p.notifications.unregister(id)
}

// AsObserver 返回把信号转发到Emit方法的观察者
func (p *Producer) AsObserver() Observer {
	return producerObserver{p}
}

func (p *Producer) markTerminated() bool {
	return p.terminated.CompareAndSwap(false, true)
}

func (p *Producer) markUnsubscribed() bool {
	return p.unsubscribed.CompareAndSwap(false, true)
}

// unsubscribeReporter 能报告下游是否已取消订阅的观察者
type unsubscribeReporter interface {
	IsUnsubscribed() bool
}

// isDownstreamDone 本生产者或其下游链上任一生产者已取消订阅。
// 上游的订阅句柄要到Subscribe返回后才会保存，同步源借此提前停止发射。
func (p *Producer) isDownstreamDone() bool {
	if p.unsubscribed.Load() {
		return true
	}

	if reporter, ok := p.currentObserver().(unsubscribeReporter); ok {
		return reporter.IsUnsubscribed()
	}
	return false
}

// producerObserver 把Observer调用转发给Producer
type producerObserver struct {
	producer *Producer
}

func (o producerObserver) OnNext(value interface{}) { o.producer.EmitOnNext(value) }
func (o producerObserver) OnError(err error)        { o.producer.EmitOnError(err) }
func (o producerObserver) OnCompleted()             { o.producer.EmitOnCompleted() }
func (o producerObserver) IsUnsubscribed() bool     { return o.producer.isDownstreamDone() }

// linkedObserver 操作符订阅上游时使用的观察者，携带下游的取消状态
type linkedObserver struct {
	Observer
	producer *Producer
}

func (o linkedObserver) IsUnsubscribed() bool { return o.producer.isDownstreamDone() }

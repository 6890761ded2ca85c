// Connectable observable implementation
// 可连接的Observable：Publish把冷的Observable转换为共享的热Observable，RefCount按订阅者数量自动连接
package rx

import (
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// ============================================================================
// Publish
// ============================================================================

// connectableObservable 订阅者订阅内部主题，Connect把源接入该主题
type connectableObservable struct {
	Observable
	source Observable

	mu         sync.Mutex
	subject    *Subject
	connection *connection
}

// connection 一次连接：源的订阅及其接入的主题
type connection struct {
	Subscription
	subject *Subject
}

var _ ConnectableObservable = (*connectableObservable)(nil)

// Publish 返回可连接的Observable；Connect之前源不会被订阅
func (o *observableImpl) Publish() ConnectableObservable {
	return NewConnectableObservable(o)
}

// Share 等同于Publish().RefCount()
func (o *observableImpl) Share() Observable {
	return o.Publish().RefCount()
}

// NewConnectableObservable 创建可连接的Observable
func NewConnectableObservable(source Observable) ConnectableObservable {
	if source == nil {
		panic(ErrNilObservable.Wrap("NewConnectableObservable"))
	}

	c := &connectableObservable{source: source}
	c.Observable = NewObservable(c.subscribe)
	return c
}

// currentSubject 返回当前主题；源终止或断开后创建新的主题，之后的订阅者看到新的序列。
// 调用时持有锁。
func (c *connectableObservable) currentSubject() *Subject {
	if c.subject == nil || c.subject.IsTerminated() {
		c.subject = NewSubject()
	}
	return c.subject
}

func (c *connectableObservable) subscribe(observer Observer) Subscription {
	c.mu.Lock()
	subject := c.currentSubject()
	c.mu.Unlock()

	return subject.Subscribe(observer)
}

// Connect 订阅源；已连接时返回现有连接
func (c *connectableObservable) Connect() Subscription {
	c.mu.Lock()
	subject := c.currentSubject()
	if c.connection != nil && c.connection.subject == subject {
		existing := c.connection
		c.mu.Unlock()
		return existing
	}

	stale := c.connection
	conn := &connection{subject: subject}
	var upstream serialSubscription
	conn.Subscription = AsSubscription(NewDisposable(func() {
		upstream.dispose()
		c.disconnect(conn)
	}))
	c.connection = conn
	c.mu.Unlock()

	if stale != nil {
		stale.Dispose()
	}

	Logger().Debug().Msg("connectable observable connected")

	// 源可能在Subscribe返回之前同步终止或被断开
	upstream.set(c.source.Subscribe(subject.AsObserver()))
	return conn
}

// disconnect 断开连接；之后的订阅者会看到新的主题
func (c *connectableObservable) disconnect(conn *connection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connection != conn {
		return
	}
	c.connection = nil
	if c.subject == conn.subject {
		c.subject = nil
	}

	Logger().Debug().Msg("connectable observable disconnected")
}

// IsConnected 当前主题是否已经接入源且尚未终止
func (c *connectableObservable) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connection != nil &&
		c.connection.subject == c.subject &&
		!c.subject.IsTerminated()
}

// RefCount 第一个订阅者到达时连接，最后一个订阅者离开时断开
func (c *connectableObservable) RefCount() Observable {
	r := &refCountOperator{source: c}
	return NewObservable(r.subscribe)
}

// ============================================================================
// RefCount
// ============================================================================

// refCountOperator 共享连接当且仅当引用计数大于0时存在。
// 不同goroutine上的订阅与取消订阅由transition串行化，
// 引用计数的变化与订阅内部主题、连接或断开一起完成；
// 同步源在连接期间从同一goroutine重入时直接执行。
type refCountOperator struct {
	source *connectableObservable

	transition reentrantMutex
	refCount   int
	connection Subscription
}

func (r *refCountOperator) subscribe(observer Observer) Subscription {
	r.transition.lock()
	defer r.transition.unlock()

	r.refCount++
	first := r.refCount == 1

	var upstream serialSubscription
	p := NewProducer(observer, func() {
		upstream.dispose()
		r.decreaseRef()
	})
	upstream.set(r.source.Subscribe(p.AsObserver()))

	if first {
		r.connect()
	}
	return p
}

// connect 连接源；同步源可能在连接期间让引用计数回到0，此时立即断开
func (r *refCountOperator) connect() {
	conn := r.source.Connect()

	if r.refCount == 0 {
		conn.Dispose()
		return
	}
	if r.connection == nil {
		r.connection = conn
	}
}

// decreaseRef 减少引用计数，归零时断开连接；计数已为0时容忍并记录警告
func (r *refCountOperator) decreaseRef() {
	r.transition.lock()
	defer r.transition.unlock()

	if r.refCount == 0 {
		Logger().Warn().Msg("refcount decreased below zero")
		return
	}

	r.refCount--
	if r.refCount > 0 {
		return
	}

	conn := r.connection
	r.connection = nil
	if conn != nil {
		conn.Dispose()
	}
}

// ============================================================================
// 可重入锁
// ============================================================================

// reentrantMutex 允许持有者goroutine重复加锁，其他goroutine等待
type reentrantMutex struct {
	mu    sync.Mutex
	owner atomic.Int64
	depth int
}

func (m *reentrantMutex) lock() {
	gid := goid.Get()
	if m.owner.Load() == gid {
		m.depth++
		return
	}

	m.mu.Lock()
	m.owner.Store(gid)
	m.depth = 1
}

func (m *reentrantMutex) unlock() {
	m.depth--
	if m.depth > 0 {
		return
	}
	m.owner.Store(0)
	m.mu.Unlock()
}

// Aggregate ownership containers
// 组合式资源管理：CompositeDisposable、SubscriptionHolder与串行订阅
package rx

import (
	"sync"
)

// ============================================================================
// CompositeDisposable 组合式资源管理器
// ============================================================================

// CompositeDisposable 组合式资源管理器
type CompositeDisposable struct {
	mu        sync.Mutex
	disposed  bool
	resources []Disposable
}

// NewCompositeDisposable 创建组合式资源管理器
func NewCompositeDisposable() *CompositeDisposable {
	return &CompositeDisposable{
		resources: make([]Disposable, 0),
	}
}

// Add 添加可释放资源；已释放时立即释放该资源并返回false
func (cd *CompositeDisposable) Add(disposable Disposable) bool {
	cd.mu.Lock()
	if cd.disposed {
		cd.mu.Unlock()
		disposable.Dispose()
		return false
	}

	cd.resources = append(cd.resources, disposable)
	cd.mu.Unlock()
	return true
}

// Remove 移除资源但不释放它
func (cd *CompositeDisposable) Remove(disposable Disposable) bool {
	cd.mu.Lock()
	defer cd.mu.Unlock()

	for i, resource := range cd.resources {
		if resource == disposable {
			cd.resources = append(cd.resources[:i], cd.resources[i+1:]...)
			return true
		}
	}
	return false
}

// Len 持有的资源数量
func (cd *CompositeDisposable) Len() int {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return len(cd.resources)
}

// Dispose 释放所有资源；在锁外释放以允许资源回调本容器
func (cd *CompositeDisposable) Dispose() {
	cd.mu.Lock()
	if cd.disposed {
		cd.mu.Unlock()
		return
	}

	cd.disposed = true
	resources := cd.resources
	cd.resources = nil
	cd.mu.Unlock()

	for _, resource := range resources {
		resource.Dispose()
	}
}

// IsDisposed 检查是否已释放
func (cd *CompositeDisposable) IsDisposed() bool {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.disposed
}

// ============================================================================
// SubscriptionHolder 订阅持有者
// ============================================================================

// SubscriptionHolder 持有订阅直到其结束；结束的订阅自动移除，Dispose时取消剩余订阅
type SubscriptionHolder struct {
	composite *CompositeDisposable
}

// NewSubscriptionHolder 创建订阅持有者
func NewSubscriptionHolder() *SubscriptionHolder {
	return &SubscriptionHolder{
		composite: NewCompositeDisposable(),
	}
}

// Add 持有订阅；订阅已经结束时不会被保存
func (h *SubscriptionHolder) Add(sub Subscription) {
	if sub.IsUnsubscribed() {
		return
	}

	notifier, ok := sub.(UnsubscribeNotifier)
	if !ok {
		h.composite.Add(sub)
		return
	}

	if !h.composite.Add(sub) {
		return
	}

	if _, registered := notifier.RegisterUnsubscribeNotification(func() {
		h.composite.Remove(sub)
	}); !registered {
		h.composite.Remove(sub)
	}
}

// Len 持有的订阅数量
func (h *SubscriptionHolder) Len() int {
	return h.composite.Len()
}

// Dispose 取消所有仍被持有的订阅
func (h *SubscriptionHolder) Dispose() {
	h.composite.Dispose()
}

// IsDisposed 检查是否已释放
func (h *SubscriptionHolder) IsDisposed() bool {
	return h.composite.IsDisposed()
}

// ============================================================================
// 串行订阅
// ============================================================================

// serialSubscription 保存当前的上游订阅；释放后设置的订阅会被立即释放
type serialSubscription struct {
	mu       sync.Mutex
	current  Disposable
	disposed bool
}

// set 替换当前订阅并释放旧订阅
func (s *serialSubscription) set(d Disposable) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		if d != nil {
			d.Dispose()
		}
		return
	}

	previous := s.current
	s.current = d
	s.mu.Unlock()

	if previous != nil && previous != d {
		previous.Dispose()
	}
}

// dispose 释放当前订阅，之后的set立即释放
func (s *serialSubscription) dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}

	s.disposed = true
	previous := s.current
	s.current = nil
	s.mu.Unlock()

	if previous != nil {
		previous.Dispose()
	}
}

// ============================================================================
// 顺序订阅
// ============================================================================

// chainSubscription 依次订阅多个上游或依次安排多个任务（Concat、Catch、Retry、定时器）。
// 上游可能在Subscribe返回之前同步结束并触发下一次订阅，
// 用调用序号避免外层调用覆盖内层重入调用安装的订阅。
type chainSubscription struct {
	mu        sync.Mutex
	current   Disposable
	callIndex uint64
	disposed  bool
}

// subscribe 订阅source并在仍是最新一次调用时保存订阅
func (c *chainSubscription) subscribe(source Observable, observer Observer) {
	c.run(func() Disposable {
		return source.Subscribe(observer)
	})
}

// run 执行start并在仍是最新一次调用时保存其返回的句柄；
// 过期或已释放时立即释放该句柄
func (c *chainSubscription) run(start func() Disposable) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.callIndex++
	index := c.callIndex
	c.mu.Unlock()

	d := start()

	c.mu.Lock()
	if c.disposed || index != c.callIndex {
		c.mu.Unlock()
		d.Dispose()
		return
	}
	c.current = d
	c.mu.Unlock()
}

// dispose 释放当前订阅，之后不再订阅
func (c *chainSubscription) dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	current := c.current
	c.current = nil
	c.mu.Unlock()

	if current != nil {
		current.Dispose()
	}
}

// ============================================================================
// 串行执行
// ============================================================================

// serializer 按投递顺序逐个执行动作；执行期间重入或并发投递的动作进入队列，
// 由正在执行的一方取出执行，动作本身不在锁内运行
type serializer struct {
	mu       sync.Mutex
	queue    []func()
	draining bool
}

// enqueue 排队动作；返回true表示调用者成为执行者，需要调用drain
func (s *serializer) enqueue(action func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = append(s.queue, action)
	if s.draining {
		return false
	}
	s.draining = true
	return true
}

// drain 执行队列中的动作直到队列为空
func (s *serializer) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		action := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		action()
	}
}

// clear 丢弃尚未执行的动作
func (s *serializer) clear() {
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
}

// run 排队并在成为执行者时就地执行
func (s *serializer) run(action func()) {
	if s.enqueue(action) {
		s.drain()
	}
}

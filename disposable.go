// Disposable implementations
// 可释放句柄与释放通知
package rx

import (
	"sort"
	"sync"
	"sync/atomic"
)

// ============================================================================
// 释放通知注册表
// ============================================================================

// notificationRegistry 保存释放回调，触发后不再接受注册
type notificationRegistry struct {
	mu        sync.Mutex
	nextID    NotificationID
	callbacks map[NotificationID]func()
	fired     bool
}

// register 注册回调；已触发时返回false
func (r *notificationRegistry) register(callback func()) (NotificationID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fired {
		return 0, false
	}

	if r.callbacks == nil {
		r.callbacks = make(map[NotificationID]func())
	}

	r.nextID++
	r.callbacks[r.nextID] = callback
	return r.nextID, true
}

// unregister 移除回调，触发之后调用为空操作
func (r *notificationRegistry) unregister(id NotificationID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.callbacks, id)
}

// fire 标记为已触发并按注册顺序执行所有回调
func (r *notificationRegistry) fire() {
	r.mu.Lock()
	r.fired = true
	callbacks := r.callbacks
	r.callbacks = nil
	r.mu.Unlock()

	if len(callbacks) == 0 {
		return
	}

	ids := make([]NotificationID, 0, len(callbacks))
	for id := range callbacks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		callbacks[id]()
	}
}

// ============================================================================
// 基础可释放资源
// ============================================================================

// baseDisposable 基础可释放资源实现
type baseDisposable struct {
	disposed      int32
	action        func()
	notifications notificationRegistry
}

var (
	_ Disposable          = (*baseDisposable)(nil)
	_ UnsubscribeNotifier = (*baseDisposable)(nil)
)

// NewDisposable 创建可释放资源，action只在第一次Dispose时执行
func NewDisposable(action func()) Disposable {
	return &baseDisposable{
		action: action,
	}
}

// Dispose 释放资源
func (d *baseDisposable) Dispose() {
	if !atomic.CompareAndSwapInt32(&d.disposed, 0, 1) {
		return
	}

	if d.action != nil {
		d.action()
		d.action = nil
	}
	d.notifications.fire()
}

// IsDisposed 检查是否已释放
func (d *baseDisposable) IsDisposed() bool {
	return atomic.LoadInt32(&d.disposed) == 1
}

// RegisterUnsubscribeNotification 注册释放回调
func (d *baseDisposable) RegisterUnsubscribeNotification(callback func()) (NotificationID, bool) {
	if d.IsDisposed() {
		return 0, false
	}
	return d.notifications.register(callback)
}

// UnregisterUnsubscribeNotification 移除释放回调
func (d *baseDisposable) UnregisterUnsubscribeNotification(id NotificationID) {
	d.notifications.unregister(id)
}

// Disposed 返回一个已经释放的句柄
func Disposed() Disposable {
	d := &baseDisposable{disposed: 1}
	d.notifications.fired = true
	return d
}

// ============================================================================
// Disposable到Subscription的适配
// ============================================================================

// disposableSubscription 把任意Disposable包装成Subscription
type disposableSubscription struct {
	Disposable
}

// AsSubscription 把Disposable包装成Subscription
func AsSubscription(d Disposable) Subscription {
	if sub, ok := d.(Subscription); ok {
		return sub
	}
	return disposableSubscription{Disposable: d}
}

func (s disposableSubscription) Unsubscribe() {
	s.Dispose()
}

func (s disposableSubscription) IsUnsubscribed() bool {
	return s.IsDisposed()
}

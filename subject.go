// Subject implementations
// 主题：热广播的Observable，同时也是Observer；包括普通主题、BehaviorSubject与ReplaySubject
package rx

import (
	"slices"
	"sync"
	"weak"
)

// ============================================================================
// Subject 主题
// ============================================================================

// Subject 把收到的通知广播给所有当前订阅者
type Subject struct {
	Observable
	multicast *multicastObserver
}

var _ Observer = (*Subject)(nil)

// NewSubject 创建主题，只向当前订阅者发送新的值
func NewSubject() *Subject {
	return newSubject(newMulticastObserver(0, false))
}

// NewBehaviorSubject 创建BehaviorSubject，新订阅者首先收到最新的值
func NewBehaviorSubject(initialValue interface{}) *Subject {
	m := newMulticastObserver(1, true)
	m.buffer = append(m.buffer, initialValue)
	return newSubject(m)
}

// NewReplaySubject 创建ReplaySubject，新订阅者首先收到缓冲的值；capacity不大于0表示不限容量
func NewReplaySubject(capacity int) *Subject {
	if capacity <= 0 {
		capacity = unboundedReplay
	}
	return newSubject(newMulticastObserver(capacity, false))
}

func newSubject(m *multicastObserver) *Subject {
	return &Subject{
		Observable: NewObservable(m.addObserver),
		multicast:  m,
	}
}

// OnNext 向所有订阅者发射值
func (s *Subject) OnNext(value interface{}) {
	s.multicast.OnNext(value)
}

// OnError 向所有订阅者发射错误，之后的订阅者直接收到该错误
func (s *Subject) OnError(err error) {
	s.multicast.OnError(err)
}

// OnCompleted 向所有订阅者发射完成，之后的订阅者直接收到完成
func (s *Subject) OnCompleted() {
	s.multicast.OnCompleted()
}

// AsObserver 返回主题的观察者一端
func (s *Subject) AsObserver() Observer {
	return s.multicast
}

// AsObservable 返回主题的Observable一端，隐藏观察者方法
func (s *Subject) AsObservable() Observable {
	return s.Observable
}

// ObserverCount 当前订阅者数量
func (s *Subject) ObserverCount() int {
	return s.multicast.observerCount()
}

// IsTerminated 是否已经收到终止通知
func (s *Subject) IsTerminated() bool {
	return s.multicast.isTerminated()
}

// Values 当前缓冲的值，按到达顺序；普通主题总是为空
func (s *Subject) Values() []interface{} {
	return s.multicast.values()
}

// ============================================================================
// 多播观察者
// ============================================================================

const unboundedReplay = -1

// terminalSignal 终止状态；completed为false时err为终止错误
type terminalSignal struct {
	err       error
	completed bool
}

// multicastObserver 持有每个订阅者一个的individualProducer与唯一的终止状态
type multicastObserver struct {
	mu        sync.Mutex
	producers []*individualProducer
	terminal  *terminalSignal

	// capacity 为0时不缓冲，unboundedReplay表示不限容量
	capacity int
	buffer   []interface{}
	// dropOnTerminal 终止后不再重放缓冲的值
	dropOnTerminal bool
}

func newMulticastObserver(capacity int, dropOnTerminal bool) *multicastObserver {
	return &multicastObserver{
		capacity:       capacity,
		dropOnTerminal: dropOnTerminal,
	}
}

// addObserver 未终止时登记订阅者并重放缓冲的值；已终止时同步重放终止通知且不登记
func (m *multicastObserver) addObserver(observer Observer) Subscription {
	m.mu.Lock()
	replay := slices.Clone(m.buffer)

	if terminal := m.terminal; terminal != nil {
		m.mu.Unlock()

		p := NewProducer(observer, nil)
		for _, value := range replay {
			p.EmitOnNext(value)
		}
		if terminal.completed {
			p.EmitOnCompleted()
		} else {
			p.EmitOnError(terminal.err)
		}
		return p
	}

	ip := &individualProducer{
		parent:    weak.Make(m),
		replaying: len(replay) > 0,
	}
	ip.Producer = NewProducer(observer, ip.onUnsubscribe)
	m.producers = append(m.producers, ip)
	m.mu.Unlock()

	if len(replay) > 0 {
		for _, value := range replay {
			ip.EmitOnNext(value)
		}
		ip.finishReplay()
	}
	return ip
}

// OnNext 在锁内获取订阅者快照，在锁外发射
func (m *multicastObserver) OnNext(value interface{}) {
	m.mu.Lock()
	if m.terminal != nil {
		m.mu.Unlock()
		return
	}
	m.remember(value)
	producers := slices.Clone(m.producers)
	m.mu.Unlock()

	for _, ip := range producers {
		ip.deliver(func() { ip.EmitOnNext(value) })
	}
}

func (m *multicastObserver) OnError(err error) {
	producers, ok := m.terminate(&terminalSignal{err: err})
	if !ok {
		return
	}

	for _, ip := range producers {
		ip.deliver(func() { ip.EmitOnError(err) })
	}
}

func (m *multicastObserver) OnCompleted() {
	producers, ok := m.terminate(&terminalSignal{completed: true})
	if !ok {
		return
	}

	for _, ip := range producers {
		ip.deliver(ip.EmitOnCompleted)
	}
}

// terminate 设置终止状态并取走所有订阅者；已终止时返回false
func (m *multicastObserver) terminate(signal *terminalSignal) ([]*individualProducer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminal != nil {
		return nil, false
	}

	m.terminal = signal
	if m.dropOnTerminal {
		m.buffer = nil
	}

	producers := m.producers
	m.producers = nil
	return producers, true
}

// remember 按容量缓冲值，调用时持有锁
func (m *multicastObserver) remember(value interface{}) {
	if m.capacity == 0 {
		return
	}

	m.buffer = append(m.buffer, value)
	if m.capacity > 0 && len(m.buffer) > m.capacity {
		m.buffer = slices.Delete(m.buffer, 0, len(m.buffer)-m.capacity)
	}
}

func (m *multicastObserver) remove(ip *individualProducer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := slices.Index(m.producers, ip); i >= 0 {
		m.producers = slices.Delete(m.producers, i, i+1)
	}
}

func (m *multicastObserver) observerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.producers)
}

func (m *multicastObserver) isTerminated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminal != nil
}

func (m *multicastObserver) values() []interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.buffer)
}

// ============================================================================
// 单个订阅者的生产者
// ============================================================================

// individualProducer 通过弱引用在释放时把自己从主题中移除，不会延长主题的生命周期
type individualProducer struct {
	*Producer
	parent weak.Pointer[multicastObserver]

	// 重放缓冲值期间到达的实时通知先排队，重放结束后按顺序发射
	mu        sync.Mutex
	replaying bool
	backlog   []func()
}

func (ip *individualProducer) deliver(emit func()) {
	ip.mu.Lock()
	if ip.replaying {
		ip.backlog = append(ip.backlog, emit)
		ip.mu.Unlock()
		return
	}
	ip.mu.Unlock()

	emit()
}

func (ip *individualProducer) finishReplay() {
	for {
		ip.mu.Lock()
		if len(ip.backlog) == 0 {
			ip.replaying = false
			ip.mu.Unlock()
			return
		}
		backlog := ip.backlog
		ip.backlog = nil
		ip.mu.Unlock()

		for _, emit := range backlog {
			emit()
		}
	}
}

func (ip *individualProducer) onUnsubscribe() {
	if m := ip.parent.Value(); m != nil {
		m.remove(ip)
	}
}

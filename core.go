// Package rx provides the reactive runtime: producers, schedulers, timers and subjects
// 响应式运行时核心：生产者、调度器、定时器与主题
package rx

import (
	"context"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// ============================================================================
// 核心类型定义
// ============================================================================

// Item 表示流中的一个数据项，包含值或错误，用于channel桥接
type Item struct {
	Value interface{} // 数据值
	Error error       // 错误信息
}

// IsError 检查项目是否包含错误
func (item Item) IsError() bool {
	return item.Error != nil
}

// ============================================================================
// 函数类型定义
// ============================================================================

// OnNext 处理下一个值的函数
type OnNext func(value interface{})

// OnError 处理错误的函数
type OnError func(err error)

// OnCompleted 处理完成的函数
type OnCompleted func()

// Predicate 谓词函数，用于过滤
type Predicate func(value interface{}) bool

// Transformer 转换函数，用于映射；返回的错误会经由OnError传递
type Transformer func(value interface{}) (interface{}, error)

// ============================================================================
// 生命周期管理
// ============================================================================

// Disposable 可释放资源的接口
type Disposable interface {
	// Dispose 释放资源，多次调用等同于一次
	Dispose()
	// IsDisposed 检查是否已释放
	IsDisposed() bool
}

// Subscription 订阅接口，管理订阅的生命周期
type Subscription interface {
	Disposable
	// Unsubscribe 取消订阅，与Dispose等价
	Unsubscribe()
	// IsUnsubscribed 检查是否已取消订阅
	IsUnsubscribed() bool
}

// NotificationID 取消订阅通知的标识
type NotificationID uint64

// UnsubscribeNotifier 支持注册释放通知的对象
type UnsubscribeNotifier interface {
	// RegisterUnsubscribeNotification 注册释放回调；已释放时返回false
	RegisterUnsubscribeNotification(callback func()) (NotificationID, bool)
	// UnregisterUnsubscribeNotification 移除尚未触发的回调
	UnregisterUnsubscribeNotification(id NotificationID)
}

// ============================================================================
// 观察者接口
// ============================================================================

// Observer 三通道观察者
type Observer interface {
	OnNext(value interface{})
	OnError(err error)
	OnCompleted()
}

// ============================================================================
// 调度器接口
// ============================================================================

// Scheduler 调度器接口，决定任务在何处、何时执行
type Scheduler interface {
	// Schedule 调度一个任务
	Schedule(work func()) Disposable
	// ScheduleWithDelay 延迟调度一个任务
	ScheduleWithDelay(work func(), delay time.Duration) Disposable
}

// Clock 时间源
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock 系统时钟
var SystemClock Clock = systemClock{}

// ============================================================================
// Observable 核心接口
// ============================================================================

// Observable 可观察序列的核心接口
type Observable interface {
	// Subscribe 订阅观察者
	Subscribe(observer Observer) Subscription

	// SubscribeWithCallbacks 使用回调函数订阅
	SubscribeWithCallbacks(onNext OnNext, onError OnError, onCompleted OnCompleted) Subscription

	// SubscribeOn 指定订阅时使用的调度器
	SubscribeOn(scheduler Scheduler) Observable

	// ObserveOn 指定观察时使用的调度器
	ObserveOn(scheduler Scheduler) Observable

	// 转换操作符
	Map(transformer Transformer) Observable
	Filter(predicate Predicate) Observable
	Take(count int) Observable
	Skip(count int) Observable

	// 组合操作符
	Concat(others ...Observable) Observable
	Merge(others ...Observable) Observable

	// 错误处理
	Catch(handler func(error) Observable) Observable
	OnErrorResumeNext(next Observable) Observable
	OnErrorReturn(value interface{}) Observable
	Retry(count int) Observable
	RetryWithBackOff(newBackOff func() backoff.BackOff, options ...Option) Observable

	// 副作用操作符
	DoOnNext(action OnNext) Observable
	DoOnError(action OnError) Observable
	DoOnCompleted(action OnCompleted) Observable
	DoOnSubscribe(action func()) Observable
	DoOnUnsubscribe(action func()) Observable
	DoOnTerminate(action func()) Observable
	Finally(action func()) Observable

	// 时间操作符
	ThrottleFirst(duration time.Duration, options ...Option) Observable
	Debounce(duration time.Duration, options ...Option) Observable
	Delay(duration time.Duration, options ...Option) Observable
	Timeout(duration time.Duration, options ...Option) Observable

	// 多播支持
	Publish() ConnectableObservable
	Share() Observable

	// 转换与阻塞操作
	ToChannel(options ...Option) <-chan Item
	BlockingFirst() (interface{}, error)
	BlockingLast() (interface{}, error)
	BlockingSlice() ([]interface{}, error)
}

// ConnectableObservable 可连接的Observable接口，支持多播
type ConnectableObservable interface {
	Observable

	// Connect 订阅源并开始向订阅者发射；已连接时返回现有连接
	Connect() Subscription

	// IsConnected 检查是否已连接
	IsConnected() bool

	// RefCount 返回一个按订阅者数量自动连接/断开的Observable
	RefCount() Observable
}

// ============================================================================
// 工具函数
// ============================================================================

// SafeExecute 安全执行函数，捕获panic
func SafeExecute(action func()) (recovered interface{}) {
	defer func() {
		if r := recover(); r != nil {
			recovered = r
		}
	}()

	action()
	return nil
}

// panicToError 把recover得到的值转换为error
func panicToError(recovered interface{}) error {
	if err, ok := recovered.(error); ok {
		return ErrHandlerPanic.Wrap(err.Error())
	}
	return ErrHandlerPanic.Wrap(fmt.Sprint(recovered))
}

// ============================================================================
// 配置选项
// ============================================================================

// Option 配置选项接口
type Option interface {
	Apply(config *Config)
}

// Config 配置结构
type Config struct {
	BufferSize   int
	Scheduler    Scheduler
	TimerManager *TimerManager
	Clock        Clock
	// Context 结束时取消ToChannel的订阅并关闭channel
	Context context.Context
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		BufferSize: 16,
		Clock:      SystemClock,
		Context:    context.Background(),
	}
}

// newConfig 应用选项得到最终配置
func newConfig(options []Option) *Config {
	config := DefaultConfig()
	for _, opt := range options {
		opt.Apply(config)
	}
	return config
}

// scheduler 返回配置的调度器，缺省为新线程调度器
func (c *Config) scheduler() Scheduler {
	if c.Scheduler == nil {
		return NewThread
	}
	return c.Scheduler
}

// timerManager 返回配置的定时器管理器，缺省为进程级实例
func (c *Config) timerManager() *TimerManager {
	if c.TimerManager == nil {
		return DefaultTimerManager()
	}
	return c.TimerManager
}

type optionFunc func(config *Config)

func (f optionFunc) Apply(config *Config) { f(config) }

// WithScheduler 指定调度器
func WithScheduler(scheduler Scheduler) Option {
	return optionFunc(func(config *Config) {
		config.Scheduler = scheduler
	})
}

// WithTimerManager 指定定时器管理器
func WithTimerManager(manager *TimerManager) Option {
	return optionFunc(func(config *Config) {
		config.TimerManager = manager
	})
}

// WithClock 指定时间源
func WithClock(clock Clock) Option {
	return optionFunc(func(config *Config) {
		config.Clock = clock
	})
}

// WithBufferSize 指定channel缓冲区大小
func WithBufferSize(size int) Option {
	return optionFunc(func(config *Config) {
		config.BufferSize = size
	})
}

// WithContext 设置上下文
func WithContext(ctx context.Context) Option {
	return optionFunc(func(config *Config) {
		config.Context = ctx
	})
}

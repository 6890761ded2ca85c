// Scheduler and timer metrics
// 调度器与定时器的Prometheus指标
package rx

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "rx"

	kindImmediate = "immediate"
	kindDelayed   = "delayed"
)

// schedulerMetrics 同一个Registerer上的所有被监控调度器共享这些指标，以scheduler标签区分
type schedulerMetrics struct {
	scheduled *prometheus.CounterVec
	completed *prometheus.CounterVec
	canceled  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

func newSchedulerMetrics(registerer prometheus.Registerer) *schedulerMetrics {
	labels := []string{"scheduler", "kind"}

	return &schedulerMetrics{
		scheduled: registerCollector(registerer, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "scheduler",
				Name:      "scheduled_total",
				Help:      "Total number of works handed to the scheduler",
			},
			labels,
		)),
		completed: registerCollector(registerer, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "scheduler",
				Name:      "completed_total",
				Help:      "Total number of works that finished executing",
			},
			labels,
		)),
		canceled: registerCollector(registerer, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "scheduler",
				Name:      "canceled_total",
				Help:      "Total number of works disposed before they executed",
			},
			labels,
		)),
		latency: registerCollector(registerer, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "scheduler",
				Name:      "start_latency_seconds",
				Help:      "Time between the requested start and the actual start of a work",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			labels,
		)),
	}
}

// registerCollector 注册collector；已注册同名指标时返回已有的collector
func registerCollector[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegistered) {
			if existing, ok := alreadyRegistered.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return collector
}

// ============================================================================
// MonitoredScheduler 带指标的调度器
// ============================================================================

// MonitoredScheduler 包装任意调度器，统计任务的调度、完成、取消与启动延迟
type MonitoredScheduler struct {
	name      string
	scheduler Scheduler
	metrics   *schedulerMetrics
}

var _ Scheduler = (*MonitoredScheduler)(nil)

// NewMonitoredScheduler 创建带指标的调度器；registerer为nil时使用prometheus.DefaultRegisterer
func NewMonitoredScheduler(name string, scheduler Scheduler, registerer prometheus.Registerer) *MonitoredScheduler {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &MonitoredScheduler{
		name:      name,
		scheduler: scheduler,
		metrics:   newSchedulerMetrics(registerer),
	}
}

// Schedule 调度任务并记录指标
func (s *MonitoredScheduler) Schedule(work func()) Disposable {
	checkWork(work, "MonitoredScheduler.Schedule")
	return s.schedule(kindImmediate, 0, func(w func()) Disposable {
		return s.scheduler.Schedule(w)
	}, work)
}

// ScheduleWithDelay 延迟调度任务并记录指标，启动延迟从到期时刻开始计算
func (s *MonitoredScheduler) ScheduleWithDelay(work func(), delay time.Duration) Disposable {
	checkWork(work, "MonitoredScheduler.ScheduleWithDelay")
	return s.schedule(kindDelayed, delay, func(w func()) Disposable {
		return s.scheduler.ScheduleWithDelay(w, delay)
	}, work)
}

func (s *MonitoredScheduler) schedule(kind string, delay time.Duration, schedule func(func()) Disposable, work func()) Disposable {
	due := time.Now().Add(delay)
	started := make(chan struct{})

	s.metrics.scheduled.WithLabelValues(s.name, kind).Inc()

	inner := schedule(func() {
		close(started)
		s.metrics.latency.WithLabelValues(s.name, kind).Observe(time.Since(due).Seconds())

		work()
		s.metrics.completed.WithLabelValues(s.name, kind).Inc()
	})

	return NewDisposable(func() {
		select {
		case <-started:
		default:
			s.metrics.canceled.WithLabelValues(s.name, kind).Inc()
		}
		inner.Dispose()
	})
}

// ============================================================================
// 定时器管理器指标
// ============================================================================

// NewTimerManagerCollector 导出定时器管理器中待触发的定时器数量
func NewTimerManagerCollector(name string, manager *TimerManager) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   "timer_manager",
			Name:        "pending_timers",
			Help:        "Number of timers waiting to fire",
			ConstLabels: prometheus.Labels{"manager": name},
		},
		func() float64 {
			return float64(manager.Len())
		},
	)
}

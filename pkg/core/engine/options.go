package engine

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/LENAX/durable-engine/pkg/core/cache"
	"github.com/LENAX/durable-engine/pkg/core/events"
)

type options struct {
	clock             clockwork.Clock
	logger            zerolog.Logger
	idSource          IDSource
	executorID        string
	workerConcurrency int
	bus               *events.Bus
	statusCache       cache.ResultCache
	cacheTTL          time.Duration
	registerer        prometheus.Registerer
	tracerProvider    trace.TracerProvider
	retry             RetryPolicy
	recoveryEnabled   bool
	recoveryWorkers   int
	maxRecoveryTries  int
	pollInterval      time.Duration
}

func defaultOptions() *options {
	return &options{
		clock:             clockwork.NewRealClock(),
		logger:            zerolog.Nop(),
		idSource:          UUIDSource(),
		workerConcurrency: 10,
		cacheTTL:          time.Hour,
		retry:             RetryPolicy{MaxAttempts: 1},
		recoveryEnabled:   true,
		recoveryWorkers:   4,
		maxRecoveryTries:  50,
		pollInterval:      500 * time.Millisecond,
	}
}

// Option 引擎配置项
type Option func(*options)

// WithClock 注入时钟，测试中使用clockwork.FakeClock控制持久化等待
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger 注入日志实例
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithIDSource 设置默认的工作流ID生成器
func WithIDSource(source IDSource) Option {
	return func(o *options) {
		if source != nil {
			o.idSource = source
		}
	}
}

// WithExecutorID 设置执行者ID（默认：主机名+随机串）
func WithExecutorID(id string) Option {
	return func(o *options) {
		o.executorID = id
	}
}

// WithWorkerConcurrency 设置异步执行的最大并发数
// 处于持久化等待中的工作流不占用名额
func WithWorkerConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workerConcurrency = n
		}
	}
}

// WithEventBus 设置生命周期事件总线
func WithEventBus(bus *events.Bus) Option {
	return func(o *options) {
		o.bus = bus
	}
}

// WithStatusCache 设置终态缓存（终态不可变，可安全缓存）
func WithStatusCache(c cache.ResultCache, ttl time.Duration) Option {
	return func(o *options) {
		o.statusCache = c
		if ttl > 0 {
			o.cacheTTL = ttl
		}
	}
}

// WithMetricsRegisterer 设置指标注册器（默认每个引擎独立的Registry）
func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = r
	}
}

// WithTracerProvider 设置链路追踪Provider（默认otel全局Provider）
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithRetryPolicy 设置存储写入终态失败时的重试策略
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(o *options) {
		if policy.MaxAttempts > 0 {
			o.retry = policy
		}
	}
}

// WithRecovery 设置启动时的恢复扫描
// concurrency: 并发恢复数；maxAttempts: 单个工作流的最大恢复次数，超过后置为ERROR
func WithRecovery(enabled bool, concurrency, maxAttempts int) Option {
	return func(o *options) {
		o.recoveryEnabled = enabled
		if concurrency > 0 {
			o.recoveryWorkers = concurrency
		}
		if maxAttempts > 0 {
			o.maxRecoveryTries = maxAttempts
		}
	}
}

// WithPollInterval 设置等待其他执行者结果时的轮询间隔
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/LENAX/durable-engine/pkg/core/cache"
	"github.com/LENAX/durable-engine/pkg/core/events"
	"github.com/LENAX/durable-engine/pkg/plugin"
	"github.com/LENAX/durable-engine/pkg/storage"
)

const tracerName = "github.com/LENAX/durable-engine"

// Engine 持久化工作流引擎（对外导出）
// 显式构建、显式注入依赖，不使用任何包级单例
type Engine struct {
	store      storage.Store
	clock      clockwork.Clock
	log        zerolog.Logger
	idSource   IDSource
	executorID string

	registry *registry
	sem      *semaphore.Weighted

	bus         *events.Bus
	statusCache cache.ResultCache
	cacheTTL    time.Duration
	metrics     *metrics
	tracer      trace.Tracer
	scheduler   *CronScheduler
	plugins     plugin.PluginManager
	notifier    plugin.Notifier

	retry            RetryPolicy
	recoveryEnabled  bool
	recoveryWorkers  int
	maxRecoveryTries int
	pollInterval     time.Duration

	// 本进程内正在执行的工作流（ID -> 执行句柄），保证同一进程内同一ID只有一个执行者
	activeMu sync.Mutex
	active   map[string]*execution
	stopping bool

	// 引擎停止后需要释放的资源（由Builder创建的存储、事件总线等）
	closers []func() error

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
	mu      sync.Mutex
}

// execution 进程内的一次工作流执行
type execution struct {
	done   chan struct{}
	record *storage.WorkflowRecord
	err    error
}

// NewEngine 创建引擎实例（对外导出）
func NewEngine(store storage.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store不能为空")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	executorID := o.executorID
	if executorID == "" {
		host, _ := os.Hostname()
		executorID = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}

	tracerProvider := o.tracerProvider
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}

	registerer := o.registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	m, err := newMetrics(registerer)
	if err != nil {
		return nil, fmt.Errorf("注册指标失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:            store,
		clock:            o.clock,
		log:              o.logger.With().Str("executor_id", executorID).Logger(),
		idSource:         o.idSource,
		executorID:       executorID,
		registry:         newRegistry(),
		sem:              semaphore.NewWeighted(int64(o.workerConcurrency)),
		bus:              o.bus,
		statusCache:      o.statusCache,
		cacheTTL:         o.cacheTTL,
		metrics:          m,
		tracer:           tracerProvider.Tracer(tracerName),
		retry:            o.retry,
		recoveryEnabled:  o.recoveryEnabled,
		recoveryWorkers:  o.recoveryWorkers,
		maxRecoveryTries: o.maxRecoveryTries,
		pollInterval:     o.pollInterval,
		active:           make(map[string]*execution),
		ctx:              ctx,
		cancel:           cancel,
	}
	e.scheduler = NewCronScheduler(e)
	return e, nil
}

// Start 启动引擎：恢复未完成的工作流并启动定时调度（对外导出）
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("引擎已启动")
	}
	e.started = true
	e.mu.Unlock()

	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("存储不可用: %w", err)
	}

	if e.recoveryEnabled {
		handles, err := e.Recover(ctx)
		if err != nil {
			// 恢复失败不阻止启动，下次启动或手动触发时重试
			e.log.Error().Err(err).Msg("❌ [恢复扫描] 恢复未完成工作流失败")
		} else if len(handles) > 0 {
			e.log.Info().Int("count", len(handles)).Msg("✅ [恢复扫描] 已恢复未完成工作流")
		}
	}

	e.scheduler.Start()
	e.log.Info().Int("workflows", len(e.registry.names())).Msg("🚀 [引擎] 已启动")
	return nil
}

// Stop 停止引擎（对外导出）
// 正在执行的工作流被中断后保持RUNNING状态，由下次启动时的恢复扫描接管
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	e.log.Info().Msg("🛑 [引擎] 正在停止...")
	e.scheduler.Stop()

	e.activeMu.Lock()
	e.stopping = true
	e.activeMu.Unlock()
	e.cancel()
	e.wg.Wait()

	if c, ok := e.statusCache.(interface{ Stop() }); ok {
		c.Stop()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.log.Warn().Err(err).Msg("⚠️ [引擎] 释放资源失败")
		}
	}
	e.log.Info().Msg("✅ [引擎] 已停止")
}

// Store 获取持久化存储
func (e *Engine) Store() storage.Store {
	return e.store
}

// Clock 获取引擎时钟
func (e *Engine) Clock() clockwork.Clock {
	return e.clock
}

// Logger 获取日志实例
func (e *Engine) Logger() zerolog.Logger {
	return e.log
}

// ExecutorID 获取本引擎实例的执行者ID
func (e *Engine) ExecutorID() string {
	return e.executorID
}

// EventBus 获取事件总线，未配置时为nil
func (e *Engine) EventBus() *events.Bus {
	return e.bus
}

// Scheduler 获取定时调度器
func (e *Engine) Scheduler() *CronScheduler {
	return e.scheduler
}

// Plugins 获取插件管理器，未通过Builder构建时为nil
func (e *Engine) Plugins() plugin.PluginManager {
	return e.plugins
}

// Notifier 获取通知发送器，未配置邮件时为nil
func (e *Engine) Notifier() plugin.Notifier {
	return e.notifier
}

// MetricsGatherer 获取指标采集器，用于暴露/metrics
func (e *Engine) MetricsGatherer() prometheus.Gatherer {
	return e.metrics.gatherer
}

// publish 发布生命周期事件，未配置总线时忽略
func (e *Engine) publish(evt events.Event) {
	if e.bus == nil {
		return
	}
	evt.Timestamp = e.clock.Now().UTC()
	if err := e.bus.Publish(evt); err != nil {
		e.log.Warn().Err(err).Str("type", string(evt.Type)).Msg("⚠️ [事件] 发布失败")
	}
}

package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	internalstorage "github.com/LENAX/durable-engine/internal/storage"
	"github.com/LENAX/durable-engine/pkg/config"
	"github.com/LENAX/durable-engine/pkg/core/cache"
	"github.com/LENAX/durable-engine/pkg/core/events"
	"github.com/LENAX/durable-engine/pkg/logger"
	"github.com/LENAX/durable-engine/pkg/plugin"
	"github.com/LENAX/durable-engine/pkg/storage"
	"github.com/LENAX/durable-engine/pkg/storage/sqlstore"
)

// RegisterFunc 工作流注册函数，在引擎创建后、启动前调用
type RegisterFunc func(e *Engine) error

type pluginEntry struct {
	plugin plugin.Plugin
	params map[string]string
}

// EngineBuilder 引擎构建器（链式调用）
type EngineBuilder struct {
	engineConfigPath string
	cfg              *config.EngineConfig
	registrations    []RegisterFunc
	plugins          []pluginEntry
	pluginBindings   []plugin.PluginBinding
	store            storage.Store
	clock            clockwork.Clock
	logger           *zerolog.Logger
	options          []Option
	err              error
}

// NewEngineBuilder 创建引擎构建器（入口）
// engineConfigPath为空时使用默认配置
func NewEngineBuilder(engineConfigPath string) *EngineBuilder {
	return &EngineBuilder{
		engineConfigPath: engineConfigPath,
	}
}

// WithConfig 直接使用已加载的配置（链式），优先于配置文件
func (b *EngineBuilder) WithConfig(cfg *config.EngineConfig) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if cfg == nil {
		b.err = errors.New("config cannot be nil")
		return b
	}
	b.cfg = cfg
	return b
}

// WithWorkflows 注册工作流（链式）
func (b *EngineBuilder) WithWorkflows(fn RegisterFunc) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if fn == nil {
		b.err = errors.New("register func cannot be nil")
		return b
	}
	b.registrations = append(b.registrations, fn)
	return b
}

// WithStore 使用外部创建的存储（链式），引擎停止时不会关闭它
func (b *EngineBuilder) WithStore(store storage.Store) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if store == nil {
		b.err = errors.New("store cannot be nil")
		return b
	}
	b.store = store
	return b
}

// WithClock 注入时钟（链式）
func (b *EngineBuilder) WithClock(clock clockwork.Clock) *EngineBuilder {
	if b.err != nil {
		return b
	}
	b.clock = clock
	return b
}

// WithLogger 注入日志实例（链式），不设置时按配置创建
func (b *EngineBuilder) WithLogger(log zerolog.Logger) *EngineBuilder {
	if b.err != nil {
		return b
	}
	b.logger = &log
	return b
}

// WithOptions 追加引擎配置项（链式），在配置文件之后应用
func (b *EngineBuilder) WithOptions(opts ...Option) *EngineBuilder {
	if b.err != nil {
		return b
	}
	b.options = append(b.options, opts...)
	return b
}

// WithPlugin 注册插件（链式）
func (b *EngineBuilder) WithPlugin(p plugin.Plugin, params map[string]string) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if p == nil {
		b.err = errors.New("plugin cannot be nil")
		return b
	}
	if p.Name() == "" {
		b.err = errors.New("plugin name cannot be empty")
		return b
	}
	for _, entry := range b.plugins {
		if entry.plugin.Name() == p.Name() {
			b.err = fmt.Errorf("plugin %s already registered", p.Name())
			return b
		}
	}
	b.plugins = append(b.plugins, pluginEntry{plugin: p, params: params})
	return b
}

// WithPluginBinding 绑定插件到事件（链式）
func (b *EngineBuilder) WithPluginBinding(binding plugin.PluginBinding) *EngineBuilder {
	if b.err != nil {
		return b
	}
	if binding.PluginName == "" {
		b.err = errors.New("plugin name cannot be empty")
		return b
	}
	if binding.Event == "" {
		b.err = errors.New("trigger event cannot be empty")
		return b
	}
	b.pluginBindings = append(b.pluginBindings, binding)
	return b
}

// Build 构建引擎实例（最终步骤）
func (b *EngineBuilder) Build() (*Engine, error) {
	if b.err != nil {
		return nil, b.err
	}

	// 1. 加载并校验配置
	cfg, err := b.loadConfig()
	if err != nil {
		return nil, err
	}
	ec := cfg.DurableEngine

	// 2. 日志
	var log zerolog.Logger
	if b.logger != nil {
		log = *b.logger
	} else {
		log = logger.New(ec.General.LogLevel, ec.General.Env)
	}
	log = log.With().Str("instance", ec.General.InstanceName).Logger()

	clock := b.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	// 3. 存储层
	var closers []func() error
	store := b.store
	if store == nil {
		store, err = internalstorage.NewStore(ec.Storage.Database.Type, ec.Storage.Database.DSN, sqlstore.PoolOptions{
			MaxOpenConns:    ec.Storage.Database.MaxOpenConns,
			MaxIdleConns:    ec.Storage.Database.MaxIdleConns,
			ConnMaxLifetime: ec.Storage.Database.ConnMaxLifetime,
			ConnMaxIdleTime: ec.Storage.Database.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, fmt.Errorf("init storage failed: %w", err)
		}
		closers = append(closers, store.Close)
	}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	// 4. 事件总线与终态缓存
	bus := events.NewBus(logger.NewWatermillAdapter(log))
	closers = append(closers, bus.Close)

	opts := []Option{
		WithClock(clock),
		WithLogger(log),
		WithWorkerConcurrency(cfg.GetWorkerConcurrency()),
		WithEventBus(bus),
		WithRecovery(ec.Execution.Recovery.Enabled, ec.Execution.Recovery.Concurrency, ec.Execution.Recovery.MaxAttempts),
		WithPollInterval(ec.Execution.PollInterval),
	}
	if ec.Storage.Cache.Enabled {
		opts = append(opts, WithStatusCache(cache.NewMemoryResultCache(clock, time.Minute), ec.Storage.Cache.DefaultTTL))
	}
	if ec.Execution.Retry.Enabled {
		opts = append(opts, WithRetryPolicy(RetryPolicy{
			MaxAttempts: ec.Execution.Retry.MaxAttempts,
			Delay:       ec.Execution.Retry.Delay,
			MaxDelay:    ec.Execution.Retry.MaxDelay,
		}))
	}
	opts = append(opts, b.options...)

	// 5. 创建引擎
	eng, err := NewEngine(store, opts...)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("create engine failed: %w", err)
	}

	// 6. 插件
	if err := b.initPlugins(eng, cfg, log); err != nil {
		closeAll()
		return nil, err
	}

	// 7. 工作流与定时调度
	for _, register := range b.registrations {
		if err := register(eng); err != nil {
			closeAll()
			return nil, fmt.Errorf("register workflows failed: %w", err)
		}
	}
	for _, sched := range ec.Scheduler.Schedules {
		if err := eng.Schedule(sched.Workflow, sched.CronExpr); err != nil {
			closeAll()
			return nil, fmt.Errorf("schedule workflow failed: %w", err)
		}
	}

	eng.closers = closers
	log.Info().
		Str("database", ec.Storage.Database.Type).
		Int("workers", cfg.GetWorkerConcurrency()).
		Strs("workflows", eng.Workflows()).
		Msg("✅ [Builder] 引擎构建完成")
	return eng, nil
}

func (b *EngineBuilder) loadConfig() (*config.EngineConfig, error) {
	cfg := b.cfg
	if cfg == nil {
		if b.engineConfigPath == "" {
			cfg = config.DefaultConfig()
		} else {
			loaded, err := config.LoadFrameworkConfig(b.engineConfigPath)
			if err != nil {
				return nil, fmt.Errorf("load engine config failed: %w", err)
			}
			cfg = loaded
		}
	}
	cfg.ApplyDefaults()
	if err := config.ValidateFrameworkConfig(cfg); err != nil {
		return nil, fmt.Errorf("validate engine config failed: %w", err)
	}
	return cfg, nil
}

// initPlugins 注册插件与绑定，并将生命周期事件转发给插件
func (b *EngineBuilder) initPlugins(eng *Engine, cfg *config.EngineConfig, log zerolog.Logger) error {
	pm := plugin.NewPluginManager()
	eng.plugins = pm

	if cfg.EmailConfigured() {
		email := plugin.NewEmailPlugin(log)
		if err := pm.RegisterWithInit(email, cfg.EmailParams()); err != nil {
			return fmt.Errorf("init email plugin failed: %w", err)
		}
		eng.notifier = email
	}

	for _, entry := range b.plugins {
		if err := pm.RegisterWithInit(entry.plugin, entry.params); err != nil {
			return fmt.Errorf("init plugin failed: %w", err)
		}
	}
	for _, binding := range b.pluginBindings {
		if err := pm.Bind(binding); err != nil {
			return fmt.Errorf("bind plugin failed: %w", err)
		}
	}

	if len(b.pluginBindings) == 0 {
		return nil
	}
	if _, err := plugin.ForwardEvents(eng.ctx, eng.bus, pm, log); err != nil {
		return fmt.Errorf("forward events to plugins failed: %w", err)
	}
	return nil
}

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LENAX/durable-engine/pkg/actions"
	"github.com/LENAX/durable-engine/pkg/api"
	"github.com/LENAX/durable-engine/pkg/banking"
	"github.com/LENAX/durable-engine/pkg/config"
	"github.com/LENAX/durable-engine/pkg/core/engine"
)

// Options 服务启动参数
type Options struct {
	ConfigPath string
	// Host/Port 非零时覆盖配置文件中的server配置
	Host    string
	Port    int
	Version string
}

// App 引擎 + 银行工作流 + 动作webhook + HTTP API
type App struct {
	Engine   *engine.Engine
	Actions  *actions.Registry
	Server   *api.APIServer
	shutdown time.Duration
}

// New 按配置组装服务
func New(opts Options) (*App, error) {
	cfg := config.DefaultConfig()
	if opts.ConfigPath != "" {
		loaded, err := config.LoadFrameworkConfig(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.Host != "" {
		cfg.DurableEngine.Server.Host = opts.Host
	}
	if opts.Port > 0 {
		cfg.DurableEngine.Server.Port = opts.Port
	}

	eng, err := engine.NewEngineBuilder("").
		WithConfig(cfg).
		WithWorkflows(registerBanking).
		Build()
	if err != nil {
		return nil, fmt.Errorf("创建引擎失败: %w", err)
	}

	registry, err := actions.NewRegistry(eng.Logger(), actions.BankingActions(eng, nil)...)
	if err != nil {
		eng.Stop()
		return nil, fmt.Errorf("注册动作失败: %w", err)
	}

	serverCfg := api.ServerConfigFrom(cfg)
	return &App{
		Engine:   eng,
		Actions:  registry,
		Server:   api.NewAPIServer(eng, registry, serverCfg, opts.Version),
		shutdown: serverCfg.WriteTimeout,
	}, nil
}

// registerBanking 注册银行工作流，配置了邮件时使用邮件插件发送确认
func registerBanking(e *engine.Engine) error {
	opts := banking.DefaultOptions()
	opts.Notifier = e.Notifier()
	opts.Logger = e.Logger().With().Str("component", "banking").Logger()
	return banking.Register(e, opts)
}

// Run 启动引擎与HTTP服务，ctx结束后优雅关闭
func (a *App) Run(ctx context.Context) error {
	if err := a.Engine.Start(ctx); err != nil {
		a.Engine.Stop()
		return fmt.Errorf("启动引擎失败: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.Server.Start()
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdown)
	defer cancel()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	a.Engine.Stop()
	return runErr
}

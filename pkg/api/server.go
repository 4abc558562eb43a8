package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/LENAX/durable-engine/pkg/actions"
	"github.com/LENAX/durable-engine/pkg/config"
	"github.com/LENAX/durable-engine/pkg/core/engine"
)

// ServerConfig API服务器配置
type ServerConfig struct {
	Host         string        // 监听地址
	Port         int           // 监听端口
	ReadTimeout  time.Duration // 读取超时
	WriteTimeout time.Duration // 写入超时
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// ServerConfigFrom 由引擎配置生成服务器配置
func ServerConfigFrom(cfg *config.EngineConfig) ServerConfig {
	s := cfg.DurableEngine.Server
	return ServerConfig{
		Host:         s.Host,
		Port:         s.Port,
		ReadTimeout:  s.ReadTimeout,
		WriteTimeout: s.WriteTimeout,
	}
}

// APIServer HTTP API服务器
type APIServer struct {
	engine     *engine.Engine
	registry   *actions.Registry
	httpServer *http.Server
	config     ServerConfig
	version    string
	log        zerolog.Logger
}

// NewAPIServer 创建API服务器
func NewAPIServer(eng *engine.Engine, registry *actions.Registry, config ServerConfig, version string) *APIServer {
	s := &APIServer{
		engine:   eng,
		registry: registry,
		config:   config,
		version:  version,
		log:      eng.Logger().With().Str("component", "api").Logger(),
	}
	s.httpServer = &http.Server{
		Addr:         s.Addr(),
		Handler:      SetupRouter(eng, registry, version, s.log),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Handler 路由处理器
func (s *APIServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start 启动服务器，阻塞直到服务器关闭
func (s *APIServer) Start() error {
	s.log.Info().Str("addr", s.Addr()).Msg("🚀 [API] 服务器启动")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server listen failed: %w", err)
	}
	return nil
}

// Shutdown 优雅关闭服务器
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("🛑 [API] 正在关闭服务器...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.log.Info().Msg("✅ [API] 服务器已停止")
	return nil
}

// Addr 获取服务器地址
func (s *APIServer) Addr() string {
	return net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
}

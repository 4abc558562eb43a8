package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/LENAX/durable-engine/internal/app"
	"github.com/LENAX/durable-engine/pkg/logger"
)

var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "./configs/engine.yaml", "引擎配置文件路径")
	host := flag.String("host", "", "监听地址（覆盖配置文件）")
	port := flag.Int("port", 0, "监听端口（覆盖配置文件）")
	flag.Parse()

	log := logger.New(os.Getenv("DURABLE_LOG_LEVEL"), os.Getenv("DURABLE_ENV"))
	log.Info().Str("version", Version).Str("commit", GitCommit).Str("config", *configPath).Msg("Durable Engine Server")

	// 1. 组装引擎、银行工作流与API服务
	a, err := app.New(app.Options{
		ConfigPath: *configPath,
		Host:       *host,
		Port:       *port,
		Version:    Version,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("创建服务失败")
	}

	// 2. 运行直到收到中断信号
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		log.Error().Err(err).Msg("❌ 服务异常退出")
		os.Exit(1)
	}
	log.Info().Msg("✅ 服务已停止")
}

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/LENAX/durable-engine/internal/app"
	"github.com/LENAX/durable-engine/pkg/cli/output"
)

var (
	serverPort int
	serverHost string
)

// defaultConfigPaths 未指定配置文件时依次查找
var defaultConfigPaths = []string{
	"./configs/engine.yaml",
	"./config/engine.yaml",
	"./engine.yaml",
}

// serverCmd server子命令
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "服务管理命令",
	Long:  `管理Durable Engine HTTP API服务。`,
}

// serverStartCmd 启动服务
var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "启动HTTP API服务",
	Long: `启动引擎、恢复未完成的工作流并提供HTTP API与对话动作webhook。

示例：
  # 使用默认配置启动
  durable-engine server start

  # 指定端口与配置文件
  durable-engine server start --port 5055 --config ./configs/engine.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := resolveConfigPath(viper.GetString(keyConfig))
		if configPath == "" {
			output.Warning("未找到配置文件，使用默认配置（sqlite: ./durable.db）")
		} else {
			output.Info("使用配置文件: %s", configPath)
		}

		a, err := app.New(app.Options{
			ConfigPath: configPath,
			Host:       serverHost,
			Port:       serverPort,
			Version:    Version,
		})
		if err != nil {
			output.Error("创建服务失败: %v", err)
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		output.Success("Durable Engine Server 启动于 %s", a.Server.Addr())
		if err := a.Run(ctx); err != nil {
			output.Error("服务异常退出: %v", err)
			return err
		}
		output.Success("服务已停止")
		return nil
	},
}

// resolveConfigPath 返回显式指定的配置文件，否则按默认路径查找
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func init() {
	serverStartCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "监听端口（覆盖配置文件）")
	serverStartCmd.Flags().StringVarP(&serverHost, "host", "H", "", "监听地址（覆盖配置文件）")
	serverStartCmd.Flags().StringP(keyConfig, "c", "", "配置文件路径")
	_ = viper.BindPFlag(keyConfig, serverStartCmd.Flags().Lookup(keyConfig))

	serverCmd.AddCommand(serverStartCmd)
}

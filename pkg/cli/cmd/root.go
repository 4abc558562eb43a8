package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// 配置键，对应 DURABLE_SERVER / DURABLE_JSON / DURABLE_CONFIG 环境变量
const (
	keyServer = "server"
	keyJSON   = "json"
	keyConfig = "config"
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "durable-engine",
	Short: "Durable Engine CLI - 持久化工作流引擎命令行工具",
	Long: `Durable Engine CLI 用于启动引擎服务并查询工作流。

支持的功能：
  - 启动工作流（同步或异步，可指定幂等ID）
  - 查看工作流状态与已记录的步骤
  - 列出已注册的工作流与定时调度
  - 启动HTTP API服务（含对话动作webhook）

所有全局参数都可以通过 DURABLE_ 前缀的环境变量设置，例如 DURABLE_SERVER。

使用示例：
  # 启动服务
  durable-engine server start --config ./configs/engine.yaml

  # 异步发起转账
  durable-engine workflow start transferFunds --id abcd --input '{"amount":100,"recipient":"alice"}'

  # 查看状态
  durable-engine workflow status abcd`,
	SilenceUsage: true,
}

// Execute 执行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCommand 返回根命令（测试用）
func NewRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringP(keyServer, "s", "http://localhost:8080", "Durable Engine服务器地址")
	rootCmd.PersistentFlags().BoolP(keyJSON, "j", false, "使用JSON格式输出")

	viper.SetEnvPrefix("DURABLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlag(keyServer, rootCmd.PersistentFlags().Lookup(keyServer))
	_ = viper.BindPFlag(keyJSON, rootCmd.PersistentFlags().Lookup(keyJSON))

	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
}

func serverURL() string {
	return strings.TrimRight(viper.GetString(keyServer), "/")
}

func outputJSON() bool {
	return viper.GetBool(keyJSON)
}

package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/LENAX/durable-engine/pkg/api/dto"
	"github.com/LENAX/durable-engine/pkg/cli/client"
	"github.com/LENAX/durable-engine/pkg/cli/output"
)

var (
	startID    string
	startInput string
	startWait  bool

	listStatus string
	listName   string
	listLimit  int
)

// workflowCmd workflow子命令
var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "工作流命令",
	Long:  `启动工作流，查看工作流状态、步骤与注册信息。`,
}

// workflowStartCmd 启动工作流
var workflowStartCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "启动工作流",
	Long: `启动已注册的工作流。

同一 --id 的重复启动不会再次执行，返回已有执行的状态。

示例：
  durable-engine workflow start checkBalance --input '{"amount":500}' --wait
  durable-engine workflow start transferFunds --id abcd --input '{"amount":100,"recipient":"alice"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := dto.StartWorkflowRequest{Workflow: args[0], ID: startID, Wait: startWait}
		if startInput != "" {
			if !json.Valid([]byte(startInput)) {
				output.Error("--input 不是合法的JSON")
				return fmt.Errorf("invalid input json")
			}
			req.Input = json.RawMessage(startInput)
		}

		result, err := client.New(serverURL()).StartWorkflow(cmd.Context(), req)
		if err != nil {
			output.Error("启动失败: %v", err)
			return err
		}
		if outputJSON() {
			return output.PrintJSON(result)
		}

		output.Success("工作流已启动: %s", result.WorkflowID)
		fmt.Printf("状态: %s\n", output.Status(result.Status))
		if len(result.Output) > 0 {
			fmt.Printf("输出: %s\n", string(result.Output))
		}
		if result.Error != "" {
			fmt.Printf("错误: %s\n", result.Error)
		}
		return nil
	},
}

// workflowStatusCmd 查看工作流状态
var workflowStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "查看工作流状态",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := client.New(serverURL()).GetWorkflow(cmd.Context(), args[0])
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}
		if outputJSON() {
			return output.PrintJSON(status)
		}

		fmt.Printf("Workflow: %s\n", status.WorkflowID)
		fmt.Printf("名称:     %s\n", status.Name)
		fmt.Printf("状态:     %s\n", output.Status(string(status.Status)))
		fmt.Printf("执行者:   %s\n", status.ExecutorID)
		fmt.Printf("恢复次数: %d\n", status.RecoveryAttempts)
		fmt.Printf("创建时间: %s\n", status.CreatedAt.Local().Format(time.DateTime))
		fmt.Printf("更新时间: %s\n", status.UpdatedAt.Local().Format(time.DateTime))
		if len(status.Output) > 0 {
			fmt.Printf("输出:     %s\n", string(status.Output))
		}
		if status.Error != "" {
			fmt.Printf("错误:     %s\n", status.Error)
		}
		return nil
	},
}

// workflowStepsCmd 查看已记录的步骤
var workflowStepsCmd = &cobra.Command{
	Use:   "steps <id>",
	Short: "查看工作流已记录的步骤",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, err := client.New(serverURL()).ListSteps(cmd.Context(), args[0])
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}
		if outputJSON() {
			return output.PrintJSON(steps)
		}
		if len(steps) == 0 {
			output.Info("暂无已记录的步骤")
			return nil
		}

		table := output.NewTable([]string{"#", "NAME", "KIND", "OUTPUT", "ERROR", "RECORDED"})
		for _, s := range steps {
			table.AddRow(
				strconv.Itoa(s.Index),
				s.Name,
				s.Kind,
				orDash(string(s.Output)),
				orDash(s.Error),
				s.CreatedAt.Local().Format(time.DateTime),
			)
		}
		table.Render()
		return nil
	},
}

// workflowListCmd 列出工作流
var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出工作流",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := client.New(serverURL()).ListWorkflows(cmd.Context(), listStatus, listName, listLimit, 0)
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}
		if outputJSON() {
			return output.PrintJSON(result)
		}
		if len(result.Items) == 0 {
			output.Info("暂无工作流")
			return nil
		}

		table := output.NewTable([]string{"ID", "NAME", "STATUS", "CREATED", "UPDATED"})
		for _, wf := range result.Items {
			table.AddRow(
				wf.WorkflowID,
				wf.Name,
				output.Status(string(wf.Status)),
				wf.CreatedAt.Local().Format(time.DateTime),
				wf.UpdatedAt.Local().Format(time.DateTime),
			)
		}
		table.Render()
		if result.HasMore {
			output.Info("还有更多结果，使用 --limit 调整数量")
		}
		return nil
	},
}

// workflowRegistryCmd 列出已注册的工作流
var workflowRegistryCmd = &cobra.Command{
	Use:   "registry",
	Short: "列出已注册的工作流与定时调度",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := client.New(serverURL()).Registry(cmd.Context())
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}
		if outputJSON() {
			return output.PrintJSON(reg)
		}

		table := output.NewTable([]string{"WORKFLOW", "CRON"})
		for _, name := range reg.Workflows {
			table.AddRow(name, orDash(reg.Schedules[name]))
		}
		table.Render()
		return nil
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	workflowStartCmd.Flags().StringVar(&startID, "id", "", "工作流ID（幂等键），为空时由服务端生成")
	workflowStartCmd.Flags().StringVarP(&startInput, "input", "i", "", "工作流输入（JSON）")
	workflowStartCmd.Flags().BoolVarP(&startWait, "wait", "w", false, "等待工作流结束")

	workflowListCmd.Flags().StringVar(&listStatus, "status", "", "按状态过滤，逗号分隔（PENDING,RUNNING,SUCCESS,ERROR）")
	workflowListCmd.Flags().StringVar(&listName, "name", "", "按工作流名称过滤")
	workflowListCmd.Flags().IntVarP(&listLimit, "limit", "l", 20, "返回数量")

	workflowCmd.AddCommand(workflowStartCmd)
	workflowCmd.AddCommand(workflowStatusCmd)
	workflowCmd.AddCommand(workflowStepsCmd)
	workflowCmd.AddCommand(workflowListCmd)
	workflowCmd.AddCommand(workflowRegistryCmd)
}

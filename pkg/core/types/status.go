package types

// WorkflowStatus 工作流状态枚举（对外导出）
type WorkflowStatus string

const (
	// WorkflowStatusPending 已登记，尚未开始执行
	WorkflowStatusPending WorkflowStatus = "PENDING"
	// WorkflowStatusRunning 执行中（或进程崩溃后等待恢复）
	WorkflowStatusRunning WorkflowStatus = "RUNNING"
	// WorkflowStatusSuccess 执行成功（终态）
	WorkflowStatusSuccess WorkflowStatus = "SUCCESS"
	// WorkflowStatusError 执行失败（终态）
	WorkflowStatusError WorkflowStatus = "ERROR"
)

// IsValid 检查状态是否有效（对外导出）
func (s WorkflowStatus) IsValid() bool {
	switch s {
	case WorkflowStatusPending,
		WorkflowStatusRunning,
		WorkflowStatusSuccess,
		WorkflowStatusError:
		return true
	default:
		return false
	}
}

// IsTerminal 是否为终态
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusSuccess || s == WorkflowStatusError
}

// CanTransitionTo 检查是否可以转换到目标状态（对外导出）
// 状态只能单调前进：PENDING -> RUNNING -> {SUCCESS, ERROR}
func (s WorkflowStatus) CanTransitionTo(target WorkflowStatus) bool {
	switch s {
	case WorkflowStatusPending:
		// 允许跳过RUNNING直接进入终态（如恢复次数超限）
		return target == WorkflowStatusRunning || target.IsTerminal()
	case WorkflowStatusRunning:
		// RUNNING -> RUNNING 视为幂等操作
		return target == WorkflowStatusRunning || target.IsTerminal()
	default:
		// 终态不可变
		return false
	}
}

// ParseWorkflowStatus 解析状态字符串，无效时返回false
func ParseWorkflowStatus(s string) (WorkflowStatus, bool) {
	status := WorkflowStatus(s)
	return status, status.IsValid()
}

// StepKind 步骤记录类型
type StepKind string

const (
	// StepKindStep 普通步骤
	StepKindStep StepKind = "step"
	// StepKindSleep 持久化等待
	StepKindSleep StepKind = "sleep"
)

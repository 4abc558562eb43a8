package storage

import (
	"context"
	"time"

	"github.com/LENAX/durable-engine/pkg/core/types"
)

// WorkflowRecord 工作流状态记录（对外导出）
// 每个工作流ID只有一条记录，状态单调前进
type WorkflowRecord struct {
	ID               string
	Name             string
	Input            []byte // JSON
	Status           types.WorkflowStatus
	Output           []byte // JSON，仅SUCCESS时有值
	Error            string // 仅ERROR时有值
	ExecutorID       string
	RecoveryAttempts int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StepRecord 步骤结果记录（对外导出）
// (WorkflowID, StepIndex) 唯一，一旦写入不可覆盖
type StepRecord struct {
	WorkflowID string
	StepIndex  int
	Name       string
	Kind       types.StepKind
	Output     []byte // JSON
	Error      string // 非空表示步骤失败
	Completed  bool
	CreatedAt  time.Time
}

// Failed 步骤是否以失败结束
func (r *StepRecord) Failed() bool {
	return r.Error != ""
}

// ListFilter 工作流列表查询条件
type ListFilter struct {
	Statuses []types.WorkflowStatus
	Name     string
	Limit    int
	Offset   int
}

// Store 持久化存储接口（对外导出）
// 所有实现必须保证：
//   - CreateOrGetWorkflow 原子，并发调用时只有一个调用方得到 isNew=true
//   - RecordStepResult 原子，冲突时不覆盖，返回先写入的记录
//   - 存储不可达时返回包装了 types.ErrStoreUnavailable 的错误
type Store interface {
	// CreateOrGetWorkflow 不存在则以PENDING状态创建，存在则返回已有记录
	CreateOrGetWorkflow(ctx context.Context, rec *WorkflowRecord) (*WorkflowRecord, bool, error)
	// SetWorkflowStatus 更新状态，拒绝回退和覆盖终态
	SetWorkflowStatus(ctx context.Context, id string, status types.WorkflowStatus, output []byte, errMsg string) error
	// GetWorkflowStatus 获取工作流记录，不存在返回 types.ErrWorkflowNotFound
	GetWorkflowStatus(ctx context.Context, id string) (*WorkflowRecord, error)
	// ClaimWorkflow 将工作流置为RUNNING并记录执行者，countRecovery为true时累加恢复次数
	// 记录已是终态时原样返回，不报错
	ClaimWorkflow(ctx context.Context, id, executorID string, countRecovery bool) (*WorkflowRecord, error)
	// ListWorkflows 按条件列出工作流，按创建时间升序
	ListWorkflows(ctx context.Context, filter ListFilter) ([]*WorkflowRecord, error)

	// GetStepResult 获取步骤结果，不存在返回 types.ErrStepNotPresent
	GetStepResult(ctx context.Context, workflowID string, stepIndex int) (*StepRecord, error)
	// RecordStepResult 记录步骤结果；已存在时不覆盖，返回已存在的记录
	RecordStepResult(ctx context.Context, rec *StepRecord) (*StepRecord, error)
	// ListSteps 列出工作流的所有步骤记录，按StepIndex升序
	ListSteps(ctx context.Context, workflowID string) ([]*StepRecord, error)

	// Ping 检查存储连通性
	Ping(ctx context.Context) error
	// Close 关闭存储
	Close() error
}

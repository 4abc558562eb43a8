package types

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable 存储不可达，所有存储操作失败时均包装此错误
	ErrStoreUnavailable = errors.New("durable store unavailable")
	// ErrWorkflowNotFound 工作流记录不存在
	ErrWorkflowNotFound = errors.New("workflow not found")
	// ErrStepNotPresent 步骤结果尚未记录
	ErrStepNotPresent = errors.New("step result not present")
	// ErrNonDeterminism 重放时步骤序列与已记录的不一致
	ErrNonDeterminism = errors.New("non-determinism detected")
	// ErrWorkflowConflict 同一ID已被另一个工作流名称占用
	ErrWorkflowConflict = errors.New("workflow id already used by another workflow")
	// ErrWorkflowNotRegistered 工作流未注册
	ErrWorkflowNotRegistered = errors.New("workflow not registered")
	// ErrInvalidTransition 非法的状态转换（终态不可变）
	ErrInvalidTransition = errors.New("invalid workflow status transition")
)

// StepError 已记录的步骤失败（对外导出）
// 首次执行与重放时返回的都是同一条失败信息
type StepError struct {
	WorkflowID string
	StepIndex  int
	StepName   string
	Message    string
	Replayed   bool
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s (#%d) of workflow %s failed: %s", e.StepName, e.StepIndex, e.WorkflowID, e.Message)
}

// WorkflowError 工作流以ERROR终态结束（对外导出）
type WorkflowError struct {
	WorkflowID string
	Message    string
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("workflow %s failed: %s", e.WorkflowID, e.Message)
}

// NonDeterminismError 记录了具体不一致位置的非确定性错误
type NonDeterminismError struct {
	WorkflowID   string
	StepIndex    int
	RecordedName string
	CurrentName  string
}

func (e *NonDeterminismError) Error() string {
	return fmt.Sprintf("workflow %s step #%d: recorded %q but executing %q", e.WorkflowID, e.StepIndex, e.RecordedName, e.CurrentName)
}

// Unwrap 使errors.Is(err, ErrNonDeterminism)成立
func (e *NonDeterminismError) Unwrap() error {
	return ErrNonDeterminism
}

// Unavailable 将底层错误包装为ErrStoreUnavailable
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

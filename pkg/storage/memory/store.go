package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/LENAX/durable-engine/pkg/core/types"
	"github.com/LENAX/durable-engine/pkg/storage"
)

// errInjected 模拟存储故障
var errInjected = errors.New("模拟存储故障：连接已断开")

type stepKey struct {
	workflowID string
	index      int
}

// Store 内存存储实现（对外导出）
// 单进程内满足Store接口的全部原子性约束，支持故障注入，主要用于测试
type Store struct {
	mu        sync.RWMutex
	clock     clockwork.Clock
	workflows map[string]*storage.WorkflowRecord
	steps     map[stepKey]*storage.StepRecord

	unavailable     bool
	failRecordAt    int // 记录该下标的步骤时失败，-1表示关闭
	recordStepCalls int
	createCalls     int
}

// NewStore 创建内存存储（对外导出）
func NewStore(clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		clock:        clock,
		workflows:    make(map[string]*storage.WorkflowRecord),
		steps:        make(map[stepKey]*storage.StepRecord),
		failRecordAt: -1,
	}
}

// SetUnavailable 设置存储是否不可达（故障注入）
func (s *Store) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = unavailable
}

// SetFailOnRecordStep 记录指定下标的步骤时使存储不可达（故障注入）
// 用于模拟"步骤执行完成但结果未落盘"时进程崩溃；index为-1时关闭
func (s *Store) SetFailOnRecordStep(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRecordAt = index
}

// RecordStepCalls 返回RecordStepResult被成功调用的次数
func (s *Store) RecordStepCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordStepCalls
}

// CreateCalls 返回CreateOrGetWorkflow被调用的次数
func (s *Store) CreateCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createCalls
}

func (s *Store) checkAvailable(op string) error {
	if s.unavailable {
		return types.Unavailable(op, errInjected)
	}
	return nil
}

// CreateOrGetWorkflow 实现Store接口
func (s *Store) CreateOrGetWorkflow(ctx context.Context, rec *storage.WorkflowRecord) (*storage.WorkflowRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable("创建工作流记录"); err != nil {
		return nil, false, err
	}
	s.createCalls++

	if existing, ok := s.workflows[rec.ID]; ok {
		return cloneWorkflow(existing), false, nil
	}

	now := s.clock.Now().UTC()
	row := cloneWorkflow(rec)
	if row.Status == "" {
		row.Status = types.WorkflowStatusPending
	}
	row.CreatedAt = now
	row.UpdatedAt = now
	s.workflows[rec.ID] = row
	return cloneWorkflow(row), true, nil
}

// SetWorkflowStatus 实现Store接口
func (s *Store) SetWorkflowStatus(ctx context.Context, id string, status types.WorkflowStatus, output []byte, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable("更新工作流状态"); err != nil {
		return err
	}

	row, ok := s.workflows[id]
	if !ok {
		return types.ErrWorkflowNotFound
	}
	if !row.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, row.Status, status)
	}
	row.Status = status
	row.Output = cloneBytes(output)
	row.Error = errMsg
	row.UpdatedAt = s.clock.Now().UTC()
	return nil
}

// GetWorkflowStatus 实现Store接口
func (s *Store) GetWorkflowStatus(ctx context.Context, id string) (*storage.WorkflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkAvailable("查询工作流记录"); err != nil {
		return nil, err
	}

	row, ok := s.workflows[id]
	if !ok {
		return nil, types.ErrWorkflowNotFound
	}
	return cloneWorkflow(row), nil
}

// ClaimWorkflow 实现Store接口
func (s *Store) ClaimWorkflow(ctx context.Context, id, executorID string, countRecovery bool) (*storage.WorkflowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable("登记工作流执行者"); err != nil {
		return nil, err
	}

	row, ok := s.workflows[id]
	if !ok {
		return nil, types.ErrWorkflowNotFound
	}
	if !row.Status.IsTerminal() {
		row.Status = types.WorkflowStatusRunning
		row.ExecutorID = executorID
		if countRecovery {
			row.RecoveryAttempts++
		}
		row.UpdatedAt = s.clock.Now().UTC()
	}
	return cloneWorkflow(row), nil
}

// ListWorkflows 实现Store接口
func (s *Store) ListWorkflows(ctx context.Context, filter storage.ListFilter) ([]*storage.WorkflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkAvailable("列出工作流"); err != nil {
		return nil, err
	}

	wanted := make(map[types.WorkflowStatus]bool, len(filter.Statuses))
	for _, st := range filter.Statuses {
		wanted[st] = true
	}

	records := make([]*storage.WorkflowRecord, 0)
	for _, row := range s.workflows {
		if len(wanted) > 0 && !wanted[row.Status] {
			continue
		}
		if filter.Name != "" && row.Name != filter.Name {
			continue
		}
		records = append(records, cloneWorkflow(row))
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(records) {
			return []*storage.WorkflowRecord{}, nil
		}
		records = records[filter.Offset:]
	}
	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	return records, nil
}

// GetStepResult 实现Store接口
func (s *Store) GetStepResult(ctx context.Context, workflowID string, stepIndex int) (*storage.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkAvailable("查询步骤结果"); err != nil {
		return nil, err
	}

	row, ok := s.steps[stepKey{workflowID, stepIndex}]
	if !ok {
		return nil, types.ErrStepNotPresent
	}
	return cloneStep(row), nil
}

// RecordStepResult 实现Store接口
func (s *Store) RecordStepResult(ctx context.Context, rec *storage.StepRecord) (*storage.StepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAvailable("记录步骤结果"); err != nil {
		return nil, err
	}
	if s.failRecordAt >= 0 && rec.StepIndex == s.failRecordAt {
		return nil, types.Unavailable("记录步骤结果", errInjected)
	}

	key := stepKey{rec.WorkflowID, rec.StepIndex}
	if existing, ok := s.steps[key]; ok {
		return cloneStep(existing), nil
	}

	row := cloneStep(rec)
	row.CreatedAt = s.clock.Now().UTC()
	s.steps[key] = row
	s.recordStepCalls++
	return cloneStep(row), nil
}

// ListSteps 实现Store接口
func (s *Store) ListSteps(ctx context.Context, workflowID string) ([]*storage.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkAvailable("列出步骤记录"); err != nil {
		return nil, err
	}

	records := make([]*storage.StepRecord, 0)
	for key, row := range s.steps {
		if key.workflowID == workflowID {
			records = append(records, cloneStep(row))
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].StepIndex < records[j].StepIndex })
	return records, nil
}

// Ping 实现Store接口
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkAvailable("ping")
}

// Close 实现Store接口
func (s *Store) Close() error {
	return nil
}

func cloneWorkflow(rec *storage.WorkflowRecord) *storage.WorkflowRecord {
	c := *rec
	c.Input = cloneBytes(rec.Input)
	c.Output = cloneBytes(rec.Output)
	return &c
}

func cloneStep(rec *storage.StepRecord) *storage.StepRecord {
	c := *rec
	c.Output = cloneBytes(rec.Output)
	return &c
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// 确保实现接口
var _ storage.Store = (*Store)(nil)

package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/LENAX/durable-engine/pkg/core/events"
	"github.com/LENAX/durable-engine/pkg/core/types"
	"github.com/LENAX/durable-engine/pkg/storage"
)

// Recover 恢复所有未完成（PENDING/RUNNING）的工作流（对外导出）
// 每个工作流从头重放：已记录的步骤直接返回结果，未记录的步骤继续执行
// 单个工作流恢复失败只记录日志，不影响其他工作流
func (e *Engine) Recover(ctx context.Context) ([]*Handle, error) {
	records, err := e.store.ListWorkflows(ctx, storage.ListFilter{
		Statuses: []types.WorkflowStatus{types.WorkflowStatusPending, types.WorkflowStatusRunning},
	})
	if err != nil {
		return nil, fmt.Errorf("查询未完成工作流失败: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	e.log.Info().Int("count", len(records)).Msg("🔄 [恢复扫描] 发现未完成工作流")

	var (
		mu      sync.Mutex
		handles = make([]*Handle, 0, len(records))
	)
	g := new(errgroup.Group)
	g.SetLimit(e.recoveryWorkers)

	for _, rec := range records {
		if _, ok := e.registry.get(rec.Name); !ok {
			e.log.Warn().Str("workflow_id", rec.ID).Str("workflow", rec.Name).Msg("⚠️ [恢复扫描] 工作流未注册，跳过")
			continue
		}
		g.Go(func() error {
			ok, err := e.recoverOne(ctx, rec)
			if err != nil {
				e.log.Error().Err(err).Str("workflow_id", rec.ID).Msg("❌ [恢复扫描] 恢复工作流失败")
				return nil
			}
			if ok {
				mu.Lock()
				handles = append(handles, &Handle{ID: rec.ID, engine: e})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return handles, nil
}

// recoverOne 登记并在后台重新执行单个工作流
// 本进程内已有执行时跳过，返回false
func (e *Engine) recoverOne(ctx context.Context, rec *storage.WorkflowRecord) (bool, error) {
	exec, owner, err := e.begin(rec.ID, true)
	if err != nil {
		return false, err
	}
	if !owner {
		return false, nil
	}

	claimed, err := e.claim(ctx, rec.ID, true)
	if err != nil {
		e.end(rec.ID, exec, nil, err)
		e.wg.Done()
		return false, err
	}
	if claimed.Status.IsTerminal() {
		e.end(rec.ID, exec, claimed, nil)
		e.wg.Done()
		return true, nil
	}

	e.metrics.recovered.Inc()
	e.publish(events.Event{
		Type:         events.WorkflowRecovered,
		WorkflowID:   claimed.ID,
		WorkflowName: claimed.Name,
		Status:       string(claimed.Status),
	})
	e.log.Info().Str("workflow_id", claimed.ID).Int("attempts", claimed.RecoveryAttempts).Msg("🔄 [恢复扫描] 重新执行工作流")

	e.spawn(claimed.ID, exec, func(ctx context.Context, slotHeld bool) (*storage.WorkflowRecord, error) {
		return e.run(ctx, claimed, slotHeld)
	})
	return true, nil
}

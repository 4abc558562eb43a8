package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LENAX/durable-engine/pkg/core/types"
	"github.com/LENAX/durable-engine/pkg/storage"
)

// sleepStepName 持久化等待在步骤表中的名称
const sleepStepName = "sleep"

// Sleep 持久化等待（对外导出）
// 首次执行时记录唤醒时间；重放时读取已记录的唤醒时间，只等待剩余部分
// 等待期间释放worker名额，不占用执行并发
func (c *Context) Sleep(d time.Duration) error {
	if c.fatal != nil {
		return c.fatal
	}
	e := c.engine
	idx := c.allocIndex()

	deadline, err := c.sleepDeadline(idx, d)
	if err != nil {
		return err
	}

	remaining := deadline.Sub(e.clock.Now())
	if remaining <= 0 {
		return nil
	}

	e.log.Debug().Str("workflow_id", c.workflowID).Int("step", idx).Dur("remaining", remaining).Msg("[持久化等待] 开始等待")

	released := c.slotHeld
	if released {
		e.sem.Release(1)
		c.slotHeld = false
	}

	select {
	case <-e.clock.After(remaining):
	case <-c.Done():
		return c.abort(c.Err())
	}

	if released {
		if err := e.sem.Acquire(c, 1); err != nil {
			return c.abort(err)
		}
		c.slotHeld = true
	}
	return nil
}

// sleepDeadline 获取或记录唤醒时间
func (c *Context) sleepDeadline(idx int, d time.Duration) (time.Time, error) {
	e := c.engine

	rec, err := e.store.GetStepResult(c, c.workflowID, idx)
	switch {
	case err == nil:
		if rec.Kind != types.StepKindSleep {
			return time.Time{}, c.abort(&types.NonDeterminismError{
				WorkflowID:   c.workflowID,
				StepIndex:    idx,
				RecordedName: rec.Name,
				CurrentName:  sleepStepName,
			})
		}
		return decodeDeadline(rec)
	case errors.Is(err, types.ErrStepNotPresent):
	default:
		return time.Time{}, c.abort(err)
	}

	deadline := e.clock.Now().Add(d).UTC()
	payload, err := json.Marshal(deadline)
	if err != nil {
		return time.Time{}, fmt.Errorf("序列化唤醒时间失败: %w", err)
	}

	winner, err := e.store.RecordStepResult(c, &storage.StepRecord{
		WorkflowID: c.workflowID,
		StepIndex:  idx,
		Name:       sleepStepName,
		Kind:       types.StepKindSleep,
		Output:     payload,
		Completed:  true,
	})
	if err != nil {
		return time.Time{}, c.abort(err)
	}
	return decodeDeadline(winner)
}

func decodeDeadline(rec *storage.StepRecord) (time.Time, error) {
	var deadline time.Time
	if err := json.Unmarshal(rec.Output, &deadline); err != nil {
		return time.Time{}, fmt.Errorf("解析唤醒时间失败: %w", err)
	}
	return deadline, nil
}

package dao

import (
	"database/sql"
	"time"

	"github.com/LENAX/durable-engine/pkg/core/types"
	"github.com/LENAX/durable-engine/pkg/storage"
)

// StepDAO operation_outputs表的数据访问对象（内部使用）
type StepDAO struct {
	WorkflowID string         `db:"workflow_id"`
	StepIndex  int            `db:"step_index"`
	Name       string         `db:"name"`
	Kind       string         `db:"kind"`
	Output     sql.NullString `db:"output"`
	Error      sql.NullString `db:"error"`
	Completed  bool           `db:"completed"`
	CreatedAt  time.Time      `db:"created_at"`
}

// StepColumns operation_outputs表的列
var StepColumns = []string{
	"workflow_id", "step_index", "name", "kind", "output", "error", "completed", "created_at",
}

// FromStepRecord 领域记录 -> DAO
func FromStepRecord(rec *storage.StepRecord) *StepDAO {
	return &StepDAO{
		WorkflowID: rec.WorkflowID,
		StepIndex:  rec.StepIndex,
		Name:       rec.Name,
		Kind:       string(rec.Kind),
		Output:     nullBytes(rec.Output),
		Error:      nullString(rec.Error),
		Completed:  rec.Completed,
		CreatedAt:  rec.CreatedAt.UTC(),
	}
}

// ToRecord DAO -> 领域记录
func (d *StepDAO) ToRecord() *storage.StepRecord {
	return &storage.StepRecord{
		WorkflowID: d.WorkflowID,
		StepIndex:  d.StepIndex,
		Name:       d.Name,
		Kind:       types.StepKind(d.Kind),
		Output:     bytesOf(d.Output),
		Error:      d.Error.String,
		Completed:  d.Completed,
		CreatedAt:  d.CreatedAt.UTC(),
	}
}

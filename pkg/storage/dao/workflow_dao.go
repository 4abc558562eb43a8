package dao

import (
	"database/sql"
	"time"

	"github.com/LENAX/durable-engine/pkg/core/types"
	"github.com/LENAX/durable-engine/pkg/storage"
)

// WorkflowDAO workflow_status表的数据访问对象（内部使用）
type WorkflowDAO struct {
	ID               string         `db:"id"`
	Name             string         `db:"name"`
	Input            sql.NullString `db:"input"` // JSON格式存储
	Status           string         `db:"status"`
	Output           sql.NullString `db:"output"`
	Error            sql.NullString `db:"error"`
	ExecutorID       sql.NullString `db:"executor_id"`
	RecoveryAttempts int            `db:"recovery_attempts"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

// WorkflowColumns workflow_status表的列（按插入顺序）
var WorkflowColumns = []string{
	"id", "name", "input", "status", "output", "error",
	"executor_id", "recovery_attempts", "created_at", "updated_at",
}

// FromWorkflowRecord 领域记录 -> DAO
func FromWorkflowRecord(rec *storage.WorkflowRecord) *WorkflowDAO {
	return &WorkflowDAO{
		ID:               rec.ID,
		Name:             rec.Name,
		Input:            nullBytes(rec.Input),
		Status:           string(rec.Status),
		Output:           nullBytes(rec.Output),
		Error:            nullString(rec.Error),
		ExecutorID:       nullString(rec.ExecutorID),
		RecoveryAttempts: rec.RecoveryAttempts,
		CreatedAt:        rec.CreatedAt.UTC(),
		UpdatedAt:        rec.UpdatedAt.UTC(),
	}
}

// ToRecord DAO -> 领域记录
func (d *WorkflowDAO) ToRecord() *storage.WorkflowRecord {
	return &storage.WorkflowRecord{
		ID:               d.ID,
		Name:             d.Name,
		Input:            bytesOf(d.Input),
		Status:           types.WorkflowStatus(d.Status),
		Output:           bytesOf(d.Output),
		Error:            d.Error.String,
		ExecutorID:       d.ExecutorID.String,
		RecoveryAttempts: d.RecoveryAttempts,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: b != nil}
}

func bytesOf(s sql.NullString) []byte {
	if !s.Valid {
		return nil
	}
	return []byte(s.String)
}

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"

	"github.com/LENAX/durable-engine/pkg/core/types"
	"github.com/LENAX/durable-engine/pkg/storage"
	"github.com/LENAX/durable-engine/pkg/storage/dao"
)

const (
	workflowTable = "workflow_status"
	stepTable     = "operation_outputs"
)

// 通用DDL，由Dialect.CreateTableSQL转换为目标数据库格式
const workflowSchema = `
CREATE TABLE IF NOT EXISTS workflow_status (
	id VARCHAR(255) PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	input TEXT,
	status VARCHAR(32) NOT NULL,
	output TEXT,
	error TEXT,
	executor_id VARCHAR(255),
	recovery_attempts BIGINT NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
)`

const stepSchema = `
CREATE TABLE IF NOT EXISTS operation_outputs (
	workflow_id VARCHAR(255) NOT NULL,
	step_index BIGINT NOT NULL,
	name VARCHAR(255) NOT NULL,
	kind VARCHAR(16) NOT NULL,
	output TEXT,
	error TEXT,
	completed BOOLEAN NOT NULL DEFAULT FALSE,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (workflow_id, step_index)
)`

const workflowSelect = `SELECT id, name, input, status, output, error, executor_id, recovery_attempts, created_at, updated_at FROM workflow_status`

const stepSelect = `SELECT workflow_id, step_index, name, kind, output, error, completed, created_at FROM operation_outputs`

// PoolOptions 连接池配置
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Store 基于sqlx的通用持久化存储实现（对外导出）
// sqlite/mysql/postgres共用，差异由Dialect处理
type Store struct {
	db      *sqlx.DB
	dialect storage.Dialect
	clock   clockwork.Clock
}

// Open 打开数据库连接并创建Store
func Open(driverName, dsn string, dialect storage.Dialect, pool PoolOptions) (*Store, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, types.Unavailable("连接数据库", err)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}

	for _, stmt := range dialect.ConfigureDB() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("配置数据库失败(%s): %w", stmt, err)
		}
	}

	store, err := New(db, dialect, nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New 基于已有连接创建Store，并初始化表结构
// clock为nil时使用真实时钟
func New(db *sqlx.DB, dialect storage.Dialect, clock clockwork.Clock) (*Store, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Store{db: db, dialect: dialect, clock: clock}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithClock 替换时间来源（测试用）
func (s *Store) WithClock(clock clockwork.Clock) *Store {
	s.clock = clock
	return s
}

// initSchema 初始化数据库表结构
func (s *Store) initSchema() error {
	for _, schema := range []string{workflowSchema, stepSchema} {
		if _, err := s.db.Exec(s.dialect.CreateTableSQL(schema)); err != nil {
			return fmt.Errorf("创建表失败: %w", err)
		}
	}

	// 索引只影响查询性能，重复创建失败（mysql不支持IF NOT EXISTS）时忽略
	_, _ = s.db.Exec(s.dialect.CreateIndexSQL("idx_workflow_status_status", workflowTable, []string{"status"}))
	_, _ = s.db.Exec(s.dialect.CreateIndexSQL("idx_workflow_status_name", workflowTable, []string{"name"}))
	return nil
}

// GetDB 获取底层数据库连接
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Dialect 获取方言
func (s *Store) Dialect() storage.Dialect {
	return s.dialect
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping 检查连通性
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return wrapErr("ping", err)
	}
	return nil
}

// ========== 工作流状态 ==========

// CreateOrGetWorkflow 不存在则创建，存在则返回已有记录（实现Store接口）
func (s *Store) CreateOrGetWorkflow(ctx context.Context, rec *storage.WorkflowRecord) (*storage.WorkflowRecord, bool, error) {
	now := s.clock.Now().UTC()
	row := *rec
	if row.Status == "" {
		row.Status = types.WorkflowStatusPending
	}
	row.CreatedAt = now
	row.UpdatedAt = now

	query := s.dialect.InsertIgnoreSQL(workflowTable, dao.WorkflowColumns, []string{"id"})
	result, err := s.db.NamedExecContext(ctx, query, dao.FromWorkflowRecord(&row))
	if err != nil {
		return nil, false, wrapErr("创建工作流记录", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, wrapErr("创建工作流记录", err)
	}

	existing, err := s.GetWorkflowStatus(ctx, rec.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, affected == 1, nil
}

// GetWorkflowStatus 获取工作流记录（实现Store接口）
func (s *Store) GetWorkflowStatus(ctx context.Context, id string) (*storage.WorkflowRecord, error) {
	var row dao.WorkflowDAO
	query := s.db.Rebind(workflowSelect + " WHERE id = ?")
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrWorkflowNotFound
		}
		return nil, wrapErr("查询工作流记录", err)
	}
	return row.ToRecord(), nil
}

// SetWorkflowStatus 更新工作流状态（实现Store接口）
func (s *Store) SetWorkflowStatus(ctx context.Context, id string, status types.WorkflowStatus, output []byte, errMsg string) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: 无效状态 %s", types.ErrInvalidTransition, status)
	}

	sources := transitionSources(status)
	if len(sources) == 0 {
		current, err := s.GetWorkflowStatus(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, current.Status, status)
	}

	args := []any{string(status), nullable(output), nullableString(errMsg), s.clock.Now().UTC(), id}
	for _, src := range sources {
		args = append(args, string(src))
	}
	query := s.db.Rebind(`UPDATE workflow_status SET status = ?, output = ?, error = ?, updated_at = ?
		WHERE id = ? AND status IN (` + strings.TrimSuffix(strings.Repeat("?, ", len(sources)), ", ") + `)`)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapErr("更新工作流状态", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapErr("更新工作流状态", err)
	}
	if affected > 0 {
		return nil
	}

	current, err := s.GetWorkflowStatus(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == status && status == types.WorkflowStatusRunning {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, current.Status, status)
}

// ClaimWorkflow 将工作流置为RUNNING并登记执行者（实现Store接口）
func (s *Store) ClaimWorkflow(ctx context.Context, id, executorID string, countRecovery bool) (*storage.WorkflowRecord, error) {
	increment := 0
	if countRecovery {
		increment = 1
	}

	query := s.db.Rebind(`UPDATE workflow_status
		SET status = ?, executor_id = ?, recovery_attempts = recovery_attempts + ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`)
	if _, err := s.db.ExecContext(ctx, query,
		string(types.WorkflowStatusRunning), nullableString(executorID), increment, s.clock.Now().UTC(),
		id, string(types.WorkflowStatusPending), string(types.WorkflowStatusRunning)); err != nil {
		return nil, wrapErr("登记工作流执行者", err)
	}
	return s.GetWorkflowStatus(ctx, id)
}

// ListWorkflows 按条件列出工作流（实现Store接口）
func (s *Store) ListWorkflows(ctx context.Context, filter storage.ListFilter) ([]*storage.WorkflowRecord, error) {
	var (
		conds []string
		args  []interface{}
	)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		conds = append(conds, "status IN (?)")
		args = append(args, statuses)
	}
	if filter.Name != "" {
		conds = append(conds, "name = ?")
		args = append(args, filter.Name)
	}

	query := workflowSelect
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	if len(filter.Statuses) > 0 {
		expanded, expandedArgs, err := sqlx.In(query, args...)
		if err != nil {
			return nil, fmt.Errorf("构建查询失败: %w", err)
		}
		query, args = expanded, expandedArgs
	}

	var rows []dao.WorkflowDAO
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, wrapErr("列出工作流", err)
	}

	records := make([]*storage.WorkflowRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].ToRecord())
	}
	return records, nil
}

// ========== 步骤结果 ==========

// transitionSources 可以转换到目标状态的源状态
func transitionSources(target types.WorkflowStatus) []types.WorkflowStatus {
	var sources []types.WorkflowStatus
	for _, src := range []types.WorkflowStatus{
		types.WorkflowStatusPending,
		types.WorkflowStatusRunning,
		types.WorkflowStatusSuccess,
		types.WorkflowStatusError,
	} {
		if src.CanTransitionTo(target) {
			sources = append(sources, src)
		}
	}
	return sources
}

// GetStepResult 获取步骤结果（实现Store接口）
func (s *Store) GetStepResult(ctx context.Context, workflowID string, stepIndex int) (*storage.StepRecord, error) {
	var row dao.StepDAO
	query := s.db.Rebind(stepSelect + " WHERE workflow_id = ? AND step_index = ?")
	if err := s.db.GetContext(ctx, &row, query, workflowID, stepIndex); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrStepNotPresent
		}
		return nil, wrapErr("查询步骤结果", err)
	}
	return row.ToRecord(), nil
}

// RecordStepResult 原子地记录步骤结果（实现Store接口）
func (s *Store) RecordStepResult(ctx context.Context, rec *storage.StepRecord) (*storage.StepRecord, error) {
	row := *rec
	row.CreatedAt = s.clock.Now().UTC()

	query := s.dialect.InsertIgnoreSQL(stepTable, dao.StepColumns, []string{"workflow_id", "step_index"})
	result, err := s.db.NamedExecContext(ctx, query, dao.FromStepRecord(&row))
	if err != nil {
		return nil, wrapErr("记录步骤结果", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, wrapErr("记录步骤结果", err)
	}
	if affected == 1 {
		return &row, nil
	}

	// 已被其他执行者写入，以先写入者为准
	return s.GetStepResult(ctx, rec.WorkflowID, rec.StepIndex)
}

// ListSteps 列出工作流的步骤记录（实现Store接口）
func (s *Store) ListSteps(ctx context.Context, workflowID string) ([]*storage.StepRecord, error) {
	var rows []dao.StepDAO
	query := s.db.Rebind(stepSelect + " WHERE workflow_id = ? ORDER BY step_index ASC")
	if err := s.db.SelectContext(ctx, &rows, query, workflowID); err != nil {
		return nil, wrapErr("列出步骤记录", err)
	}

	records := make([]*storage.StepRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].ToRecord())
	}
	return records, nil
}

// wrapErr 将数据库错误归类为存储不可达；调用方取消的上下文原样返回
func wrapErr(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return types.Unavailable(op, err)
}

func nullable(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: b != nil}
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// 确保实现接口
var _ storage.Store = (*Store)(nil)

package postgres

import (
	"fmt"
	"strings"

	"github.com/LENAX/durable-engine/pkg/storage"
)

// PostgresDialect PostgreSQL方言实现（对外导出）
type PostgresDialect struct{}

// NewPostgresDialect 创建PostgreSQL方言实例
func NewPostgresDialect() *PostgresDialect {
	return &PostgresDialect{}
}

// Name 返回方言名称
func (d *PostgresDialect) Name() string {
	return "postgres"
}

// InsertIgnoreSQL 返回PostgreSQL的插入忽略语句（ON CONFLICT DO NOTHING）
// 注意：sqlx的NamedExec会自动把:name转换为$n占位符
func (d *PostgresDialect) InsertIgnoreSQL(tableName string, columns []string, conflictColumns []string) string {
	namedPlaceholders := make([]string, len(columns))
	for i, col := range columns {
		namedPlaceholders[i] = ":" + col
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		tableName,
		strings.Join(columns, ", "),
		strings.Join(namedPlaceholders, ", "),
		strings.Join(conflictColumns, ", "),
	)
}

// CreateTableSQL 转换DDL为PostgreSQL兼容格式
func (d *PostgresDialect) CreateTableSQL(schema string) string {
	// 替换DATETIME为TIMESTAMP
	return strings.ReplaceAll(schema, "DATETIME", "TIMESTAMP")
}

// CreateIndexSQL 返回建索引语句
func (d *PostgresDialect) CreateIndexSQL(indexName, tableName string, columns []string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", indexName, tableName, strings.Join(columns, ", "))
}

// ConfigureDB 返回PostgreSQL配置SQL
// 会话时区通过DSN的timezone运行时参数设置，这里无需执行语句
func (d *PostgresDialect) ConfigureDB() []string {
	return nil
}

// 确保实现接口
var _ storage.Dialect = (*PostgresDialect)(nil)

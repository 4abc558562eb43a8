package mysql

import (
	"fmt"
	"strings"

	"github.com/LENAX/durable-engine/pkg/storage"
)

// MySQLDialect MySQL方言实现（对外导出）
type MySQLDialect struct{}

// NewMySQLDialect 创建MySQL方言实例
func NewMySQLDialect() *MySQLDialect {
	return &MySQLDialect{}
}

// Name 返回方言名称
func (d *MySQLDialect) Name() string {
	return "mysql"
}

// InsertIgnoreSQL 返回MySQL的插入忽略语句（INSERT IGNORE）
func (d *MySQLDialect) InsertIgnoreSQL(tableName string, columns []string, conflictColumns []string) string {
	namedPlaceholders := make([]string, len(columns))
	for i, col := range columns {
		namedPlaceholders[i] = ":" + col
	}

	return fmt.Sprintf(
		"INSERT IGNORE INTO %s (%s) VALUES (%s)",
		tableName,
		strings.Join(columns, ", "),
		strings.Join(namedPlaceholders, ", "),
	)
}

// CreateTableSQL 转换DDL为MySQL兼容格式
func (d *MySQLDialect) CreateTableSQL(schema string) string {
	result := schema

	// 保留微秒精度
	result = strings.ReplaceAll(result, "DATETIME", "DATETIME(6)")

	// TEXT上限64KB，输入输出使用MEDIUMTEXT
	result = strings.ReplaceAll(result, " TEXT", " MEDIUMTEXT")

	return result + " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
}

// CreateIndexSQL 返回建索引语句（MySQL不支持IF NOT EXISTS，重复创建会报错）
func (d *MySQLDialect) CreateIndexSQL(indexName, tableName string, columns []string) string {
	return fmt.Sprintf("CREATE INDEX %s ON %s(%s)", indexName, tableName, strings.Join(columns, ", "))
}

// ConfigureDB 返回MySQL配置SQL
// 会话时区是连接级配置，已通过DSN参数设置，这里无需执行语句
func (d *MySQLDialect) ConfigureDB() []string {
	return nil
}

// 确保实现接口
var _ storage.Dialect = (*MySQLDialect)(nil)

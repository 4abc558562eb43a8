package storage

// Dialect 数据库方言接口（对外导出）
// 屏蔽sqlite/postgres/mysql之间的SQL差异
type Dialect interface {
	// Name 方言名称
	Name() string
	// InsertIgnoreSQL 返回"不存在则插入"语句，使用:col命名占位符
	// 冲突时不报错、不修改已有行，RowsAffected为0
	InsertIgnoreSQL(tableName string, columns []string, conflictColumns []string) string
	// CreateTableSQL 将通用DDL转换为方言兼容格式
	CreateTableSQL(schema string) string
	// CreateIndexSQL 返回建索引语句
	CreateIndexSQL(indexName, tableName string, columns []string) string
	// ConfigureDB 返回连接建立后需要执行的配置语句
	ConfigureDB() []string
}

package sqlite

import (
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3"

	"github.com/LENAX/durable-engine/pkg/storage/sqlstore"
)

// DriverName sqlite驱动名
const DriverName = "sqlite3"

// NewStore 基于已有连接创建SQLite存储（对外导出）
func NewStore(db *sqlx.DB, clock clockwork.Clock) (*sqlstore.Store, error) {
	return sqlstore.New(db, NewSQLiteDialect(), clock)
}

// NewStoreFromDSN 从DSN创建SQLite存储（对外导出）
// busy_timeout与synchronous是连接级配置，通过DSN参数保证连接池中每个连接都生效
func NewStoreFromDSN(dsn string, pool sqlstore.PoolOptions) (*sqlstore.Store, error) {
	return sqlstore.Open(DriverName, normalizeDSN(dsn), NewSQLiteDialect(), pool)
}

func normalizeDSN(dsn string) string {
	for _, param := range []string{"_busy_timeout=30000", "_synchronous=NORMAL"} {
		key := strings.SplitN(param, "=", 2)[0] + "="
		if strings.Contains(dsn, key) {
			continue
		}
		if strings.Contains(dsn, "?") {
			dsn += "&" + param
		} else {
			dsn += "?" + param
		}
	}
	return dsn
}

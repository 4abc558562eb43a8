package mysql

import (
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"

	"github.com/LENAX/durable-engine/pkg/storage/sqlstore"
)

// NewStore 基于已有连接创建MySQL存储（对外导出）
func NewStore(db *sqlx.DB, clock clockwork.Clock) (*sqlstore.Store, error) {
	return sqlstore.New(db, NewMySQLDialect(), clock)
}

// NewStoreFromDSN 从DSN创建MySQL存储（对外导出）
// dsn格式: user:password@tcp(host:port)/dbname?parseTime=true
func NewStoreFromDSN(dsn string, pool sqlstore.PoolOptions) (*sqlstore.Store, error) {
	return sqlstore.Open("mysql", normalizeDSN(dsn), NewMySQLDialect(), pool)
}

// normalizeDSN 确保DSN包含parseTime=true与UTC时区
// time_zone作为会话变量随DSN下发，连接池中每个新连接都会设置
func normalizeDSN(dsn string) string {
	for _, param := range []string{"parseTime=true", "loc=UTC", "time_zone=%27%2B00%3A00%27"} {
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

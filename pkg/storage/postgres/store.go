package postgres

import (
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"

	"github.com/LENAX/durable-engine/pkg/storage/sqlstore"
)

const (
	// DriverPQ lib/pq驱动
	DriverPQ = "postgres"
	// DriverPgx pgx的database/sql驱动
	DriverPgx = "pgx"
)

// NewStore 基于已有连接创建PostgreSQL存储（对外导出）
func NewStore(db *sqlx.DB, clock clockwork.Clock) (*sqlstore.Store, error) {
	return sqlstore.New(db, NewPostgresDialect(), clock)
}

// NewStoreFromDSN 从DSN创建PostgreSQL存储（对外导出）
// driver为空时使用lib/pq
func NewStoreFromDSN(driver, dsn string, pool sqlstore.PoolOptions) (*sqlstore.Store, error) {
	switch driver {
	case "":
		driver = DriverPQ
	case DriverPQ, DriverPgx:
	default:
		return nil, fmt.Errorf("不支持的postgres驱动: %s", driver)
	}
	return sqlstore.Open(driver, normalizeDSN(dsn), NewPostgresDialect(), pool)
}

// normalizeDSN 未指定时区时追加timezone=UTC
// lib/pq与pgx都把未识别的参数作为运行时参数下发，每个新连接都会生效
// 支持URL格式（postgres://...）与key=value格式
func normalizeDSN(dsn string) string {
	if strings.Contains(dsn, "timezone=") {
		return dsn
	}
	if !strings.Contains(dsn, "://") {
		return strings.TrimSpace(dsn + " timezone=UTC")
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&timezone=UTC"
	}
	return dsn + "?timezone=UTC"
}

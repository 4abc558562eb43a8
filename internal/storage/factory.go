package storage

import (
	"fmt"

	"github.com/LENAX/durable-engine/pkg/storage"
	"github.com/LENAX/durable-engine/pkg/storage/memory"
	"github.com/LENAX/durable-engine/pkg/storage/mysql"
	"github.com/LENAX/durable-engine/pkg/storage/postgres"
	pkgsqlite "github.com/LENAX/durable-engine/pkg/storage/sqlite"
	"github.com/LENAX/durable-engine/pkg/storage/sqlstore"
)

// NewStore 根据数据库类型创建持久化存储（内部方法）
// dbType: 数据库类型（sqlite/mysql/postgres/pgx/memory）
// dsn: 数据库连接字符串
func NewStore(dbType, dsn string, pool sqlstore.PoolOptions) (storage.Store, error) {
	switch dbType {
	case "sqlite":
		s, err := pkgsqlite.NewStoreFromDSN(dsn, pool)
		if err != nil {
			return nil, fmt.Errorf("create sqlite store failed: %w", err)
		}
		return s, nil
	case "mysql":
		s, err := mysql.NewStoreFromDSN(dsn, pool)
		if err != nil {
			return nil, fmt.Errorf("create mysql store failed: %w", err)
		}
		return s, nil
	case "postgres", "postgresql":
		s, err := postgres.NewStoreFromDSN(postgres.DriverPQ, dsn, pool)
		if err != nil {
			return nil, fmt.Errorf("create postgres store failed: %w", err)
		}
		return s, nil
	case "pgx":
		s, err := postgres.NewStoreFromDSN(postgres.DriverPgx, dsn, pool)
		if err != nil {
			return nil, fmt.Errorf("create postgres(pgx) store failed: %w", err)
		}
		return s, nil
	case "memory":
		return memory.NewStore(nil), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

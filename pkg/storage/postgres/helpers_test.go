package postgres

import "github.com/LENAX/durable-engine/pkg/storage/sqlstore"

func sqlstoreDefaults() sqlstore.PoolOptions {
	return sqlstore.PoolOptions{MaxOpenConns: 10, MaxIdleConns: 5}
}

package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/LENAX/durable-engine/pkg/storage"
	"github.com/LENAX/durable-engine/pkg/storage/storagetest"
)

// 需要docker环境，通过 DURABLE_PG_TESTS=1 开启
func TestPostgresStore(t *testing.T) {
	if testing.Short() || os.Getenv("DURABLE_PG_TESTS") != "1" {
		t.Skip("跳过PostgreSQL集成测试（设置 DURABLE_PG_TESTS=1 开启）")
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("durable_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	for _, driver := range []string{DriverPQ, DriverPgx} {
		t.Run(driver, func(t *testing.T) {
			counter := 0
			storagetest.Run(t, func(t *testing.T, clock clockwork.Clock) storage.Store {
				counter++
				// 每个子测试使用独立schema，避免数据互相干扰
				schema := fmt.Sprintf("%s_suite_%d", driver, counter)
				admin, err := sqlx.Open(driver, dsn)
				require.NoError(t, err)
				_, err = admin.Exec("CREATE SCHEMA IF NOT EXISTS " + schema)
				require.NoError(t, err)
				admin.Close()

				s, err := NewStoreFromDSN(driver, dsn+"&search_path="+schema, sqlstoreDefaults())
				require.NoError(t, err)
				s.WithClock(clock)
				t.Cleanup(func() { s.Close() })
				return s
			})
		})
	}
}

func TestPostgresDialect_InsertIgnoreSQL(t *testing.T) {
	d := NewPostgresDialect()
	got := d.InsertIgnoreSQL("workflow_status", []string{"id", "name"}, []string{"id"})
	assert.Equal(t, "INSERT INTO workflow_status (id, name) VALUES (:id, :name) ON CONFLICT (id) DO NOTHING", got)
	assert.Contains(t, d.CreateTableSQL("created_at DATETIME NOT NULL"), "TIMESTAMP")
}

func TestNewStoreFromDSN_UnknownDriver(t *testing.T) {
	_, err := NewStoreFromDSN("oracle", "whatever", sqlstoreDefaults())
	assert.Error(t, err)
}

func TestNormalizeDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/durable?timezone=UTC", normalizeDSN("postgres://u:p@db:5432/durable"))
	assert.Equal(t, "postgres://u:p@db:5432/durable?sslmode=disable&timezone=UTC", normalizeDSN("postgres://u:p@db:5432/durable?sslmode=disable"))
	assert.Equal(t, "host=db dbname=durable timezone=UTC", normalizeDSN("host=db dbname=durable"))
	assert.Equal(t, "host=db timezone=Asia/Shanghai", normalizeDSN("host=db timezone=Asia/Shanghai"))
	assert.Empty(t, NewPostgresDialect().ConfigureDB())
}

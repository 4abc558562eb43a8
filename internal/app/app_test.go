package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/durable-engine/pkg/actions"
	"github.com/LENAX/durable-engine/pkg/banking"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.yaml")
	content := `
durable-engine:
  general:
    instance_name: "app-test"
    log_level: "error"
    env: "test"
  storage:
    database:
      type: "sqlite"
      dsn: "` + filepath.Join(t.TempDir(), "durable.db") + `"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestNew_WiresBankingStack(t *testing.T) {
	a, err := New(Options{ConfigPath: writeConfig(t), Version: "test"})
	require.NoError(t, err)
	defer a.Engine.Stop()

	assert.Equal(t, []string{banking.CheckBalanceWorkflow, banking.TransferFundsWorkflow}, a.Engine.Workflows())
	assert.Equal(t, []string{
		actions.CheckSufficientFundsAction,
		actions.CheckTransferStatusAction,
		actions.TransferFundsAction,
	}, a.Actions.Names())
	assert.Nil(t, a.Engine.Notifier())

	w := httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNew_MissingConfig(t *testing.T) {
	_, err := New(Options{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	port := freePort(t)
	a, err := New(Options{ConfigPath: writeConfig(t), Host: "127.0.0.1", Port: port, Version: "test"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("服务未在取消后退出")
	}
}

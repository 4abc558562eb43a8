package cmd

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/durable-engine/pkg/api"
	"github.com/LENAX/durable-engine/pkg/banking"
	"github.com/LENAX/durable-engine/pkg/core/engine"
	"github.com/LENAX/durable-engine/pkg/core/types"
	"github.com/LENAX/durable-engine/pkg/storage/memory"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Durable Engine CLI")
	assert.Contains(t, out, Version)
}

func TestServerURL_FromEnv(t *testing.T) {
	t.Setenv("DURABLE_SERVER", "http://engine.internal:9000/")
	assert.Equal(t, "http://engine.internal:9000", serverURL())

	t.Setenv("DURABLE_JSON", "true")
	assert.True(t, outputJSON())
}

func TestResolveConfigPath(t *testing.T) {
	assert.Equal(t, "/etc/durable.yaml", resolveConfigPath("/etc/durable.yaml"))

	dir := t.TempDir()
	t.Chdir(dir)
	assert.Equal(t, "", resolveConfigPath(""))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "engine.yaml"), []byte("{}"), 0o600))
	assert.Equal(t, "./configs/engine.yaml", resolveConfigPath(""))
}

func TestWorkflowCommands(t *testing.T) {
	eng, err := engine.NewEngine(memory.NewStore(nil), engine.WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(eng.Stop)
	require.NoError(t, banking.Register(eng, banking.Options{}))

	srv := httptest.NewServer(api.SetupRouter(eng, nil, "test", zerolog.Nop()))
	t.Cleanup(srv.Close)
	t.Setenv("DURABLE_SERVER", srv.URL)

	_, err = execute(t, "workflow", "start", banking.CheckBalanceWorkflow,
		"--id", "cli-wf", "--input", `{"amount":500}`, "--wait")
	require.NoError(t, err)

	status, err := eng.GetStatus(context.Background(), "cli-wf")
	require.NoError(t, err)
	assert.Equal(t, types.WorkflowStatusSuccess, status.Status)
	assert.JSONEq(t, "true", string(status.Output))

	_, err = execute(t, "workflow", "status", "cli-wf")
	assert.NoError(t, err)
	_, err = execute(t, "workflow", "steps", "cli-wf")
	assert.NoError(t, err)
	_, err = execute(t, "workflow", "list", "--status", "SUCCESS")
	assert.NoError(t, err)
	_, err = execute(t, "workflow", "registry")
	assert.NoError(t, err)

	_, err = execute(t, "workflow", "status", "missing")
	assert.Error(t, err)

	_, err = execute(t, "workflow", "start", banking.CheckBalanceWorkflow, "--id", "bad", "--input", "{oops")
	assert.Error(t, err)
}

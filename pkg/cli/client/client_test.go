package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/durable-engine/pkg/api"
	"github.com/LENAX/durable-engine/pkg/api/dto"
	"github.com/LENAX/durable-engine/pkg/banking"
	"github.com/LENAX/durable-engine/pkg/core/engine"
	"github.com/LENAX/durable-engine/pkg/storage/memory"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	eng, err := engine.NewEngine(memory.NewStore(nil), engine.WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(eng.Stop)
	require.NoError(t, banking.Register(eng, banking.Options{}))

	srv := httptest.NewServer(api.SetupRouter(eng, nil, "test", zerolog.Nop()))
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestClient_WorkflowRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	started, err := c.StartWorkflow(ctx, dto.StartWorkflowRequest{
		Workflow: banking.CheckBalanceWorkflow,
		ID:       "cli-1",
		Input:    json.RawMessage(`{"amount": 1500}`),
		Wait:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, "cli-1", started.WorkflowID)
	assert.Equal(t, "SUCCESS", started.Status)
	assert.JSONEq(t, "false", string(started.Output))

	status, err := c.GetWorkflow(ctx, "cli-1")
	require.NoError(t, err)
	assert.Equal(t, banking.CheckBalanceWorkflow, status.Name)

	list, err := c.ListWorkflows(ctx, "SUCCESS", banking.CheckBalanceWorkflow, 10, 0)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)

	steps, err := c.ListSteps(ctx, "cli-1")
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.JSONEq(t, `"1000"`, string(steps[0].Output))

	reg, err := c.Registry(ctx)
	require.NoError(t, err)
	assert.Contains(t, reg.Workflows, banking.TransferFundsWorkflow)

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}

func TestClient_APIError(t *testing.T) {
	c := newTestClient(t)

	_, err := c.GetWorkflow(context.Background(), "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

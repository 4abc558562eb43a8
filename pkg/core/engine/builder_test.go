package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/durable-engine/pkg/config"
	"github.com/LENAX/durable-engine/pkg/plugin"
	"github.com/LENAX/durable-engine/pkg/storage/memory"
)

type recordingPlugin struct {
	name     string
	params   map[string]string
	received chan plugin.PluginData
}

func newRecordingPlugin(name string) *recordingPlugin {
	return &recordingPlugin{name: name, received: make(chan plugin.PluginData, 16)}
}

func (p *recordingPlugin) Name() string { return p.name }

func (p *recordingPlugin) Init(params map[string]string) error {
	p.params = params
	return nil
}

func (p *recordingPlugin) Execute(data interface{}) error {
	if d, ok := data.(plugin.PluginData); ok {
		p.received <- d
	}
	return nil
}

func memoryConfig() *config.EngineConfig {
	cfg := config.DefaultConfig()
	cfg.DurableEngine.Storage.Database.Type = "memory"
	cfg.DurableEngine.Storage.Database.DSN = ""
	cfg.DurableEngine.Execution.PollInterval = 5 * time.Millisecond
	return cfg
}

func registerEcho(e *Engine) error {
	return Register(e, "echo", func(ctx *Context, in string) (string, error) {
		return RunStep(ctx, "echo", func(context.Context) (string, error) { return in, nil })
	})
}

func TestEngineBuilder_BuildAndRun(t *testing.T) {
	ctx := testContext(t)

	eng, err := NewEngineBuilder("").
		WithConfig(memoryConfig()).
		WithLogger(zerolog.Nop()).
		WithWorkflows(registerEcho).
		Build()
	require.NoError(t, err)
	defer eng.Stop()

	require.NoError(t, eng.Start(ctx))
	assert.Equal(t, []string{"echo"}, eng.Workflows())
	assert.NotNil(t, eng.Plugins())
	assert.Nil(t, eng.Notifier(), "未配置SMTP时不创建通知插件")

	out, err := RunSync[string](ctx, eng, "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestEngineBuilder_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	content := `
durable-engine:
  general:
    instance_name: "builder-test"
    log_level: "warn"
  storage:
    database:
      type: "memory"
  execution:
    worker_concurrency: 2
  scheduler:
    schedules:
      - workflow: "echo"
        cron: "0 0 * * *"
  notification:
    email:
      smtp_host: "smtp.example.com"
      smtp_port: 587
      from: "demo@dbos.dev"
      to: "ops@example.com"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	eng, err := NewEngineBuilder(path).
		WithLogger(zerolog.Nop()).
		WithWorkflows(registerEcho).
		Build()
	require.NoError(t, err)
	defer eng.Stop()

	assert.Equal(t, map[string]string{"echo": "0 0 * * *"}, eng.Scheduler().Schedules())
	require.NotNil(t, eng.Notifier())
	assert.Equal(t, []string{"email"}, eng.Plugins().ListPlugins())
}

func TestEngineBuilder_PluginReceivesLifecycleEvents(t *testing.T) {
	ctx := testContext(t)
	rec := newRecordingPlugin("recorder")

	eng, err := NewEngineBuilder("").
		WithConfig(memoryConfig()).
		WithLogger(zerolog.Nop()).
		WithStore(memory.NewStore(nil)).
		WithWorkflows(registerEcho).
		WithPlugin(rec, map[string]string{"channel": "audit"}).
		WithPluginBinding(plugin.PluginBinding{
			PluginName: "recorder",
			Event:      plugin.EventWorkflowCompleted,
			Workflow:   "echo",
		}).
		Build()
	require.NoError(t, err)
	defer eng.Stop()
	assert.Equal(t, "audit", rec.params["channel"])

	_, err = eng.StartSync(ctx, "echo", "hi", WithWorkflowID("wf-plugin"))
	require.NoError(t, err)

	select {
	case data := <-rec.received:
		assert.Equal(t, plugin.EventWorkflowCompleted, data.Event)
		assert.Equal(t, "wf-plugin", data.WorkflowID)
		assert.Equal(t, "echo", data.WorkflowName)
		assert.Equal(t, "SUCCESS", data.Status)
	case <-ctx.Done():
		t.Fatal("插件未收到工作流完成事件")
	}
}

func TestEngineBuilder_Errors(t *testing.T) {
	_, err := NewEngineBuilder("").WithConfig(nil).Build()
	assert.Error(t, err)

	_, err = NewEngineBuilder("").WithWorkflows(nil).Build()
	assert.Error(t, err)

	_, err = NewEngineBuilder("").WithPlugin(nil, nil).Build()
	assert.Error(t, err)

	_, err = NewEngineBuilder("").
		WithPlugin(newRecordingPlugin("dup"), nil).
		WithPlugin(newRecordingPlugin("dup"), nil).
		Build()
	assert.Error(t, err)

	_, err = NewEngineBuilder("").WithPluginBinding(plugin.PluginBinding{PluginName: "x"}).Build()
	assert.Error(t, err)

	_, err = NewEngineBuilder(filepath.Join(t.TempDir(), "missing.yaml")).Build()
	assert.Error(t, err)

	bad := memoryConfig()
	bad.DurableEngine.General.LogLevel = "verbose"
	_, err = NewEngineBuilder("").WithConfig(bad).Build()
	assert.Error(t, err)

	// 注册函数失败
	_, err = NewEngineBuilder("").
		WithConfig(memoryConfig()).
		WithLogger(zerolog.Nop()).
		WithWorkflows(registerEcho).
		WithWorkflows(registerEcho).
		Build()
	assert.Error(t, err)

	// 定时调度引用未注册的工作流
	cfg := memoryConfig()
	cfg.DurableEngine.Scheduler.Schedules = []config.ScheduleConfig{{Workflow: "ghost", CronExpr: "@daily"}}
	_, err = NewEngineBuilder("").WithConfig(cfg).WithLogger(zerolog.Nop()).Build()
	assert.Error(t, err)

	// 绑定未注册的插件
	_, err = NewEngineBuilder("").
		WithConfig(memoryConfig()).
		WithLogger(zerolog.Nop()).
		WithPluginBinding(plugin.PluginBinding{PluginName: "ghost", Event: plugin.EventWorkflowFailed}).
		Build()
	assert.Error(t, err)
}

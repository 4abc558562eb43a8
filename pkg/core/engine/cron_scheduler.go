package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser 支持秒级精度的Cron解析器
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ScheduledInput 定时工作流的输入
type ScheduledInput struct {
	ScheduledTime time.Time `json:"scheduled_time"`
}

// ScheduledWorkflowID 定时触发的确定性工作流ID
// 多个引擎实例共享存储时，同一次触发只会执行一次
func ScheduledWorkflowID(name string, tick time.Time) string {
	return fmt.Sprintf("sched-%s-%s", name, tick.UTC().Truncate(time.Second).Format(time.RFC3339))
}

// CronScheduler 定时调度器（对外导出）
type CronScheduler struct {
	cron    *cron.Cron
	engine  *Engine
	entries map[string]cron.EntryID // 工作流名称 -> cron.EntryID
	exprs   map[string]string       // 工作流名称 -> Cron表达式
	mu      sync.RWMutex
	running bool
}

// NewCronScheduler 创建定时调度器（对外导出）
func NewCronScheduler(eng *Engine) *CronScheduler {
	return &CronScheduler{
		cron:    cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC)),
		engine:  eng,
		entries: make(map[string]cron.EntryID),
		exprs:   make(map[string]string),
	}
}

// Schedule 按Cron表达式定时启动工作流（对外导出）
func (cs *CronScheduler) Schedule(name, cronExpr string) error {
	if _, ok := cs.engine.registry.get(name); !ok {
		return fmt.Errorf("工作流 %s 未注册，无法加入定时调度", name)
	}
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("工作流 %s 的Cron表达式无效: %w", name, err)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, exists := cs.entries[name]; exists {
		return fmt.Errorf("工作流 %s 已加入定时调度", name)
	}

	entryID := cs.cron.Schedule(schedule, cron.FuncJob(func() {
		cs.trigger(name, cs.engine.clock.Now())
	}))
	cs.entries[name] = entryID
	cs.exprs[name] = cronExpr

	cs.engine.log.Info().Str("workflow", name).Str("cron", cronExpr).Msg("✅ [Cron调度器] 已加入定时调度")
	return nil
}

// Unschedule 取消工作流的定时调度（对外导出）
func (cs *CronScheduler) Unschedule(name string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	entryID, exists := cs.entries[name]
	if !exists {
		return fmt.Errorf("工作流 %s 未加入定时调度", name)
	}
	cs.cron.Remove(entryID)
	delete(cs.entries, name)
	delete(cs.exprs, name)

	cs.engine.log.Info().Str("workflow", name).Msg("✅ [Cron调度器] 已取消定时调度")
	return nil
}

// Schedules 已加入定时调度的工作流（名称 -> Cron表达式）
func (cs *CronScheduler) Schedules() map[string]string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	result := make(map[string]string, len(cs.exprs))
	for name, expr := range cs.exprs {
		result[name] = expr
	}
	return result
}

// ScheduledNames 按名称排序的定时工作流列表
func (cs *CronScheduler) ScheduledNames() []string {
	schedules := cs.Schedules()
	names := make([]string, 0, len(schedules))
	for name := range schedules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// trigger 触发一次定时执行
func (cs *CronScheduler) trigger(name string, tick time.Time) (*Handle, error) {
	id := ScheduledWorkflowID(name, tick)
	input := ScheduledInput{ScheduledTime: tick.UTC().Truncate(time.Second)}

	h, err := cs.engine.StartAsync(context.Background(), name, input, WithWorkflowID(id))
	if err != nil {
		cs.engine.log.Error().Err(err).Str("workflow", name).Str("workflow_id", id).Msg("❌ [Cron调度器] 启动定时工作流失败")
		return nil, err
	}
	cs.engine.log.Info().Str("workflow", name).Str("workflow_id", id).Msg("🕐 [Cron调度器] 已触发定时工作流")
	return h, nil
}

// Start 启动定时调度器（对外导出）
func (cs *CronScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.running {
		return
	}
	cs.running = true
	cs.cron.Start()
	cs.engine.log.Debug().Int("schedules", len(cs.entries)).Msg("✅ [Cron调度器] 已启动")
}

// Stop 停止定时调度器并等待正在触发的任务结束（对外导出）
func (cs *CronScheduler) Stop() {
	cs.mu.Lock()
	if !cs.running {
		cs.mu.Unlock()
		return
	}
	cs.running = false
	cs.mu.Unlock()

	<-cs.cron.Stop().Done()
	cs.engine.log.Debug().Msg("✅ [Cron调度器] 已停止")
}

// Schedule 按Cron表达式定时启动工作流（对外导出）
func (e *Engine) Schedule(name, cronExpr string) error {
	return e.scheduler.Schedule(name, cronExpr)
}

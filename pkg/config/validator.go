package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// ValidateFrameworkConfig 校验框架配置合法性
func ValidateFrameworkConfig(cfg *EngineConfig) error {
	if cfg == nil {
		return fmt.Errorf("配置不能为空")
	}
	e := cfg.DurableEngine

	// 校验General
	if e.General.InstanceName == "" {
		return fmt.Errorf("instance_name不能为空")
	}
	if e.General.LogLevel != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[e.General.LogLevel] {
			return fmt.Errorf("log_level必须是debug/info/warn/error之一")
		}
	}

	// 校验Storage.Database
	if e.Storage.Database.Type == "" {
		return fmt.Errorf("database.type不能为空")
	}
	validDBTypes := map[string]bool{
		"sqlite":     true,
		"postgres":   true,
		"postgresql": true,
		"pgx":        true,
		"mysql":      true,
		"memory":     true,
	}
	if !validDBTypes[e.Storage.Database.Type] {
		return fmt.Errorf("database.type必须是sqlite/postgres/pgx/mysql/memory之一")
	}
	if e.Storage.Database.DSN == "" && e.Storage.Database.Type != "memory" {
		return fmt.Errorf("database.dsn不能为空")
	}
	if e.Storage.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns必须大于0")
	}
	if e.Storage.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns不能为负数")
	}

	// 校验Execution
	if e.Execution.WorkerConcurrency <= 0 {
		return fmt.Errorf("execution.worker_concurrency必须大于0")
	}
	if e.Execution.Recovery.Enabled && e.Execution.Recovery.Concurrency <= 0 {
		return fmt.Errorf("execution.recovery.concurrency必须大于0")
	}

	// 校验Retry
	if e.Execution.Retry.Enabled {
		if e.Execution.Retry.MaxAttempts < 0 {
			return fmt.Errorf("execution.retry.max_attempts不能为负数")
		}
		if e.Execution.Retry.Delay < 0 {
			return fmt.Errorf("execution.retry.delay不能为负数")
		}
		if e.Execution.Retry.MaxDelay > 0 && e.Execution.Retry.Delay > e.Execution.Retry.MaxDelay {
			return fmt.Errorf("execution.retry.delay不能大于max_delay")
		}
	}

	// 校验定时调度
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for i, sched := range e.Scheduler.Schedules {
		if sched.Workflow == "" {
			return fmt.Errorf("scheduler.schedules[%d].workflow不能为空", i)
		}
		if _, err := parser.Parse(sched.CronExpr); err != nil {
			return fmt.Errorf("scheduler.schedules[%d].cron无效: %w", i, err)
		}
	}

	// 校验邮件：配置了主机就必须配置发件人
	if e.Notification.Email.SMTPHost != "" && e.Notification.Email.From == "" {
		return fmt.Errorf("notification.email.from不能为空")
	}

	if e.Server.Port < 0 || e.Server.Port > 65535 {
		return fmt.Errorf("server.port超出范围")
	}
	return nil
}

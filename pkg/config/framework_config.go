package config

import (
	"time"
)

// EngineConfig 引擎框架配置（对外导出）
type EngineConfig struct {
	DurableEngine struct {
		General struct {
			InstanceName string `yaml:"instance_name"`
			LogLevel     string `yaml:"log_level"`
			Env          string `yaml:"env"`
		} `yaml:"general"`
		Storage struct {
			Database struct {
				Type            string        `yaml:"type"`
				DSN             string        `yaml:"dsn"`
				MaxOpenConns    int           `yaml:"max_open_conns"`
				MaxIdleConns    int           `yaml:"max_idle_conns"`
				ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
				ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
			} `yaml:"database"`
			Cache struct {
				Enabled    bool          `yaml:"enabled"`
				DefaultTTL time.Duration `yaml:"default_ttl"`
			} `yaml:"cache"`
		} `yaml:"storage"`
		Execution struct {
			WorkerConcurrency int `yaml:"worker_concurrency"`
			// 存储写入失败时的重试策略
			Retry struct {
				Enabled     bool          `yaml:"enabled"`
				MaxAttempts int           `yaml:"max_attempts"`
				Delay       time.Duration `yaml:"delay"`
				MaxDelay    time.Duration `yaml:"max_delay"`
			} `yaml:"retry"`
			Recovery struct {
				Enabled     bool `yaml:"enabled"`
				Concurrency int  `yaml:"concurrency"`
				MaxAttempts int  `yaml:"max_attempts"`
			} `yaml:"recovery"`
			PollInterval time.Duration `yaml:"poll_interval"`
		} `yaml:"execution"`
		Scheduler struct {
			Schedules []ScheduleConfig `yaml:"schedules"`
		} `yaml:"scheduler"`
		Notification struct {
			Email struct {
				SMTPHost string `yaml:"smtp_host"`
				SMTPPort int    `yaml:"smtp_port"`
				Username string `yaml:"username"`
				Password string `yaml:"password"`
				From     string `yaml:"from"`
				To       string `yaml:"to"`
			} `yaml:"email"`
		} `yaml:"notification"`
		Server struct {
			Host         string        `yaml:"host"`
			Port         int           `yaml:"port"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
		} `yaml:"server"`
	} `yaml:"durable-engine"`
}

// ScheduleConfig 定时工作流配置
type ScheduleConfig struct {
	Workflow string `yaml:"workflow"`
	CronExpr string `yaml:"cron"`
}

// GetDatabaseType 获取数据库类型
func (c *EngineConfig) GetDatabaseType() string {
	return c.DurableEngine.Storage.Database.Type
}

// GetDatabaseDSN 获取数据库DSN
func (c *EngineConfig) GetDatabaseDSN() string {
	return c.DurableEngine.Storage.Database.DSN
}

// GetWorkerConcurrency 获取Worker并发数
func (c *EngineConfig) GetWorkerConcurrency() int {
	concurrency := c.DurableEngine.Execution.WorkerConcurrency
	if concurrency <= 0 {
		return 10 // 默认值
	}
	return concurrency
}

// EmailConfigured 是否配置了SMTP
func (c *EngineConfig) EmailConfigured() bool {
	email := c.DurableEngine.Notification.Email
	return email.SMTPHost != "" && email.From != ""
}

// EmailParams 转换为邮件插件的初始化参数
func (c *EngineConfig) EmailParams() map[string]string {
	email := c.DurableEngine.Notification.Email
	params := map[string]string{
		"smtp_host": email.SMTPHost,
		"username":  email.Username,
		"password":  email.Password,
		"from":      email.From,
		"to":        email.To,
	}
	if email.SMTPPort > 0 {
		params["smtp_port"] = itoa(email.SMTPPort)
	}
	return params
}

// ApplyDefaults 应用默认值
func (c *EngineConfig) ApplyDefaults() {
	e := &c.DurableEngine

	// General默认值
	if e.General.InstanceName == "" {
		e.General.InstanceName = "durable-engine"
	}
	if e.General.LogLevel == "" {
		e.General.LogLevel = "info"
	}
	if e.General.Env == "" {
		e.General.Env = "dev"
	}

	// Database默认值
	if e.Storage.Database.Type == "" {
		e.Storage.Database.Type = "sqlite"
	}
	if e.Storage.Database.DSN == "" && e.Storage.Database.Type == "sqlite" {
		e.Storage.Database.DSN = "./durable.db"
	}
	if e.Storage.Database.MaxOpenConns <= 0 {
		e.Storage.Database.MaxOpenConns = 10
	}
	if e.Storage.Database.MaxIdleConns <= 0 {
		e.Storage.Database.MaxIdleConns = 5
	}
	if e.Storage.Database.ConnMaxLifetime <= 0 {
		e.Storage.Database.ConnMaxLifetime = 2 * time.Hour
	}
	if e.Storage.Database.ConnMaxIdleTime <= 0 {
		e.Storage.Database.ConnMaxIdleTime = 1 * time.Hour
	}

	// Cache默认值
	if e.Storage.Cache.DefaultTTL <= 0 {
		e.Storage.Cache.DefaultTTL = 1 * time.Hour
	}

	// Execution默认值
	if e.Execution.WorkerConcurrency <= 0 {
		e.Execution.WorkerConcurrency = 10
	}
	if e.Execution.PollInterval <= 0 {
		e.Execution.PollInterval = 500 * time.Millisecond
	}

	// Retry默认值
	if e.Execution.Retry.MaxAttempts <= 0 {
		e.Execution.Retry.MaxAttempts = 3
	}
	if e.Execution.Retry.Delay <= 0 {
		e.Execution.Retry.Delay = 1 * time.Second
	}
	if e.Execution.Retry.MaxDelay <= 0 {
		e.Execution.Retry.MaxDelay = 5 * time.Second
	}

	// Recovery默认值
	if e.Execution.Recovery.Concurrency <= 0 {
		e.Execution.Recovery.Concurrency = 4
	}
	if e.Execution.Recovery.MaxAttempts <= 0 {
		e.Execution.Recovery.MaxAttempts = 50
	}

	// Server默认值
	if e.Server.Host == "" {
		e.Server.Host = "0.0.0.0"
	}
	if e.Server.Port <= 0 {
		e.Server.Port = 8080
	}
	if e.Server.ReadTimeout <= 0 {
		e.Server.ReadTimeout = 30 * time.Second
	}
	if e.Server.WriteTimeout <= 0 {
		e.Server.WriteTimeout = 30 * time.Second
	}
}

package dto

import (
	"encoding/json"
	"time"

	"github.com/LENAX/durable-engine/pkg/core/engine"
	"github.com/LENAX/durable-engine/pkg/storage"
)

// APIResponse 通用API响应结构
type APIResponse[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data,omitempty"`
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse[T any](data T) APIResponse[T] {
	return APIResponse[T]{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) APIResponse[any] {
	return APIResponse[any]{
		Code:    code,
		Message: message,
	}
}

// StartWorkflowResponse 启动工作流响应
type StartWorkflowResponse struct {
	WorkflowID string          `json:"workflow_id"`
	Status     string          `json:"status"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// StepDetail 步骤记录
type StepDetail struct {
	Index     int             `json:"index"`
	Name      string          `json:"name"`
	Kind      string          `json:"kind"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	Completed bool            `json:"completed"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewStepDetail 由步骤记录转换
func NewStepDetail(rec *storage.StepRecord) StepDetail {
	d := StepDetail{
		Index:     rec.StepIndex,
		Name:      rec.Name,
		Kind:      string(rec.Kind),
		Error:     rec.Error,
		Completed: rec.Completed,
		CreatedAt: rec.CreatedAt,
	}
	if len(rec.Output) > 0 {
		d.Output = json.RawMessage(rec.Output)
	}
	return d
}

// RegistryResponse 已注册的工作流与定时调度
type RegistryResponse struct {
	Workflows []string          `json:"workflows"`
	Schedules map[string]string `json:"schedules"`
}

// WatchMessage WebSocket推送的状态消息
type WatchMessage struct {
	Type   string         `json:"type"` // status/event/error
	Event  string         `json:"event,omitempty"`
	Status *engine.Status `json:"status,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	ExecutorID string `json:"executor_id"`
	Uptime     string `json:"uptime"`
	Timestamp  string `json:"timestamp"`
}

// ListResponse 列表响应
type ListResponse[T any] struct {
	Total   int  `json:"total"`
	Items   []T  `json:"items"`
	HasMore bool `json:"has_more"`
}

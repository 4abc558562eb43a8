package dto

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/LENAX/durable-engine/pkg/core/types"
)

// StartWorkflowRequest 启动工作流请求
type StartWorkflowRequest struct {
	Workflow string          `json:"workflow" binding:"required"`
	ID       string          `json:"id" binding:"omitempty,max=128"`
	Input    json.RawMessage `json:"input"`
	// Wait 为true时同步等待工作流结束
	Wait bool `json:"wait"`
}

// ListQueryRequest 工作流列表查询请求
type ListQueryRequest struct {
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
	Status string `form:"status" binding:"omitempty"` // 逗号分隔
	Name   string `form:"name" binding:"omitempty"`
}

// GetDefaultLimit 获取默认limit
func (r *ListQueryRequest) GetDefaultLimit() int {
	if r.Limit <= 0 {
		return 20
	}
	return r.Limit
}

// Statuses 解析状态过滤条件
func (r *ListQueryRequest) Statuses() ([]types.WorkflowStatus, error) {
	if r.Status == "" {
		return nil, nil
	}
	var result []types.WorkflowStatus
	for _, s := range strings.Split(r.Status, ",") {
		status := types.WorkflowStatus(strings.ToUpper(strings.TrimSpace(s)))
		if !status.IsValid() {
			return nil, fmt.Errorf("无效的状态: %s", s)
		}
		result = append(result, status)
	}
	return result, nil
}

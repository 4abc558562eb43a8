package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/durable-engine/pkg/actions"
)

// ActionHandler 对话动作webhook处理器
// 请求与响应格式与对话框架的动作服务器协议一致，不使用通用APIResponse包装
type ActionHandler struct {
	registry *actions.Registry
}

// NewActionHandler 创建ActionHandler
func NewActionHandler(registry *actions.Registry) *ActionHandler {
	return &ActionHandler{registry: registry}
}

// Webhook 执行动作
// POST /webhook
func (h *ActionHandler) Webhook(c *gin.Context) {
	var req actions.WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("请求参数错误: %v", err)})
		return
	}

	resp, err := h.registry.Run(c.Request.Context(), &req)
	switch {
	case errors.Is(err, actions.ErrActionNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":       fmt.Sprintf("No registered action found for name '%s'.", req.NextAction),
			"action_name": req.NextAction,
		})
	case err != nil:
		c.JSON(statusCode(err), gin.H{
			"error":       err.Error(),
			"action_name": req.NextAction,
		})
	default:
		c.JSON(http.StatusOK, resp)
	}
}

// Actions 列出已注册的动作
// GET /actions
func (h *ActionHandler) Actions(c *gin.Context) {
	names := h.registry.Names()
	items := make([]gin.H, 0, len(names))
	for _, name := range names {
		items = append(items, gin.H{"name": name})
	}
	c.JSON(http.StatusOK, items)
}

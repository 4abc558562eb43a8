package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/LENAX/durable-engine/pkg/api/dto"
	"github.com/LENAX/durable-engine/pkg/core/engine"
	"github.com/LENAX/durable-engine/pkg/core/types"
	"github.com/LENAX/durable-engine/pkg/storage"
)

const (
	watchWriteTimeout = 10 * time.Second
	// 事件可能因推送过慢被丢弃，定期重读状态兜底
	watchResyncInterval = 2 * time.Second
)

// WorkflowHandler Workflow API处理器
type WorkflowHandler struct {
	engine   *engine.Engine
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewWorkflowHandler 创建WorkflowHandler
func NewWorkflowHandler(eng *engine.Engine, log zerolog.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		engine: eng,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Registry 列出已注册的工作流与定时调度
// GET /api/v1/registry
func (h *WorkflowHandler) Registry(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.RegistryResponse{
		Workflows: h.engine.Workflows(),
		Schedules: h.engine.Scheduler().Schedules(),
	}))
}

// Start 启动工作流
// POST /api/v1/workflows
func (h *WorkflowHandler) Start(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.StartWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("请求参数错误: %v", err)))
		return
	}

	var opts []engine.StartOption
	if req.ID != "" {
		opts = append(opts, engine.WithWorkflowID(req.ID))
	}

	handle, err := h.engine.StartAsync(ctx, req.Workflow, req.Input, opts...)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := dto.StartWorkflowResponse{WorkflowID: handle.ID}

	if req.Wait {
		output, err := handle.Result(ctx)
		var wfErr *types.WorkflowError
		switch {
		case errors.As(err, &wfErr):
			resp.Status = string(types.WorkflowStatusError)
			resp.Error = wfErr.Message
		case err != nil:
			writeError(c, err)
			return
		default:
			resp.Status = string(types.WorkflowStatusSuccess)
			resp.Output = output
		}
		c.JSON(http.StatusOK, dto.NewSuccessResponse(resp))
		return
	}

	status, err := handle.Status(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	resp.Status = string(status.Status)
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(resp))
}

// List 列出工作流
// GET /api/v1/workflows
func (h *WorkflowHandler) List(c *gin.Context) {
	var query dto.ListQueryRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, fmt.Sprintf("查询参数错误: %v", err)))
		return
	}
	statuses, err := query.Statuses()
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse(400, err.Error()))
		return
	}

	// 多取一条用于判断是否还有下一页
	limit := query.GetDefaultLimit()
	items, err := h.engine.ListWorkflows(c.Request.Context(), storage.ListFilter{
		Statuses: statuses,
		Name:     query.Name,
		Limit:    limit + 1,
		Offset:   query.Offset,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(dto.ListResponse[*engine.Status]{
		Total:   len(items),
		Items:   items,
		HasMore: hasMore,
	}))
}

// Get 获取工作流状态
// GET /api/v1/workflows/:id
func (h *WorkflowHandler) Get(c *gin.Context) {
	status, err := h.engine.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(status))
}

// Steps 获取工作流已记录的步骤
// GET /api/v1/workflows/:id/steps
func (h *WorkflowHandler) Steps(c *gin.Context) {
	steps, err := h.engine.ListSteps(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]dto.StepDetail, 0, len(steps))
	for _, s := range steps {
		items = append(items, dto.NewStepDetail(s))
	}
	c.JSON(http.StatusOK, dto.NewSuccessResponse(items))
}

// Watch 通过WebSocket推送工作流状态，直到工作流结束
// GET /api/v1/workflows/:id/watch
func (h *WorkflowHandler) Watch(c *gin.Context) {
	id := c.Param("id")
	bus := h.engine.EventBus()
	if bus == nil {
		c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse(503, "事件总线未配置"))
		return
	}
	if _, err := h.engine.GetStatus(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("workflow_id", id).Msg("⚠️ [API] WebSocket升级失败")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// 先订阅再读取当前状态，避免错过两者之间的事件
	stream, err := bus.Subscribe(ctx)
	if err != nil {
		_ = h.send(conn, dto.WatchMessage{Type: "error", Error: err.Error()})
		return
	}

	// 客户端断开时结束推送
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if done := h.pushStatus(ctx, conn, id, ""); done {
		return
	}
	resync := time.NewTicker(watchResyncInterval)
	defer resync.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-resync.C:
			if done := h.pushStatus(ctx, conn, id, ""); done {
				return
			}
		case evt, ok := <-stream:
			if !ok {
				return
			}
			if evt.WorkflowID != id {
				continue
			}
			if done := h.pushStatus(ctx, conn, id, string(evt.Type)); done {
				return
			}
		}
	}
}

// pushStatus 推送当前状态，返回是否应结束推送
func (h *WorkflowHandler) pushStatus(ctx context.Context, conn *websocket.Conn, id, event string) bool {
	status, err := h.engine.GetStatus(ctx, id)
	if err != nil {
		_ = h.send(conn, dto.WatchMessage{Type: "error", Error: err.Error()})
		return true
	}

	msg := dto.WatchMessage{Type: "status", Status: status}
	if event != "" {
		msg.Type = "event"
		msg.Event = event
	}
	if err := h.send(conn, msg); err != nil {
		return true
	}
	if !status.Status.IsTerminal() {
		return false
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(status.Status)),
		time.Now().Add(watchWriteTimeout))
	return true
}

func (h *WorkflowHandler) send(conn *websocket.Conn, msg dto.WatchMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

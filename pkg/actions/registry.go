package actions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// ErrActionNotFound 动作未注册
var ErrActionNotFound = errors.New("action not found")

// WebhookRequest 对话框架调用动作服务器的请求体
type WebhookRequest struct {
	NextAction string         `json:"next_action" binding:"required"`
	SenderID   string         `json:"sender_id"`
	Tracker    TrackerPayload `json:"tracker"`
	Domain     map[string]any `json:"domain,omitempty"`
	Version    string         `json:"version,omitempty"`
}

// TrackerPayload 请求中携带的会话状态
type TrackerPayload struct {
	SenderID string         `json:"sender_id"`
	Slots    map[string]any `json:"slots"`
}

// WebhookResponse 动作执行结果
type WebhookResponse struct {
	Events    []Event    `json:"events"`
	Responses []Response `json:"responses"`
}

// Registry 动作注册表
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
	log     zerolog.Logger
}

// NewRegistry 创建动作注册表
func NewRegistry(log zerolog.Logger, actions ...Action) (*Registry, error) {
	r := &Registry{actions: make(map[string]Action), log: log}
	for _, a := range actions {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 注册动作
func (r *Registry) Register(a Action) error {
	if a == nil || a.Name() == "" {
		return errors.New("动作名称不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[a.Name()]; exists {
		return fmt.Errorf("动作 %s 已注册", a.Name())
	}
	r.actions[a.Name()] = a
	return nil
}

// Names 已注册的动作名称（排序）
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run 执行动作
func (r *Registry) Run(ctx context.Context, req *WebhookRequest) (*WebhookResponse, error) {
	r.mu.RLock()
	action, ok := r.actions[req.NextAction]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActionNotFound, req.NextAction)
	}

	senderID := req.Tracker.SenderID
	if senderID == "" {
		senderID = req.SenderID
	}
	tracker := NewTracker(senderID, req.Tracker.Slots)
	dispatcher := &CollectingDispatcher{}

	log := r.log.With().Str("action", req.NextAction).Str("sender_id", senderID).Logger()
	log.Debug().Msg("[动作服务] 执行动作")

	events, err := action.Run(ctx, dispatcher, tracker)
	if err != nil {
		log.Error().Err(err).Msg("❌ [动作服务] 动作执行失败")
		return nil, fmt.Errorf("执行动作 %s 失败: %w", req.NextAction, err)
	}
	if events == nil {
		events = []Event{}
	}

	log.Info().Int("events", len(events)).Msg("✅ [动作服务] 动作执行完成")
	return &WebhookResponse{Events: events, Responses: dispatcher.Messages()}, nil
}

package plugin

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/LENAX/durable-engine/pkg/core/events"
)

// ForwardEvents 订阅引擎事件总线并按绑定规则触发插件（对外导出）
// 事件按发布顺序逐个处理；ctx结束后返回的通道关闭
func ForwardEvents(ctx context.Context, bus *events.Bus, pm PluginManager, log zerolog.Logger) (<-chan struct{}, error) {
	stream, err := bus.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range stream {
			data := NewPluginData(evt)
			if err := pm.Trigger(ctx, data.Event, data); err != nil {
				log.Warn().Err(err).Str("event", string(evt.Type)).Str("workflow_id", evt.WorkflowID).Msg("⚠️ [插件] 事件处理失败")
			}
		}
	}()
	return done, nil
}

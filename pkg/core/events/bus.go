package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Topic 工作流生命周期事件主题
const Topic = "workflow.events"

// Type 事件类型
type Type string

const (
	WorkflowStarted   Type = "workflow.started"   // 工作流开始（或恢复）执行
	WorkflowCompleted Type = "workflow.completed" // 工作流成功结束
	WorkflowFailed    Type = "workflow.failed"    // 工作流失败结束
	WorkflowRecovered Type = "workflow.recovered" // 工作流被恢复扫描接管
	StepCompleted     Type = "step.completed"     // 步骤执行成功并已记录
	StepFailed        Type = "step.failed"        // 步骤执行失败并已记录
)

// Event 生命周期事件
type Event struct {
	Type         Type      `json:"type"`
	WorkflowID   string    `json:"workflow_id"`
	WorkflowName string    `json:"workflow_name"`
	Status       string    `json:"status,omitempty"`
	StepIndex    int       `json:"step_index,omitempty"`
	StepName     string    `json:"step_name,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// SubscriberBuffer 每个订阅者的事件缓冲大小
const SubscriberBuffer = 64

// Bus 基于watermill GoChannel的进程内事件总线
// 非持久化：订阅之前发布的事件不会被投递
// 订阅者按发布顺序收到事件；订阅者缓冲已满时丢弃新事件，发布方从不等待订阅者处理
type Bus struct {
	pubsub  *gochannel.GoChannel
	logger  watermill.LoggerAdapter
	dropped atomic.Int64
}

// NewBus 创建事件总线
func NewBus(logger watermill.LoggerAdapter) *Bus {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            256,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: true,
		}, logger),
		logger: logger,
	}
}

// Publish 发布事件
func (b *Bus) Publish(evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("workflow_id", evt.WorkflowID)
	msg.Metadata.Set("type", string(evt.Type))
	return b.pubsub.Publish(Topic, msg)
}

// Subscribe 订阅事件，ctx结束时通道关闭
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	messages, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("订阅事件失败: %w", err)
	}

	out := make(chan Event, SubscriberBuffer)
	go func() {
		defer close(out)
		for msg := range messages {
			var evt Event
			err := json.Unmarshal(msg.Payload, &evt)
			msg.Ack()
			if err != nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- evt:
			default:
				b.dropped.Add(1)
				b.logger.Error("订阅者处理过慢，事件已丢弃", nil, watermill.LogFields{
					"type":        string(evt.Type),
					"workflow_id": evt.WorkflowID,
				})
			}
		}
	}()
	return out, nil
}

// Dropped 因订阅者缓冲已满而丢弃的事件数
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close 关闭事件总线
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

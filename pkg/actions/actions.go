package actions

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// Action 对话动作（对外导出）
// 由对话框架通过webhook按名称调用，返回需要应用到会话上的事件
type Action interface {
	Name() string
	Run(ctx context.Context, d Dispatcher, t Tracker) ([]Event, error)
}

// Tracker 会话状态的只读视图
type Tracker interface {
	SenderID() string
	GetSlot(name string) any
}

// Dispatcher 向用户发送消息
type Dispatcher interface {
	UtterMessage(text string)
}

// Event 会话事件
type Event struct {
	Event string `json:"event"`
	Name  string `json:"name,omitempty"`
	Value any    `json:"value"`
}

// SlotSet 设置槽位事件
func SlotSet(name string, value any) Event {
	return Event{Event: "slot", Name: name, Value: value}
}

// Response 发送给用户的消息
type Response struct {
	Text string `json:"text"`
}

// CollectingDispatcher 收集动作发出的消息，随webhook响应一并返回
type CollectingDispatcher struct {
	mu       sync.Mutex
	messages []Response
}

// UtterMessage 实现Dispatcher接口
func (d *CollectingDispatcher) UtterMessage(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, Response{Text: text})
}

// Messages 已收集的消息
func (d *CollectingDispatcher) Messages() []Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Response{}, d.messages...)
}

// MapTracker 基于槽位表的Tracker
type MapTracker struct {
	Sender string
	Slots  map[string]any
}

// NewTracker 创建Tracker
func NewTracker(senderID string, slots map[string]any) *MapTracker {
	if slots == nil {
		slots = make(map[string]any)
	}
	return &MapTracker{Sender: senderID, Slots: slots}
}

// SenderID 实现Tracker接口
func (t *MapTracker) SenderID() string {
	return t.Sender
}

// GetSlot 实现Tracker接口，槽位不存在时返回nil
func (t *MapTracker) GetSlot(name string) any {
	return t.Slots[name]
}

// slotString 读取字符串槽位，未设置时返回空串
func slotString(t Tracker, name string) (string, error) {
	v := t.GetSlot(name)
	if v == nil {
		return "", nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("槽位 %s 不是字符串: %w", name, err)
	}
	return s, nil
}

// slotDecimal 读取金额槽位
func slotDecimal(t Tracker, name string) (decimal.Decimal, error) {
	s, err := slotString(t, name)
	if err != nil {
		return decimal.Zero, err
	}
	if s == "" {
		return decimal.Zero, fmt.Errorf("槽位 %s 未设置", name)
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("槽位 %s 不是有效金额: %w", name, err)
	}
	return amount, nil
}

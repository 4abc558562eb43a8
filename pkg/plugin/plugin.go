package plugin

import "context"

// Plugin 插件基础接口（对外导出）
type Plugin interface {
	// Name 插件名称
	Name() string
	// Init 初始化插件
	Init(params map[string]string) error
	// Execute 执行插件逻辑，data为PluginData
	Execute(data interface{}) error
}

// Message 通知消息
type Message struct {
	From    string   // 发件人，为空时使用插件配置
	To      []string // 收件人，为空时使用插件配置
	Subject string
	HTML    string // HTML正文，纯文本部分由HTML生成
}

// Notifier 通知发送接口（对外导出）
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

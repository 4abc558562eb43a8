package plugin

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
)

// DefaultSendTimeout 单封邮件发送的默认超时（含建连、认证与写入）
const DefaultSendTimeout = 30 * time.Second

// sendFunc 实际投递函数，测试中可替换
type sendFunc func(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// EmailPlugin 邮件发送插件（对外导出）
// 既可绑定生命周期事件发送告警，也可作为Notifier直接发送通知
type EmailPlugin struct {
	name     string
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
	to       []string
	timeout  time.Duration
	enabled  bool

	log  zerolog.Logger
	send sendFunc
	mu   sync.RWMutex
}

// NewEmailPlugin 创建邮件发送插件（对外导出）
func NewEmailPlugin(log zerolog.Logger) *EmailPlugin {
	return &EmailPlugin{
		name:    "email",
		timeout: DefaultSendTimeout,
		log:     log,
	}
}

// Name 插件名称（实现Plugin接口）
func (e *EmailPlugin) Name() string {
	return e.name
}

// Init 初始化插件（实现Plugin接口）
func (e *EmailPlugin) Init(params map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.smtpHost = params["smtp_host"]
	if e.smtpHost == "" {
		return fmt.Errorf("smtp_host参数不能为空")
	}

	// SMTP端口（默认25）
	e.smtpPort = 25
	if portStr := params["smtp_port"]; portStr != "" {
		if _, err := fmt.Sscanf(portStr, "%d", &e.smtpPort); err != nil {
			return fmt.Errorf("smtp_port参数格式错误: %w", err)
		}
	}

	// 用户名和密码（可选，用于认证）
	e.username = params["username"]
	e.password = params["password"]

	e.from = params["from"]
	if e.from == "" {
		return fmt.Errorf("from参数不能为空")
	}

	// 默认收件人（多个用逗号分隔），Send时可覆盖
	e.to = splitAddresses(params["to"])

	if timeoutStr := params["timeout"]; timeoutStr != "" {
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil || timeout <= 0 {
			return fmt.Errorf("timeout参数格式错误: %q", timeoutStr)
		}
		e.timeout = timeout
	}

	e.enabled = true
	e.log.Info().Str("smtp", fmt.Sprintf("%s:%d", e.smtpHost, e.smtpPort)).Str("from", e.from).Strs("to", e.to).Msg("✅ [EmailPlugin] 初始化完成")
	return nil
}

// Enabled 插件是否已初始化
func (e *EmailPlugin) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// Execute 发送生命周期事件告警（实现Plugin接口）
func (e *EmailPlugin) Execute(data interface{}) error {
	pluginData, ok := data.(PluginData)
	if !ok {
		return fmt.Errorf("插件数据类型错误: %T", data)
	}
	return e.Send(context.Background(), Message{
		Subject: buildSubject(pluginData),
		HTML:    buildBody(pluginData),
	})
}

// Send 发送HTML邮件，附带由HTML生成的纯文本部分（实现Notifier接口）
func (e *EmailPlugin) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.RLock()
	if !e.enabled {
		e.mu.RUnlock()
		return fmt.Errorf("邮件插件未初始化")
	}
	from := msg.From
	if from == "" {
		from = e.from
	}
	to := msg.To
	if len(to) == 0 {
		to = e.to
	}
	host, port, username, password := e.smtpHost, e.smtpPort, e.username, e.password
	send, timeout := e.send, e.timeout
	e.mu.RUnlock()

	if len(to) == 0 {
		return fmt.Errorf("收件人不能为空")
	}

	body, err := buildMessage(from, to, msg.Subject, msg.HTML)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(host, fmt.Sprint(port))
	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if send == nil {
		send = func(ctx context.Context, addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
			return deliver(ctx, addr, host, port == 465, auth, from, to, msg)
		}
	}
	err = send(ctx, addr, auth, from, to, body)
	if err != nil {
		e.log.Error().Err(err).Str("subject", msg.Subject).Msg("❌ [EmailPlugin] 发送邮件失败")
		return fmt.Errorf("发送邮件失败: %w", err)
	}

	e.log.Info().Str("subject", msg.Subject).Strs("to", to).Msg("✅ [EmailPlugin] 邮件发送成功")
	return nil
}

// buildSubject 构建告警邮件主题
func buildSubject(data PluginData) string {
	switch data.Event {
	case EventWorkflowStarted:
		return fmt.Sprintf("[工作流启动] %s - %s", data.WorkflowName, data.WorkflowID)
	case EventWorkflowCompleted:
		return fmt.Sprintf("[工作流完成] %s - %s", data.WorkflowName, data.WorkflowID)
	case EventWorkflowFailed:
		return fmt.Sprintf("[工作流失败] %s - %s", data.WorkflowName, data.WorkflowID)
	case EventWorkflowRecovered:
		return fmt.Sprintf("[工作流恢复] %s - %s", data.WorkflowName, data.WorkflowID)
	case EventStepCompleted:
		return fmt.Sprintf("[步骤成功] %s #%d - %s", data.StepName, data.StepIndex, data.WorkflowID)
	case EventStepFailed:
		return fmt.Sprintf("[步骤失败] %s #%d - %s", data.StepName, data.StepIndex, data.WorkflowID)
	default:
		return fmt.Sprintf("[系统通知] %s", data.Event)
	}
}

// buildBody 构建告警邮件HTML正文
func buildBody(data PluginData) string {
	var body strings.Builder
	row := func(label, value string) {
		body.WriteString(fmt.Sprintf("<tr><td>%s</td><td>%s</td></tr>\n", label, html.EscapeString(value)))
	}

	body.WriteString("<table>\n")
	row("事件类型", string(data.Event))
	row("状态", data.Status)
	if data.WorkflowID != "" {
		row("工作流ID", data.WorkflowID)
	}
	if data.WorkflowName != "" {
		row("工作流名称", data.WorkflowName)
	}
	if data.StepName != "" {
		row("步骤", fmt.Sprintf("%s (#%d)", data.StepName, data.StepIndex))
	}
	if data.Error != "" {
		row("错误信息", data.Error)
	}
	if !data.Timestamp.IsZero() {
		row("时间", data.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	for k, v := range data.Data {
		row(k, fmt.Sprint(v))
	}
	body.WriteString("</table>\n")
	return body.String()
}

// HTMLToText 提取HTML中的纯文本，连续空白合并为一个空格
func HTMLToText(htmlContent string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return "", fmt.Errorf("解析HTML失败: %w", err)
	}

	// 单元格之间补空格，避免相邻单元格文本粘连
	doc.Find("td, th").AppendHtml(" ")

	var lines []string
	doc.Find("p, tr, li, h1, h2, h3").Each(func(_ int, s *goquery.Selection) {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			lines = append(lines, text)
		}
	})
	if len(lines) == 0 {
		return strings.Join(strings.Fields(doc.Text()), " "), nil
	}
	return strings.Join(lines, "\n"), nil
}

// buildMessage 构建multipart/alternative邮件
func buildMessage(from string, to []string, subject, htmlContent string) ([]byte, error) {
	plain, err := HTMLToText(htmlContent)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	var header strings.Builder
	header.WriteString(fmt.Sprintf("From: %s\r\n", from))
	header.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")))
	header.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", subject)))
	header.WriteString("MIME-Version: 1.0\r\n")
	header.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%s\r\n", mw.Boundary()))
	header.WriteString("\r\n")

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=UTF-8", plain},
		{"text/html; charset=UTF-8", htmlContent},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, fmt.Errorf("构建邮件内容失败: %w", err)
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, fmt.Errorf("构建邮件内容失败: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("构建邮件内容失败: %w", err)
	}

	return append([]byte(header.String()), buf.Bytes()...), nil
}

// deliver 投递邮件，465端口使用隐式TLS，其余端口在服务端支持时升级STARTTLS
// 连接的读写截止时间取自ctx，ctx结束时连接立即关闭
func deliver(ctx context.Context, addr, host string, implicitTLS bool, auth smtp.Auth, from string, to []string, message []byte) error {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("连接SMTP服务器失败: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("设置连接超时失败: %w", err)
		}
	}

	if implicitTLS {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: host})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return fmt.Errorf("TLS连接失败: %w", err)
		}
		conn = tlsConn
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("创建SMTP客户端失败: %w", err)
	}
	defer client.Close()

	if !implicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
				return fmt.Errorf("STARTTLS失败: %w", err)
			}
		}
	}
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP认证失败: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("设置发件人失败: %w", err)
	}
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("设置收件人失败: %w", err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("获取数据写入器失败: %w", err)
	}
	if _, err := writer.Write(message); err != nil {
		return fmt.Errorf("写入邮件内容失败: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("关闭数据写入器失败: %w", err)
	}
	return client.Quit()
}

func splitAddresses(s string) []string {
	var result []string
	for _, addr := range strings.Split(s, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			result = append(result, addr)
		}
	}
	return result
}

// 确保实现接口
var (
	_ Plugin   = (*EmailPlugin)(nil)
	_ Notifier = (*EmailPlugin)(nil)
)

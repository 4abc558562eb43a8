package banking

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/LENAX/durable-engine/pkg/core/engine"
	"github.com/LENAX/durable-engine/pkg/plugin"
)

// 工作流与步骤名称
const (
	CheckBalanceWorkflow  = "checkBalance"
	TransferFundsWorkflow = "transferFunds"

	stepCheckBalance     = "check_current_balance"
	stepTransferMoney    = "transfer_money"
	stepSendConfirmation = "send_confirmation_message"

	transferSucceeded = "Success"
)

// 确认邮件
const (
	ConfirmationFrom    = "demo@dbos.dev"
	ConfirmationSubject = "Transfer Confirmation 🚀"
)

// DefaultBalance 演示账户余额
var DefaultBalance = decimal.NewFromInt(1000)

// BalanceSource 账户余额查询接口
type BalanceSource interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
}

// FixedBalance 固定余额
type FixedBalance decimal.Decimal

// Balance 实现BalanceSource接口
func (b FixedBalance) Balance(context.Context) (decimal.Decimal, error) {
	return decimal.Decimal(b), nil
}

// CheckBalanceInput checkBalance工作流输入
type CheckBalanceInput struct {
	Amount decimal.Decimal `json:"amount"`
}

// TransferInput transferFunds工作流输入
type TransferInput struct {
	Amount    decimal.Decimal `json:"amount"`
	Recipient string          `json:"recipient"`
}

// Options 银行工作流配置
type Options struct {
	Balance BalanceSource
	// Notifier 为空时确认步骤返回false
	Notifier plugin.Notifier
	// ConfirmationTo 确认邮件收件人，为空时使用通知插件的默认收件人
	ConfirmationTo []string
	// TransferDelay 模拟转账耗时，0表示不等待
	TransferDelay time.Duration
	// ConfirmationWait 转账后发送确认前的持久化等待
	ConfirmationWait time.Duration
	Logger           zerolog.Logger
}

// DefaultOptions 演示环境配置
func DefaultOptions() Options {
	return Options{
		Balance:          FixedBalance(DefaultBalance),
		TransferDelay:    5 * time.Second,
		ConfirmationWait: 15 * time.Second,
		Logger:           zerolog.Nop(),
	}
}

type workflows struct {
	opts Options
}

// Register 在引擎上注册checkBalance与transferFunds工作流
func Register(e *engine.Engine, opts Options) error {
	if opts.Balance == nil {
		opts.Balance = FixedBalance(DefaultBalance)
	}
	if opts.ConfirmationWait <= 0 {
		opts.ConfirmationWait = 15 * time.Second
	}
	w := &workflows{opts: opts}

	if err := engine.Register(e, CheckBalanceWorkflow, w.checkBalance); err != nil {
		return fmt.Errorf("注册%s工作流失败: %w", CheckBalanceWorkflow, err)
	}
	if err := engine.Register(e, TransferFundsWorkflow, w.transferFunds); err != nil {
		return fmt.Errorf("注册%s工作流失败: %w", TransferFundsWorkflow, err)
	}
	return nil
}

// checkBalance 余额是否足够支付本次转账
func (w *workflows) checkBalance(ctx *engine.Context, in CheckBalanceInput) (bool, error) {
	balance, err := engine.RunStep(ctx, stepCheckBalance, w.opts.Balance.Balance)
	if err != nil {
		return false, err
	}
	return in.Amount.LessThanOrEqual(balance), nil
}

// transferFunds 转账，等待一段时间后发送确认
func (w *workflows) transferFunds(ctx *engine.Context, in TransferInput) (bool, error) {
	clock := ctx.Engine().Clock()

	result, err := engine.RunStep(ctx, stepTransferMoney, func(stepCtx context.Context) (string, error) {
		if w.opts.TransferDelay > 0 {
			select {
			case <-clock.After(w.opts.TransferDelay):
			case <-stepCtx.Done():
				return "", stepCtx.Err()
			}
		}
		w.opts.Logger.Info().
			Str("workflow_id", ctx.WorkflowID()).
			Str("recipient", in.Recipient).
			Str("amount", in.Amount.String()).
			Msg("✅ [转账] 转账完成")
		return transferSucceeded, nil
	})
	if err != nil {
		return false, err
	}

	if err := ctx.Sleep(w.opts.ConfirmationWait); err != nil {
		return false, err
	}

	return engine.RunStep(ctx, stepSendConfirmation, func(stepCtx context.Context) (bool, error) {
		return w.sendConfirmation(stepCtx, in, result)
	})
}

// sendConfirmation 发送转账确认邮件；未配置通知时返回false
func (w *workflows) sendConfirmation(ctx context.Context, in TransferInput, result string) (bool, error) {
	log := w.opts.Logger.With().Str("recipient", in.Recipient).Str("status", result).Logger()
	log.Info().Str("amount", in.Amount.String()).Msg("[转账确认] 发送确认消息")

	if w.opts.Notifier == nil {
		log.Info().Msg("⚠️ [转账确认] 未配置邮件通知，无法发送确认消息")
		return false, nil
	}

	err := w.opts.Notifier.Send(ctx, plugin.Message{
		From:    ConfirmationFrom,
		To:      w.opts.ConfirmationTo,
		Subject: ConfirmationSubject,
		HTML:    ConfirmationHTML(in.Recipient, in.Amount, result),
	})
	if err != nil {
		return false, fmt.Errorf("发送确认邮件失败: %w", err)
	}
	log.Info().Msg("✅ [转账确认] 确认邮件已发送")
	return true, nil
}

// ConfirmationHTML 确认邮件正文
func ConfirmationHTML(recipient string, amount decimal.Decimal, result string) string {
	return fmt.Sprintf(
		"<p>Your transfer to <strong>%s</strong> of <strong>%s</strong> units status was <strong>%s</strong>.</p>",
		html.EscapeString(recipient), amount.String(), html.EscapeString(result),
	)
}

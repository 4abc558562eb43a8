package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/LENAX/durable-engine/pkg/banking"
	"github.com/LENAX/durable-engine/pkg/core/engine"
	"github.com/LENAX/durable-engine/pkg/core/types"
)

// 动作名称与槽位
const (
	CheckSufficientFundsAction = "action_check_sufficient_funds"
	TransferFundsAction        = "action_transfer_funds"
	CheckTransferStatusAction  = "action_check_transfer_status"

	SlotAmount             = "amount"
	SlotRecipient          = "recipient"
	SlotHasSufficientFunds = "has_sufficient_funds"
	SlotTransferStatus     = "transfer_status"
	SlotTransferWorkflowID = "transfer_workflow_id"
)

// transferIDLength 转账工作流ID长度，便于用户在对话中复述
const transferIDLength = 4

// ========== action_check_sufficient_funds ==========

type checkSufficientFunds struct {
	engine *engine.Engine
}

// NewCheckSufficientFunds 同步执行checkBalance工作流
func NewCheckSufficientFunds(e *engine.Engine) Action {
	return &checkSufficientFunds{engine: e}
}

func (a *checkSufficientFunds) Name() string { return CheckSufficientFundsAction }

func (a *checkSufficientFunds) Run(ctx context.Context, _ Dispatcher, t Tracker) ([]Event, error) {
	amount, err := slotDecimal(t, SlotAmount)
	if err != nil {
		return nil, err
	}
	ok, err := engine.RunSync[bool](ctx, a.engine, banking.CheckBalanceWorkflow, banking.CheckBalanceInput{Amount: amount})
	if err != nil {
		return nil, fmt.Errorf("检查余额失败: %w", err)
	}
	return []Event{SlotSet(SlotHasSufficientFunds, ok)}, nil
}

// ========== action_transfer_funds ==========

type transferFunds struct {
	engine *engine.Engine
	ids    engine.IDSource
}

// NewTransferFunds 异步启动transferFunds工作流
// ids为空时使用4位小写字母ID
func NewTransferFunds(e *engine.Engine, ids engine.IDSource) Action {
	if ids == nil {
		ids = engine.RandomLettersSource(transferIDLength)
	}
	return &transferFunds{engine: e, ids: ids}
}

func (a *transferFunds) Name() string { return TransferFundsAction }

func (a *transferFunds) Run(ctx context.Context, _ Dispatcher, t Tracker) ([]Event, error) {
	amount, err := slotDecimal(t, SlotAmount)
	if err != nil {
		return nil, err
	}
	recipient, err := slotString(t, SlotRecipient)
	if err != nil {
		return nil, err
	}

	h, err := a.engine.StartAsync(ctx, banking.TransferFundsWorkflow, banking.TransferInput{
		Amount:    amount,
		Recipient: recipient,
	}, engine.WithWorkflowID(a.ids.NewID()))
	if err != nil {
		return nil, fmt.Errorf("启动转账失败: %w", err)
	}
	return []Event{SlotSet(SlotTransferStatus, "started ID: "+h.ID)}, nil
}

// ========== action_check_transfer_status ==========

type checkTransferStatus struct {
	engine *engine.Engine
}

// NewCheckTransferStatus 查询转账工作流状态
func NewCheckTransferStatus(e *engine.Engine) Action {
	return &checkTransferStatus{engine: e}
}

func (a *checkTransferStatus) Name() string { return CheckTransferStatusAction }

func (a *checkTransferStatus) Run(ctx context.Context, d Dispatcher, t Tracker) ([]Event, error) {
	id, err := slotString(t, SlotTransferWorkflowID)
	if err != nil {
		return nil, err
	}
	if id == "" {
		d.UtterMessage("No transfer workflow ID provided.")
		return []Event{}, nil
	}

	status, err := a.engine.GetStatus(ctx, id)
	switch {
	case errors.Is(err, types.ErrWorkflowNotFound):
		d.UtterMessage(fmt.Sprintf("Workflow %s not found.", id))
	case err != nil:
		return nil, fmt.Errorf("查询工作流状态失败: %w", err)
	default:
		d.UtterMessage(fmt.Sprintf("Workflow %s status: %s", id, status.Status))
	}
	return []Event{}, nil
}

// BankingActions 银行演示的全部动作
func BankingActions(e *engine.Engine, ids engine.IDSource) []Action {
	return []Action{
		NewCheckSufficientFunds(e),
		NewTransferFunds(e, ids),
		NewCheckTransferStatus(e),
	}
}

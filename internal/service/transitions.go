package service

import (
	"fmt"
	"strings"

	"github.com/mmeshcher/escrowdesk/internal/authz"
	"github.com/mmeshcher/escrowdesk/internal/model"
)

// DealAction — действие администратора над сделкой.
type DealAction string

const (
	ActionApprove         DealAction = "approve"
	ActionReject          DealAction = "reject"
	ActionConfirmEscrow   DealAction = "confirm_escrow"
	ActionPaymentReceived DealAction = "payment_received"
	ActionDispute         DealAction = "dispute"
	ActionResolve         DealAction = "resolve"
	ActionCancel          DealAction = "cancel"
)

// dealActions задаёт порядок действий при выводе доступных вариантов.
var dealActions = []DealAction{
	ActionApprove,
	ActionReject,
	ActionConfirmEscrow,
	ActionPaymentReceived,
	ActionResolve,
	ActionDispute,
	ActionCancel,
}

type transitionKey struct {
	from   model.DealStatus
	action DealAction
}

// transitions — полная таблица переходов. Всё, чего здесь нет, отклоняется.
// Подтверждение эскроу сразу записывает payment_pending; escrow_pending
// встречается только в старых записях.
var transitions = map[transitionKey]model.DealStatus{
	{model.DealStatusPending, ActionApprove}: model.DealStatusApproved,
	{model.DealStatusPending, ActionReject}:  model.DealStatusCancelled,
	{model.DealStatusPending, ActionCancel}:  model.DealStatusCancelled,

	{model.DealStatusApproved, ActionConfirmEscrow}: model.DealStatusPaymentPending,
	{model.DealStatusApproved, ActionCancel}:        model.DealStatusCancelled,

	{model.DealStatusEscrowPending, ActionConfirmEscrow}: model.DealStatusPaymentPending,
	{model.DealStatusEscrowPending, ActionCancel}:        model.DealStatusCancelled,

	{model.DealStatusPaymentPending, ActionPaymentReceived}: model.DealStatusCompleted,
	{model.DealStatusPaymentPending, ActionDispute}:         model.DealStatusDisputed,

	{model.DealStatusDisputed, ActionPaymentReceived}: model.DealStatusCompleted,
	{model.DealStatusDisputed, ActionResolve}:         model.DealStatusCompleted,
	{model.DealStatusDisputed, ActionCancel}:          model.DealStatusCancelled,
}

// ParseDealAction разбирает название действия. Поддерживается старое имя escrow_confirm.
func ParseDealAction(s string) (DealAction, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "escrow_confirm" {
		return ActionConfirmEscrow, true
	}
	for _, a := range dealActions {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

// NextStatus возвращает статус после действия или false, если переход недопустим.
func NextStatus(from model.DealStatus, action DealAction) (model.DealStatus, bool) {
	to, ok := transitions[transitionKey{from, action}]
	return to, ok
}

// AvailableActions перечисляет действия, допустимые в статусе.
func AvailableActions(status model.DealStatus) []DealAction {
	var out []DealAction
	for _, a := range dealActions {
		if _, ok := transitions[transitionKey{status, a}]; ok {
			out = append(out, a)
		}
	}
	return out
}

// GuardAction возвращает право, которое проверяется для действия.
func (a DealAction) GuardAction() authz.Action {
	if a == ActionApprove || a == ActionReject {
		return authz.ActionReviewDeal
	}
	return authz.ActionSettleDeal
}

func transitionLogText(to model.DealStatus, reason string) string {
	text := fmt.Sprintf("Status changed to %s", to)
	if reason != "" {
		text += " - Reason: " + reason
	}
	return text
}

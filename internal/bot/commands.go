package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/escrowdesk/internal/authz"
	"github.com/mmeshcher/escrowdesk/internal/model"
	"github.com/mmeshcher/escrowdesk/internal/service"
	"github.com/mmeshcher/escrowdesk/internal/validation"
)

const (
	textInternalError = "❌ Something went wrong. Please try again later."
	textAccessDenied  = "❌ Access denied. Admin privileges required."
	textBanned        = "🚫 Your account is banned."
	textUnknown       = "🤔 Unknown command. Send /help for the list of commands."

	recentDealsLimit = 5
	pricesLimit      = 8
)

// dealCommands сопоставляет команды бота действиям над сделкой.
var dealCommands = map[string]service.DealAction{
	"approve": service.ActionApprove,
	"reject":  service.ActionReject,
	"escrow":  service.ActionConfirmEscrow,
	"paid":    service.ActionPaymentReceived,
	"dispute": service.ActionDispute,
	"resolve": service.ActionResolve,
	"cancel":  service.ActionCancel,
}

func (b *Bot) route(ctx context.Context, actor model.Actor, cmd string, args []string) string {
	if action, ok := dealCommands[cmd]; ok {
		return b.handleDealAction(ctx, actor, cmd, action, args)
	}

	switch cmd {
	case "start":
		return welcomeText
	case "help":
		return helpText
	case "deals":
		return b.handleDeals(ctx, actor)
	case "admin":
		return b.handleAdmin(ctx, actor)
	case "prices":
		return b.handlePrices(ctx, actor)
	case "fee":
		return b.handleFee(ctx, actor, args)
	}
	return textUnknown
}

// errorText переводит ошибку сервиса в ответ пользователю.
func (b *Bot) errorText(err error, dealID int64) string {
	switch {
	case errors.Is(err, service.ErrBanned):
		return textBanned
	case errors.Is(err, service.ErrForbidden):
		return textAccessDenied
	case errors.Is(err, service.ErrNotFound):
		return fmt.Sprintf("❓ Deal #%d not found.", dealID)
	case errors.Is(err, service.ErrInvalidTransition):
		return "⚠️ " + escape(err.Error())
	case errors.Is(err, service.ErrConflict):
		return fmt.Sprintf("⚠️ Deal #%d was changed by someone else. Check it and try again.", dealID)
	case errors.Is(err, service.ErrInvalidInput):
		return "⚠️ " + escape(err.Error())
	}
	b.logger.Error("telegram command failed", zap.Error(err))
	return textInternalError
}

func (b *Bot) handleDeals(ctx context.Context, actor model.Actor) string {
	deals, err := b.service.ListDeals(ctx, actor, model.DealFilter{UserID: actor.ID, Limit: recentDealsLimit})
	if err != nil {
		return b.errorText(err, 0)
	}
	if len(deals) == 0 {
		return "📋 You have no deals yet. Create your first deal on the web platform!"
	}
	return formatDeals("📋 <b>Your Recent Deals:</b>", deals, false)
}

func (b *Bot) handleAdmin(ctx context.Context, actor model.Actor) string {
	if actor.Role == model.RoleBanned {
		return textBanned
	}
	if !authz.Allowed(actor.Role, authz.ActionViewAllDeals) {
		return textAccessDenied
	}

	deals, err := b.service.ListDeals(ctx, actor, model.DealFilter{Status: model.DealStatusPending, Limit: recentDealsLimit})
	if err != nil {
		return b.errorText(err, 0)
	}
	if len(deals) == 0 {
		return "✅ No pending deals to review!"
	}
	return formatDeals("🛡️ <b>Pending Deals for Review:</b>", deals, true)
}

func (b *Bot) handlePrices(ctx context.Context, actor model.Actor) string {
	snap, err := b.service.Prices(ctx, actor)
	if err != nil {
		return b.errorText(err, 0)
	}
	if len(snap.Prices) == 0 {
		return "❌ Prices are unavailable right now."
	}
	return formatPrices(snap, pricesLimit)
}

func (b *Bot) handleFee(ctx context.Context, actor model.Actor, args []string) string {
	if len(args) == 0 {
		return "Usage: /fee &lt;amount&gt; [crypto]"
	}
	amount, err := validation.ParseAmount(args[0])
	if err != nil {
		return "⚠️ " + escape(err.Error())
	}
	crypto := ""
	if len(args) > 1 {
		crypto = args[1]
	}

	q, err := b.service.QuoteDeal(ctx, actor, crypto, amount, decimal.Zero)
	if err != nil {
		return b.errorText(err, 0)
	}
	return formatQuote(q, strings.ToUpper(crypto))
}

func (b *Bot) handleDealAction(ctx context.Context, actor model.Actor, cmd string, action service.DealAction, args []string) string {
	if len(args) == 0 {
		return fmt.Sprintf("Usage: /%s &lt;deal_id&gt; [reason]", cmd)
	}
	dealID, err := validation.ParseID(args[0])
	if err != nil {
		return "⚠️ " + escape(err.Error())
	}
	reason := strings.Join(args[1:], " ")

	d, err := b.service.TransitionDeal(ctx, dealID, action, actor, reason)
	if err != nil {
		return b.errorText(err, dealID)
	}

	return fmt.Sprintf("%s Deal #%d is now <b>%s</b>.", statusEmoji(d.Status), d.ID, statusLabel(d.Status))
}

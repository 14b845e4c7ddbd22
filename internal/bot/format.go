package bot

import (
	"fmt"
	"html"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/escrowdesk/internal/model"
	"github.com/mmeshcher/escrowdesk/internal/pricefeed"
	"github.com/mmeshcher/escrowdesk/internal/service"
)

const welcomeText = `🎉 <b>Welcome to the P2P escrow desk!</b>

Your secure P2P crypto trading platform with manual escrow protection.

📱 <b>Commands:</b>
/deals - View your deals
/prices - Live crypto prices
/fee &lt;amount&gt; - Estimate the platform fee
/help - Help and support

💡 <b>How it works:</b>
1. Create buy/sell deals on the web platform
2. An admin reviews and approves your deal
3. Crypto is held in escrow until payment is confirmed
4. Crypto is released once the payment arrives`

const helpText = `🆘 <b>Help</b>

<b>📱 Commands:</b>
/start - Welcome message
/deals - Your recent deals
/prices - Live crypto prices
/fee &lt;amount&gt; [crypto] - Fee estimate
/help - This message

<b>🛡️ Admin commands:</b>
/admin - Pending deals
/approve &lt;id&gt; - Approve a deal
/reject &lt;id&gt; [reason] - Reject a deal
/escrow &lt;id&gt; - Confirm crypto received in escrow
/paid &lt;id&gt; - Confirm fiat payment received
/dispute &lt;id&gt; [reason] - Open a dispute
/resolve &lt;id&gt; - Resolve a dispute
/cancel &lt;id&gt; [reason] - Cancel a deal

<b>💳 Payment methods:</b>
UPI, Bank Transfer, PayTM, PhonePe, GPay, Cash`

func escape(s string) string {
	return html.EscapeString(s)
}

func statusEmoji(s model.DealStatus) string {
	switch s {
	case model.DealStatusPending:
		return "⏳"
	case model.DealStatusApproved:
		return "✅"
	case model.DealStatusEscrowPending:
		return "🔒"
	case model.DealStatusPaymentPending:
		return "💰"
	case model.DealStatusCompleted:
		return "🎉"
	case model.DealStatusCancelled:
		return "❌"
	case model.DealStatusDisputed:
		return "⚠️"
	}
	return "❓"
}

func statusLabel(s model.DealStatus) string {
	return strings.ReplaceAll(string(s), "_", " ")
}

// formatINR форматирует сумму в рупиях с разделителями разрядов: ₹1,234.50.
func formatINR(d decimal.Decimal) string {
	fixed := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var sb strings.Builder
	for i, ch := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(ch)
	}

	sign := ""
	if d.IsNegative() {
		sign = "-"
	}
	return sign + "₹" + sb.String() + "." + frac
}

func formatDeals(title string, deals []model.Deal, withCommands bool) string {
	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString("\n\n")

	for i := range deals {
		d := &deals[i]
		side := "🟢 Buy"
		if d.Type == model.DealTypeSell {
			side = "🔴 Sell"
		}

		fmt.Fprintf(&sb, "%d. Deal #%d\n", i+1, d.ID)
		fmt.Fprintf(&sb, "   %s %s\n", side, escape(d.Crypto))
		fmt.Fprintf(&sb, "   Amount: %s\n", formatINR(d.Amount))
		fmt.Fprintf(&sb, "   Fee: %s\n", formatINR(d.Fee))
		fmt.Fprintf(&sb, "   Status: %s %s\n", statusEmoji(d.Status), statusLabel(d.Status))
		if withCommands {
			fmt.Fprintf(&sb, "   User: %d\n", d.UserID)
			fmt.Fprintf(&sb, "   Commands: /approve %d | /reject %d\n", d.ID, d.ID)
		}
		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}

func formatPrices(snap pricefeed.Snapshot, limit int) string {
	var sb strings.Builder
	sb.WriteString("💰 <b>Live Crypto Prices (INR):</b>\n\n")

	for i, p := range snap.Prices {
		if i == limit {
			break
		}
		trend := "📈"
		if p.Change24h < 0 {
			trend = "📉"
		}
		fmt.Fprintf(&sb, "%s <b>%s</b> - %s\n", trend, escape(p.Symbol), formatINR(p.Current))
		fmt.Fprintf(&sb, "   24h: %.2f%%\n\n", p.Change24h)
	}

	if snap.Stale {
		sb.WriteString("⚠️ Live prices are unavailable, showing last known values.")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatQuote(q *service.Quote, crypto string) string {
	var sb strings.Builder
	sb.WriteString("🧮 <b>Fee estimate</b>\n\n")
	fmt.Fprintf(&sb, "Amount: %s\n", formatINR(q.Amount))
	fmt.Fprintf(&sb, "Fee: %s (paid by %s)\n", formatINR(q.Fee), escape(q.FeePayer))
	if q.Rate.IsPositive() && crypto != "" {
		fmt.Fprintf(&sb, "Rate: %s per %s\n", formatINR(q.Rate), escape(crypto))
		fmt.Fprintf(&sb, "You get: %s %s", q.CryptoAmount.StringFixed(8), escape(crypto))
	}
	return strings.TrimRight(sb.String(), "\n")
}

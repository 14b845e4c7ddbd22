package handler

import (
	"time"

	"github.com/mmeshcher/escrowdesk/internal/model"
	"github.com/mmeshcher/escrowdesk/internal/pricefeed"
	"github.com/mmeshcher/escrowdesk/internal/service"
)

type userResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

func newUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Name:      u.Name,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

type dealResponse struct {
	ID               int64    `json:"id"`
	UserID           int64    `json:"user_id"`
	Type             string   `json:"type"`
	Crypto           string   `json:"crypto"`
	Amount           string   `json:"amount"`
	Rate             string   `json:"rate"`
	CryptoAmount     string   `json:"crypto_amount"`
	PaymentMethod    string   `json:"payment_method"`
	Fee              string   `json:"fee"`
	Status           string   `json:"status"`
	CreatedAt        string   `json:"created_at"`
	AvailableActions []string `json:"available_actions"`
}

func newDealResponse(d *model.Deal) dealResponse {
	actions := service.AvailableActions(d.Status)
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, string(a))
	}

	return dealResponse{
		ID:               d.ID,
		UserID:           d.UserID,
		Type:             string(d.Type),
		Crypto:           d.Crypto,
		Amount:           d.Amount.StringFixed(2),
		Rate:             d.Rate.String(),
		CryptoAmount:     d.CryptoAmount().String(),
		PaymentMethod:    d.PaymentMethod,
		Fee:              d.Fee.StringFixed(2),
		Status:           string(d.Status),
		CreatedAt:        d.CreatedAt.Format(time.RFC3339),
		AvailableActions: names,
	}
}

type logResponse struct {
	ID         int64  `json:"id"`
	ActorID    int64  `json:"actor_id"`
	ActorRole  string `json:"actor_role"`
	Action     string `json:"action"`
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Timestamp  string `json:"timestamp"`
}

func newLogResponse(l *model.DealLog) logResponse {
	return logResponse{
		ID:         l.ID,
		ActorID:    l.ActorID,
		ActorRole:  string(l.ActorRole),
		Action:     l.Action,
		FromStatus: string(l.FromStatus),
		ToStatus:   string(l.ToStatus),
		Reason:     l.Reason,
		Timestamp:  l.Timestamp.Format(time.RFC3339),
	}
}

type timelineStepResponse struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	State       string `json:"state"`
	Timestamp   string `json:"timestamp,omitempty"`
}

type dealDetailsResponse struct {
	Deal     dealResponse           `json:"deal"`
	Logs     []logResponse          `json:"logs"`
	Timeline []timelineStepResponse `json:"timeline"`
}

func newDealDetailsResponse(d *service.DealDetails) dealDetailsResponse {
	resp := dealDetailsResponse{
		Deal: newDealResponse(d.Deal),
		Logs: make([]logResponse, 0, len(d.Logs)),
	}
	for i := range d.Logs {
		resp.Logs = append(resp.Logs, newLogResponse(&d.Logs[i]))
	}
	for _, step := range model.Timeline(d.Deal) {
		s := timelineStepResponse{
			Title:       step.Title,
			Description: step.Description,
			State:       string(step.State),
		}
		if step.Timestamp != nil {
			s.Timestamp = step.Timestamp.Format(time.RFC3339)
		}
		resp.Timeline = append(resp.Timeline, s)
	}
	return resp
}

type quoteResponse struct {
	Amount       string `json:"amount"`
	Rate         string `json:"rate,omitempty"`
	Fee          string `json:"fee"`
	FeePayer     string `json:"fee_payer"`
	CryptoAmount string `json:"crypto_amount,omitempty"`
}

func newQuoteResponse(q *service.Quote) quoteResponse {
	resp := quoteResponse{
		Amount:   q.Amount.StringFixed(2),
		Fee:      q.Fee.StringFixed(2),
		FeePayer: q.FeePayer,
	}
	if q.Rate.IsPositive() {
		resp.Rate = q.Rate.String()
		resp.CryptoAmount = q.CryptoAmount.String()
	}
	return resp
}

type priceResponse struct {
	Symbol      string  `json:"symbol"`
	Name        string  `json:"name"`
	Current     string  `json:"current_price"`
	Change24h   float64 `json:"price_change_percentage_24h"`
	MarketCap   string  `json:"market_cap"`
	Volume      string  `json:"total_volume"`
	LastUpdated string  `json:"last_updated"`
}

type pricesResponse struct {
	Prices    []priceResponse `json:"prices"`
	UpdatedAt string          `json:"updated_at,omitempty"`
	Stale     bool            `json:"stale"`
}

func newPricesResponse(s pricefeed.Snapshot) pricesResponse {
	resp := pricesResponse{
		Prices: make([]priceResponse, 0, len(s.Prices)),
		Stale:  s.Stale,
	}
	if !s.UpdatedAt.IsZero() {
		resp.UpdatedAt = s.UpdatedAt.Format(time.RFC3339)
	}
	for _, p := range s.Prices {
		resp.Prices = append(resp.Prices, priceResponse{
			Symbol:      p.Symbol,
			Name:        p.Name,
			Current:     p.Current.String(),
			Change24h:   p.Change24h,
			MarketCap:   p.MarketCap.String(),
			Volume:      p.Volume.String(),
			LastUpdated: p.LastUpdated.Format(time.RFC3339),
		})
	}
	return resp
}

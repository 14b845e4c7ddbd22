// Package handler содержит HTTP-обработчики API панели эскроу-сделок.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/escrowdesk/internal/middleware"
	"github.com/mmeshcher/escrowdesk/internal/model"
	"github.com/mmeshcher/escrowdesk/internal/pricefeed"
	"github.com/mmeshcher/escrowdesk/internal/service"
	"github.com/mmeshcher/escrowdesk/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	EnsureUser(ctx context.Context, id int64, name string) (*model.User, error)
	Actor(ctx context.Context, userID int64) (model.Actor, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	ClaimOwnership(ctx context.Context, actor model.Actor) (*model.User, error)
	ListUsers(ctx context.Context, actor model.Actor) ([]model.User, error)
	SetUserRole(ctx context.Context, actor model.Actor, userID int64, role model.Role) (*model.User, error)

	CreateDeal(ctx context.Context, actor model.Actor, p service.CreateDealParams) (*model.Deal, error)
	ListDeals(ctx context.Context, actor model.Actor, f model.DealFilter) ([]model.Deal, error)
	GetDeal(ctx context.Context, actor model.Actor, id int64) (*service.DealDetails, error)
	TransitionDeal(ctx context.Context, dealID int64, action service.DealAction, actor model.Actor, reason string) (*model.Deal, error)
	AddDealNote(ctx context.Context, actor model.Actor, dealID int64, text string) (*model.DealLog, error)

	QuoteDeal(ctx context.Context, actor model.Actor, crypto string, amount, rate decimal.Decimal) (*service.Quote, error)
	FeeConfig(ctx context.Context, actor model.Actor) (model.FeeConfig, error)
	UpdateFeeConfig(ctx context.Context, actor model.Actor, entries map[string]string) (model.FeeConfig, error)

	Prices(ctx context.Context, actor model.Actor) (pricefeed.Snapshot, error)
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	telegramLogin  *middleware.TelegramLogin
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// Без настроенного telegramLogin вход через API отключён.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, telegramLogin *middleware.TelegramLogin) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		telegramLogin:  telegramLogin,
	}
}

// writeError переводит ошибку сервиса в HTTP-статус. Неизвестные ошибки пишутся в журнал.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, service.ErrBanned):
		http.Error(w, "account banned", http.StatusForbidden)
		return
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidTransition):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, validation.ErrInvalid):
		status = http.StatusBadRequest
	default:
		h.logger.Error("request failed",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	http.Error(w, err.Error(), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}

// actor определяет участника по cookie. Роль всегда берётся из хранилища.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return model.Actor{}, false
	}

	actor, err := h.service.Actor(r.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return model.Actor{}, false
		}
		h.writeError(w, r, err)
		return model.Actor{}, false
	}
	return actor, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := validation.ParseID(chi.URLParam(r, name))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// maxJSONBody ограничивает размер тела JSON-запроса.
const maxJSONBody = 64 << 10

var errBodyTooLarge = errors.New("request body too large")

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return fmt.Errorf("%w: %v", validation.ErrInvalid, err)
	}
	return nil
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

// loginFields приводит данные виджета Telegram Login к строкам.
// Числа сохраняют исходную запись, иначе подпись не сойдётся.
func loginFields(raw map[string]json.RawMessage) (map[string]string, error) {
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			fields[k] = s
			continue
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err != nil {
			return nil, fmt.Errorf("%w: field %q must be a string or number", validation.ErrInvalid, k)
		}
		fields[k] = n.String()
	}
	return fields, nil
}

// Login проверяет подпись виджета Telegram Login, регистрирует пользователя
// при первом входе и выдаёт cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := decodeJSON(w, r, &raw); err != nil {
		writeDecodeError(w, err)
		return
	}
	fields, err := loginFields(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	identity, err := h.telegramLogin.Verify(fields)
	switch {
	case errors.Is(err, middleware.ErrLoginDisabled):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		h.logger.Info("telegram login rejected", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	u, err := h.service.EnsureUser(r.Context(), identity.ID, identity.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, u.ID)
	h.writeJSON(w, http.StatusOK, newUserResponse(u))
}

// Me возвращает текущего пользователя.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	u, err := h.service.GetUser(r.Context(), actor.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newUserResponse(u))
}

// ClaimOwner делает текущего пользователя владельцем платформы, если владельца нет.
func (h *Handler) ClaimOwner(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	u, err := h.service.ClaimOwnership(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newUserResponse(u))
}

// ListUsers возвращает всех пользователей платформы.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	users, err := h.service.ListUsers(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for i := range users {
		resp = append(resp, newUserResponse(&users[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type roleRequest struct {
	Role model.Role `json:"role"`
}

// SetUserRole меняет роль пользователя.
func (h *Handler) SetUserRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	userID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var req roleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	u, err := h.service.SetUserRole(r.Context(), actor, userID, req.Role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newUserResponse(u))
}

type createDealRequest struct {
	Type          model.DealType  `json:"type"`
	Crypto        string          `json:"crypto"`
	Amount        decimal.Decimal `json:"amount"`
	Rate          decimal.Decimal `json:"rate"`
	PaymentMethod string          `json:"payment_method"`
}

// CreateDeal создаёт сделку текущего пользователя.
func (h *Handler) CreateDeal(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req createDealRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := validation.CheckAmount(req.Amount); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	d, err := h.service.CreateDeal(r.Context(), actor, service.CreateDealParams{
		Type:          req.Type,
		Crypto:        req.Crypto,
		Amount:        req.Amount,
		Rate:          req.Rate,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, newDealResponse(d))
}

// ListDeals возвращает сделки по фильтру из параметров status, type, user_id и limit.
func (h *Handler) ListDeals(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	f := model.DealFilter{
		Status: model.DealStatus(q.Get("status")),
		Type:   model.DealType(q.Get("type")),
	}
	if v := q.Get("user_id"); v != "" {
		id, err := validation.ParseID(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.UserID = id
	}
	if v := q.Get("limit"); v != "" {
		limit, err := validation.ParseID(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.Limit = int(limit)
	}

	deals, err := h.service.ListDeals(r.Context(), actor, f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(deals) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]dealResponse, 0, len(deals))
	for i := range deals {
		resp = append(resp, newDealResponse(&deals[i]))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetDeal возвращает сделку с журналом и шкалой прогресса.
func (h *Handler) GetDeal(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	details, err := h.service.GetDeal(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newDealDetailsResponse(details))
}

type actionRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// DealAction применяет действие администратора к сделке.
func (h *Handler) DealAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var req actionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	d, err := h.service.TransitionDeal(r.Context(), id, service.DealAction(req.Action), actor, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newDealResponse(d))
}

type noteRequest struct {
	Text string `json:"text"`
}

// AddDealNote добавляет заметку в журнал сделки.
func (h *Handler) AddDealNote(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var req noteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	entry, err := h.service.AddDealNote(r.Context(), actor, id, req.Text)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, newLogResponse(entry))
}

// QuoteFee рассчитывает комиссию и объём криптовалюты для amount, crypto и rate.
func (h *Handler) QuoteFee(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	amount, err := validation.ParseAmount(q.Get("amount"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rate, err := validation.ParseRate(q.Get("rate"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	quote, err := h.service.QuoteDeal(r.Context(), actor, q.Get("crypto"), amount, rate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newQuoteResponse(quote))
}

// GetFeeConfig возвращает действующие настройки комиссии.
func (h *Handler) GetFeeConfig(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	cfg, err := h.service.FeeConfig(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cfg)
}

// UpdateFeeConfig изменяет настройки комиссии. Значения принимаются строками или числами.
func (h *Handler) UpdateFeeConfig(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var raw map[string]json.RawMessage
	if err := decodeJSON(w, r, &raw); err != nil {
		writeDecodeError(w, err)
		return
	}
	entries, err := configEntries(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cfg, err := h.service.UpdateFeeConfig(r.Context(), actor, entries)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cfg)
}

func configEntries(raw map[string]json.RawMessage) (map[string]string, error) {
	entries := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			entries[k] = s
			continue
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err != nil {
			return nil, fmt.Errorf("%w: %s must be a string or a number", validation.ErrInvalid, k)
		}
		entries[k] = n.String()
	}
	return entries, nil
}

// Prices возвращает рыночные курсы криптовалют.
func (h *Handler) Prices(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	snap, err := h.service.Prices(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newPricesResponse(snap))
}

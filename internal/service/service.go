// Package service реализует жизненный цикл сделок с ручным эскроу.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/escrowdesk/internal/authz"
	"github.com/mmeshcher/escrowdesk/internal/model"
	"github.com/mmeshcher/escrowdesk/internal/pricefeed"
	"github.com/mmeshcher/escrowdesk/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	EnsureUser(ctx context.Context, id int64, name string) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	SetUserRole(ctx context.Context, id int64, role model.Role) (*model.User, error)
	ClaimOwnership(ctx context.Context, id int64) (*model.User, error)

	CreateDeal(ctx context.Context, d *model.Deal, entry model.DealLog) (*model.Deal, error)
	GetDeal(ctx context.Context, id int64) (*model.Deal, error)
	FindActiveDealByUser(ctx context.Context, userID int64) (*model.Deal, error)
	ListDeals(ctx context.Context, f model.DealFilter) ([]model.Deal, error)
	TransitionDeal(ctx context.Context, id int64, from, to model.DealStatus, entry model.DealLog) (*model.Deal, error)
	AppendDealLog(ctx context.Context, entry model.DealLog) (*model.DealLog, error)
	ListDealLogs(ctx context.Context, dealID int64) ([]model.DealLog, error)

	GetConfig(ctx context.Context) (model.FeeConfig, error)
	SetConfig(ctx context.Context, entries map[string]string) error
	SeedConfig(ctx context.Context, entries map[string]string) error
}

// PriceFeed — источник рыночных курсов.
type PriceFeed interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
	Snapshot(ctx context.Context) pricefeed.Snapshot
}

// SupportedCryptos перечисляет монеты, по которым принимаются сделки.
var SupportedCryptos = []string{"USDT", "BTC", "ETH", "BNB", "ADA", "DOT", "MATIC"}

// PaymentMethods перечисляет способы оплаты фиатной части сделки.
var PaymentMethods = []string{"UPI", "Bank Transfer", "PayTM", "PhonePe", "GPay", "Cash"}

// Service содержит бизнес-логику платформы.
type Service struct {
	repo   Repository
	prices PriceFeed
	logger *zap.Logger
}

// NewService создаёт сервис. prices может быть nil, тогда курс сделки обязателен.
func NewService(repo Repository, prices PriceFeed, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		prices: prices,
		logger: logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func authorize(actor model.Actor, action authz.Action) error {
	if actor.Role == model.RoleBanned {
		return ErrBanned
	}
	if !authz.Allowed(actor.Role, action) {
		return fmt.Errorf("%w: role %q cannot %s", ErrForbidden, actor.Role, action)
	}
	return nil
}

// CreateDealParams — параметры новой сделки.
// Нулевой Rate означает «взять текущий рыночный курс».
type CreateDealParams struct {
	Type          model.DealType
	Crypto        string
	Amount        decimal.Decimal
	Rate          decimal.Decimal
	PaymentMethod string
}

func normalizeCrypto(symbol string) (string, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, c := range SupportedCryptos {
		if c == symbol {
			return c, true
		}
	}
	return "", false
}

func normalizePaymentMethod(method string) (string, bool) {
	method = strings.TrimSpace(method)
	for _, m := range PaymentMethods {
		if strings.EqualFold(m, method) {
			return m, true
		}
	}
	return "", false
}

func (s *Service) validateDeal(ctx context.Context, p CreateDealParams) (CreateDealParams, error) {
	if !p.Type.Valid() {
		return p, fmt.Errorf("%w: unknown deal type %q", ErrInvalidDeal, p.Type)
	}
	if !p.Amount.IsPositive() {
		return p, fmt.Errorf("%w: amount must be positive", ErrInvalidDeal)
	}
	if p.Amount.GreaterThanOrEqual(model.MaxDealValue) {
		return p, fmt.Errorf("%w: amount must be less than %s", ErrInvalidDeal, model.MaxDealValue)
	}
	if p.Rate.IsNegative() {
		return p, fmt.Errorf("%w: rate must not be negative", ErrInvalidDeal)
	}

	crypto, ok := normalizeCrypto(p.Crypto)
	if !ok {
		return p, fmt.Errorf("%w: unsupported crypto %q", ErrInvalidDeal, p.Crypto)
	}
	p.Crypto = crypto

	method, ok := normalizePaymentMethod(p.PaymentMethod)
	if !ok {
		return p, fmt.Errorf("%w: unsupported payment method %q", ErrInvalidDeal, p.PaymentMethod)
	}
	p.PaymentMethod = method

	if p.Rate.IsZero() {
		if s.prices == nil {
			return p, fmt.Errorf("%w: rate is required", ErrInvalidDeal)
		}
		rate, err := s.prices.Price(ctx, p.Crypto)
		if err != nil || !rate.IsPositive() {
			return p, fmt.Errorf("%w: no market rate for %s", ErrInvalidDeal, p.Crypto)
		}
		p.Rate = rate
	}
	if p.Rate.Round(8).GreaterThanOrEqual(model.MaxDealValue) {
		return p, fmt.Errorf("%w: rate must be less than %s", ErrInvalidDeal, model.MaxDealValue)
	}

	return p, nil
}

// CreateDeal создаёт сделку от имени actor в статусе pending.
// У пользователя может быть только одна активная сделка.
func (s *Service) CreateDeal(ctx context.Context, actor model.Actor, p CreateDealParams) (*model.Deal, error) {
	if err := authorize(actor, authz.ActionCreateDeal); err != nil {
		return nil, err
	}

	p, err := s.validateDeal(ctx, p)
	if err != nil {
		return nil, err
	}

	active, err := s.repo.FindActiveDealByUser(ctx, actor.ID)
	switch {
	case err == nil && active != nil:
		return nil, ErrActiveDeal
	case err != nil && !errors.Is(err, repository.ErrDealNotFound):
		return nil, mapRepoErr("find active deal", err)
	}

	fee, err := s.ComputeFee(ctx, p.Amount)
	if err != nil {
		return nil, err
	}

	d := &model.Deal{
		UserID:        actor.ID,
		Type:          p.Type,
		Crypto:        p.Crypto,
		Amount:        p.Amount,
		Rate:          p.Rate,
		PaymentMethod: p.PaymentMethod,
		Fee:           fee,
		Status:        model.DealStatusPending,
	}
	entry := model.DealLog{
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    "Deal created",
		ToStatus:  model.DealStatusPending,
	}

	created, err := s.repo.CreateDeal(ctx, d, entry)
	if err != nil {
		return nil, mapRepoErr("create deal", err)
	}

	s.logger.Info("deal created",
		zap.Int64("deal_id", created.ID),
		zap.Int64("user_id", created.UserID),
		zap.String("type", string(created.Type)),
		zap.String("crypto", created.Crypto),
		zap.String("amount", created.Amount.String()),
		zap.String("fee", created.Fee.String()),
	)
	return created, nil
}

// TransitionDeal применяет действие к сделке и пишет запись в журнал в той же транзакции.
// Комиссия при переходе не пересчитывается.
func (s *Service) TransitionDeal(ctx context.Context, dealID int64, action DealAction, actor model.Actor, reason string) (*model.Deal, error) {
	parsed, ok := ParseDealAction(string(action))
	if !ok {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
	action = parsed
	if err := authorize(actor, action.GuardAction()); err != nil {
		return nil, err
	}

	d, err := s.repo.GetDeal(ctx, dealID)
	if err != nil {
		return nil, mapRepoErr("get deal", err)
	}

	to, legal := NextStatus(d.Status, action)
	if !legal {
		return nil, fmt.Errorf("%w: cannot %s a deal in status %s", ErrInvalidTransition, action, d.Status)
	}

	reason = strings.TrimSpace(reason)
	entry := model.DealLog{
		DealID:     d.ID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Action:     transitionLogText(to, reason),
		FromStatus: d.Status,
		ToStatus:   to,
		Reason:     reason,
	}

	updated, err := s.repo.TransitionDeal(ctx, d.ID, d.Status, to, entry)
	if err != nil {
		return nil, mapRepoErr("transition deal", err)
	}

	s.logger.Info("deal status changed",
		zap.Int64("deal_id", updated.ID),
		zap.String("action", string(action)),
		zap.String("from", string(d.Status)),
		zap.String("to", string(to)),
		zap.Int64("actor_id", actor.ID),
	)
	return updated, nil
}

// ListDeals возвращает сделки по фильтру. Пользователь видит только свои сделки.
func (s *Service) ListDeals(ctx context.Context, actor model.Actor, f model.DealFilter) ([]model.Deal, error) {
	if err := authorize(actor, authz.ActionViewOwnDeals); err != nil {
		return nil, err
	}
	if !authz.Allowed(actor.Role, authz.ActionViewAllDeals) {
		f.UserID = actor.ID
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidDeal, f.Status)
	}
	if f.Type != "" && !f.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown deal type %q", ErrInvalidDeal, f.Type)
	}
	if f.Limit < 0 {
		f.Limit = 0
	}

	deals, err := s.repo.ListDeals(ctx, f)
	if err != nil {
		return nil, mapRepoErr("list deals", err)
	}
	return deals, nil
}

// DealDetails содержит сделку и её журнал.
type DealDetails struct {
	Deal *model.Deal
	Logs []model.DealLog
}

// GetDeal возвращает сделку с журналом. Чужие сделки доступны только администраторам.
func (s *Service) GetDeal(ctx context.Context, actor model.Actor, id int64) (*DealDetails, error) {
	if err := authorize(actor, authz.ActionViewOwnDeals); err != nil {
		return nil, err
	}

	d, err := s.repo.GetDeal(ctx, id)
	if err != nil {
		return nil, mapRepoErr("get deal", err)
	}
	if d.UserID != actor.ID && !authz.Allowed(actor.Role, authz.ActionViewAllDeals) {
		return nil, fmt.Errorf("%w: deal belongs to another user", ErrForbidden)
	}

	logs, err := s.repo.ListDealLogs(ctx, id)
	if err != nil {
		return nil, mapRepoErr("list deal logs", err)
	}

	return &DealDetails{Deal: d, Logs: logs}, nil
}

// AddDealNote добавляет в журнал сделки заметку администратора. Статус не меняется.
func (s *Service) AddDealNote(ctx context.Context, actor model.Actor, dealID int64, text string) (*model.DealLog, error) {
	if err := authorize(actor, authz.ActionAnnotateDeal); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: note text is empty", ErrInvalidDeal)
	}

	entry, err := s.repo.AppendDealLog(ctx, model.DealLog{
		DealID:    dealID,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    "Note: " + text,
	})
	if err != nil {
		return nil, mapRepoErr("append deal log", err)
	}
	return entry, nil
}

// Prices возвращает снимок рыночных курсов.
func (s *Service) Prices(ctx context.Context, actor model.Actor) (pricefeed.Snapshot, error) {
	if err := authorize(actor, authz.ActionViewPrices); err != nil {
		return pricefeed.Snapshot{}, err
	}
	if s.prices == nil {
		return pricefeed.Snapshot{}, nil
	}
	return s.prices.Snapshot(ctx), nil
}

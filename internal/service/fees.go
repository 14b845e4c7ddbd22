package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/escrowdesk/internal/authz"
	"github.com/mmeshcher/escrowdesk/internal/fee"
	"github.com/mmeshcher/escrowdesk/internal/model"
)

func (s *Service) policy(ctx context.Context) (fee.Policy, error) {
	cfg, err := s.repo.GetConfig(ctx)
	if err != nil {
		return fee.Policy{}, mapRepoErr("get config", err)
	}
	p, err := fee.Parse(cfg)
	if err != nil {
		return fee.Policy{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return p, nil
}

// ComputeFee рассчитывает комиссию для суммы по текущим настройкам.
func (s *Service) ComputeFee(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: amount must be positive", ErrInvalidDeal)
	}
	p, err := s.policy(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return p.Fee(amount), nil
}

// Quote — предварительный расчёт сделки.
type Quote struct {
	Amount       decimal.Decimal
	Rate         decimal.Decimal
	Fee          decimal.Decimal
	FeePayer     string
	CryptoAmount decimal.Decimal
}

// QuoteDeal считает комиссию и объём криптовалюты без создания сделки.
// Нулевой rate заменяется рыночным курсом, если crypto известна.
func (s *Service) QuoteDeal(ctx context.Context, actor model.Actor, crypto string, amount, rate decimal.Decimal) (*Quote, error) {
	if err := authorize(actor, authz.ActionQuoteFee); err != nil {
		return nil, err
	}

	p, err := s.policy(ctx)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidDeal)
	}

	if rate.IsZero() && crypto != "" && s.prices != nil {
		if symbol, ok := normalizeCrypto(crypto); ok {
			if r, err := s.prices.Price(ctx, symbol); err == nil {
				rate = r
			}
		}
	}

	q := &Quote{
		Amount:   amount,
		Rate:     rate,
		Fee:      p.Fee(amount),
		FeePayer: string(p.Payer),
	}
	if rate.IsPositive() {
		d := model.Deal{Amount: amount, Rate: rate}
		q.CryptoAmount = d.CryptoAmount()
	}
	return q, nil
}

// policyConfig возвращает действующие настройки с подставленными значениями по умолчанию.
func policyConfig(p fee.Policy) model.FeeConfig {
	return model.FeeConfig{
		model.ConfigFeeType:  string(p.Type),
		model.ConfigFeeValue: p.Value.String(),
		model.ConfigFeePayer: string(p.Payer),
		model.ConfigMinFee:   p.Min.String(),
		model.ConfigMaxFee:   p.Max.String(),
	}
}

// FeeConfig возвращает действующие настройки комиссии.
func (s *Service) FeeConfig(ctx context.Context, actor model.Actor) (model.FeeConfig, error) {
	if err := authorize(actor, authz.ActionViewFeeConfig); err != nil {
		return nil, err
	}
	p, err := s.policy(ctx)
	if err != nil {
		return nil, err
	}
	return policyConfig(p), nil
}

func validateFeeEntries(current model.FeeConfig, entries map[string]string) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: no settings given", ErrInvalidConfig)
	}
	for k := range entries {
		if !model.IsFeeConfigKey(k) {
			return fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, k)
		}
	}
	if _, err := fee.Parse(current.Merge(entries)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// UpdateFeeConfig изменяет настройки комиссии. Итоговая политика проверяется
// до записи, поэтому некорректные настройки не сохраняются.
// Уже созданные сделки сохраняют свою комиссию.
func (s *Service) UpdateFeeConfig(ctx context.Context, actor model.Actor, entries map[string]string) (model.FeeConfig, error) {
	if err := authorize(actor, authz.ActionEditFeeConfig); err != nil {
		return nil, err
	}

	current, err := s.repo.GetConfig(ctx)
	if err != nil {
		return nil, mapRepoErr("get config", err)
	}
	if err := validateFeeEntries(current, entries); err != nil {
		return nil, err
	}

	if err := s.repo.SetConfig(ctx, entries); err != nil {
		return nil, mapRepoErr("set config", err)
	}

	s.logger.Info("fee config updated", zap.Int64("actor_id", actor.ID), zap.Any("entries", entries))
	return s.FeeConfig(ctx, actor)
}

// SeedFeeConfig записывает начальные настройки при старте. Уже сохранённые ключи не меняются.
func (s *Service) SeedFeeConfig(ctx context.Context, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}

	current, err := s.repo.GetConfig(ctx)
	if err != nil {
		return mapRepoErr("get config", err)
	}
	if err := validateFeeEntries(current, entries); err != nil {
		return err
	}

	if err := s.repo.SeedConfig(ctx, entries); err != nil {
		return mapRepoErr("seed config", err)
	}
	return nil
}

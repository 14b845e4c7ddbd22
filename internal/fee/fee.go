// Package fee рассчитывает комиссию платформы по сумме сделки.
package fee

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/escrowdesk/internal/model"
)

// Type определяет способ расчёта комиссии.
type Type string

const (
	TypePercentage Type = "percentage"
	TypeFixed      Type = "fixed"
)

// Payer определяет сторону сделки, оплачивающую комиссию.
type Payer string

const (
	PayerSeller Payer = "seller"
	PayerBuyer  Payer = "buyer"
)

// Valid сообщает, известна ли сторона.
func (p Payer) Valid() bool {
	return p == PayerSeller || p == PayerBuyer
}

// Значения по умолчанию для отсутствующих ключей конфигурации.
var (
	DefaultType  = TypePercentage
	DefaultValue = decimal.RequireFromString("1.5")
	DefaultMin   = decimal.NewFromInt(50)
	DefaultMax   = decimal.NewFromInt(500)
	DefaultPayer = PayerSeller
)

// ErrInvalidConfig возвращается, если настройки комиссии нельзя разобрать.
var ErrInvalidConfig = errors.New("invalid fee config")

// Policy — разобранные настройки комиссии.
type Policy struct {
	Type  Type
	Value decimal.Decimal
	Payer Payer
	Min   decimal.Decimal
	Max   decimal.Decimal
}

// DefaultPolicy возвращает политику по умолчанию.
func DefaultPolicy() Policy {
	return Policy{
		Type:  DefaultType,
		Value: DefaultValue,
		Payer: DefaultPayer,
		Min:   DefaultMin,
		Max:   DefaultMax,
	}
}

// Parse разбирает строковые настройки, подставляя значения по умолчанию.
func Parse(cfg model.FeeConfig) (Policy, error) {
	p := DefaultPolicy()

	if v := cfg[model.ConfigFeeType]; v != "" {
		switch Type(v) {
		case TypePercentage, TypeFixed:
			p.Type = Type(v)
		default:
			return Policy{}, fmt.Errorf("%w: unknown fee_type %q", ErrInvalidConfig, v)
		}
	}
	if v := cfg[model.ConfigFeePayer]; v != "" {
		if !Payer(v).Valid() {
			return Policy{}, fmt.Errorf("%w: unknown fee_payer %q", ErrInvalidConfig, v)
		}
		p.Payer = Payer(v)
	}

	var err error
	if p.Value, err = parseAmount(cfg, model.ConfigFeeValue, p.Value); err != nil {
		return Policy{}, err
	}
	if p.Min, err = parseAmount(cfg, model.ConfigMinFee, p.Min); err != nil {
		return Policy{}, err
	}
	if p.Max, err = parseAmount(cfg, model.ConfigMaxFee, p.Max); err != nil {
		return Policy{}, err
	}

	if p.Min.GreaterThan(p.Max) {
		return Policy{}, fmt.Errorf("%w: min_fee %s exceeds max_fee %s", ErrInvalidConfig, p.Min, p.Max)
	}

	return p, nil
}

func parseAmount(cfg model.FeeConfig, key string, def decimal.Decimal) (decimal.Decimal, error) {
	raw, ok := cfg[key]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s=%q", ErrInvalidConfig, key, raw)
	}
	if v.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, key)
	}
	return v, nil
}

// Fee возвращает комиссию для суммы сделки.
// Результат ограничен [Min, Max] и округлён до копеек половиной от нуля.
func (p Policy) Fee(amount decimal.Decimal) decimal.Decimal {
	var fee decimal.Decimal
	if p.Type == TypeFixed {
		fee = p.Value
	} else {
		fee = amount.Mul(p.Value).Div(decimal.NewFromInt(100))
	}

	fee = decimal.Max(p.Min, decimal.Min(p.Max, fee))

	return fee.Round(2)
}

// Compute разбирает настройки и рассчитывает комиссию.
func Compute(amount decimal.Decimal, cfg model.FeeConfig) (decimal.Decimal, error) {
	p, err := Parse(cfg)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return p.Fee(amount), nil
}

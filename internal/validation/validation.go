// Package validation содержит разбор и проверку входных параметров запросов.
package validation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalid возвращается для любого некорректного параметра.
var ErrInvalid = errors.New("invalid parameter")

const maxFiatDecimals = 2

// ParseID разбирает положительный целый идентификатор сделки или пользователя.
func ParseID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty id", ErrInvalid)
	}
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return 0, fmt.Errorf("%w: id %q is not a number", ErrInvalid, s)
		}
	}

	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: id %q out of range", ErrInvalid, s)
	}
	return id, nil
}

// ParseAmount разбирает положительную фиатную сумму не более чем с двумя знаками после запятой.
// Допускаются разделители разрядов "," и "_".
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(",", "", "_", "").Replace(s)
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: empty amount", ErrInvalid)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: amount %q is not a number", ErrInvalid, s)
	}
	if err := CheckAmount(d); err != nil {
		return decimal.Decimal{}, err
	}
	return d, nil
}

// CheckAmount проверяет уже разобранную фиатную сумму.
func CheckAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalid)
	}
	if -d.Exponent() > maxFiatDecimals && !d.Equal(d.Truncate(maxFiatDecimals)) {
		return fmt.Errorf("%w: amount %s has more than %d decimals", ErrInvalid, d, maxFiatDecimals)
	}
	return nil
}

// ParseRate разбирает курс сделки. Пустая строка означает рыночный курс и даёт ноль.
func ParseRate(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: rate %q", ErrInvalid, s)
	}
	return d, nil
}

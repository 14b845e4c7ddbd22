package fee

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/escrowdesk/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCompute(t *testing.T) {
	standard := model.FeeConfig{
		model.ConfigFeeType:  "percentage",
		model.ConfigFeeValue: "1.5",
		model.ConfigMinFee:   "50",
		model.ConfigMaxFee:   "500",
	}

	tests := []struct {
		name   string
		amount string
		cfg    model.FeeConfig
		want   string
	}{
		{name: "percentage within bounds", amount: "10000", cfg: standard, want: "150.00"},
		{name: "clamped to min", amount: "1000", cfg: standard, want: "50.00"},
		{name: "clamped to max", amount: "100000", cfg: standard, want: "500.00"},
		{name: "empty config uses defaults", amount: "10000", cfg: model.FeeConfig{}, want: "150.00"},
		{name: "nil config uses defaults", amount: "5000", cfg: nil, want: "75.00"},
		{
			name:   "fixed fee",
			amount: "123456",
			cfg:    model.FeeConfig{model.ConfigFeeType: "fixed", model.ConfigFeeValue: "99"},
			want:   "99.00",
		},
		{
			name:   "fixed fee still clamped",
			amount: "10",
			cfg:    model.FeeConfig{model.ConfigFeeType: "fixed", model.ConfigFeeValue: "10"},
			want:   "50.00",
		},
		{
			name:   "zero min fee",
			amount: "1000",
			cfg:    model.FeeConfig{model.ConfigFeeValue: "1.5", model.ConfigMinFee: "0"},
			want:   "15.00",
		},
		{
			name:   "third decimal five rounds away from zero",
			amount: "4567",
			cfg:    model.FeeConfig{model.ConfigFeeValue: "1.5", model.ConfigMinFee: "0"},
			want:   "68.51",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(dec(tt.amount), tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestCompute_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  model.FeeConfig
	}{
		{name: "unknown type", cfg: model.FeeConfig{model.ConfigFeeType: "tiered"}},
		{name: "bad value", cfg: model.FeeConfig{model.ConfigFeeValue: "abc"}},
		{name: "negative min", cfg: model.FeeConfig{model.ConfigMinFee: "-1"}},
		{name: "min above max", cfg: model.FeeConfig{model.ConfigMinFee: "600", model.ConfigMaxFee: "500"}},
		{name: "unknown payer", cfg: model.FeeConfig{model.ConfigFeePayer: "user"}},
		{name: "markup payer", cfg: model.FeeConfig{model.ConfigFeePayer: "<b>nobody</b>"}},
		{name: "payer case", cfg: model.FeeConfig{model.ConfigFeePayer: "Seller"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(dec("1000"), tt.cfg)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestFee_StaysWithinBounds(t *testing.T) {
	configs := []model.FeeConfig{
		{},
		{model.ConfigFeeValue: "0.1", model.ConfigMinFee: "10", model.ConfigMaxFee: "20"},
		{model.ConfigFeeType: "fixed", model.ConfigFeeValue: "1000"},
		{model.ConfigFeeValue: "7.25", model.ConfigMinFee: "0.5", model.ConfigMaxFee: "999.99"},
	}
	amounts := []string{"0.01", "1", "999.99", "3333.33", "10000", "1234567.89"}

	for _, cfg := range configs {
		p, err := Parse(cfg)
		require.NoError(t, err)

		for _, a := range amounts {
			got := p.Fee(dec(a))
			assert.True(t, got.GreaterThanOrEqual(p.Min), "fee %s below min %s for %s", got, p.Min, a)
			assert.True(t, got.LessThanOrEqual(p.Max), "fee %s above max %s for %s", got, p.Max, a)

			again := p.Fee(dec(a))
			assert.True(t, got.Equal(again), "fee must be deterministic")
		}
	}
}

func TestParse_Defaults(t *testing.T) {
	p, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, TypePercentage, p.Type)
	assert.True(t, p.Value.Equal(dec("1.5")))
	assert.True(t, p.Min.Equal(dec("50")))
	assert.True(t, p.Max.Equal(dec("500")))
	assert.Equal(t, PayerSeller, p.Payer)
}

func TestParse_Payer(t *testing.T) {
	p, err := Parse(model.FeeConfig{model.ConfigFeePayer: "buyer"})
	require.NoError(t, err)
	assert.Equal(t, PayerBuyer, p.Payer)
}

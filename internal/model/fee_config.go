package model

// Ключи настроек комиссии в таблице config.
const (
	ConfigFeeType  = "fee_type"
	ConfigFeeValue = "fee_value"
	ConfigFeePayer = "fee_payer"
	ConfigMinFee   = "min_fee"
	ConfigMaxFee   = "max_fee"
)

// FeeConfigKeys перечисляет все допустимые ключи настроек комиссии.
var FeeConfigKeys = []string{
	ConfigFeeType,
	ConfigFeeValue,
	ConfigFeePayer,
	ConfigMinFee,
	ConfigMaxFee,
}

// IsFeeConfigKey сообщает, относится ли ключ к настройкам комиссии.
func IsFeeConfigKey(key string) bool {
	for _, k := range FeeConfigKeys {
		if k == key {
			return true
		}
	}
	return false
}

// FeeConfig — набор настроек комиссии в строковом виде, как они хранятся.
type FeeConfig map[string]string

// Merge возвращает копию настроек, поверх которых записаны entries.
func (c FeeConfig) Merge(entries map[string]string) FeeConfig {
	out := make(FeeConfig, len(c)+len(entries))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range entries {
		out[k] = v
	}
	return out
}

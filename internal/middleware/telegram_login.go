package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultLoginMaxAge ограничивает возраст данных виджета входа Telegram.
	DefaultLoginMaxAge = 24 * time.Hour

	loginClockSkew = time.Minute
)

var (
	// ErrLoginDisabled возвращается, если токен бота не настроен и проверить вход нечем.
	ErrLoginDisabled = errors.New("telegram login is not configured")
	// ErrLoginInvalid возвращается для данных входа с неверной подписью или без обязательных полей.
	ErrLoginInvalid = errors.New("invalid telegram login data")
	// ErrLoginExpired возвращается для устаревшего auth_date.
	ErrLoginExpired = fmt.Errorf("%w: auth_date expired", ErrLoginInvalid)
)

// TelegramIdentity — пользователь, подтверждённый подписью Telegram.
type TelegramIdentity struct {
	ID   int64
	Name string
}

// TelegramLogin проверяет данные виджета Telegram Login.
// Ключ подписи равен SHA256 от токена бота.
type TelegramLogin struct {
	secretKey []byte
	maxAge    time.Duration
	now       func() time.Time
}

// NewTelegramLogin создаёт проверку входа. Пустой токен отключает вход.
func NewTelegramLogin(botToken string, maxAge time.Duration) *TelegramLogin {
	if maxAge <= 0 {
		maxAge = DefaultLoginMaxAge
	}

	t := &TelegramLogin{maxAge: maxAge, now: time.Now}
	if botToken != "" {
		sum := sha256.Sum256([]byte(botToken))
		t.secretKey = sum[:]
	}
	return t
}

// Enabled сообщает, настроен ли токен бота.
func (t *TelegramLogin) Enabled() bool {
	return t != nil && len(t.secretKey) > 0
}

// dataCheckString собирает строку key=value по всем полям, кроме hash, в порядке ключей.
func dataCheckString(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != "hash" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+fields[k])
	}
	return strings.Join(lines, "\n")
}

// Sign возвращает подпись полей в формате поля hash.
func (t *TelegramLogin) Sign(fields map[string]string) string {
	mac := hmac.New(sha256.New, t.secretKey)
	mac.Write([]byte(dataCheckString(fields)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify проверяет подпись и свежесть данных входа.
func (t *TelegramLogin) Verify(fields map[string]string) (TelegramIdentity, error) {
	if !t.Enabled() {
		return TelegramIdentity{}, ErrLoginDisabled
	}

	hash := strings.ToLower(fields["hash"])
	if hash == "" {
		return TelegramIdentity{}, fmt.Errorf("%w: hash is missing", ErrLoginInvalid)
	}
	if !hmac.Equal([]byte(hash), []byte(t.Sign(fields))) {
		return TelegramIdentity{}, fmt.Errorf("%w: hash mismatch", ErrLoginInvalid)
	}

	authDate, err := strconv.ParseInt(fields["auth_date"], 10, 64)
	if err != nil {
		return TelegramIdentity{}, fmt.Errorf("%w: bad auth_date", ErrLoginInvalid)
	}
	signedAt := time.Unix(authDate, 0)
	now := t.now()
	if now.Sub(signedAt) > t.maxAge || signedAt.Sub(now) > loginClockSkew {
		return TelegramIdentity{}, ErrLoginExpired
	}

	id, err := strconv.ParseInt(fields["id"], 10, 64)
	if err != nil || id <= 0 {
		return TelegramIdentity{}, fmt.Errorf("%w: bad id", ErrLoginInvalid)
	}

	name := strings.TrimSpace(fields["first_name"] + " " + fields["last_name"])
	if name == "" {
		name = fields["username"]
	}
	return TelegramIdentity{ID: id, Name: name}, nil
}

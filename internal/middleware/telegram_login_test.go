package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBotToken = "123456:TEST-token"

// widgetHash считает подпись так, как её считает Telegram для виджета входа.
func widgetHash(token, dataCheck string) string {
	key := sha256.Sum256([]byte(token))
	mac := hmac.New(sha256.New, key[:])
	mac.Write([]byte(dataCheck))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestTelegramLogin_Verify(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := NewTelegramLogin(testBotToken, time.Hour)
	l.now = func() time.Time { return now }

	authDate := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
	fields := map[string]string{
		"id":         "777",
		"first_name": "Asha",
		"last_name":  "Rao",
		"username":   "asha",
		"auth_date":  authDate,
	}
	fields["hash"] = widgetHash(testBotToken,
		"auth_date="+authDate+"\nfirst_name=Asha\nid=777\nlast_name=Rao\nusername=asha")

	identity, err := l.Verify(fields)
	require.NoError(t, err)
	assert.Equal(t, TelegramIdentity{ID: 777, Name: "Asha Rao"}, identity)
	assert.Equal(t, fields["hash"], l.Sign(fields))
}

func TestTelegramLogin_Rejects(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := NewTelegramLogin(testBotToken, time.Hour)
	l.now = func() time.Time { return now }

	signed := func(id string, at time.Time) map[string]string {
		f := map[string]string{"id": id, "first_name": "Asha", "auth_date": strconv.FormatInt(at.Unix(), 10)}
		f["hash"] = l.Sign(f)
		return f
	}

	forged := signed("777", now)
	forged["id"] = "1"

	otherBot := map[string]string{"id": "777", "auth_date": strconv.FormatInt(now.Unix(), 10)}
	otherBot["hash"] = widgetHash("654321:OTHER", dataCheckString(otherBot))

	noHash := signed("777", now)
	delete(noHash, "hash")

	tests := []struct {
		name   string
		fields map[string]string
		want   error
	}{
		{"forged id", forged, ErrLoginInvalid},
		{"other bot token", otherBot, ErrLoginInvalid},
		{"missing hash", noHash, ErrLoginInvalid},
		{"stale auth_date", signed("777", now.Add(-2*time.Hour)), ErrLoginExpired},
		{"auth_date in future", signed("777", now.Add(time.Hour)), ErrLoginExpired},
		{"non-positive id", signed("0", now), ErrLoginInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Verify(tt.fields)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTelegramLogin_DisabledWithoutToken(t *testing.T) {
	l := NewTelegramLogin("", 0)
	assert.False(t, l.Enabled())

	_, err := l.Verify(map[string]string{"id": "1", "auth_date": "1", "hash": "00"})
	require.ErrorIs(t, err, ErrLoginDisabled)

	var missing *TelegramLogin
	_, err = missing.Verify(nil)
	require.ErrorIs(t, err, ErrLoginDisabled)
}

func TestTelegramLogin_UsernameFallback(t *testing.T) {
	l := NewTelegramLogin(testBotToken, 0)
	f := map[string]string{"id": "5", "username": "trader5", "auth_date": strconv.FormatInt(time.Now().Unix(), 10)}
	f["hash"] = l.Sign(f)

	identity, err := l.Verify(f)
	require.NoError(t, err)
	assert.Equal(t, "trader5", identity.Name)
}

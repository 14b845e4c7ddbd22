package bot

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/escrowdesk/internal/model"
	"github.com/mmeshcher/escrowdesk/internal/repository"
	"github.com/mmeshcher/escrowdesk/internal/service"
)

type fakeAPI struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	updates chan tgbotapi.Update
	stopped bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{updates: make(chan tgbotapi.Update, 16)}
}

func (f *fakeAPI) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

func (f *fakeAPI) last(t *testing.T) string {
	t.Helper()
	msgs := f.messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1].Text
}

const (
	userID  int64 = 11
	adminID int64 = 22
)

func newTestBot(t *testing.T) (*Bot, *fakeAPI, *service.Service) {
	t.Helper()

	repo := repository.NewMemoryRepository()
	ctx := context.Background()
	_, err := repo.EnsureUser(ctx, userID, "alice")
	require.NoError(t, err)
	_, err = repo.EnsureUser(ctx, adminID, "bob")
	require.NoError(t, err)
	_, err = repo.SetUserRole(ctx, adminID, model.RoleAdmin)
	require.NoError(t, err)

	svc := service.NewService(repo, nil, nil)
	api := newFakeAPI()
	return New(api, svc, nil, 2), api, svc
}

func message(from int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: from, FirstName: "tester"},
			Chat: &tgbotapi.Chat{ID: from},
			Text: text,
		},
	}
}

func createDeal(t *testing.T, svc *service.Service) *model.Deal {
	t.Helper()
	d, err := svc.CreateDeal(context.Background(), model.Actor{ID: userID, Role: model.RoleUser}, service.CreateDealParams{
		Type:          model.DealTypeBuy,
		Crypto:        "USDT",
		Amount:        decimal.NewFromInt(5000),
		Rate:          decimal.NewFromInt(86),
		PaymentMethod: "UPI",
	})
	require.NoError(t, err)
	return d
}

func TestHandleUpdate_StaticCommands(t *testing.T) {
	b, api, _ := newTestBot(t)

	b.handleUpdate(context.Background(), message(userID, "/start"))
	assert.Contains(t, api.last(t), "Welcome")

	b.handleUpdate(context.Background(), message(userID, "/help@EscrowDeskBot"))
	assert.Contains(t, api.last(t), "/approve")

	b.handleUpdate(context.Background(), message(userID, "/nope"))
	assert.Equal(t, textUnknown, api.last(t))

	msgs := api.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, tgbotapi.ModeHTML, msgs[0].ParseMode)
	assert.Equal(t, userID, msgs[0].ChatID)
}

func TestHandleUpdate_IgnoresPlainText(t *testing.T) {
	b, api, _ := newTestBot(t)

	b.handleUpdate(context.Background(), message(userID, "hello there"))
	b.handleUpdate(context.Background(), tgbotapi.Update{})

	assert.Empty(t, api.messages())
}

func TestHandleUpdate_RegistersUser(t *testing.T) {
	b, _, svc := newTestBot(t)

	b.handleUpdate(context.Background(), message(99, "/start"))

	u, err := svc.GetUser(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, u.Role)
	assert.Equal(t, "tester", u.Name)
}

func TestHandleUpdate_Deals(t *testing.T) {
	b, api, svc := newTestBot(t)

	b.handleUpdate(context.Background(), message(userID, "/deals"))
	assert.Contains(t, api.last(t), "no deals yet")

	createDeal(t, svc)
	b.handleUpdate(context.Background(), message(userID, "/deals"))
	text := api.last(t)
	assert.Contains(t, text, "Deal #")
	assert.Contains(t, text, "₹5,000.00")
	assert.Contains(t, text, "⏳ pending")
	assert.NotContains(t, text, "/approve")
}

func TestHandleUpdate_Admin(t *testing.T) {
	b, api, svc := newTestBot(t)

	b.handleUpdate(context.Background(), message(userID, "/admin"))
	assert.Equal(t, textAccessDenied, api.last(t))

	b.handleUpdate(context.Background(), message(adminID, "/admin"))
	assert.Contains(t, api.last(t), "No pending deals")

	d := createDeal(t, svc)
	b.handleUpdate(context.Background(), message(adminID, "/admin"))
	text := api.last(t)
	assert.Contains(t, text, "Pending Deals for Review")
	assert.Contains(t, text, "/approve "+itoa(d.ID))
}

func TestHandleUpdate_DealActions(t *testing.T) {
	b, api, svc := newTestBot(t)
	ctx := context.Background()
	d := createDeal(t, svc)
	id := itoa(d.ID)

	b.handleUpdate(ctx, message(userID, "/approve "+id))
	assert.Equal(t, textAccessDenied, api.last(t))

	b.handleUpdate(ctx, message(adminID, "/approve"))
	assert.Contains(t, api.last(t), "Usage: /approve")

	b.handleUpdate(ctx, message(adminID, "/approve abc"))
	assert.Contains(t, api.last(t), "not a number")

	b.handleUpdate(ctx, message(adminID, "/approve 999"))
	assert.Contains(t, api.last(t), "#999 not found")

	b.handleUpdate(ctx, message(adminID, "/paid "+id))
	assert.Contains(t, api.last(t), "cannot payment_received")

	steps := []struct {
		cmd  string
		want model.DealStatus
	}{
		{"/approve " + id, model.DealStatusApproved},
		{"/escrow " + id, model.DealStatusPaymentPending},
		{"/dispute " + id + " buyer never paid", model.DealStatusDisputed},
		{"/resolve " + id, model.DealStatusCompleted},
	}
	for _, s := range steps {
		b.handleUpdate(ctx, message(adminID, s.cmd))
		assert.Contains(t, api.last(t), "<b>"+statusLabel(s.want)+"</b>", s.cmd)
	}

	details, err := svc.GetDeal(ctx, model.Actor{ID: adminID, Role: model.RoleAdmin}, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DealStatusCompleted, details.Deal.Status)

	var reasons []string
	for _, l := range details.Logs {
		if l.Reason != "" {
			reasons = append(reasons, l.Reason)
		}
	}
	assert.Equal(t, []string{"buyer never paid"}, reasons)
}

func TestHandleUpdate_RejectWithReason(t *testing.T) {
	b, api, svc := newTestBot(t)
	d := createDeal(t, svc)

	b.handleUpdate(context.Background(), message(adminID, "/reject "+itoa(d.ID)+" <bad> docs"))
	assert.Contains(t, api.last(t), "cancelled")

	details, err := svc.GetDeal(context.Background(), model.Actor{ID: userID, Role: model.RoleUser}, d.ID)
	require.NoError(t, err)
	last := details.Logs[len(details.Logs)-1]
	assert.Equal(t, "<bad> docs", last.Reason)
}

func TestHandleUpdate_Banned(t *testing.T) {
	b, api, svc := newTestBot(t)
	_, err := svc.EnsureUser(context.Background(), 33, "mallory")
	require.NoError(t, err)
	owner := model.Actor{ID: 44, Role: model.RoleOwner}
	_, err = svc.EnsureUser(context.Background(), owner.ID, "")
	require.NoError(t, err)
	_, err = svc.ClaimOwnership(context.Background(), model.Actor{ID: owner.ID, Role: model.RoleUser})
	require.NoError(t, err)
	_, err = svc.SetUserRole(context.Background(), owner, 33, model.RoleBanned)
	require.NoError(t, err)

	b.handleUpdate(context.Background(), message(33, "/deals"))
	assert.Equal(t, textBanned, api.last(t))

	b.handleUpdate(context.Background(), message(33, "/admin"))
	assert.Equal(t, textBanned, api.last(t))
}

func TestHandleUpdate_Fee(t *testing.T) {
	b, api, _ := newTestBot(t)

	b.handleUpdate(context.Background(), message(userID, "/fee"))
	assert.Contains(t, api.last(t), "Usage: /fee")

	b.handleUpdate(context.Background(), message(userID, "/fee -5"))
	assert.Contains(t, api.last(t), "positive")

	b.handleUpdate(context.Background(), message(userID, "/fee 10,000"))
	text := api.last(t)
	assert.Contains(t, text, "Amount: ₹10,000.00")
	assert.Contains(t, text, "Fee: ₹150.00 (paid by seller)")
}

func TestHandleUpdate_PricesUnavailable(t *testing.T) {
	b, api, _ := newTestBot(t)

	b.handleUpdate(context.Background(), message(userID, "/prices"))
	assert.Contains(t, api.last(t), "unavailable")
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	b, api, _ := newTestBot(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.Start(ctx) }()

	api.updates <- message(userID, "/start")
	require.Eventually(t, func() bool { return len(api.messages()) == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bot did not stop")
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.True(t, api.stopped)
}

func TestStart_ReturnsWhenChannelClosed(t *testing.T) {
	b, api, _ := newTestBot(t)

	for i := 0; i < 5; i++ {
		api.updates <- message(userID, "/help")
	}
	close(api.updates)

	require.NoError(t, b.Start(context.Background()))
	assert.Len(t, api.messages(), 5)
}

func TestFormatINR(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "₹0.00"},
		{"999", "₹999.00"},
		{"1000", "₹1,000.00"},
		{"1234567.891", "₹1,234,567.89"},
		{"-2500.5", "-₹2,500.50"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatINR(decimal.RequireFromString(tt.in)), tt.in)
	}
}

func TestParseCommand(t *testing.T) {
	p := NewCommandParser()

	tests := []struct {
		text string
		cmd  string
		args []string
		ok   bool
	}{
		{"/start", "start", []string{}, true},
		{"/Approve@EscrowDeskBot 12", "approve", []string{"12"}, true},
		{"  /reject 7 fake   receipt ", "reject", []string{"7", "fake", "receipt"}, true},
		{"approve 12", "", nil, false},
		{"/", "", nil, false},
		{"", "", nil, false},
	}
	for _, tt := range tests {
		cmd, args, ok := p.ParseCommand(tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		if !tt.ok {
			continue
		}
		assert.Equal(t, tt.cmd, cmd, tt.text)
		assert.Equal(t, strings.Join(tt.args, " "), strings.Join(args, " "), tt.text)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

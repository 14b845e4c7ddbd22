// Package bot содержит Telegram-бот платформы: просмотр сделок, курсы и команды администраторов.
package bot

import (
	"context"
	"fmt"
	"runtime/debug"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/escrowdesk/internal/model"
	"github.com/mmeshcher/escrowdesk/internal/pricefeed"
	"github.com/mmeshcher/escrowdesk/internal/service"
)

// API описывает методы клиента Telegram, которые использует бот.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Service — операции платформы, доступные из бота.
type Service interface {
	EnsureUser(ctx context.Context, id int64, name string) (*model.User, error)
	ListDeals(ctx context.Context, actor model.Actor, f model.DealFilter) ([]model.Deal, error)
	TransitionDeal(ctx context.Context, dealID int64, action service.DealAction, actor model.Actor, reason string) (*model.Deal, error)
	QuoteDeal(ctx context.Context, actor model.Actor, crypto string, amount, rate decimal.Decimal) (*service.Quote, error)
	Prices(ctx context.Context, actor model.Actor) (pricefeed.Snapshot, error)
}

const (
	defaultMaxInflight   = 8
	updateTimeoutSeconds = 30
)

// Bot получает обновления long polling и обрабатывает их параллельно с ограничением.
type Bot struct {
	api     API
	service Service
	logger  *zap.Logger
	parser  *CommandParser

	inflight chan struct{}
}

// New создаёт бота. maxInflight ограничивает число одновременно обрабатываемых сообщений.
func New(api API, svc Service, logger *zap.Logger, maxInflight int) *Bot {
	if maxInflight <= 0 {
		maxInflight = defaultMaxInflight
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Bot{
		api:      api,
		service:  svc,
		logger:   logger,
		parser:   NewCommandParser(),
		inflight: make(chan struct{}, maxInflight),
	}
}

// Start читает обновления до отмены ctx или закрытия канала.
// Возвращается после завершения всех запущенных обработчиков.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeoutSeconds

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("telegram bot started", zap.Int("max_inflight", cap(b.inflight)))

	defer b.wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("telegram bot stopping")
			return nil

		case update, ok := <-updates:
			if !ok {
				b.logger.Info("telegram updates channel closed")
				return nil
			}

			select {
			case b.inflight <- struct{}{}:
			case <-ctx.Done():
				b.api.StopReceivingUpdates()
				return nil
			}
			go func(upd tgbotapi.Update) {
				defer func() { <-b.inflight }()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// wait дожидается освобождения всех слотов обработки.
func (b *Bot) wait() {
	for i := 0; i < cap(b.inflight); i++ {
		b.inflight <- struct{}{}
	}
	for i := 0; i < cap(b.inflight); i++ {
		<-b.inflight
	}
}

func (b *Bot) recoverPanic(update tgbotapi.Update) {
	if r := recover(); r != nil {
		b.logger.Error("panic in update handler",
			zap.Int("update_id", update.UpdateID),
			zap.String("panic", fmt.Sprint(r)),
			zap.ByteString("stack", debug.Stack()),
		)
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer b.recoverPanic(update)

	msg := update.Message
	if msg == nil || msg.Text == "" || msg.From == nil || msg.Chat == nil {
		return
	}

	cmd, args, ok := b.parser.ParseCommand(msg.Text)
	if !ok {
		return
	}

	b.logger.Debug("telegram command",
		zap.Int64("user_id", msg.From.ID),
		zap.String("command", cmd),
		zap.Strings("args", args),
	)

	name := msg.From.FirstName
	if name == "" {
		name = msg.From.UserName
	}
	user, err := b.service.EnsureUser(ctx, msg.From.ID, name)
	if err != nil {
		b.logger.Warn("ensure telegram user", zap.Error(err), zap.Int64("user_id", msg.From.ID))
		b.send(msg.Chat.ID, textInternalError)
		return
	}

	b.send(msg.Chat.ID, b.route(ctx, user.Actor(), cmd, args))
}

func (b *Bot) send(chatID int64, text string) {
	if text == "" {
		return
	}
	m := tgbotapi.NewMessage(chatID, text)
	m.ParseMode = tgbotapi.ModeHTML
	m.DisableWebPagePreview = true
	if _, err := b.api.Send(m); err != nil {
		b.logger.Warn("send telegram message", zap.Error(err), zap.Int64("chat_id", chatID))
	}
}

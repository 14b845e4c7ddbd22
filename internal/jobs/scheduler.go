// Package jobs управляет фоновыми задачами по расписанию cron.
package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultRefreshSchedule задаёт расписание обновления курсов по умолчанию.
const DefaultRefreshSchedule = "@every 1m"

// Refresher обновляет кеш данных из внешнего источника.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// cronLogger направляет журнал cron, в том числе перехваченные паники, в zap.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.sugar.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}

// Scheduler периодически обновляет курсы криптовалют.
type Scheduler struct {
	cron     *cron.Cron
	chain    cron.Chain
	prices   Refresher
	schedule string
	logger   *zap.Logger
}

// NewScheduler создаёт планировщик. Пустое расписание заменяется DefaultRefreshSchedule.
func NewScheduler(prices Refresher, schedule string, logger *zap.Logger) *Scheduler {
	if schedule == "" {
		schedule = DefaultRefreshSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := cronLogger{sugar: logger.Sugar()}
	return &Scheduler{
		cron:     cron.New(cron.WithLogger(l)),
		chain:    cron.NewChain(cron.Recover(l)),
		prices:   prices,
		schedule: schedule,
		logger:   logger,
	}
}

// Start выполняет первое обновление сразу и регистрирует периодическое.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("parse schedule %q: %w", s.schedule, err)
	}

	job := s.chain.Then(cron.FuncJob(func() { s.refresh(ctx) }))
	job.Run()

	if _, err := s.cron.AddJob(s.schedule, job); err != nil {
		return fmt.Errorf("add price refresh job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("schedule", s.schedule))
	return nil
}

func (s *Scheduler) refresh(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.prices.Refresh(ctx); err != nil {
		s.logger.Warn("price refresh failed", zap.Error(err))
		return
	}
	s.logger.Debug("prices refreshed")
}

// Stop останавливает планировщик и ждёт завершения запущенных задач.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

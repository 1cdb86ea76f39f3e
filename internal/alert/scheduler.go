package alert

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper выполняет ежедневную проверку низкого остатка.
type Sweeper interface {
	SweepLowStock(ctx context.Context) (int, error)
}

// Scheduler запускает проверку низкого остатка раз в сутки в заданный час.
type Scheduler struct {
	sweeper Sweeper
	hour    int
	logger  *zap.Logger
	now     func() time.Time
	after   func(d time.Duration) <-chan time.Time
}

// NewScheduler создаёт планировщик. hour задаётся в часовом поясе процесса.
func NewScheduler(sweeper Sweeper, hour int, logger *zap.Logger) *Scheduler {
	if hour < 0 || hour > 23 {
		hour = 8
	}
	return &Scheduler{
		sweeper: sweeper,
		hour:    hour,
		logger:  logger.With(zap.String("component", "stock-sweep")),
		now:     time.Now,
		after:   time.After,
	}
}

// NextRun возвращает ближайший момент после now, приходящийся на начало часа hour.
func NextRun(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run ждёт очередного запуска и выполняет проверку до отмены контекста.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := NextRun(s.now(), s.hour)
		s.logger.Debug("next low stock sweep scheduled", zap.Time("at", next))

		select {
		case <-ctx.Done():
			return nil
		case <-s.after(next.Sub(s.now())):
		}

		if _, err := s.sweeper.SweepLowStock(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("low stock sweep failed", zap.Error(err))
		}
	}
}

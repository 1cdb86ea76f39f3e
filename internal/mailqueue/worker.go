package mailqueue

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mmeshcher/storefront-fulfillment/internal/metrics"
)

const (
	// MaxAttempts ограничивает число попыток доставки до переноса в список отказавших.
	MaxAttempts = 3
	// BaseBackoff задаёт задержку перед первым повтором, далее она удваивается.
	BaseBackoff = 5 * time.Second
)

// Source описывает хранилище задач, из которого читает обработчик.
type Source interface {
	Next(ctx context.Context, wait time.Duration) (*Message, error)
	Retry(ctx context.Context, msg *Message, at time.Time) error
	Bury(ctx context.Context, msg *Message) error
	PromoteDue(ctx context.Context, now time.Time) (int, error)
}

// Sender доставляет письмо получателям.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Backoff возвращает задержку перед повтором после attempt неудачных попыток.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return BaseBackoff << (attempt - 1)
}

// Worker забирает письма из очереди и отправляет их с ограничением скорости.
type Worker struct {
	source  Source
	sender  Sender
	limiter *rate.Limiter
	logger  *zap.Logger
	wait    time.Duration
	now     func() time.Time
}

// NewWorker создаёт обработчик очереди. perSecond ограничивает частоту отправки.
func NewWorker(source Source, sender Sender, perSecond float64, logger *zap.Logger) *Worker {
	if perSecond <= 0 {
		perSecond = 5
	}
	return &Worker{
		source:  source,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:  logger.With(zap.String("component", "mailqueue")),
		wait:    time.Second,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run обрабатывает очередь до отмены контекста.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("mail worker started")
	for {
		if ctx.Err() != nil {
			w.logger.Info("mail worker stopped")
			return nil
		}
		if err := w.step(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("mail worker step failed", zap.Error(err))
			timer := time.NewTimer(w.wait)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}
}

func (w *Worker) step(ctx context.Context) error {
	if _, err := w.source.PromoteDue(ctx, w.now()); err != nil {
		return err
	}

	msg, err := w.source.Next(ctx, w.wait)
	if err != nil || msg == nil {
		return err
	}

	if err := w.limiter.Wait(ctx); err != nil {
		// Задача уже снята с очереди, возвращаем её без списания попытки.
		return w.source.Retry(context.WithoutCancel(ctx), msg, w.now())
	}

	w.deliver(ctx, msg)
	return nil
}

func (w *Worker) deliver(ctx context.Context, msg *Message) {
	logger := w.logger.With(zap.String("jobID", msg.ID), zap.Strings("to", msg.To))

	err := w.sender.Send(ctx, *msg)
	if err == nil {
		metrics.MailJobs.WithLabelValues("sent").Inc()
		logger.Debug("mail sent", zap.String("subject", msg.Subject))
		return
	}

	msg.Attempts++
	msg.LastError = err.Error()
	persistCtx := context.WithoutCancel(ctx)

	if msg.Attempts >= MaxAttempts {
		metrics.MailJobs.WithLabelValues("dead").Inc()
		logger.Error("mail job exhausted retries", zap.Int("attempts", msg.Attempts), zap.Error(err))
		if buryErr := w.source.Bury(persistCtx, msg); buryErr != nil {
			logger.Error("bury mail job failed", zap.Error(buryErr))
		}
		return
	}

	delay := Backoff(msg.Attempts)
	metrics.MailJobs.WithLabelValues("retry").Inc()
	logger.Warn("mail send failed, retry scheduled",
		zap.Int("attempts", msg.Attempts),
		zap.Duration("backoff", delay),
		zap.Error(err),
	)
	if retryErr := w.source.Retry(persistCtx, msg, w.now().Add(delay)); retryErr != nil {
		logger.Error("schedule mail retry failed", zap.Error(retryErr))
	}
}

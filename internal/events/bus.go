// Package events содержит внутрипроцессную шину доменных событий склада.
package events

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-fulfillment/internal/model"
)

const (
	// NameThresholdCrossed публикуется, когда остаток пересёк порог низкого остатка или ноль.
	NameThresholdCrossed = "stock.threshold_crossed"
	// NameRestocked публикуется при возврате товара в наличие с непустым списком ожидания.
	NameRestocked = "stock.restocked"
)

// Event описывает доменное событие.
type Event interface {
	EventName() string
}

// ThresholdCrossed сообщает о переходе остатка в зону низкого остатка или в ноль.
type ThresholdCrossed struct {
	Product model.Product
	Kind    model.NotificationType
}

// EventName возвращает имя события.
func (ThresholdCrossed) EventName() string { return NameThresholdCrossed }

// Restocked сообщает о возврате товара в наличие. Emails содержит снятый список ожидания.
type Restocked struct {
	Product model.Product
	Emails  []string
}

// EventName возвращает имя события.
func (Restocked) EventName() string { return NameRestocked }

// Handler обрабатывает событие.
type Handler func(ctx context.Context, e Event) error

// Bus доставляет события подписчикам асинхронно через буферизованную очередь.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string][]Handler
	queue     chan Event
	startOnce sync.Once
	stopOnce  sync.Once
	logger    *zap.Logger
	timeout   time.Duration
}

// NewBus создаёт шину с очередью указанной ёмкости.
func NewBus(logger *zap.Logger, capacity int) *Bus {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Bus{
		subs:    make(map[string][]Handler),
		queue:   make(chan Event, capacity),
		logger:  logger.With(zap.String("component", "events")),
		timeout: 30 * time.Second,
	}
}

// Subscribe регистрирует обработчик для события с указанным именем.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[name] = append(b.subs[name], h)
}

// Publish ставит событие в очередь. Переполненная очередь не блокирует вызывающего: событие отбрасывается.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e == nil {
		return
	}
	select {
	case b.queue <- e:
	case <-ctx.Done():
		b.logger.Warn("event publish aborted", zap.String("event", e.EventName()), zap.Error(ctx.Err()))
	default:
		b.logger.Error("event queue full, event dropped", zap.String("event", e.EventName()))
	}
}

// Run доставляет события до отмены контекста, затем дочищает очередь.
func (b *Bus) Run(ctx context.Context) error {
	started := false
	b.startOnce.Do(func() { started = true })
	if !started {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			b.drain()
			return nil
		case e := <-b.queue:
			b.dispatch(context.WithoutCancel(ctx), e)
		}
	}
}

func (b *Bus) drain() {
	b.stopOnce.Do(func() {
		for {
			select {
			case e := <-b.queue:
				b.dispatch(context.Background(), e)
			default:
				return
			}
		}
	})
}

func (b *Bus) dispatch(ctx context.Context, e Event) {
	name := e.EventName()

	b.mu.RLock()
	handlers := append([]Handler(nil), b.subs[name]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("event dropped, no subscriber", zap.String("event", name))
		return
	}

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panic",
						zap.String("event", name),
						zap.Any("panic", r),
						zap.String("stack", string(debug.Stack())),
					)
				}
			}()

			hctx, cancel := context.WithTimeout(ctx, b.timeout)
			defer cancel()
			if err := h(hctx, e); err != nil {
				b.logger.Warn("event handler error", zap.String("event", name), zap.Error(err))
			}
		}()
	}
	wg.Wait()
}

// Package ledger реализует складской журнал: единственную точку изменения остатков товаров.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-fulfillment/internal/events"
	"github.com/mmeshcher/storefront-fulfillment/internal/metrics"
	"github.com/mmeshcher/storefront-fulfillment/internal/model"
)

var tracer = otel.Tracer("github.com/mmeshcher/storefront-fulfillment/internal/ledger")

// Store описывает хранилище остатков. MutateStock выполняет чтение, изменение количества и
// добавление записи истории как одну атомарную единицу для одного товара. MutateOrderStock
// делает то же самое и дополнительно передаёт fn невозвращённый резерв заказа по этому товару,
// посчитанный по истории под той же блокировкой.
type Store interface {
	MutateStock(ctx context.Context, productID string, fn model.StockMutation) (*model.Product, error)
	MutateOrderStock(ctx context.Context, productID, orderID string, fn model.OrderStockMutation) (*model.Product, error)
	GetProduct(ctx context.Context, productID string) (*model.Product, error)
	ListLowStock(ctx context.Context) ([]model.Product, error)
	StockHistory(ctx context.Context, productID string) ([]model.StockMovement, error)
	RecentMovements(ctx context.Context, limit int) ([]model.StockMovement, error)
	AddToNotifyList(ctx context.Context, productID, email string) (bool, error)
}

// Publisher принимает доменные события склада.
type Publisher interface {
	Publish(ctx context.Context, e events.Event)
}

// Ledger управляет остатками товаров.
type Ledger struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// New создаёт складской журнал.
func New(store Store, publisher Publisher, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Reserve списывает qty единиц товара под заказ orderID.
func (l *Ledger) Reserve(ctx context.Context, productID string, qty int64, orderID string) (*model.Product, error) {
	ctx, span := tracer.Start(ctx, "ledger.Reserve")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", productID), attribute.Int64("qty", qty))

	if qty <= 0 {
		return nil, l.reject(span, "reserve", fmt.Errorf("%w: %d", model.ErrInvalidQuantity, qty))
	}

	var before model.Product
	updated, err := l.store.MutateStock(ctx, productID, func(p *model.Product) (*model.StockMovement, error) {
		before = *p
		if p.Quantity < qty {
			return nil, fmt.Errorf("%w for %s", model.ErrInsufficientStock, p.Title)
		}
		p.Quantity -= qty
		p.Status = model.DeriveStatus(p.Status, p.Quantity)
		return l.movement(p.ID, -qty, model.ReasonSale, orderID, "", ""), nil
	})
	if err != nil {
		return nil, l.reject(span, "reserve", err)
	}

	metrics.StockMovements.WithLabelValues(string(model.ReasonSale)).Inc()
	l.signal(ctx, before, *updated)
	return updated, nil
}

// Release возвращает qty единиц товара при отмене заказа orderID. Повторный вызов для одного резерва
// является ошибкой вызывающей стороны и не подавляется.
func (l *Ledger) Release(ctx context.Context, productID string, qty int64, orderID string) (*model.Product, error) {
	ctx, span := tracer.Start(ctx, "ledger.Release")
	defer span.End()
	span.SetAttributes(attribute.String("product.id", productID), attribute.Int64("qty", qty))

	if qty <= 0 {
		return nil, l.reject(span, "release", fmt.Errorf("%w: %d", model.ErrInvalidQuantity, qty))
	}

	var before model.Product
	updated, err := l.store.MutateStock(ctx, productID, func(p *model.Product) (*model.StockMovement, error) {
		before = *p
		p.Quantity += qty
		p.Status = model.DeriveStatus(p.Status, p.Quantity)
		takeNotifyList(&before, p)
		return l.movement(p.ID, qty, model.ReasonCancelledOrder, orderID, "", ""), nil
	})
	if err != nil {
		return nil, l.reject(span, "release", err)
	}

	metrics.StockMovements.WithLabelValues(string(model.ReasonCancelledOrder)).Inc()
	l.signal(ctx, before, *updated)
	return updated, nil
}

// ReleaseReserved возвращает на склад не больше qty единиц из тех, что заказ orderID зарезервировал
// и ещё не вернул. Возвращает фактически возвращённое количество; 0 означает, что резерва не было
// или он уже возвращён, и история при этом не пишется. Повторный вызов безопасен.
func (l *Ledger) ReleaseReserved(ctx context.Context, productID string, qty int64, orderID string) (*model.Product, int64, error) {
	ctx, span := tracer.Start(ctx, "ledger.ReleaseReserved")
	defer span.End()
	span.SetAttributes(
		attribute.String("product.id", productID),
		attribute.String("order.id", orderID),
		attribute.Int64("qty", qty),
	)

	if qty <= 0 {
		return nil, 0, l.reject(span, "release", fmt.Errorf("%w: %d", model.ErrInvalidQuantity, qty))
	}
	if orderID == "" {
		return nil, 0, l.reject(span, "release", fmt.Errorf("%w: order id is required", model.ErrInvalidRequest))
	}

	var (
		before   model.Product
		released int64
	)
	updated, err := l.store.MutateOrderStock(ctx, productID, orderID, func(p *model.Product, outstanding int64) (*model.StockMovement, error) {
		before = *p
		released = min(qty, outstanding)
		if released <= 0 {
			released = 0
			return nil, nil
		}
		p.Quantity += released
		p.Status = model.DeriveStatus(p.Status, p.Quantity)
		takeNotifyList(&before, p)
		return l.movement(p.ID, released, model.ReasonCancelledOrder, orderID, "", ""), nil
	})
	if err != nil {
		return nil, 0, l.reject(span, "release", err)
	}

	if released > 0 {
		metrics.StockMovements.WithLabelValues(string(model.ReasonCancelledOrder)).Inc()
		l.signal(ctx, before, *updated)
	}
	return updated, released, nil
}

// Adjust изменяет остаток вручную по решению администратора actor.
func (l *Ledger) Adjust(ctx context.Context, productID string, delta int64, reason model.MovementReason, actor, note string) (*model.Product, error) {
	ctx, span := tracer.Start(ctx, "ledger.Adjust")
	defer span.End()
	span.SetAttributes(
		attribute.String("product.id", productID),
		attribute.Int64("delta", delta),
		attribute.String("reason", string(reason)),
	)

	switch reason {
	case model.ReasonRestock:
		if delta <= 0 {
			return nil, l.reject(span, "adjust", fmt.Errorf("%w: restock quantity must be greater than zero", model.ErrInvalidAdjustment))
		}
	case model.ReasonAdjustment:
		if delta == 0 {
			return nil, l.reject(span, "adjust", fmt.Errorf("%w: adjustment must not be zero", model.ErrInvalidAdjustment))
		}
	default:
		return nil, l.reject(span, "adjust", fmt.Errorf("%w: unsupported reason %q", model.ErrInvalidAdjustment, reason))
	}

	var before model.Product
	updated, err := l.store.MutateStock(ctx, productID, func(p *model.Product) (*model.StockMovement, error) {
		before = *p
		if p.Quantity+delta < 0 {
			return nil, fmt.Errorf("%w: quantity of %s cannot be negative", model.ErrInvalidAdjustment, p.Title)
		}
		p.Quantity += delta
		p.Status = model.DeriveStatus(p.Status, p.Quantity)
		if reason == model.ReasonRestock {
			now := l.now()
			p.LastRestocked = &now
		}
		takeNotifyList(&before, p)
		return l.movement(p.ID, delta, reason, "", actor, note), nil
	})
	if err != nil {
		return nil, l.reject(span, "adjust", err)
	}

	metrics.StockMovements.WithLabelValues(string(reason)).Inc()
	l.signal(ctx, before, *updated)
	return updated, nil
}

// GetProduct возвращает текущий снимок товара.
func (l *Ledger) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	return l.store.GetProduct(ctx, productID)
}

// CheckLow возвращает товары с остатком на уровне порога или ниже, кроме снятых с продажи.
func (l *Ledger) CheckLow(ctx context.Context) ([]model.Product, error) {
	products, err := l.store.ListLowStock(ctx)
	if err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}
	return products, nil
}

// History возвращает товар и его историю движений.
func (l *Ledger) History(ctx context.Context, productID string) (*model.Product, []model.StockMovement, error) {
	p, err := l.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, nil, err
	}
	history, err := l.store.StockHistory(ctx, productID)
	if err != nil {
		return nil, nil, fmt.Errorf("stock history: %w", err)
	}
	return p, history, nil
}

// RecentMovements возвращает последние движения по всем товарам.
func (l *Ledger) RecentMovements(ctx context.Context, limit int) ([]model.StockMovement, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return l.store.RecentMovements(ctx, limit)
}

// AuditReport описывает сверку остатка с историей движений.
type AuditReport struct {
	ProductID       string `json:"productId"`
	Quantity        int64  `json:"quantity"`
	InitialQuantity int64  `json:"initialQuantity"`
	HistorySum      int64  `json:"historySum"`
	Consistent      bool   `json:"consistent"`
}

// Audit проверяет, что текущий остаток равен начальному плюс сумма всех движений.
func (l *Ledger) Audit(ctx context.Context, productID string) (*AuditReport, error) {
	p, history, err := l.History(ctx, productID)
	if err != nil {
		return nil, err
	}
	var sum int64
	for _, m := range history {
		sum += m.Delta
	}
	return &AuditReport{
		ProductID:       p.ID,
		Quantity:        p.Quantity,
		InitialQuantity: p.InitialQuantity,
		HistorySum:      sum,
		Consistent:      p.InitialQuantity+sum == p.Quantity,
	}, nil
}

// NotifyWhenAvailable добавляет адрес в список ожидания товара, которого нет в наличии.
// Возвращает false, если адрес уже был в списке.
func (l *Ledger) NotifyWhenAvailable(ctx context.Context, productID, email string) (bool, error) {
	p, err := l.store.GetProduct(ctx, productID)
	if err != nil {
		return false, err
	}
	if p.Status != model.ProductOutOfStock {
		return false, fmt.Errorf("%w: %s is currently in stock", model.ErrInvalidRequest, p.Title)
	}
	return l.store.AddToNotifyList(ctx, productID, email)
}

func (l *Ledger) movement(productID string, delta int64, reason model.MovementReason, orderID, actor, note string) *model.StockMovement {
	return &model.StockMovement{
		ID:         uuid.NewString(),
		ProductID:  productID,
		Delta:      delta,
		Reason:     reason,
		OrderID:    orderID,
		Actor:      actor,
		Note:       note,
		OccurredAt: l.now(),
	}
}

// takeNotifyList очищает список ожидания при переходе из out-of-stock в in-stock в той же транзакции;
// адреса остаются в before и уходят в событие Restocked.
func takeNotifyList(before, after *model.Product) {
	if before.Status == model.ProductOutOfStock && after.Status == model.ProductInStock {
		after.NotifyList = nil
	}
}

// signal публикует события пересечения порогов. Ошибки доставки не влияют на результат операции.
func (l *Ledger) signal(ctx context.Context, before, after model.Product) {
	if l.publisher == nil {
		return
	}

	for _, e := range crossings(before, after) {
		l.publisher.Publish(ctx, e)
	}
}

// crossings вычисляет события для перехода before -> after.
func crossings(before, after model.Product) []events.Event {
	var out []events.Event

	switch {
	case after.Quantity == 0 && before.Quantity > 0:
		out = append(out, events.ThresholdCrossed{Product: after, Kind: model.NotifyOutOfStock})
	case after.Quantity > 0 && after.Quantity <= after.LowStockThreshold && before.Quantity > after.LowStockThreshold:
		out = append(out, events.ThresholdCrossed{Product: after, Kind: model.NotifyLowStock})
	}

	if before.Status == model.ProductOutOfStock && after.Status == model.ProductInStock && len(before.NotifyList) > 0 {
		out = append(out, events.Restocked{Product: after, Emails: before.NotifyList})
	}

	return out
}

func (l *Ledger) reject(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	metrics.StockRejections.WithLabelValues(op, errorLabel(err)).Inc()
	l.logger.Debug("stock mutation rejected", zap.String("operation", op), zap.Error(err))
	return err
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, model.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, model.ErrInvalidAdjustment):
		return "invalid_adjustment"
	default:
		return "internal"
	}
}

// Package alert рассылает администраторам уведомления о запасах и подтверждениях оплаты
// с дедупликацией по товару и типу в скользящем окне.
package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-fulfillment/internal/events"
	"github.com/mmeshcher/storefront-fulfillment/internal/mailqueue"
	"github.com/mmeshcher/storefront-fulfillment/internal/metrics"
	"github.com/mmeshcher/storefront-fulfillment/internal/model"
)

// DedupWindow задаёт окно, в котором повторное уведомление того же типа по товару не создаётся.
const DedupWindow = 24 * time.Hour

// Store описывает хранилище уведомлений.
type Store interface {
	// CreateUnlessRecent атомарно проверяет наличие уведомления того же (товар, тип), созданного
	// после since, и создаёт n только при его отсутствии.
	CreateUnlessRecent(ctx context.Context, n *model.Notification, since time.Time) (bool, error)
	Create(ctx context.Context, n *model.Notification) error
	ListForAdmin(ctx context.Context, adminID string, limit int) ([]model.Notification, error)
	MarkRead(ctx context.Context, id, adminID string, at time.Time) (*model.Notification, error)
	ListActiveAdmins(ctx context.Context) ([]model.Admin, error)
}

// StockChecker возвращает товары с низким остатком.
type StockChecker interface {
	CheckLow(ctx context.Context) ([]model.Product, error)
	GetProduct(ctx context.Context, productID string) (*model.Product, error)
}

// Mailer ставит письма в очередь отправки.
type Mailer interface {
	Enqueue(ctx context.Context, msg mailqueue.Message) error
}

// Dispatcher создаёт уведомления и ставит письма в очередь.
type Dispatcher struct {
	store     Store
	stock     StockChecker
	mailer    Mailer
	logger    *zap.Logger
	clientURL string
	now       func() time.Time
}

// NewDispatcher создаёт диспетчер уведомлений.
func NewDispatcher(store Store, stock StockChecker, mailer Mailer, logger *zap.Logger, clientURL string) *Dispatcher {
	return &Dispatcher{
		store:     store,
		stock:     stock,
		mailer:    mailer,
		logger:    logger.With(zap.String("component", "alert")),
		clientURL: strings.TrimRight(clientURL, "/"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe подписывает диспетчер на события склада.
func (d *Dispatcher) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.NameThresholdCrossed, d.onThresholdCrossed)
	bus.Subscribe(events.NameRestocked, d.onRestocked)
}

func (d *Dispatcher) onThresholdCrossed(ctx context.Context, e events.Event) error {
	ev, ok := e.(events.ThresholdCrossed)
	if !ok {
		return fmt.Errorf("unexpected event %T", e)
	}
	p := ev.Product
	_, err := d.raise(ctx, &p, ev.Kind)
	return err
}

func (d *Dispatcher) onRestocked(ctx context.Context, e events.Event) error {
	ev, ok := e.(events.Restocked)
	if !ok {
		return fmt.Errorf("unexpected event %T", e)
	}
	d.sendRestockNotices(ctx, ev.Product, ev.Emails)
	return nil
}

// Raise создаёт уведомление о запасах товара, если за последние сутки такого ещё не было.
// Возвращает nil без ошибки, когда уведомление подавлено дедупликацией.
func (d *Dispatcher) Raise(ctx context.Context, productID string, kind model.NotificationType) (*model.Notification, error) {
	if kind != model.NotifyLowStock && kind != model.NotifyOutOfStock {
		return nil, fmt.Errorf("%w: unsupported alert type %q", model.ErrInvalidRequest, kind)
	}
	p, err := d.stock.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	return d.raise(ctx, p, kind)
}

func (d *Dispatcher) raise(ctx context.Context, p *model.Product, kind model.NotificationType) (*model.Notification, error) {
	logger := d.logger.With(zap.String("productID", p.ID), zap.String("type", string(kind)))

	admins, err := d.store.ListActiveAdmins(ctx)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}

	now := d.now()
	n := &model.Notification{
		ID:         uuid.NewString(),
		Type:       kind,
		ProductID:  p.ID,
		Message:    stockMessage(p, kind),
		Priority:   priorityFor(kind),
		Recipients: adminIDs(admins),
		Metadata: model.NotificationMetadata{
			CurrentQuantity: p.Quantity,
			Threshold:       p.LowStockThreshold,
			ProductName:     p.Title,
		},
		CreatedAt: now,
	}

	created, err := d.store.CreateUnlessRecent(ctx, n, now.Add(-DedupWindow))
	if err != nil {
		metrics.Alerts.WithLabelValues(string(kind), "error").Inc()
		return nil, fmt.Errorf("create notification: %w", err)
	}
	if !created {
		metrics.Alerts.WithLabelValues(string(kind), "deduplicated").Inc()
		logger.Debug("stock alert suppressed, recent notification exists")
		return nil, nil
	}

	metrics.Alerts.WithLabelValues(string(kind), "created").Inc()
	logger.Info("stock alert raised", zap.Int64("quantity", p.Quantity), zap.Int("recipients", len(n.Recipients)))

	d.enqueue(ctx, mailqueue.Message{
		To:      adminEmails(admins),
		Subject: stockSubject(p, kind),
		Body:    stockBody(p, kind, d.clientURL),
	})
	return n, nil
}

// SweepLowStock вызывает Raise для каждого товара с низким остатком. Дедупликация исключает
// повтор уведомлений, уже созданных при изменении остатка.
func (d *Dispatcher) SweepLowStock(ctx context.Context) (int, error) {
	products, err := d.stock.CheckLow(ctx)
	if err != nil {
		return 0, fmt.Errorf("check low stock: %w", err)
	}

	raised := 0
	for i := range products {
		p := &products[i]
		kind := model.NotifyLowStock
		if p.Quantity == 0 {
			kind = model.NotifyOutOfStock
		}
		n, err := d.raise(ctx, p, kind)
		if err != nil {
			d.logger.Warn("sweep alert failed", zap.String("productID", p.ID), zap.Error(err))
			continue
		}
		if n != nil {
			raised++
		}
	}

	d.logger.Info("low stock sweep finished", zap.Int("lowStock", len(products)), zap.Int("raised", raised))
	return raised, nil
}

// PaymentProofSubmitted уведомляет администраторов о новом подтверждении банковского перевода.
// Ошибки логируются и не возвращаются вызывающему.
func (d *Dispatcher) PaymentProofSubmitted(ctx context.Context, o *model.Order) {
	logger := d.logger.With(zap.String("orderID", o.ID), zap.Int64("invoice", o.Invoice))

	admins, err := d.store.ListActiveAdmins(ctx)
	if err != nil {
		logger.Warn("list admins failed", zap.Error(err))
		return
	}

	n := &model.Notification{
		ID:         uuid.NewString(),
		Type:       model.NotifyPaymentVerification,
		OrderID:    o.ID,
		Message:    fmt.Sprintf("Payment proof uploaded for order #%d", o.Invoice),
		Priority:   priorityFor(model.NotifyPaymentVerification),
		Recipients: adminIDs(admins),
		Metadata:   model.NotificationMetadata{OrderInvoice: o.Invoice},
		CreatedAt:  d.now(),
	}
	if err := d.store.Create(ctx, n); err != nil {
		metrics.Alerts.WithLabelValues(string(n.Type), "error").Inc()
		logger.Warn("create payment verification notification failed", zap.Error(err))
		return
	}
	metrics.Alerts.WithLabelValues(string(n.Type), "created").Inc()

	d.enqueue(ctx, mailqueue.Message{
		To:      adminEmails(admins),
		Subject: fmt.Sprintf("Payment verification required: order #%d", o.Invoice),
		Body:    paymentBody(o, d.clientURL),
	})
}

// List возвращает уведомления администратора, новые первыми.
func (d *Dispatcher) List(ctx context.Context, adminID string, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return d.store.ListForAdmin(ctx, adminID, limit)
}

// MarkRead отмечает уведомление прочитанным администратором. Повторная отметка не меняет время прочтения.
func (d *Dispatcher) MarkRead(ctx context.Context, id, adminID string) (*model.Notification, error) {
	return d.store.MarkRead(ctx, id, adminID, d.now())
}

func (d *Dispatcher) sendRestockNotices(ctx context.Context, p model.Product, emails []string) {
	for _, email := range emails {
		d.enqueue(ctx, mailqueue.Message{
			To:      []string{email},
			Subject: fmt.Sprintf("%s is back in stock", p.Title),
			Body:    restockBody(p, d.clientURL),
		})
	}
	d.logger.Info("restock notices queued", zap.String("productID", p.ID), zap.Int("recipients", len(emails)))
}

func (d *Dispatcher) enqueue(ctx context.Context, msg mailqueue.Message) {
	if d.mailer == nil || len(msg.To) == 0 {
		return
	}
	if err := d.mailer.Enqueue(ctx, msg); err != nil {
		d.logger.Warn("enqueue mail failed", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

func priorityFor(kind model.NotificationType) model.Priority {
	switch kind {
	case model.NotifyOutOfStock:
		return model.PriorityUrgent
	case model.NotifyLowStock:
		return model.PriorityHigh
	case model.NotifyPaymentVerification:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

func adminIDs(admins []model.Admin) []string {
	out := make([]string, 0, len(admins))
	for _, a := range admins {
		out = append(out, a.ID)
	}
	return out
}

func adminEmails(admins []model.Admin) []string {
	out := make([]string, 0, len(admins))
	for _, a := range admins {
		if a.Email != "" {
			out = append(out, a.Email)
		}
	}
	return out
}

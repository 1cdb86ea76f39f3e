// Package orders реализует жизненный цикл заказа: оформление, отмену и доставку.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-fulfillment/internal/mailqueue"
	"github.com/mmeshcher/storefront-fulfillment/internal/model"
)

// Store описывает хранилище заказов.
type Store interface {
	NextInvoice(ctx context.Context) (int64, error)
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	UpdateOrder(ctx context.Context, id string, fn model.OrderMutation) (*model.Order, error)
	GetProduct(ctx context.Context, id string) (*model.Product, error)
}

// StockLedger описывает операции складского журнала, используемые заказами.
// ReleaseReserved возвращает не больше того, что заказ реально зарезервировал и ещё не вернул.
type StockLedger interface {
	Reserve(ctx context.Context, productID string, qty int64, orderID string) (*model.Product, error)
	ReleaseReserved(ctx context.Context, productID string, qty int64, orderID string) (*model.Product, int64, error)
}

// Mailer ставит письма в очередь отправки.
type Mailer interface {
	Enqueue(ctx context.Context, msg mailqueue.Message) error
}

// BankAccount описывает реквизиты магазина для банковского перевода.
type BankAccount struct {
	BankName      string `json:"bankName"`
	AccountName   string `json:"accountName"`
	AccountNumber string `json:"accountNumber"`
}

// Service управляет заказами.
type Service struct {
	store     Store
	ledger    StockLedger
	mailer    Mailer
	logger    *zap.Logger
	currency  string
	bank      BankAccount
	clientURL string
	now       func() time.Time
}

// Options содержит параметры сервиса заказов.
type Options struct {
	Currency  string
	Bank      BankAccount
	ClientURL string
}

// NewService создаёт сервис заказов.
func NewService(store Store, ledger StockLedger, mailer Mailer, logger *zap.Logger, opts Options) *Service {
	if opts.Currency == "" {
		opts.Currency = "NGN"
	}
	return &Service{
		store:     store,
		ledger:    ledger,
		mailer:    mailer,
		logger:    logger,
		currency:  opts.Currency,
		bank:      opts.Bank,
		clientURL: opts.ClientURL,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CartItem описывает позицию корзины в запросе на оформление.
type CartItem struct {
	ProductID     string `json:"productId"`
	OrderQuantity int64  `json:"orderQuantity"`
}

// PlaceOrderRequest описывает запрос на оформление заказа.
type PlaceOrderRequest struct {
	Cart          []CartItem          `json:"cart"`
	Customer      model.CustomerInfo  `json:"customer"`
	PaymentMethod model.PaymentMethod `json:"paymentMethod"`
	ShippingCost  int64               `json:"shippingCost"`
	Discount      int64               `json:"discount"`
	Note          string              `json:"note"`
}

// PlaceOrder проверяет все позиции, затем создаёт заказ и резервирует остатки по каждой позиции.
// Ошибка резерва отдельной позиции после создания заказа логируется и не отменяет заказ.
// Флаг Reserved у позиции только справочный: при отмене возврат считается по истории склада.
// Если заказ отменили, пока шёл резерв, всё зарезервированное возвращается здесь же.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*model.Order, error) {
	cart, err := s.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	invoice, err := s.store.NextInvoice(ctx)
	if err != nil {
		return nil, fmt.Errorf("next invoice: %w", err)
	}

	var subTotal int64
	for _, item := range cart {
		subTotal += item.UnitPrice * item.OrderQuantity
	}
	total := subTotal + req.ShippingCost - req.Discount
	if total < 0 {
		total = 0
	}

	now := s.now()
	order := &model.Order{
		ID:            uuid.NewString(),
		Invoice:       invoice,
		Customer:      req.Customer,
		Cart:          cart,
		SubTotal:      subTotal,
		ShippingCost:  req.ShippingCost,
		Discount:      req.Discount,
		TotalAmount:   total,
		Currency:      s.currency,
		Status:        model.OrderPending,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: model.PaymentPending,
		Note:          req.Note,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	logger := s.logger.With(zap.String("orderID", order.ID), zap.Int64("invoice", order.Invoice))

	reserved := make([]bool, len(order.Cart))
	anyReserved := false
	for i, item := range order.Cart {
		if _, err := s.ledger.Reserve(ctx, item.ProductID, item.OrderQuantity, order.ID); err != nil {
			logger.Error("reserve stock failed",
				zap.String("productID", item.ProductID),
				zap.Int64("qty", item.OrderQuantity),
				zap.Error(err),
			)
			continue
		}
		reserved[i] = true
		anyReserved = true
	}

	updated, err := s.store.UpdateOrder(ctx, order.ID, func(o *model.Order) (bool, error) {
		if o.Status == model.OrderCancel || !anyReserved {
			return false, nil
		}
		for i := range o.Cart {
			if i < len(reserved) && reserved[i] {
				o.Cart[i].Reserved = true
			}
		}
		return true, nil
	})
	if err != nil {
		logger.Error("record reservations failed", zap.Error(err))
		if updated, err = s.store.GetOrder(ctx, order.ID); err != nil {
			logger.Error("reload order failed", zap.Error(err))
		}
	}
	if updated != nil {
		order = updated
	}

	// Отмена, зафиксированная до этой точки, могла не увидеть резервы, сделанные после неё.
	if order.Status == model.OrderCancel {
		s.releaseAll(ctx, order, logger)
		logger.Info("order cancelled while placing, reservations returned")
		return order, nil
	}

	if order.PaymentMethod == model.MethodBankTransfer {
		s.sendConfirmation(ctx, order)
	}

	logger.Info("order placed", zap.Int64("total", order.TotalAmount), zap.String("paymentMethod", string(order.PaymentMethod)))
	return order, nil
}

// validate проверяет все позиции до какого-либо резерва и фиксирует название и цену товара.
func (s *Service) validate(ctx context.Context, req PlaceOrderRequest) ([]model.LineItem, error) {
	if !req.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", model.ErrInvalidRequest, req.PaymentMethod)
	}
	if len(req.Cart) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", model.ErrInvalidRequest)
	}
	if req.ShippingCost < 0 || req.Discount < 0 {
		return nil, fmt.Errorf("%w: shipping cost and discount must not be negative", model.ErrInvalidRequest)
	}

	requested := make(map[string]int64, len(req.Cart))
	products := make(map[string]*model.Product, len(req.Cart))
	cart := make([]model.LineItem, 0, len(req.Cart))

	for _, item := range req.Cart {
		p, ok := products[item.ProductID]
		if !ok {
			var err error
			p, err = s.store.GetProduct(ctx, item.ProductID)
			if err != nil {
				if errors.Is(err, model.ErrNotFound) {
					return nil, fmt.Errorf("%w: product %s", model.ErrNotFound, item.ProductID)
				}
				return nil, fmt.Errorf("get product: %w", err)
			}
			products[item.ProductID] = p
		}

		if item.OrderQuantity <= 0 {
			return nil, fmt.Errorf("%w for %s", model.ErrInvalidQuantity, p.Title)
		}

		requested[item.ProductID] += item.OrderQuantity
		if p.Status == model.ProductDiscontinued || p.Quantity < requested[item.ProductID] {
			return nil, fmt.Errorf("%w for %s", model.ErrInsufficientStock, p.Title)
		}

		cart = append(cart, model.LineItem{
			ProductID:     p.ID,
			Title:         p.Title,
			UnitPrice:     p.Price,
			OrderQuantity: item.OrderQuantity,
		})
	}

	return cart, nil
}

// Get возвращает заказ по идентификатору.
func (s *Service) Get(ctx context.Context, id string) (*model.Order, error) {
	return s.store.GetOrder(ctx, id)
}

// Cancel отменяет заказ и возвращает на склад всё, что заказ зарезервировал. Статус оплаты не меняется.
func (s *Service) Cancel(ctx context.Context, id string) (*model.Order, error) {
	order, err := s.store.UpdateOrder(ctx, id, func(o *model.Order) (bool, error) {
		if err := SetStatus(o, model.OrderCancel); err != nil {
			return false, err
		}
		o.UpdatedAt = s.now()
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	logger := s.logger.With(zap.String("orderID", order.ID), zap.Int64("invoice", order.Invoice))
	s.releaseAll(ctx, order, logger)

	logger.Info("order cancelled", zap.String("paymentStatus", string(order.PaymentStatus)))
	return order, nil
}

// releaseAll возвращает резерв по каждой позиции. Позиция, резерв которой не состоялся
// или уже возвращён, ничего не меняет.
func (s *Service) releaseAll(ctx context.Context, order *model.Order, logger *zap.Logger) {
	for _, item := range order.Cart {
		_, released, err := s.ledger.ReleaseReserved(ctx, item.ProductID, item.OrderQuantity, order.ID)
		if err != nil {
			logger.Error("release stock failed",
				zap.String("productID", item.ProductID),
				zap.Int64("qty", item.OrderQuantity),
				zap.Error(err),
			)
			continue
		}
		if released < item.OrderQuantity {
			logger.Warn("line item was not fully reserved",
				zap.String("productID", item.ProductID),
				zap.Int64("qty", item.OrderQuantity),
				zap.Int64("released", released),
			)
		}
	}
}

// MarkDelivered переводит заказ из processing в delivered.
func (s *Service) MarkDelivered(ctx context.Context, id string) (*model.Order, error) {
	return s.store.UpdateOrder(ctx, id, func(o *model.Order) (bool, error) {
		if err := SetStatus(o, model.OrderDelivered); err != nil {
			return false, err
		}
		o.UpdatedAt = s.now()
		return true, nil
	})
}

// Bank возвращает реквизиты для банковского перевода.
func (s *Service) Bank() BankAccount {
	return s.bank
}

func (s *Service) sendConfirmation(ctx context.Context, o *model.Order) {
	if s.mailer == nil || o.Customer.Email == "" {
		return
	}
	msg := confirmationMessage(o, s.bank, s.clientURL, s.now())
	if err := s.mailer.Enqueue(ctx, msg); err != nil {
		s.logger.Warn("enqueue order confirmation failed", zap.String("orderID", o.ID), zap.Error(err))
	}
}

// Package payment сводит сообщения трёх каналов оплаты (два шлюза и банковский перевод)
// к одному идемпотентному решению по платёжной ссылке заказа.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-fulfillment/internal/metrics"
	"github.com/mmeshcher/storefront-fulfillment/internal/model"
	"github.com/mmeshcher/storefront-fulfillment/internal/orders"
)

var tracer = otel.Tracer("github.com/mmeshcher/storefront-fulfillment/internal/payment")

// MaxRejectionReason ограничивает длину причины отклонения подтверждения.
const MaxRejectionReason = 500

// Source описывает источник сообщения об оплате.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
)

// Store описывает хранилище заказов, используемое сверкой.
type Store interface {
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrderByReference(ctx context.Context, reference string) (*model.Order, error)
	UpdateOrder(ctx context.Context, id string, fn model.OrderMutation) (*model.Order, error)
	UpdateOrderByReference(ctx context.Context, reference string, fn model.OrderMutation) (*model.Order, error)
	ListOrdersByPaymentStatus(ctx context.Context, status model.PaymentStatus) ([]model.Order, error)
}

// Gateway описывает адаптер внешнего платёжного шлюза.
type Gateway interface {
	Name() model.PaymentMethod
	InitializeTransaction(ctx context.Context, req model.CheckoutRequest) (*model.Checkout, error)
	// VerifyTransaction проверяет транзакцию по ключу шлюза: ссылке или идентификатору транзакции.
	VerifyTransaction(ctx context.Context, key string) (*model.Verification, error)
}

// ImageStore сохраняет изображение и возвращает его постоянный адрес.
type ImageStore interface {
	Upload(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// Notifier получает сообщения о новых подтверждениях банковского перевода.
type Notifier interface {
	PaymentProofSubmitted(ctx context.Context, o *model.Order)
}

// Report описывает нормализованное сообщение об оплате от любого канала.
type Report struct {
	Reference   string
	AmountMinor int64
	Currency    string
	Success     bool
	Source      Source
}

// Reconciler управляет статусом оплаты заказов.
type Reconciler struct {
	store       Store
	gateways    map[model.PaymentMethod]Gateway
	images      ImageStore
	notifier    Notifier
	logger      *zap.Logger
	timeout     time.Duration
	callbackURL string
	now         func() time.Time
}

// Options содержит параметры сверки.
type Options struct {
	GatewayTimeout time.Duration
	ClientURL      string
}

// NewReconciler создаёт сверку платежей. images и notifier могут быть nil.
func NewReconciler(store Store, gateways []Gateway, images ImageStore, notifier Notifier, logger *zap.Logger, opts Options) *Reconciler {
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 10 * time.Second
	}
	byName := make(map[model.PaymentMethod]Gateway, len(gateways))
	for _, g := range gateways {
		byName[g.Name()] = g
	}
	return &Reconciler{
		store:       store,
		gateways:    byName,
		images:      images,
		notifier:    notifier,
		logger:      logger,
		timeout:     opts.GatewayTimeout,
		callbackURL: strings.TrimRight(opts.ClientURL, "/") + "/payment/verify",
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Gateway возвращает адаптер шлюза по имени.
func (r *Reconciler) Gateway(method model.PaymentMethod) (Gateway, error) {
	g, ok := r.gateways[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedGateway, method)
	}
	return g, nil
}

// NewReference формирует платёжную ссылку вида ORD-<invoice>-<unix ms>.
func NewReference(invoice int64, at time.Time) string {
	return fmt.Sprintf("ORD-%d-%d", invoice, at.UnixMilli())
}

// Initialize открывает платёж через шлюз method. Ссылка сохраняется в заказе только после
// успешного ответа шлюза. Для заказа в статусе failed это повторная попытка: failed -> verifying.
func (r *Reconciler) Initialize(ctx context.Context, orderID string, method model.PaymentMethod) (*model.Checkout, error) {
	ctx, span := tracer.Start(ctx, "payment.Initialize")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("gateway", string(method)))

	gw, err := r.Gateway(method)
	if err != nil {
		return nil, err
	}

	order, err := r.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := checkInitializable(order); err != nil {
		return nil, err
	}

	reference := NewReference(order.Invoice, r.now())

	gctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := time.Now()
	checkout, err := gw.InitializeTransaction(gctx, model.CheckoutRequest{
		Reference:   reference,
		OrderID:     order.ID,
		Invoice:     order.Invoice,
		AmountMinor: order.TotalAmount,
		Currency:    order.Currency,
		Email:       order.Customer.Email,
		Name:        order.Customer.Name,
		Phone:       order.Customer.Contact,
		CallbackURL: r.callbackURL,
	})
	metrics.GatewayDuration.WithLabelValues(string(method), "initialize").Observe(time.Since(started).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, model.ErrExternalGateway) {
			err = fmt.Errorf("%w: %v", model.ErrExternalGateway, err)
		}
		return nil, err
	}

	_, err = r.store.UpdateOrder(ctx, order.ID, func(o *model.Order) (bool, error) {
		if err := checkInitializable(o); err != nil {
			return false, err
		}
		if o.PaymentStatus == model.PaymentFailed {
			if err := orders.SetPaymentStatus(o, model.PaymentVerifying); err != nil {
				return false, err
			}
		}
		ref := reference
		o.PaymentReference = &ref
		o.PaymentMethod = method
		o.UpdatedAt = r.now()
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	checkout.Reference = reference
	r.logger.Info("payment initialized",
		zap.String("orderID", order.ID),
		zap.String("gateway", string(method)),
		zap.String("reference", reference),
	)
	return checkout, nil
}

func checkInitializable(o *model.Order) error {
	if !o.PaymentMethod.IsGateway() {
		return fmt.Errorf("%w: order %d is paid by %s", model.ErrInvalidRequest, o.Invoice, o.PaymentMethod)
	}
	if o.Status == model.OrderCancel {
		return fmt.Errorf("%w: order %d is cancelled", model.ErrIllegalTransition, o.Invoice)
	}
	if o.PaymentStatus != model.PaymentPending && o.PaymentStatus != model.PaymentFailed {
		return fmt.Errorf("%w: payment is %s", model.ErrIllegalTransition, o.PaymentStatus)
	}
	return nil
}

// Reconcile принимает решение по сообщению об оплате.
// Для уже оплаченного заказа возвращает его без изменений. Иначе платёж принимается, если
// шлюз сообщил об успехе, сумма не меньше суммы заказа и валюта совпадает; в противном случае
// оплата переводится в failed и возвращается ErrVerificationMismatch вместе с заказом.
func (r *Reconciler) Reconcile(ctx context.Context, rep Report) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "payment.Reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("reference", rep.Reference), attribute.String("source", string(rep.Source)))

	if rep.Reference == "" {
		return nil, fmt.Errorf("%w: empty payment reference", model.ErrInvalidRequest)
	}

	outcome := "paid"
	var mismatch error
	order, err := r.store.UpdateOrderByReference(ctx, rep.Reference, func(o *model.Order) (bool, error) {
		if o.PaymentStatus == model.PaymentPaid {
			outcome = "duplicate"
			return false, nil
		}
		if mismatch = verify(o, rep); mismatch != nil {
			outcome = "mismatch"
			if o.PaymentStatus == model.PaymentFailed {
				return false, nil
			}
			if err := orders.SetPaymentStatus(o, model.PaymentFailed); err != nil {
				return false, err
			}
			o.UpdatedAt = r.now()
			return true, nil
		}
		if err := orders.MarkPaid(o, r.now()); err != nil {
			return false, err
		}
		o.UpdatedAt = r.now()
		return true, nil
	})
	if err != nil {
		metrics.Reconciliations.WithLabelValues(string(rep.Source), "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metrics.Reconciliations.WithLabelValues(string(rep.Source), outcome).Inc()
	logger := r.logger.With(
		zap.String("orderID", order.ID),
		zap.String("reference", rep.Reference),
		zap.String("source", string(rep.Source)),
	)

	switch outcome {
	case "duplicate":
		logger.Debug("payment already reconciled")
	case "mismatch":
		logger.Warn("payment verification failed", zap.Error(mismatch))
		return order, mismatch
	default:
		logger.Info("payment reconciled", zap.Int64("amount", rep.AmountMinor), zap.String("currency", rep.Currency))
	}
	return order, nil
}

func verify(o *model.Order, rep Report) error {
	if !rep.Success {
		return fmt.Errorf("%w: gateway reported an unsuccessful payment", model.ErrVerificationMismatch)
	}
	if rep.Currency != o.Currency {
		return fmt.Errorf("%w: currency %s, expected %s", model.ErrVerificationMismatch, rep.Currency, o.Currency)
	}
	if rep.AmountMinor < o.TotalAmount {
		return fmt.Errorf("%w: amount %d is less than %d", model.ErrVerificationMismatch, rep.AmountMinor, o.TotalAmount)
	}
	return nil
}

// OrderByReference возвращает заказ по платёжной ссылке.
func (r *Reconciler) OrderByReference(ctx context.Context, reference string) (*model.Order, error) {
	if reference == "" {
		return nil, fmt.Errorf("%w: empty payment reference", model.ErrInvalidRequest)
	}
	return r.store.GetOrderByReference(ctx, reference)
}

// VerifyPayment проверяет оплату по запросу клиента после возврата со страницы шлюза.
// transactionID нужен шлюзам, которые проверяют транзакцию по собственному идентификатору.
func (r *Reconciler) VerifyPayment(ctx context.Context, method model.PaymentMethod, reference, transactionID string) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "payment.VerifyPayment")
	defer span.End()

	gw, err := r.Gateway(method)
	if err != nil {
		return nil, err
	}

	order, err := r.store.GetOrderByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == model.PaymentPaid {
		metrics.Reconciliations.WithLabelValues(string(SourcePoll), "duplicate").Inc()
		return order, nil
	}

	key := transactionID
	if key == "" {
		key = reference
	}

	v, err := r.verifyWithGateway(ctx, gw, key)
	if err != nil {
		return nil, err
	}
	if v.Reference != "" && v.Reference != reference {
		return nil, fmt.Errorf("%w: transaction belongs to %s", model.ErrVerificationMismatch, v.Reference)
	}

	return r.Reconcile(ctx, Report{
		Reference:   reference,
		AmountMinor: v.AmountMinor,
		Currency:    v.Currency,
		Success:     v.Success,
		Source:      SourcePoll,
	})
}

// ConfirmTransaction повторно проверяет транзакцию у шлюза и передаёт результат в Reconcile.
// Используется вебхуками шлюзов, которые не подписывают тело события.
func (r *Reconciler) ConfirmTransaction(ctx context.Context, method model.PaymentMethod, key string) (*model.Order, error) {
	gw, err := r.Gateway(method)
	if err != nil {
		return nil, err
	}
	v, err := r.verifyWithGateway(ctx, gw, key)
	if err != nil {
		return nil, err
	}
	if !v.Success {
		return nil, fmt.Errorf("%w: transaction %s is %s", model.ErrVerificationMismatch, key, v.Status)
	}
	return r.Reconcile(ctx, Report{
		Reference:   v.Reference,
		AmountMinor: v.AmountMinor,
		Currency:    v.Currency,
		Success:     true,
		Source:      SourceWebhook,
	})
}

func (r *Reconciler) verifyWithGateway(ctx context.Context, gw Gateway, key string) (*model.Verification, error) {
	gctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := time.Now()
	v, err := gw.VerifyTransaction(gctx, key)
	metrics.GatewayDuration.WithLabelValues(string(gw.Name()), "verify").Observe(time.Since(started).Seconds())
	if err != nil {
		if !errors.Is(err, model.ErrExternalGateway) {
			err = fmt.Errorf("%w: %v", model.ErrExternalGateway, err)
		}
		return nil, err
	}
	return v, nil
}

// ProofSubmission описывает подтверждение банковского перевода от покупателя.
type ProofSubmission struct {
	ImageURL string
	Bank     *model.BankTransferDetails
}

// SubmitProof сохраняет подтверждение перевода и переводит оплату в verifying.
// Повторная отправка в статусе verifying заменяет прежнее подтверждение.
func (r *Reconciler) SubmitProof(ctx context.Context, orderID string, proof ProofSubmission) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "payment.SubmitProof")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	if proof.ImageURL == "" && proof.Bank == nil {
		return nil, fmt.Errorf("%w: proof image or transfer details are required", model.ErrInvalidRequest)
	}

	order, err := r.store.UpdateOrder(ctx, orderID, func(o *model.Order) (bool, error) {
		if o.PaymentMethod != model.MethodBankTransfer {
			return false, fmt.Errorf("%w: order %d is not a bank transfer order", model.ErrInvalidRequest, o.Invoice)
		}
		switch o.PaymentStatus {
		case model.PaymentPending:
			if err := orders.SetPaymentStatus(o, model.PaymentVerifying); err != nil {
				return false, err
			}
		case model.PaymentVerifying:
		default:
			return false, fmt.Errorf("%w: payment is %s", model.ErrIllegalTransition, o.PaymentStatus)
		}

		now := r.now()
		if proof.ImageURL != "" {
			o.PaymentProof = &model.PaymentProof{ImageURL: proof.ImageURL, UploadedAt: now}
		}
		if proof.Bank != nil {
			bank := *proof.Bank
			o.BankTransfer = &bank
		}
		o.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	r.logger.Info("payment proof submitted", zap.String("orderID", order.ID), zap.Int64("invoice", order.Invoice))
	if r.notifier != nil {
		r.notifier.PaymentProofSubmitted(ctx, order)
	}
	return order, nil
}

// ProofImage описывает загружаемое изображение подтверждения.
type ProofImage struct {
	Filename    string
	ContentType string
	Body        []byte
}

// UploadProof сохраняет изображение в хранилище и регистрирует его как подтверждение перевода.
func (r *Reconciler) UploadProof(ctx context.Context, orderID string, img ProofImage, bank *model.BankTransferDetails) (*model.Order, error) {
	if r.images == nil {
		return nil, fmt.Errorf("%w: image storage is not configured", model.ErrInvalidRequest)
	}
	if len(img.Body) == 0 {
		return nil, fmt.Errorf("%w: empty proof image", model.ErrInvalidRequest)
	}

	order, err := r.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentMethod != model.MethodBankTransfer {
		return nil, fmt.Errorf("%w: order %d is not a bank transfer order", model.ErrInvalidRequest, order.Invoice)
	}
	if order.PaymentStatus != model.PaymentPending && order.PaymentStatus != model.PaymentVerifying {
		return nil, fmt.Errorf("%w: payment is %s", model.ErrIllegalTransition, order.PaymentStatus)
	}

	key := fmt.Sprintf("payment-proofs/%d/%d-%s", order.Invoice, r.now().UnixMilli(), sanitizeFilename(img.Filename))
	url, err := r.images.Upload(ctx, key, img.ContentType, img.Body)
	if err != nil {
		return nil, fmt.Errorf("upload proof: %w", err)
	}

	return r.SubmitProof(ctx, orderID, ProofSubmission{ImageURL: url, Bank: bank})
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return "proof"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}

// Decision описывает решение администратора по подтверждению перевода.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Review описывает проверку подтверждения перевода администратором.
type Review struct {
	Decision Decision
	Reviewer string
	Reason   string
}

// ReviewProof одобряет или отклоняет подтверждение перевода. Допустимо только в статусе verifying.
// Одобрение выполняет тот же переход, что и успешная сверка.
func (r *Reconciler) ReviewProof(ctx context.Context, orderID string, rv Review) (*model.Order, error) {
	ctx, span := tracer.Start(ctx, "payment.ReviewProof")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.String("decision", string(rv.Decision)))

	reason := strings.TrimSpace(rv.Reason)
	switch rv.Decision {
	case DecisionApprove:
	case DecisionReject:
		if reason == "" {
			return nil, fmt.Errorf("%w: rejection reason is required", model.ErrInvalidRequest)
		}
		if utf8.RuneCountInString(reason) > MaxRejectionReason {
			return nil, fmt.Errorf("%w: rejection reason exceeds %d characters", model.ErrInvalidRequest, MaxRejectionReason)
		}
	default:
		return nil, fmt.Errorf("%w: unknown decision %q", model.ErrInvalidRequest, rv.Decision)
	}

	order, err := r.store.UpdateOrder(ctx, orderID, func(o *model.Order) (bool, error) {
		if o.PaymentMethod != model.MethodBankTransfer {
			return false, fmt.Errorf("%w: order %d is not a bank transfer order", model.ErrInvalidRequest, o.Invoice)
		}
		if o.PaymentStatus != model.PaymentVerifying {
			return false, fmt.Errorf("%w: payment is %s, only verifying can be reviewed", model.ErrIllegalTransition, o.PaymentStatus)
		}

		now := r.now()
		proof := model.PaymentProof{}
		if o.PaymentProof != nil {
			proof = *o.PaymentProof
		}
		proof.VerifiedBy = rv.Reviewer
		proof.VerifiedAt = &now

		if rv.Decision == DecisionApprove {
			if err := orders.MarkPaid(o, now); err != nil {
				return false, err
			}
		} else {
			if err := orders.SetPaymentStatus(o, model.PaymentRejected); err != nil {
				return false, err
			}
			proof.RejectionReason = reason
		}
		o.PaymentProof = &proof
		o.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	metrics.Reconciliations.WithLabelValues("review", string(rv.Decision)).Inc()
	r.logger.Info("payment proof reviewed",
		zap.String("orderID", order.ID),
		zap.String("decision", string(rv.Decision)),
		zap.String("reviewer", rv.Reviewer),
	)
	return order, nil
}

// PendingVerifications возвращает заказы с банковским переводом, ожидающие проверки.
func (r *Reconciler) PendingVerifications(ctx context.Context) ([]model.Order, error) {
	list, err := r.store.ListOrdersByPaymentStatus(ctx, model.PaymentVerifying)
	if err != nil {
		return nil, err
	}
	out := list[:0]
	for _, o := range list {
		if o.PaymentMethod == model.MethodBankTransfer {
			out = append(out, o)
		}
	}
	return out, nil
}

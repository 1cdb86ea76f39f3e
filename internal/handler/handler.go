// Package handler содержит HTTP-обработчики ядра исполнения заказов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-fulfillment/internal/gateway"
	"github.com/mmeshcher/storefront-fulfillment/internal/ledger"
	"github.com/mmeshcher/storefront-fulfillment/internal/middleware"
	"github.com/mmeshcher/storefront-fulfillment/internal/model"
	"github.com/mmeshcher/storefront-fulfillment/internal/orders"
	"github.com/mmeshcher/storefront-fulfillment/internal/payment"
)

// OrderService определяет операции с заказами.
type OrderService interface {
	PlaceOrder(ctx context.Context, req orders.PlaceOrderRequest) (*model.Order, error)
	Get(ctx context.Context, id string) (*model.Order, error)
	Cancel(ctx context.Context, id string) (*model.Order, error)
	MarkDelivered(ctx context.Context, id string) (*model.Order, error)
	Bank() orders.BankAccount
}

// StockService определяет операции складского журнала.
type StockService interface {
	Adjust(ctx context.Context, productID string, delta int64, reason model.MovementReason, actor, note string) (*model.Product, error)
	CheckLow(ctx context.Context) ([]model.Product, error)
	History(ctx context.Context, productID string) (*model.Product, []model.StockMovement, error)
	RecentMovements(ctx context.Context, limit int) ([]model.StockMovement, error)
	Audit(ctx context.Context, productID string) (*ledger.AuditReport, error)
	NotifyWhenAvailable(ctx context.Context, productID, email string) (bool, error)
}

// PaymentService определяет операции сверки оплат.
type PaymentService interface {
	Initialize(ctx context.Context, orderID string, method model.PaymentMethod) (*model.Checkout, error)
	Reconcile(ctx context.Context, rep payment.Report) (*model.Order, error)
	OrderByReference(ctx context.Context, reference string) (*model.Order, error)
	VerifyPayment(ctx context.Context, method model.PaymentMethod, reference, transactionID string) (*model.Order, error)
	ConfirmTransaction(ctx context.Context, method model.PaymentMethod, key string) (*model.Order, error)
	SubmitProof(ctx context.Context, orderID string, proof payment.ProofSubmission) (*model.Order, error)
	UploadProof(ctx context.Context, orderID string, img payment.ProofImage, bank *model.BankTransferDetails) (*model.Order, error)
	ReviewProof(ctx context.Context, orderID string, rv payment.Review) (*model.Order, error)
	PendingVerifications(ctx context.Context) ([]model.Order, error)
}

// AlertService определяет операции уведомлений администраторов.
type AlertService interface {
	Raise(ctx context.Context, productID string, kind model.NotificationType) (*model.Notification, error)
	SweepLowStock(ctx context.Context) (int, error)
	List(ctx context.Context, adminID string, limit int) ([]model.Notification, error)
	MarkRead(ctx context.Context, id, adminID string) (*model.Notification, error)
}

// PaystackWebhook проверяет подпись и разбирает вебхук Paystack.
type PaystackWebhook interface {
	ParseWebhook(body []byte, signature string) (*gateway.PaystackEvent, error)
}

// FlutterwaveWebhook проверяет подпись и разбирает вебхук Flutterwave.
type FlutterwaveWebhook interface {
	ParseWebhook(body []byte, signature string) (*gateway.FlutterwaveEvent, error)
}

// Services объединяет зависимости обработчиков. Вебхуки шлюзов необязательны.
type Services struct {
	Orders      OrderService
	Stock       StockService
	Payments    PaymentService
	Alerts      AlertService
	Paystack    PaystackWebhook
	Flutterwave FlutterwaveWebhook
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	orders         OrderService
	stock          StockService
	payments       PaymentService
	alerts         AlertService
	paystack       PaystackWebhook
	flutterwave    FlutterwaveWebhook
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Services, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		orders:         s.Orders,
		stock:          s.Stock,
		payments:       s.Payments,
		alerts:         s.Alerts,
		paystack:       s.Paystack,
		flutterwave:    s.Flutterwave,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor сопоставляет доменную ошибку HTTP-статусу.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInsufficientStock),
		errors.Is(err, model.ErrIllegalTransition),
		errors.Is(err, model.ErrDuplicatePaymentReference):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidQuantity),
		errors.Is(err, model.ErrInvalidAdjustment),
		errors.Is(err, model.ErrVerificationMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrInvalidRequest),
		errors.Is(err, model.ErrUnsupportedGateway):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrExternalGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail отвечает клиенту по ошибке операции. Внутренние ошибки логируются и не раскрываются.
func (h *Handler) fail(w http.ResponseWriter, op string, err error, fields ...zap.Field) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", append(fields, zap.Error(err))...)
		writeError(w, status, http.StatusText(status))
		return
	}
	if status == http.StatusBadGateway {
		h.logger.Warn(op+" gateway error", append(fields, zap.Error(err))...)
	}
	writeError(w, status, err.Error())
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return limit
}

func actorFrom(r *http.Request) (middleware.Actor, bool) {
	return middleware.ActorFromContext(r.Context())
}

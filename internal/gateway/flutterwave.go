package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront-fulfillment/internal/model"
)

// FlutterwaveSignatureHeader задаёт заголовок с общим секретом вебхука.
const FlutterwaveSignatureHeader = "verif-hash"

// minorUnitExponent задаёт число знаков после запятой у поддерживаемых валют.
const minorUnitExponent = 2

// ToMajor переводит сумму из минимальных единиц в основные.
func ToMajor(minor int64) decimal.Decimal {
	return decimal.New(minor, -minorUnitExponent)
}

// ToMinor переводит сумму в основных единицах в минимальные. Доли минимальной единицы
// отбрасываются вниз: округление не должно превращать недоплату в полную оплату.
func ToMinor(major decimal.Decimal) int64 {
	return major.Shift(minorUnitExponent).Floor().IntPart()
}

// Flutterwave реализует адаптер шлюза, работающего в основных единицах валюты.
type Flutterwave struct {
	client      httpClient
	webhookHash string
	title       string
}

// NewFlutterwave создаёт адаптер Flutterwave. webhookHash сверяется с заголовком verif-hash.
func NewFlutterwave(baseURL, secretKey, webhookHash string, timeout time.Duration) *Flutterwave {
	return &Flutterwave{
		client:      newHTTPClient(baseURL, secretKey, timeout),
		webhookHash: webhookHash,
		title:       "Storefront Payment",
	}
}

// Name возвращает способ оплаты, обслуживаемый адаптером.
func (f *Flutterwave) Name() model.PaymentMethod {
	return model.MethodFlutterwave
}

type flutterwaveCustomer struct {
	Email       string `json:"email"`
	PhoneNumber string `json:"phonenumber,omitempty"`
	Name        string `json:"name,omitempty"`
}

type flutterwaveCustomizations struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type flutterwavePaymentRequest struct {
	TxRef          string                    `json:"tx_ref"`
	Amount         decimal.Decimal           `json:"amount"`
	Currency       string                    `json:"currency"`
	RedirectURL    string                    `json:"redirect_url,omitempty"`
	PaymentOptions string                    `json:"payment_options"`
	Customer       flutterwaveCustomer       `json:"customer"`
	Customizations flutterwaveCustomizations `json:"customizations"`
	Meta           map[string]string         `json:"meta,omitempty"`
}

type flutterwaveEnvelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type flutterwavePaymentData struct {
	Link string `json:"link"`
}

// FlutterwaveTransaction описывает транзакцию в ответах и вебхуках Flutterwave.
type FlutterwaveTransaction struct {
	ID       int64           `json:"id"`
	TxRef    string          `json:"tx_ref"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Status   string          `json:"status"`
}

// InitializeTransaction открывает платёж и возвращает ссылку на страницу оплаты.
func (f *Flutterwave) InitializeTransaction(ctx context.Context, req model.CheckoutRequest) (*model.Checkout, error) {
	body := flutterwavePaymentRequest{
		TxRef:          req.Reference,
		Amount:         ToMajor(req.AmountMinor),
		Currency:       req.Currency,
		RedirectURL:    req.CallbackURL,
		PaymentOptions: "card,banktransfer,ussd",
		Customer: flutterwaveCustomer{
			Email:       req.Email,
			PhoneNumber: req.Phone,
			Name:        req.Name,
		},
		Customizations: flutterwaveCustomizations{
			Title:       f.title,
			Description: fmt.Sprintf("Payment for order #%d", req.Invoice),
		},
		Meta: map[string]string{
			"orderId": req.OrderID,
			"invoice": strconv.FormatInt(req.Invoice, 10),
		},
	}

	var resp flutterwaveEnvelope[flutterwavePaymentData]
	if err := f.client.doJSON(ctx, http.MethodPost, "/v3/payments", body, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" || resp.Data.Link == "" {
		return nil, fmt.Errorf("%w: flutterwave initialize: %s", model.ErrExternalGateway, resp.Message)
	}

	return &model.Checkout{
		RedirectURL: resp.Data.Link,
		Reference:   req.Reference,
	}, nil
}

// VerifyTransaction проверяет транзакцию по идентификатору Flutterwave.
func (f *Flutterwave) VerifyTransaction(ctx context.Context, transactionID string) (*model.Verification, error) {
	if transactionID == "" {
		return nil, fmt.Errorf("%w: transaction id is required", model.ErrInvalidRequest)
	}

	var resp flutterwaveEnvelope[FlutterwaveTransaction]
	path := "/v3/transactions/" + url.PathEscape(transactionID) + "/verify"
	if err := f.client.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("%w: flutterwave verify: %s", model.ErrExternalGateway, resp.Message)
	}
	v := resp.Data.Verification()
	return &v, nil
}

// Verification приводит транзакцию к общему виду.
func (t FlutterwaveTransaction) Verification() model.Verification {
	return model.Verification{
		Reference:     t.TxRef,
		TransactionID: strconv.FormatInt(t.ID, 10),
		AmountMinor:   ToMinor(t.Amount),
		Currency:      t.Currency,
		Success:       t.Status == "successful",
		Status:        t.Status,
	}
}

// FlutterwaveEvent описывает событие вебхука. Поддерживается как формат с вложенным data,
// так и плоский формат, где поля транзакции лежат в корне.
type FlutterwaveEvent struct {
	Event string                  `json:"event"`
	Data  *FlutterwaveTransaction `json:"data"`
	FlutterwaveTransaction
}

// Transaction возвращает транзакцию события.
func (e *FlutterwaveEvent) Transaction() FlutterwaveTransaction {
	if e.Data != nil {
		return *e.Data
	}
	return e.FlutterwaveTransaction
}

// ParseWebhook сверяет заголовок verif-hash с настроенным значением и разбирает событие.
func (f *Flutterwave) ParseWebhook(body []byte, signature string) (*FlutterwaveEvent, error) {
	if f.webhookHash == "" || signature == "" {
		return nil, ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare([]byte(signature), []byte(f.webhookHash)) != 1 {
		return nil, ErrInvalidSignature
	}

	var ev FlutterwaveEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: decode flutterwave event: %v", model.ErrInvalidRequest, err)
	}
	return &ev, nil
}

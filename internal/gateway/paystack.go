package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mmeshcher/storefront-fulfillment/internal/model"
)

// PaystackSignatureHeader задаёт заголовок с HMAC-SHA512 подписью тела вебхука.
const PaystackSignatureHeader = "x-paystack-signature"

// Paystack реализует адаптер шлюза, работающего в минимальных единицах валюты.
type Paystack struct {
	client httpClient
}

// NewPaystack создаёт адаптер Paystack.
func NewPaystack(baseURL, secretKey string, timeout time.Duration) *Paystack {
	return &Paystack{client: newHTTPClient(baseURL, secretKey, timeout)}
}

// Name возвращает способ оплаты, обслуживаемый адаптером.
func (p *Paystack) Name() model.PaymentMethod {
	return model.MethodPaystack
}

type paystackInitRequest struct {
	Email       string            `json:"email"`
	Amount      string            `json:"amount"`
	Reference   string            `json:"reference"`
	Currency    string            `json:"currency"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type paystackEnvelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type paystackInitData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// PaystackTransaction описывает транзакцию в ответах и вебхуках Paystack.
type PaystackTransaction struct {
	ID        int64  `json:"id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// InitializeTransaction открывает транзакцию и возвращает адрес страницы оплаты.
func (p *Paystack) InitializeTransaction(ctx context.Context, req model.CheckoutRequest) (*model.Checkout, error) {
	body := paystackInitRequest{
		Email:       req.Email,
		Amount:      strconv.FormatInt(req.AmountMinor, 10),
		Reference:   req.Reference,
		Currency:    req.Currency,
		CallbackURL: req.CallbackURL,
		Metadata: map[string]string{
			"orderId": req.OrderID,
			"invoice": strconv.FormatInt(req.Invoice, 10),
			"name":    req.Name,
			"phone":   req.Phone,
		},
	}

	var resp paystackEnvelope[paystackInitData]
	if err := p.client.doJSON(ctx, http.MethodPost, "/transaction/initialize", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Status || resp.Data.AuthorizationURL == "" {
		return nil, fmt.Errorf("%w: paystack initialize: %s", model.ErrExternalGateway, resp.Message)
	}

	return &model.Checkout{
		RedirectURL: resp.Data.AuthorizationURL,
		AccessCode:  resp.Data.AccessCode,
		Reference:   req.Reference,
	}, nil
}

// VerifyTransaction проверяет транзакцию по платёжной ссылке.
func (p *Paystack) VerifyTransaction(ctx context.Context, reference string) (*model.Verification, error) {
	var resp paystackEnvelope[PaystackTransaction]
	if err := p.client.doJSON(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, fmt.Errorf("%w: paystack verify: %s", model.ErrExternalGateway, resp.Message)
	}
	v := resp.Data.Verification()
	return &v, nil
}

// Verification приводит транзакцию к общему виду.
func (t PaystackTransaction) Verification() model.Verification {
	return model.Verification{
		Reference:     t.Reference,
		TransactionID: strconv.FormatInt(t.ID, 10),
		AmountMinor:   t.Amount,
		Currency:      t.Currency,
		Success:       t.Status == "success",
		Status:        t.Status,
	}
}

// PaystackEvent описывает событие вебхука Paystack.
type PaystackEvent struct {
	Event string              `json:"event"`
	Data  PaystackTransaction `json:"data"`
}

// SignPaystack вычисляет подпись тела вебхука.
func SignPaystack(secretKey string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhook проверяет подпись исходного тела и разбирает событие.
func (p *Paystack) ParseWebhook(body []byte, signature string) (*PaystackEvent, error) {
	if p.client.secretKey == "" || signature == "" {
		return nil, ErrInvalidSignature
	}
	expected := SignPaystack(p.client.secretKey, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, ErrInvalidSignature
	}

	var ev PaystackEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: decode paystack event: %v", model.ErrInvalidRequest, err)
	}
	return &ev, nil
}

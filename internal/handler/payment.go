package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-fulfillment/internal/model"
	"github.com/mmeshcher/storefront-fulfillment/internal/payment"
	"github.com/mmeshcher/storefront-fulfillment/internal/storage"
	"github.com/mmeshcher/storefront-fulfillment/internal/validation"
)

type initializeRequest struct {
	Gateway model.PaymentMethod `json:"gateway"`
}

// InitializePayment создаёт платёж у шлюза и возвращает адрес для оплаты.
func (h *Handler) InitializePayment(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOwnOrder(w, r)
	if !ok {
		return
	}

	var req initializeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed payment request")
		return
	}

	checkout, err := h.payments.Initialize(r.Context(), order.ID, req.Gateway)
	if err != nil {
		h.fail(w, "initialize payment", err, zap.String("orderID", order.ID))
		return
	}
	writeJSON(w, http.StatusOK, checkout)
}

// VerifyPayment проверяет оплату после возврата покупателя со страницы шлюза.
// Покупатель может проверить только свой заказ.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r)
	q := r.URL.Query()
	method := model.PaymentMethod(q.Get("gateway"))
	reference := q.Get("reference")
	if reference == "" {
		reference = q.Get("tx_ref")
	}
	if reference == "" {
		writeError(w, http.StatusBadRequest, "payment reference is required")
		return
	}

	owned, err := h.payments.OrderByReference(r.Context(), reference)
	if err != nil {
		h.fail(w, "verify payment", err, zap.String("reference", reference))
		return
	}
	if !actor.IsAdmin() && owned.Customer.UserID != actor.ID {
		h.fail(w, "verify payment", fmt.Errorf("%w: payment reference %s", model.ErrNotFound, reference))
		return
	}

	order, err := h.payments.VerifyPayment(r.Context(), method, reference, q.Get("transaction_id"))
	if err != nil {
		h.fail(w, "verify payment", err, zap.String("reference", reference))
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// maxProofForm ограничивает multipart-форму: изображение плюс поля реквизитов.
const maxProofForm = storage.MaxImageSize + 1<<20

// SubmitProof принимает подтверждение банковского перевода: файл изображения в поле image
// или готовый адрес в поле imageUrl, а также реквизиты перевода.
func (h *Handler) SubmitProof(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOwnOrder(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxProofForm)
	if err := r.ParseMultipartForm(maxProofForm); err != nil {
		writeError(w, http.StatusBadRequest, "malformed proof form")
		return
	}

	bank, err := bankDetailsFromForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, header, err := r.FormFile("image")
	switch {
	case err == nil:
		defer file.Close()
		body, readErr := io.ReadAll(file)
		if readErr != nil {
			writeError(w, http.StatusBadRequest, "cannot read proof image")
			return
		}
		order, err = h.payments.UploadProof(r.Context(), order.ID, payment.ProofImage{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Body:        body,
		}, bank)
	case errors.Is(err, http.ErrMissingFile):
		order, err = h.payments.SubmitProof(r.Context(), order.ID, payment.ProofSubmission{
			ImageURL: strings.TrimSpace(r.FormValue("imageUrl")),
			Bank:     bank,
		})
	default:
		writeError(w, http.StatusBadRequest, "malformed proof image")
		return
	}
	if err != nil {
		h.fail(w, "submit proof", err, zap.String("orderID", chi.URLParam(r, "orderID")))
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func bankDetailsFromForm(r *http.Request) (*model.BankTransferDetails, error) {
	d := model.BankTransferDetails{
		AccountName:   strings.TrimSpace(r.FormValue("accountName")),
		AccountNumber: strings.TrimSpace(r.FormValue("accountNumber")),
		BankName:      strings.TrimSpace(r.FormValue("bankName")),
	}

	if d.AccountNumber != "" && !validation.IsValidAccountNumber(d.AccountNumber) {
		return nil, errors.New("account number must be 10 digits")
	}

	if s := strings.TrimSpace(r.FormValue("transferDate")); s != "" {
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			if t, err = time.Parse(time.RFC3339, s); err != nil {
				return nil, errors.New("transfer date must be YYYY-MM-DD or RFC 3339")
			}
		}
		d.TransferDate = &t
	}

	if s := strings.TrimSpace(r.FormValue("amount")); s != "" {
		amount, err := strconv.ParseInt(s, 10, 64)
		if err != nil || amount < 0 {
			return nil, errors.New("amount must be a non-negative integer in minor units")
		}
		d.Amount = amount
	}

	if d == (model.BankTransferDetails{}) {
		return nil, nil
	}
	return &d, nil
}

type reviewRequest struct {
	Decision payment.Decision `json:"decision"`
	Reason   string           `json:"reason"`
}

// ReviewProof одобряет или отклоняет подтверждение перевода.
func (h *Handler) ReviewProof(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r)

	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed review request")
		return
	}

	id := chi.URLParam(r, "orderID")
	order, err := h.payments.ReviewProof(r.Context(), id, payment.Review{
		Decision: req.Decision,
		Reviewer: actor.ID,
		Reason:   req.Reason,
	})
	if err != nil {
		h.fail(w, "review proof", err, zap.String("orderID", id))
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// PendingVerifications возвращает заказы, ожидающие проверки перевода.
func (h *Handler) PendingVerifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.payments.PendingVerifications(r.Context())
	if err != nil {
		h.fail(w, "pending verifications", err)
		return
	}
	if list == nil {
		list = []model.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

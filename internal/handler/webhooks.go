package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-fulfillment/internal/gateway"
	"github.com/mmeshcher/storefront-fulfillment/internal/metrics"
	"github.com/mmeshcher/storefront-fulfillment/internal/model"
	"github.com/mmeshcher/storefront-fulfillment/internal/payment"
)

const maxWebhookBody = 1 << 20

// Шлюз повторяет доставку, пока не получит 2xx, поэтому после проверки подписи
// вебхук всегда подтверждается, а ошибки сверки только логируются.

// PaystackWebhook обрабатывает события Paystack.
func (h *Handler) PaystackWebhook(w http.ResponseWriter, r *http.Request) {
	const name = "paystack"
	if h.paystack == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.acknowledge(w, name, "unreadable", err)
		return
	}

	ev, err := h.paystack.ParseWebhook(body, r.Header.Get(gateway.PaystackSignatureHeader))
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) {
			h.rejectSignature(w, name)
			return
		}
		h.acknowledge(w, name, "malformed", err)
		return
	}

	if ev.Event != "charge.success" {
		h.acknowledge(w, name, "ignored", nil, zap.String("event", ev.Event))
		return
	}

	v := ev.Data.Verification()
	_, err = h.payments.Reconcile(r.Context(), payment.Report{
		Reference:   v.Reference,
		AmountMinor: v.AmountMinor,
		Currency:    v.Currency,
		Success:     v.Success,
		Source:      payment.SourceWebhook,
	})
	h.acknowledge(w, name, outcomeOf(err), err, zap.String("reference", v.Reference))
}

// FlutterwaveWebhook обрабатывает события Flutterwave. Тело события не подписано,
// поэтому транзакция перепроверяется у шлюза по её идентификатору.
func (h *Handler) FlutterwaveWebhook(w http.ResponseWriter, r *http.Request) {
	const name = "flutterwave"
	if h.flutterwave == nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.acknowledge(w, name, "unreadable", err)
		return
	}

	ev, err := h.flutterwave.ParseWebhook(body, r.Header.Get(gateway.FlutterwaveSignatureHeader))
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) {
			h.rejectSignature(w, name)
			return
		}
		h.acknowledge(w, name, "malformed", err)
		return
	}

	tx := ev.Transaction()
	if tx.Status != "successful" || tx.ID == 0 {
		h.acknowledge(w, name, "ignored", nil, zap.String("event", ev.Event), zap.String("status", tx.Status))
		return
	}

	_, err = h.payments.ConfirmTransaction(r.Context(), model.MethodFlutterwave, strconv.FormatInt(tx.ID, 10))
	h.acknowledge(w, name, outcomeOf(err), err, zap.String("reference", tx.TxRef), zap.Int64("transactionID", tx.ID))
}

func outcomeOf(err error) string {
	if err != nil {
		return "failed"
	}
	return "reconciled"
}

func (h *Handler) rejectSignature(w http.ResponseWriter, name string) {
	metrics.Webhooks.WithLabelValues(name, "invalid_signature").Inc()
	h.logger.Warn("webhook signature rejected", zap.String("gateway", name))
	writeError(w, http.StatusUnauthorized, "invalid signature")
}

func (h *Handler) acknowledge(w http.ResponseWriter, name, outcome string, err error, fields ...zap.Field) {
	metrics.Webhooks.WithLabelValues(name, outcome).Inc()
	fields = append(fields, zap.String("gateway", name), zap.String("outcome", outcome))
	if err != nil {
		h.logger.Error("webhook processing failed", append(fields, zap.Error(err))...)
	} else {
		h.logger.Debug("webhook processed", fields...)
	}
	w.WriteHeader(http.StatusOK)
}

package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-fulfillment/internal/model"
	"github.com/mmeshcher/storefront-fulfillment/internal/orders"
	"github.com/mmeshcher/storefront-fulfillment/internal/validation"
)

// PlaceOrder создаёт заказ текущего покупателя.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		return
	}

	var req orders.PlaceOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed order request")
		return
	}

	req.Customer.Email = validation.NormalizeEmail(req.Customer.Email)
	if !validation.IsValidEmail(req.Customer.Email) {
		writeError(w, http.StatusBadRequest, "a valid customer email is required")
		return
	}
	req.Customer.UserID = actor.ID

	order, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		h.fail(w, "place order", err, zap.String("userID", actor.ID))
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// loadOwnOrder возвращает заказ, если он принадлежит участнику или участник является администратором.
func (h *Handler) loadOwnOrder(w http.ResponseWriter, r *http.Request) (*model.Order, bool) {
	actor, ok := actorFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		return nil, false
	}

	id := chi.URLParam(r, "orderID")
	order, err := h.orders.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get order", err, zap.String("orderID", id))
		return nil, false
	}

	// Чужой заказ не раскрываем.
	if !actor.IsAdmin() && order.Customer.UserID != actor.ID {
		h.fail(w, "get order", fmt.Errorf("%w: order %s", model.ErrNotFound, id))
		return nil, false
	}
	return order, true
}

// GetOrder возвращает заказ.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOwnOrder(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CancelOrder отменяет заказ и возвращает зарезервированные остатки.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOwnOrder(w, r)
	if !ok {
		return
	}

	order, err := h.orders.Cancel(r.Context(), order.ID)
	if err != nil {
		h.fail(w, "cancel order", err, zap.String("orderID", chi.URLParam(r, "orderID")))
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// DeliverOrder отмечает заказ доставленным.
func (h *Handler) DeliverOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderID")
	order, err := h.orders.MarkDelivered(r.Context(), id)
	if err != nil {
		h.fail(w, "deliver order", err, zap.String("orderID", id))
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// BankDetails возвращает реквизиты для банковского перевода.
func (h *Handler) BankDetails(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.orders.Bank())
}

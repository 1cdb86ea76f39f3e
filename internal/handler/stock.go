package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-fulfillment/internal/model"
	"github.com/mmeshcher/storefront-fulfillment/internal/validation"
)

type adjustRequest struct {
	Delta  int64                `json:"delta"`
	Reason model.MovementReason `json:"reason"`
	Note   string               `json:"note"`
}

// AdjustStock выполняет ручную корректировку остатка администратором.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r)

	var req adjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed adjustment request")
		return
	}

	id := chi.URLParam(r, "productID")
	p, err := h.stock.Adjust(r.Context(), id, req.Delta, req.Reason, actor.ID, req.Note)
	if err != nil {
		h.fail(w, "adjust stock", err, zap.String("productID", id))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type historyResponse struct {
	Product *model.Product        `json:"product"`
	History []model.StockMovement `json:"history"`
}

// StockHistory возвращает историю движений товара.
func (h *Handler) StockHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "productID")
	p, history, err := h.stock.History(r.Context(), id)
	if err != nil {
		h.fail(w, "stock history", err, zap.String("productID", id))
		return
	}
	if history == nil {
		history = []model.StockMovement{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Product: p, History: history})
}

// AuditStock сверяет остаток товара с историей движений.
func (h *Handler) AuditStock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "productID")
	report, err := h.stock.Audit(r.Context(), id)
	if err != nil {
		h.fail(w, "audit stock", err, zap.String("productID", id))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RecentMovements возвращает последние движения по всем товарам.
func (h *Handler) RecentMovements(w http.ResponseWriter, r *http.Request) {
	list, err := h.stock.RecentMovements(r.Context(), queryLimit(r))
	if err != nil {
		h.fail(w, "recent movements", err)
		return
	}
	if list == nil {
		list = []model.StockMovement{}
	}
	writeJSON(w, http.StatusOK, list)
}

// LowStock возвращает товары с остатком на уровне порога или ниже.
func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	list, err := h.stock.CheckLow(r.Context())
	if err != nil {
		h.fail(w, "low stock", err)
		return
	}
	if list == nil {
		list = []model.Product{}
	}
	writeJSON(w, http.StatusOK, list)
}

type notifyRequest struct {
	Email string `json:"email"`
}

type notifyResponse struct {
	Added bool `json:"added"`
}

// NotifyMe подписывает адрес на уведомление о поступлении товара.
func (h *Handler) NotifyMe(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed notify request")
		return
	}

	email := validation.NormalizeEmail(req.Email)
	if !validation.IsValidEmail(email) {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	id := chi.URLParam(r, "productID")
	added, err := h.stock.NotifyWhenAvailable(r.Context(), id, email)
	if err != nil {
		h.fail(w, "notify me", err, zap.String("productID", id))
		return
	}
	writeJSON(w, http.StatusOK, notifyResponse{Added: added})
}

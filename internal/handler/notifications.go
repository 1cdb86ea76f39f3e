package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-fulfillment/internal/model"
)

// ListNotifications возвращает уведомления текущего администратора.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r)

	list, err := h.alerts.List(r.Context(), actor.ID, queryLimit(r))
	if err != nil {
		h.fail(w, "list notifications", err, zap.String("adminID", actor.ID))
		return
	}
	if list == nil {
		list = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

// MarkNotificationRead отмечает уведомление прочитанным текущим администратором.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r)
	id := chi.URLParam(r, "notificationID")

	n, err := h.alerts.MarkRead(r.Context(), id, actor.ID)
	if err != nil {
		h.fail(w, "mark notification read", err, zap.String("notificationID", id))
		return
	}
	writeJSON(w, http.StatusOK, n)
}

type raiseRequest struct {
	Type model.NotificationType `json:"type"`
}

type raiseResponse struct {
	Created      bool                `json:"created"`
	Notification *model.Notification `json:"notification,omitempty"`
}

// RaiseAlert вручную поднимает уведомление о запасах. Повтор в течение суток не создаёт нового.
func (h *Handler) RaiseAlert(w http.ResponseWriter, r *http.Request) {
	var req raiseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed alert request")
		return
	}

	id := chi.URLParam(r, "productID")
	n, err := h.alerts.Raise(r.Context(), id, req.Type)
	if err != nil {
		h.fail(w, "raise alert", err, zap.String("productID", id))
		return
	}
	writeJSON(w, http.StatusOK, raiseResponse{Created: n != nil, Notification: n})
}

type sweepResponse struct {
	Raised int `json:"raised"`
}

// SweepLowStock запускает проверку остатков вне расписания.
func (h *Handler) SweepLowStock(w http.ResponseWriter, r *http.Request) {
	raised, err := h.alerts.SweepLowStock(r.Context())
	if err != nil {
		h.fail(w, "sweep low stock", err)
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{Raised: raised})
}

// Package handler contains the HTTP handlers of the admin API: ledger
// inspection and manual re-forwarding of a single order.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/middleware"
	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/model"
	"github.com/Whateverdoa/RESELLER-PDC-SWITCH/internal/repository"
)

// Engine is the part of the sync engine the admin API drives.
type Engine interface {
	ForwardOrder(ctx context.Context, order model.Order) bool
}

// Ledger is the read side of the order store used by the admin API.
type Ledger interface {
	ListByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error)
	GetByExternalID(ctx context.Context, externalID string) (*model.Order, error)
}

// Handler implements the admin API endpoints.
type Handler struct {
	engine         Engine
	ledger         Ledger
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates the admin API handler.
func NewHandler(engine Engine, ledger Ledger, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		engine:         engine,
		ledger:         ledger,
		logger:         logger,
		authMiddleware: auth,
	}
}

type orderView struct {
	ExternalID string    `json:"externalId"`
	Status     string    `json:"status"`
	IngestedAt time.Time `json:"ingestedAt"`
}

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// ListOrders returns the ledger rows in the requested status, oldest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		http.Error(w, "status query parameter is required", http.StatusBadRequest)
		return
	}

	orders, err := h.ledger.ListByStatus(r.Context(), model.OrderStatus(status))
	if err != nil {
		h.logger.Error("list orders error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, orderView{
			ExternalID: o.ExternalID,
			Status:     string(o.Status),
			IngestedAt: o.IngestedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		h.logger.Error("encode orders error", zap.Error(err))
	}
}

// ForwardOrder re-sends one order to the downstream consumer, regardless of
// the regular cycle. Used to recover orders the consumer rejected earlier.
func (h *Handler) ForwardOrder(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")

	order, err := h.ledger.GetByExternalID(r.Context(), externalID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get order error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	forwarded := h.engine.ForwardOrder(r.Context(), *order)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"externalId": externalID,
		"forwarded":  forwarded,
	})
}

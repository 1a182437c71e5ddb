package handlers

import (
	"net/http"
	"time"

	"github.com/earnhub/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type WithdrawalHandler struct {
	withdrawals *services.WithdrawalService
	logger      zerolog.Logger
	now         func() time.Time
}

func NewWithdrawalHandler(withdrawals *services.WithdrawalService, logger zerolog.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{
		withdrawals: withdrawals,
		logger:      logger.With().Str("component", "WithdrawalHandler").Logger(),
		now:         time.Now,
	}
}

// Request creates a pending withdrawal for the caller.
func (h *WithdrawalHandler) Request(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	var req services.WithdrawalRequest
	if err := decodeJSON(r, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	req.AccountID = id

	withdrawal, err := h.withdrawals.Request(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, withdrawal)
}

// Available reports the balance a withdrawal from ?source= could draw.
func (h *WithdrawalHandler) Available(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	source := r.URL.Query().Get("source")
	available, err := h.withdrawals.AvailableBalance(r.Context(), id, source, h.now())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": source, "available": available})
}

func (h *WithdrawalHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	withdrawal, err := h.withdrawals.GetWithdrawal(r.Context(), chi.URLParam(r, "withdrawalId"))
	if err == nil && withdrawal.AccountID != id {
		err = services.ErrWithdrawalNotFound
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawal)
}

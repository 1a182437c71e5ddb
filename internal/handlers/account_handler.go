package handlers

import (
	"net/http"

	"github.com/earnhub/backend/internal/services"
	"github.com/rs/zerolog"
)

type AccountHandler struct {
	ledger    *services.LedgerService
	validator *services.ValidationHelper
	logger    zerolog.Logger
}

func NewAccountHandler(ledger *services.LedgerService, logger zerolog.Logger) *AccountHandler {
	return &AccountHandler{
		ledger:    ledger,
		validator: services.NewValidationHelper(),
		logger:    logger.With().Str("component", "AccountHandler").Logger(),
	}
}

// Open registers a new account pending approval.
func (h *AccountHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req services.OpenAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	account, err := h.ledger.OpenAccount(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// Me returns the caller's balances.
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	account, err := h.ledger.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// Transactions lists the caller's ledger history.
func (h *AccountHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	txs, err := h.ledger.ListTransactions(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

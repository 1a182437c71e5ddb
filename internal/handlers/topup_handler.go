package handlers

import (
	"net/http"

	"github.com/earnhub/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type TopUpHandler struct {
	topups *services.TopUpService
	logger zerolog.Logger
}

func NewTopUpHandler(topups *services.TopUpService, logger zerolog.Logger) *TopUpHandler {
	return &TopUpHandler{
		topups: topups,
		logger: logger.With().Str("component", "TopUpHandler").Logger(),
	}
}

func (h *TopUpHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	intent, err := h.topups.CreateTopUp(r.Context(), id, req.Amount)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, intent)
}

// Confirm settles a top-up against the gateway. It is safe to repeat.
func (h *TopUpHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	lt, err := h.topups.ConfirmTopUp(r.Context(), id, chi.URLParam(r, "reference"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, lt)
}

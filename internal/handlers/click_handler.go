package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/earnhub/backend/internal/services"
	"github.com/rs/zerolog"
)

type ClickHandler struct {
	clicks *services.ClickService
	logger zerolog.Logger
	now    func() time.Time
}

func NewClickHandler(clicks *services.ClickService, logger zerolog.Logger) *ClickHandler {
	return &ClickHandler{
		clicks: clicks,
		logger: logger.With().Str("component", "ClickHandler").Logger(),
		now:    time.Now,
	}
}

// Record registers one click. Clicks past the daily cap return 200 with
// reward_granted false.
func (h *ClickHandler) Record(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	result, err := h.clicks.RecordClick(r.Context(), id, h.now())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ClickHandler) Activate(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	account, err := h.clicks.ActivateClickingTask(r.Context(), id)
	var cerr *services.CommissionError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, account)
	case account != nil && errors.As(err, &cerr):
		h.logger.Error().Err(err).Str("account_id", id).Msg("Activation bonus propagation failed")
		writeJSON(w, http.StatusOK, account)
	default:
		writeError(w, h.logger, err)
	}
}

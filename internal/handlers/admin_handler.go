package handlers

import (
	"net/http"
	"time"

	"github.com/earnhub/backend/internal/config"
	"github.com/earnhub/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type AdminHandler struct {
	ledger      *services.LedgerService
	withdrawals *services.WithdrawalService
	scheduler   *services.Scheduler
	settings    config.EarningsProvider
	logger      zerolog.Logger
	now         func() time.Time
}

func NewAdminHandler(ledger *services.LedgerService, withdrawals *services.WithdrawalService, scheduler *services.Scheduler, settings config.EarningsProvider, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		ledger:      ledger,
		withdrawals: withdrawals,
		scheduler:   scheduler,
		settings:    settings,
		logger:      logger.With().Str("component", "AdminHandler").Logger(),
		now:         time.Now,
	}
}

// SetApproval approves or rejects an account.
func (h *AdminHandler) SetApproval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	account, err := h.ledger.SetApproval(r.Context(), chi.URLParam(r, "accountId"), req.Status)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// ListWithdrawals lists withdrawals, optionally filtered by ?status=.
func (h *AdminHandler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	ws, err := h.withdrawals.ListWithdrawals(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": ws})
}

func (h *AdminHandler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	withdrawal, err := h.withdrawals.Approve(r.Context(), chi.URLParam(r, "withdrawalId"), h.now())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawal)
}

func (h *AdminHandler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	withdrawal, err := h.withdrawals.Reject(r.Context(), chi.URLParam(r, "withdrawalId"), h.now())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawal)
}

// RunScheduler accrues and sweeps now instead of waiting for the next tick.
func (h *AdminHandler) RunScheduler(w http.ResponseWriter, r *http.Request) {
	report, err := h.scheduler.RunOnce(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Manual scheduler run finished with errors")
		writeJSON(w, http.StatusOK, map[string]any{"report": report, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report})
}

// Settings returns the earnings settings currently in effect.
func (h *AdminHandler) Settings(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.settings.Current(r.Context())
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusServiceUnavailable, nil)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// RefreshSettings drops the settings cache.
func (h *AdminHandler) RefreshSettings(w http.ResponseWriter, r *http.Request) {
	if err := h.settings.Refresh(r.Context()); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusServiceUnavailable, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/earnhub/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type PackageHandler struct {
	packages  *services.PackageService
	validator *services.ValidationHelper
	logger    zerolog.Logger
	now       func() time.Time
}

func NewPackageHandler(packages *services.PackageService, logger zerolog.Logger) *PackageHandler {
	return &PackageHandler{
		packages:  packages,
		validator: services.NewValidationHelper(),
		logger:    logger.With().Str("component", "PackageHandler").Logger(),
		now:       time.Now,
	}
}

// Purchase buys a package from the wallet. A commission failure after the
// purchase committed is reported alongside the created package.
func (h *PackageHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	var req services.PurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	pkg, err := h.packages.Purchase(r.Context(), id, req.PackageType, req.Amount)
	var cerr *services.CommissionError
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]any{"package": pkg})
	case pkg != nil && errors.As(err, &cerr):
		h.logger.Error().Err(err).Str("package_id", pkg.ID).Int("level", cerr.Level).
			Msg("Commission propagation aborted after purchase")
		writeJSON(w, http.StatusCreated, map[string]any{"package": pkg, "commission_error": cerr.Error()})
	default:
		writeError(w, h.logger, err)
	}
}

func (h *PackageHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	pkgs, err := h.packages.ListPackages(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": pkgs})
}

func (h *PackageHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	pkg, err := h.packages.GetPackage(r.Context(), id, chi.URLParam(r, "packageId"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

// Claim pays out a matured package into shared earnings.
func (h *PackageHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}
	credited, err := h.packages.Claim(r.Context(), id, chi.URLParam(r, "packageId"), h.now())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credited": credited})
}

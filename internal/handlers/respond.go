package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	mW "github.com/earnhub/backend/internal/middleware"
	"github.com/earnhub/backend/internal/services"
	"github.com/rs/zerolog"
)

var errEmptyBody = errors.New("request body must only contain a single JSON object")

// decodeJSON reads exactly one JSON object into dst.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errEmptyBody
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind to the HTTP status returned to clients.
func statusFor(err error) int {
	if errors.Is(err, services.ErrConfigUnavailable) {
		return http.StatusServiceUnavailable
	}
	switch services.KindOf(err) {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case services.KindStateConflict:
		return http.StatusConflict
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError sends a service error. Internal failures are logged and hidden.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Msg("Request failed")
		message = "Internal server error"
	}
	services.SendErrorResponse(w, message, status, services.ValidationErrors(err))
}

// accountID returns the authenticated account or writes a 401.
func accountID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := mW.AccountIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return "", false
	}
	return id, true
}

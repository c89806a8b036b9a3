package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/subscriptly/billing/internal/models"
	"github.com/subscriptly/billing/internal/services"
	"go.uber.org/zap"
)

var errorStatus = []struct {
	err    error
	status int
}{
	{models.ErrPaymentNotFound, http.StatusNotFound},
	{models.ErrSubscriptionNotFound, http.StatusNotFound},
	{models.ErrTierNotFound, http.StatusNotFound},
	{models.ErrTargetNotFound, http.StatusNotFound},
	{models.ErrGatewayNotFound, http.StatusNotFound},
	{models.ErrMandateNotFound, http.StatusNotFound},
	{models.ErrPaymentAlreadyPaid, http.StatusConflict},
	{models.ErrDuplicateBilling, http.StatusConflict},
	{models.ErrTargetClosed, http.StatusConflict},
	{models.ErrUnsupportedGateway, http.StatusUnprocessableEntity},
	{models.ErrPaymentNotPayable, http.StatusUnprocessableEntity},
	{models.ErrInsufficientBalance, http.StatusUnprocessableEntity},
	{models.ErrInvalidAmount, http.StatusUnprocessableEntity},
	{models.ErrInvalidKind, http.StatusUnprocessableEntity},
	{models.ErrGatewayUnavailable, http.StatusBadGateway},
	{models.ErrGatewayRejected, http.StatusBadGateway},
	{models.ErrBlackoutWindow, http.StatusServiceUnavailable},
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return http.StatusBadRequest
	}
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

func sendError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusFor(err)
	switch {
	case status == http.StatusBadRequest:
		services.SendErrorResponse(w, "Validation failed", status, err)
		return
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
		logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	if status == http.StatusInternalServerError {
		services.SendErrorResponse(w, "Internal server error", status, nil)
		return
	}
	services.SendErrorResponse(w, err.Error(), status, nil)
}

// decodeJSON reads exactly one JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

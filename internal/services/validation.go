package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/subscriptly/billing/internal/models"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper with the billing
// specific tags registered.
func NewValidationHelper() *ValidationHelper {
	v := validator.New()
	v.RegisterValidation("gateway_code", func(fl validator.FieldLevel) bool {
		switch models.GatewayCode(fl.Field().String()) {
		case models.GatewaySaman, models.GatewayShaparak, models.GatewayFinotech, models.GatewayZarrinpal, models.GatewayParsian:
			return true
		}
		return false
	})
	return &ValidationHelper{validator: v}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// InstantPayParams are the path parameters of the instant-payment redirect.
type InstantPayParams struct {
	Invoice string `validate:"required,uuid4"`
	Gateway string `validate:"required,gateway_code"`
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	var verrs validator.ValidationErrors
	if errors.As(validationErr, &verrs) {
		errorResp.Details = make(map[string]string)
		for _, err := range verrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendJSON writes v with the given status.
func SendJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// Package apierror defines the typed errors that services return and the
// HTTP layer translates into status codes and JSON bodies.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable error codes.
const (
	CodeMissingRequiredField       = "MISSING_REQUIRED_FIELD"
	CodeMissingBrand               = "MISSING_BRAND"
	CodeInvalidOffers              = "INVALID_OFFERS"
	CodeMissingFirstOffer          = "MISSING_FIRST_OFFER"
	CodeInvalidFirstOffer          = "INVALID_FIRST_OFFER"
	CodeInvalidOfferStructure      = "INVALID_OFFER_STRUCTURE"
	CodeInvalidConnectionStructure = "INVALID_CONNECTION_STRUCTURE"
	CodeMissingCampaignID          = "MISSING_CAMPAIGN_ID"
	CodeMissingOfferID             = "MISSING_OFFER_ID"
	CodeInvalidOfferReference      = "INVALID_OFFER_REFERENCE"
	CodeInvalidID                  = "INVALID_ID"
	CodeInvalidPagination          = "INVALID_PAGINATION"
	CodeInvalidFilters             = "INVALID_FILTERS"
	CodeInvalidDate                = "INVALID_DATE"
	CodeInvalidBody                = "INVALID_BODY"
	CodeChainNotFound              = "CHAIN_NOT_FOUND"
	CodeCampaignNotFound           = "CAMPAIGN_NOT_FOUND"
	CodeClientOfferNotFound        = "CLIENT_OFFER_NOT_FOUND"
	CodeNotFound                   = "NOT_FOUND"
	CodeChainTitleExists           = "CHAIN_TITLE_EXISTS"
	CodeAlreadyActivated           = "ALREADY_ACTIVATED"
	CodeUnauthorized               = "UNAUTHORIZED"
	CodeInvalidToken               = "INVALID_TOKEN"
	CodeExpiredToken               = "EXPIRED_TOKEN"
	CodeForbidden                  = "FORBIDDEN"
	CodeRateLimited                = "RATE_LIMITED"
	CodeServerError                = "SERVER_ERROR"
)

// APIError is an error with a status and a code that can be shown to clients.
type APIError struct {
	Status  int
	Code    string
	Message string
	cause   error
}

func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause of internal errors.
func (e *APIError) Unwrap() error {
	return e.cause
}

// New builds an APIError with an explicit status.
func New(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

// Validation is a 400 error raised before any persistence attempt.
func Validation(code, message string) *APIError {
	return New(http.StatusBadRequest, code, message)
}

// NotFound is a 404 error.
func NotFound(code, message string) *APIError {
	return New(http.StatusNotFound, code, message)
}

// Conflict is a 409 error.
func Conflict(code, message string) *APIError {
	return New(http.StatusConflict, code, message)
}

// Unauthorized is a 401 error.
func Unauthorized(code, message string) *APIError {
	return New(http.StatusUnauthorized, code, message)
}

// Forbidden is a 403 error.
func Forbidden(message string) *APIError {
	return New(http.StatusForbidden, CodeForbidden, message)
}

// Internal wraps an unexpected failure. Its message is never shown to clients
// outside development mode.
func Internal(err error) *APIError {
	return &APIError{
		Status:  http.StatusInternalServerError,
		Code:    CodeServerError,
		Message: "Internal server error",
		cause:   err,
	}
}

// From returns err as an APIError, wrapping anything untyped as internal.
func From(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}

// HasCode reports whether err is an APIError carrying code.
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

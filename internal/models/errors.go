package models

import (
	"errors"
	"net/http"
)

// Domain errors. Guard violations and validation errors are returned
// synchronously and never retried; processor errors are retryable at
// the caller.
var (
	ErrValidation          = errors.New("invalid request")
	ErrNotFound            = errors.New("resource not found")
	ErrForbidden           = errors.New("actor not allowed to perform this action")
	ErrIllegalTransition   = errors.New("illegal status transition")
	ErrDuplicateIntent     = errors.New("payment intent already exists for this order")
	ErrMerchantNotPayable  = errors.New("payment not yet configured for this merchant")
	ErrProcessor           = errors.New("payment processor unavailable")
	ErrSignatureInvalid    = errors.New("webhook signature invalid")
	ErrPersistenceConflict = errors.New("concurrent update conflict")
	ErrInvalidKeyFormat    = errors.New("credential key format invalid")
	ErrProcessorRejected   = errors.New("processor rejected credentials")
	ErrAlreadyConfigured   = errors.New("credentials already configured for this merchant")
)

// ErrorCodes maps domain errors to stable wire codes.
var ErrorCodes = map[error]string{
	ErrValidation:          "VALIDATION_ERROR",
	ErrNotFound:            "NOT_FOUND",
	ErrForbidden:           "FORBIDDEN",
	ErrIllegalTransition:   "ILLEGAL_TRANSITION",
	ErrDuplicateIntent:     "DUPLICATE_INTENT",
	ErrMerchantNotPayable:  "MERCHANT_NOT_PAYABLE",
	ErrProcessor:           "PROCESSOR_ERROR",
	ErrSignatureInvalid:    "SIGNATURE_INVALID",
	ErrPersistenceConflict: "PERSISTENCE_CONFLICT",
	ErrInvalidKeyFormat:    "INVALID_KEY_FORMAT",
	ErrProcessorRejected:   "PROCESSOR_REJECTED",
	ErrAlreadyConfigured:   "ALREADY_CONFIGURED",
}

// HTTPStatus maps a domain error to its response status. Unrecognized
// errors are internal.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidKeyFormat):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrIllegalTransition), errors.Is(err, ErrDuplicateIntent),
		errors.Is(err, ErrAlreadyConfigured):
		return http.StatusConflict
	case errors.Is(err, ErrMerchantNotPayable), errors.Is(err, ErrProcessorRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrSignatureInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrPersistenceConflict):
		return http.StatusConflict
	case errors.Is(err, ErrProcessor):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the stable wire code for a domain error, or
// INTERNAL_ERROR for anything unrecognized.
func Code(err error) string {
	for domainErr, code := range ErrorCodes {
		if errors.Is(err, domainErr) {
			return code
		}
	}
	return "INTERNAL_ERROR"
}

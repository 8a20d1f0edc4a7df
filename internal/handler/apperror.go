package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrOrderNotFound       = &AppError{http.StatusUnprocessableEntity, "ORDER_NOT_FOUND", "No order matches the merchant reference"}
	ErrOrderNotCancellable = &AppError{http.StatusUnprocessableEntity, "ORDER_NOT_CANCELLABLE", "Order cannot be cancelled in its current state"}
	ErrReferenceMismatch   = &AppError{http.StatusConflict, "MERCHANT_REFERENCE_MISMATCH", "Gateway response references a different order"}
	ErrGatewayUnavailable  = &AppError{http.StatusBadGateway, "GATEWAY_UNAVAILABLE", "Payment gateway did not return a usable response"}
	ErrInvalidExpiryDate   = &AppError{http.StatusUnprocessableEntity, "INVALID_EXPIRY_DATE", "Card expiry date is not in MM/YY format"}
	ErrMissingGatewayField = &AppError{http.StatusUnprocessableEntity, "MISSING_GATEWAY_FIELD", "Gateway response is missing a required field"}
)

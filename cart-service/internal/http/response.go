package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/emart/emart-cart/cart-service/internal/repository"
	"github.com/emart/emart-cart/cart-service/internal/service"
	"go.uber.org/zap"
)

// APIResponse is the envelope of every cart-service response.
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Code      string      `json:"code,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondOK(w http.ResponseWriter, status int, data interface{}, message string) {
	respondJSON(w, status, APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, APIResponse{
		Success:   false,
		Message:   message,
		Code:      code,
		Timestamp: time.Now().UTC(),
	})
}

// handleServiceError maps service errors to HTTP status codes.
func handleServiceError(w http.ResponseWriter, err error) {
	var httpStatus int
	var code string

	switch {
	case errors.Is(err, repository.ErrItemNotFound):
		httpStatus = http.StatusNotFound
		code = "item_not_found"
	case errors.Is(err, repository.ErrCartNotFound):
		httpStatus = http.StatusNotFound
		code = "cart_not_found"
	case errors.Is(err, service.ErrQuantityOutOfRange):
		httpStatus = http.StatusBadRequest
		code = "quantity_out_of_range"
	case errors.Is(err, service.ErrInvalidCategory), errors.Is(err, service.ErrInvalidPrice):
		httpStatus = http.StatusBadRequest
		code = "invalid_item"
	case errors.Is(err, repository.ErrVersionConflict):
		httpStatus = http.StatusConflict
		code = "cart_conflict"
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus = http.StatusGatewayTimeout
		code = "timeout"
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	respondError(w, httpStatus, code, err.Error())
}

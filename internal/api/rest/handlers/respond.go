package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Kovheren/billing-service/internal/domain"
	"github.com/Kovheren/billing-service/internal/repository"
)

// errorEnvelope единый формат ошибки API
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// respondError переводит доменную ошибку в HTTP-статус и конверт.
// Бизнес-отказы никогда не отдаются как 5xx.
func respondError(c *gin.Context, err error) {
	status, errType := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		// Внутренние детали не утекают наружу
		message = "internal error"
	}
	c.JSON(status, errorEnvelope{Error: errorBody{Type: errType, Message: message}})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, domain.ErrPreconditionFailed):
		return http.StatusBadRequest, "precondition_failed"
	case errors.Is(err, domain.ErrKeyReuseConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrKeyInProgress):
		return http.StatusConflict, "in_progress"
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusBadRequest, "invalid_signature"
	case errors.Is(err, domain.ErrMalformedEvent):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, domain.ErrTenantUnresolved):
		return http.StatusBadRequest, "tenant_unresolved"
	case errors.Is(err, domain.ErrInvalidOperation):
		return http.StatusBadRequest, "invalid_operation"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respondValidation отдает ошибку биндинга запроса
func respondValidation(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorEnvelope{Error: errorBody{Type: "validation_error", Message: message}})
}

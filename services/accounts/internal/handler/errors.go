// Package handler содержит HTTP API Accounts Service.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/txoutbox/pkg/logger"
	"example.com/txoutbox/services/accounts/internal/domain"
)

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// handleError преобразует доменную ошибку в HTTP ответ.
func handleError(c *gin.Context, err error, method string) {
	var (
		httpStatus int
		errorCode  string
	)

	switch {
	case errors.Is(err, domain.ErrInvalidEmail), errors.Is(err, domain.ErrEmptyName):
		httpStatus = http.StatusBadRequest
		errorCode = "invalid_argument"
	case errors.Is(err, domain.ErrAccountNotFound):
		httpStatus = http.StatusNotFound
		errorCode = "not_found"
	case errors.Is(err, domain.ErrEmailExists):
		httpStatus = http.StatusConflict
		errorCode = "already_exists"
	case errors.Is(err, domain.ErrAccountDeactivated), errors.Is(err, domain.ErrSameEmail):
		httpStatus = http.StatusConflict
		errorCode = "failed_precondition"
	case errors.Is(err, domain.ErrConcurrentModification):
		httpStatus = http.StatusConflict
		errorCode = "aborted"
	default:
		logger.Ctx(c.Request.Context()).Error().
			Err(err).
			Str("method", method).
			Msg("Внутренняя ошибка")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	c.JSON(httpStatus, ErrorResponse{
		Error:   errorCode,
		Message: err.Error(),
	})
}

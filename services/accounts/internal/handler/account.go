package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/txoutbox/services/accounts/internal/domain"
)

// AccountService — сценарии, которые вызывает HTTP API.
type AccountService interface {
	Register(ctx context.Context, email, name string) (*domain.Account, error)
	ChangeEmail(ctx context.Context, id, email string) error
	Deactivate(ctx context.Context, id, reason string) error
}

// AccountHandler — обработчик аккаунтов.
type AccountHandler struct {
	service AccountService
}

// NewAccountHandler создаёт обработчик аккаунтов.
func NewAccountHandler(service AccountService) *AccountHandler {
	return &AccountHandler{service: service}
}

// RegisterRequest — тело запроса регистрации.
type RegisterRequest struct {
	Email string `json:"email" binding:"required"`
	Name  string `json:"name" binding:"required"`
}

// ChangeEmailRequest — тело запроса смены email.
type ChangeEmailRequest struct {
	Email string `json:"email" binding:"required"`
}

// DeactivateRequest — тело запроса деактивации (необязательное).
type DeactivateRequest struct {
	Reason string `json:"reason"`
}

// AccountResponse — информация об аккаунте.
type AccountResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Register создаёт аккаунт.
// POST /api/v1/accounts
func (h *AccountHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Некорректное тело запроса",
		})
		return
	}

	account, err := h.service.Register(c.Request.Context(), req.Email, req.Name)
	if err != nil {
		handleError(c, err, "Register")
		return
	}

	c.JSON(http.StatusCreated, AccountResponse{
		ID:        account.ID,
		Email:     account.Email,
		Name:      account.Name,
		Status:    string(account.Status),
		CreatedAt: account.CreatedAt,
	})
}

// ChangeEmail меняет email аккаунта.
// PUT /api/v1/accounts/:id/email
func (h *AccountHandler) ChangeEmail(c *gin.Context) {
	var req ChangeEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Некорректное тело запроса",
		})
		return
	}

	if err := h.service.ChangeEmail(c.Request.Context(), c.Param("id"), req.Email); err != nil {
		handleError(c, err, "ChangeEmail")
		return
	}

	c.Status(http.StatusNoContent)
}

// Deactivate деактивирует аккаунт.
// POST /api/v1/accounts/:id/deactivate
func (h *AccountHandler) Deactivate(c *gin.Context) {
	var req DeactivateRequest
	// Тело необязательное: пустой запрос означает деактивацию без причины
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "Некорректное тело запроса",
			})
			return
		}
	}

	if err := h.service.Deactivate(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		handleError(c, err, "Deactivate")
		return
	}

	c.Status(http.StatusNoContent)
}

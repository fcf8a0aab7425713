package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/project-portal/internal/api/dto"
	"github.com/spec-kit/project-portal/internal/auth"
	"github.com/spec-kit/project-portal/internal/domain"
	"github.com/spec-kit/project-portal/internal/service"
	apperrors "github.com/spec-kit/project-portal/pkg/util"
)

// AccountsHandler provisions local accounts for administrators.
type AccountsHandler struct {
	accounts *service.AccountService
}

// NewAccountsHandler constructs handler.
func NewAccountsHandler(accounts *service.AccountService) *AccountsHandler {
	return &AccountsHandler{accounts: accounts}
}

// Create handles POST /api/admin/accounts.
func (h *AccountsHandler) Create(c *fiber.Ctx) error {
	caller, ok := auth.IdentityFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.CreateAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	profile, credential, err := h.accounts.Provision(c.UserContext(), *caller, service.NewAccount{
		ID:                 req.ID,
		Name:               req.Name,
		Role:               domain.Role(req.Role),
		Username:           req.Username,
		Password:           req.Password,
		Email:              req.Email,
		Phone:              req.Phone,
		Department:         req.Department,
		Branch:             req.Branch,
		Semester:           req.Semester,
		GraduationYear:     req.GraduationYear,
		ForcePasswordReset: req.ForcePasswordReset,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(dto.NewAccountResponse(profile, credential))
}

// RequireReset handles POST /api/admin/accounts/:username/require-reset.
func (h *AccountsHandler) RequireReset(c *fiber.Ctx) error {
	caller, ok := auth.IdentityFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	if err := h.accounts.RequireReset(c.UserContext(), *caller, c.Params("username")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

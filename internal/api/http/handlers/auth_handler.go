package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/project-portal/internal/api/dto"
	"github.com/spec-kit/project-portal/internal/auth"
	"github.com/spec-kit/project-portal/internal/service"
)

// Frontend paths the browser is sent back to after the provider round trip.
const (
	homePath  = "/home"
	loginPath = "/login"
)

// AuthHandler exposes the login, reset, provider and logout endpoints.
type AuthHandler struct {
	auth         *service.AuthService
	frontendURL  string
	cookieSecure bool
	logger       *zap.Logger
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService, frontendURL string, cookieSecure bool, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		auth:         authService,
		frontendURL:  strings.TrimRight(frontendURL, "/"),
		cookieSecure: cookieSecure,
		logger:       logger,
	}
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	session, err := h.auth.LocalLogin(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return err
	}
	h.setSessionCookie(c, session.Token)
	return c.JSON(dto.NewSessionResponse(session.Identity, session.Permissions))
}

// ResetFirstLoginPassword handles POST /api/auth/reset-first-login-password.
func (h *AuthHandler) ResetFirstLoginPassword(c *fiber.Ctx) error {
	var req dto.ResetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	session, err := h.auth.ResetFirstLoginPassword(c.UserContext(), req.Username, req.CurrentPassword, req.NewPassword)
	if err != nil {
		return err
	}
	h.setSessionCookie(c, session.Token)
	return c.JSON(dto.NewSessionResponse(session.Identity, session.Permissions))
}

// KeycloakLogin handles GET /api/auth/keycloak/login.
func (h *AuthHandler) KeycloakLogin(c *fiber.Ctx) error {
	authURL, err := h.auth.BeginExternalLogin(c.UserContext())
	if err != nil {
		return err
	}
	return c.Redirect(authURL, http.StatusFound)
}

// KeycloakCallback handles GET /api/auth/keycloak/callback. Rejected states
// are rendered as errors; provider and exchange failures send the browser
// back to the login page with a short error code.
func (h *AuthHandler) KeycloakCallback(c *fiber.Ctx) error {
	result, err := h.auth.CompleteExternalLogin(c.UserContext(), service.CallbackParams{
		Code:             c.Query("code"),
		State:            c.Query("state"),
		Error:            c.Query("error"),
		ErrorDescription: c.Query("error_description"),
	})
	var redirect *service.LoginRedirectError
	if errors.As(err, &redirect) {
		return c.Redirect(h.frontendURL+loginPath+"?error="+url.QueryEscape(redirect.Code), http.StatusFound)
	}
	if err != nil {
		return err
	}

	h.setSessionCookie(c, result.Session.Token)
	if result.IDToken != "" {
		c.Cookie(h.cookie(auth.IDTokenCookieName, result.IDToken))
	}
	return c.Redirect(h.frontendURL+homePath, http.StatusFound)
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	sessionToken := c.Cookies(auth.SessionCookieName)
	idToken := c.Cookies(auth.IDTokenCookieName)

	h.clearCookie(c, auth.SessionCookieName)
	h.clearCookie(c, auth.IDTokenCookieName)

	logoutURL := h.auth.Logout(c.UserContext(), sessionToken, idToken)
	if logoutURL == "" {
		return c.SendStatus(http.StatusNoContent)
	}
	return c.JSON(dto.LogoutResponse{LogoutURL: logoutURL})
}

func (h *AuthHandler) setSessionCookie(c *fiber.Ctx, token string) {
	c.Cookie(h.cookie(auth.SessionCookieName, token))
}

func (h *AuthHandler) cookie(name, value string) *fiber.Cookie {
	return &fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(h.auth.SessionTTL() / time.Second),
		Secure:   h.cookieSecure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	}
}

func (h *AuthHandler) clearCookie(c *fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		Secure:   h.cookieSecure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/project-portal/internal/api/http/handlers"
	"github.com/spec-kit/project-portal/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Profile        *handlers.ProfileHandler
	Accounts       *handlers.AccountsHandler
	AuthMiddleware *auth.AuthMiddleware
	LoginLimiter   *LoginLimiter
	Metrics        fiber.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", cfg.Metrics)
	}

	api := app.Group("/api")
	api.Get("/health", cfg.Health.API)

	throttle := func(c *fiber.Ctx) error { return c.Next() }
	if cfg.LoginLimiter != nil {
		throttle = cfg.LoginLimiter.Handler()
	}

	authGroup := api.Group("/auth")
	authGroup.Post("/login", throttle, cfg.Auth.Login)
	authGroup.Post("/reset-first-login-password", throttle, cfg.Auth.ResetFirstLoginPassword)
	authGroup.Get("/keycloak/login", cfg.Auth.KeycloakLogin)
	authGroup.Get("/keycloak/callback", cfg.Auth.KeycloakCallback)
	authGroup.Post("/logout", cfg.Auth.Logout)

	api.Get("/profile", cfg.AuthMiddleware.Handle, cfg.Profile.Get)

	admin := api.Group("/admin", cfg.AuthMiddleware.Handle, auth.RequirePermission(auth.PermManageUsers))
	admin.Post("/accounts", cfg.Accounts.Create)
	admin.Post("/accounts/:username/require-reset", cfg.Accounts.RequireReset)
}

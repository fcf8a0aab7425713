package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/project-portal/internal/api/http/handlers"
	"github.com/spec-kit/project-portal/internal/auth"
	"github.com/spec-kit/project-portal/internal/config"
	"github.com/spec-kit/project-portal/internal/domain"
	"github.com/spec-kit/project-portal/internal/events"
	"github.com/spec-kit/project-portal/internal/keycloak"
	"github.com/spec-kit/project-portal/internal/observability"
	"github.com/spec-kit/project-portal/internal/repository"
	"github.com/spec-kit/project-portal/internal/service"
)

const frontendURL = "http://portal.test"

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type testServer struct {
	app   *fiber.App
	store *repository.Store
}

type serverOptions struct {
	provider  service.IdentityProvider
	limiter   *LoginLimiter
	readiness map[string]handlers.Pinger
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	store := repository.NewMemoryStore()
	cfg := config.AuthConfig{LocalLoginEnabled: true, BcryptCost: bcrypt.MinCost, MinPasswordLength: 8}
	tokens := auth.NewTokenManager("router-secret", 8*time.Hour, clock)
	dispatcher := events.NewInMemoryDispatcher()
	metrics := observability.NewMetrics()

	authService := service.NewAuthService(cfg, service.AuthDependencies{
		Store:      store,
		Tokens:     tokens,
		States:     auth.NewMemoryStateStore(10*time.Minute, clock),
		Provider:   opts.provider,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Clock:      clock,
	})
	accounts := service.NewAccountService(cfg, store, dispatcher, clock, nil)

	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), metrics, 5*time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("project-portal-api", "test", opts.readiness),
		Auth:           handlers.NewAuthHandler(authService, frontendURL+"/", false, nil),
		Profile:        handlers.NewProfileHandler(authService),
		Accounts:       handlers.NewAccountsHandler(accounts),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, store.Profiles, nil),
		LoginLimiter:   opts.limiter,
		Metrics:        metrics.Handler(),
	})
	app.Get("/boom", func(c *fiber.Ctx) error { panic("boom") })

	return &testServer{app: app, store: store}
}

func (s *testServer) seed(t *testing.T, externalID, username, password string, role domain.Role, mustReset bool) {
	t.Helper()
	ctx := context.Background()
	profile := &domain.UserProfile{
		AuthSource: domain.AuthSourceLocal,
		Role:       role,
		ExternalID: externalID,
		Name:       "Account " + externalID,
	}
	require.NoError(t, s.store.Profiles.Create(ctx, profile))
	hash, err := auth.HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, s.store.Credentials.Create(ctx, &domain.LocalCredential{
		OwnerID:           profile.ID,
		OwnerExternalID:   externalID,
		Username:          username,
		PasswordHash:      hash,
		MustResetPassword: mustReset,
	}))
}

func (s *testServer) do(t *testing.T, method, path, body string, cookies ...*http.Cookie) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func cookieNamed(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func fakeJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	enc := func(v any) string {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return base64.RawURLEncoding.EncodeToString(b)
	}
	return enc(map[string]string{"alg": "RS256", "typ": "JWT"}) + "." + enc(claims) + ".c2ln"
}

func fakeProvider(t *testing.T) *keycloak.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": fakeJWT(t, map[string]any{
				"sub":          "kc-7",
				"realm_access": map[string]any{"roles": []string{"faculty"}},
			}),
			"id_token":   fakeJWT(t, map[string]any{"sub": "kc-7", "name": "Dr. Rao", "preferred_username": "rao"}),
			"token_type": "Bearer",
		})
	}))
	t.Cleanup(srv.Close)
	return keycloak.NewClient(config.KeycloakConfig{
		URL: srv.URL, Realm: "portal", ClientID: "portal-web", ClientSecret: "s3cret", TimeoutSeconds: 2,
	}, config.AppConfig{FrontendURL: frontendURL, BackendURL: "http://api.test"})
}

func TestLoginSetsSessionCookie(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	s.seed(t, "229301001", "asha", "correct-horse", domain.RoleStudent, false)

	resp, body := s.do(t, http.MethodPost, "/api/auth/login", `{"username":"asha","password":"correct-horse"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	user := body["user"].(map[string]any)
	assert.Equal(t, "229301001", user["id"])
	assert.Equal(t, "Student", user["role"])
	assert.ElementsMatch(t, []any{"view-project", "submit-update", "view-assessments"}, body["permissions"])

	cookie := cookieNamed(resp, auth.SessionCookieName)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, 8*60*60, cookie.MaxAge)
	assert.False(t, cookie.Secure)

	resp, body = s.do(t, http.MethodGet, "/api/profile", "", cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "229301001", body["user"].(map[string]any)["internalId"])
}

func TestLoginErrors(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	s.seed(t, "229301002", "newbie", "temp-pass-1", domain.RoleStudent, true)

	resp, body := s.do(t, http.MethodPost, "/api/auth/login", `{"username":"newbie","password":"whatever"}`)
	assert.Equal(t, http.StatusPreconditionRequired, resp.StatusCode)
	assert.Equal(t, true, body["requiresPasswordReset"])
	assert.Equal(t, "newbie", body["username"])
	assert.Equal(t, "RESET_REQUIRED", errorCode(body))
	assert.Nil(t, cookieNamed(resp, auth.SessionCookieName))

	resp, body = s.do(t, http.MethodPost, "/api/auth/login", `{"username":"ghost","password":"whatever"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHENTICATED", errorCode(body))

	resp, body = s.do(t, http.MethodPost, "/api/auth/login", `{"username":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "BAD_REQUEST", errorCode(body))

	resp, body = s.do(t, http.MethodPost, "/api/auth/login", `{"username":"newbie"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))
}

func TestResetFirstLoginPasswordEndpoint(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	s.seed(t, "229301003", "fresh", "temp-pass-1", domain.RoleStudent, true)

	resp, _ := s.do(t, http.MethodPost, "/api/auth/reset-first-login-password",
		`{"username":"fresh","currentPassword":"temp-pass-1","newPassword":"short"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/auth/reset-first-login-password",
		`{"username":"fresh","currentPassword":"nope-nope","newPassword":"long-enough-1"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/api/auth/reset-first-login-password",
		`{"username":"fresh","currentPassword":"temp-pass-1","newPassword":"long-enough-1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "229301003", body["user"].(map[string]any)["id"])
	assert.NotNil(t, cookieNamed(resp, auth.SessionCookieName))

	resp, _ = s.do(t, http.MethodPost, "/api/auth/login", `{"username":"fresh","password":"long-enough-1"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProfileRequiresSession(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	resp, body := s.do(t, http.MethodGet, "/api/profile", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHENTICATED", errorCode(body))

	resp, _ = s.do(t, http.MethodGet, "/api/profile", "", &http.Cookie{Name: auth.SessionCookieName, Value: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func login(t *testing.T, s *testServer, username, password string) *http.Cookie {
	t.Helper()
	resp, _ := s.do(t, http.MethodPost, "/api/auth/login", `{"username":"`+username+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cookie := cookieNamed(resp, auth.SessionCookieName)
	require.NotNil(t, cookie)
	return cookie
}

func TestAdminAccounts(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	s.seed(t, "ADMIN-0001", "root", "root-pass-1", domain.RoleMasterAdmin, false)
	s.seed(t, "229301004", "student", "student-pass", domain.RoleStudent, false)

	adminCookie := login(t, s, "root", "root-pass-1")
	studentCookie := login(t, s, "student", "student-pass")

	payload := `{"id":"F-21","name":"Dr. Iyer","role":"Faculty","username":"iyer","password":"initial-pass"}`

	resp, body := s.do(t, http.MethodPost, "/api/admin/accounts", payload, studentCookie)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	resp, _ = s.do(t, http.MethodPost, "/api/admin/accounts", payload)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, "/api/admin/accounts", payload, adminCookie)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "iyer", body["username"])
	assert.Equal(t, true, body["mustResetPassword"])
	assert.NotContains(t, body, "passwordHash")

	resp, _ = s.do(t, http.MethodPost, "/api/admin/accounts", payload, adminCookie)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, "/api/admin/accounts",
		`{"id":"X-1","name":"X","role":"Dean","username":"x","password":"initial-pass"}`, adminCookie)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"].(map[string]any)["details"], "role")

	resp, _ = s.do(t, http.MethodPost, "/api/auth/login", `{"username":"iyer","password":"initial-pass"}`)
	assert.Equal(t, http.StatusPreconditionRequired, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/admin/accounts/student/require-reset", "", adminCookie)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/api/admin/accounts/ghost/require-reset", "", adminCookie)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestKeycloakLoginNotConfigured(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	resp, body := s.do(t, http.MethodGet, "/api/auth/keycloak/login", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "UPSTREAM_UNAVAILABLE", errorCode(body))
}

func TestKeycloakRoundTrip(t *testing.T) {
	s := newTestServer(t, serverOptions{provider: fakeProvider(t)})

	resp, _ := s.do(t, http.MethodGet, "/api/auth/keycloak/login", "")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "openid profile email", location.Query().Get("scope"))
	assert.Equal(t, "http://api.test/api/auth/keycloak/callback", location.Query().Get("redirect_uri"))
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	callback := "/api/auth/keycloak/callback?code=abc&state=" + url.QueryEscape(state)
	resp, _ = s.do(t, http.MethodGet, callback, "")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, frontendURL+"/home", resp.Header.Get("Location"))
	session := cookieNamed(resp, auth.SessionCookieName)
	idToken := cookieNamed(resp, auth.IDTokenCookieName)
	require.NotNil(t, session)
	require.NotNil(t, idToken)
	assert.True(t, idToken.HttpOnly)

	stored, err := s.store.Profiles.GetByExternalID(context.Background(), "kc-7")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleFaculty, stored.Role)

	// Replaying the callback fails on the consumed state.
	resp, _ = s.do(t, http.MethodGet, callback, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Nil(t, cookieNamed(resp, auth.SessionCookieName))

	resp, body := s.do(t, http.MethodPost, "/api/auth/logout", "", session, idToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["logoutUrl"], "id_token_hint=")
	cleared := cookieNamed(resp, auth.SessionCookieName)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.NotNil(t, cookieNamed(resp, auth.IDTokenCookieName))
}

func TestKeycloakCallbackFailures(t *testing.T) {
	s := newTestServer(t, serverOptions{provider: fakeProvider(t)})

	resp, _ := s.do(t, http.MethodGet, "/api/auth/keycloak/callback?code=abc&state=forged", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Nil(t, cookieNamed(resp, auth.SessionCookieName))
	_, err := s.store.Profiles.GetByExternalID(context.Background(), "kc-7")
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	resp, _ = s.do(t, http.MethodGet, "/api/auth/keycloak/callback?error=access_denied&error_description=cancelled", "")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, frontendURL+"/login?error=access_denied", resp.Header.Get("Location"))
}

func TestLogoutWithoutProviderToken(t *testing.T) {
	s := newTestServer(t, serverOptions{provider: fakeProvider(t)})
	resp, _ := s.do(t, http.MethodPost, "/api/auth/logout", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.NotNil(t, cookieNamed(resp, auth.SessionCookieName))
}

func TestLoginThrottled(t *testing.T) {
	s := newTestServer(t, serverOptions{limiter: NewLoginLimiter(1, 2)})

	for i := 0; i < 2; i++ {
		resp, _ := s.do(t, http.MethodPost, "/api/auth/login", `{"username":"ghost","password":"x"}`)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp, body := s.do(t, http.MethodPost, "/api/auth/login", `{"username":"ghost","password":"x"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMITED", errorCode(body))
	assert.Equal(t, "60", resp.Header.Get(fiber.HeaderRetryAfter))

	// Other routes are not throttled.
	resp, _ = s.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginLimiterPrunesIdleClients(t *testing.T) {
	l := NewLoginLimiter(60, 1)
	now := t0
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))

	now = now.Add(limiterIdleTTL + time.Minute)
	assert.True(t, l.allow("10.0.0.2"))
	assert.Len(t, l.buckets, 1)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, serverOptions{readiness: map[string]handlers.Pinger{
		"store": pingFunc(func(context.Context) error { return nil }),
		"redis": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}})

	resp, body := s.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = s.do(t, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alive", body["status"])

	resp, body = s.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, "ok", details["store"])
	assert.Equal(t, "connection refused", details["redis"])
}

func TestPanicAndUnknownRoute(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	resp, body := s.do(t, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "INTERNAL_ERROR", errorCode(body))

	resp, body = s.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	_, _ = s.do(t, http.MethodPost, "/api/auth/login", `{"username":"ghost","password":"x"}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `portal_auth_attempts_total{method="local",outcome="failure"} 1`)
}

func TestMetricsLabelsSurviveFailingRequests(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	resp, _ := s.do(t, http.MethodGet, "/api/profile", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/api/auth/login", `{"username":"ghost","password":"whatever"}`)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/api/auth/keycloak/login", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/api/admin/accounts", `{}`)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	for i := 0; i < 50; i++ {
		resp, _ = s.do(t, http.MethodGet, "/api/nope/"+strings.Repeat("x", i%7)+string(rune('a'+i%26)), "")
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	text := string(raw)
	assert.Contains(t, text, `portal_http_errors_total{code="UNAUTHENTICATED",method="GET",path="/api/profile"} 1`)
	assert.Contains(t, text, `portal_http_errors_total{code="UNAUTHENTICATED",method="POST",path="/api/auth/login"} 1`)
	assert.Contains(t, text, `portal_http_errors_total{code="UPSTREAM_UNAVAILABLE",method="GET",path="/api/auth/keycloak/login"} 1`)
	assert.Contains(t, text, `portal_http_requests_total{method="GET",path="/api/profile",status="401"} 1`)
	assert.Contains(t, text, `portal_http_requests_total{method="POST",path="/api/auth/login",status="401"} 1`)
	assert.NotContains(t, text, "/api/nope")

	var notFound []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, `portal_http_errors_total{code="NOT_FOUND"`) {
			notFound = append(notFound, line)
		}
	}
	require.Len(t, notFound, 1)
	assert.True(t, strings.HasSuffix(notFound[0], " 50"), notFound[0])
	assert.Contains(t, notFound[0], `method="GET"`)
}

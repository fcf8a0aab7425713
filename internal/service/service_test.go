package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/project-portal/internal/auth"
	"github.com/spec-kit/project-portal/internal/config"
	"github.com/spec-kit/project-portal/internal/domain"
	"github.com/spec-kit/project-portal/internal/events"
	"github.com/spec-kit/project-portal/internal/keycloak"
	"github.com/spec-kit/project-portal/internal/observability"
	"github.com/spec-kit/project-portal/internal/repository"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

var testAuthConfig = config.AuthConfig{
	LocalLoginEnabled: true,
	BcryptCost:        bcrypt.MinCost,
	MinPasswordLength: 8,
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	svc      *AuthService
	store    *repository.Store
	states   *auth.MemoryStateStore
	clock    *clockwork.FakeClock
	recorder *recorder
	metrics  *observability.Metrics
}

func newFixture(t *testing.T, cfg config.AuthConfig, provider IdentityProvider) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	store := repository.NewMemoryStore()
	states := auth.NewMemoryStateStore(10*time.Minute, clock)
	dispatcher := events.NewInMemoryDispatcher()
	rec := &recorder{}
	for _, et := range events.AuthEventTypes {
		dispatcher.Subscribe(et, rec.handle)
	}
	metrics := observability.NewMetrics()

	svc := NewAuthService(cfg, AuthDependencies{
		Store:      store,
		Tokens:     auth.NewTokenManager("test-secret", 8*time.Hour, clock),
		States:     states,
		Provider:   provider,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Clock:      clock,
	})
	return &fixture{svc: svc, store: store, states: states, clock: clock, recorder: rec, metrics: metrics}
}

// seedAccount stores a profile plus credential and returns the profile.
func seedAccount(t *testing.T, store *repository.Store, externalID, username, password string, role domain.Role, mustReset bool) *domain.UserProfile {
	t.Helper()
	ctx := context.Background()
	profile := &domain.UserProfile{
		AuthSource:         domain.AuthSourceLocal,
		Role:               role,
		ExternalID:         externalID,
		RegistrationNumber: externalID,
		Name:               "Account " + externalID,
		Department:         "DOCSE",
	}
	require.NoError(t, store.Profiles.Create(ctx, profile))

	hash, err := auth.HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, store.Credentials.Create(ctx, &domain.LocalCredential{
		OwnerID:           profile.ID,
		OwnerExternalID:   profile.ExternalID,
		Username:          username,
		PasswordHash:      hash,
		MustResetPassword: mustReset,
	}))
	return profile
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

// fakeKeycloak serves a token endpoint. A nil response body makes the
// endpoint reject the exchange.
func fakeKeycloak(t *testing.T, response map[string]any) *keycloak.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if response == nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(srv.Close)

	return keycloak.NewClient(config.KeycloakConfig{
		URL:            srv.URL,
		Realm:          "portal",
		ClientID:       "portal-web",
		ClientSecret:   "s3cret",
		TimeoutSeconds: 2,
	}, config.AppConfig{FrontendURL: "http://localhost:5173", BackendURL: "http://localhost:5001"})
}

// authAttempts reads portal_auth_attempts_total for one label pair.
func authAttempts(t *testing.T, m *observability.Metrics, method, outcome string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "portal_auth_attempts_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["method"] == method && labels["outcome"] == outcome {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

package keycloak

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/spec-kit/project-portal/internal/config"
)

var (
	// ErrNotConfigured is returned when any provider setting is missing.
	ErrNotConfigured = errors.New("keycloak: not configured")
	// ErrUpstreamExchangeFailed wraps a rejected or failed code exchange.
	ErrUpstreamExchangeFailed = errors.New("keycloak: token exchange failed")
)

const (
	callbackPath     = "/api/auth/keycloak/callback"
	postLogoutPath   = "/login"
	defaultTimeout   = 10 * time.Second
	openIDConnectFmt = "%s/realms/%s/protocol/openid-connect"
)

// Scopes requested on every authorization redirect.
var Scopes = []string{"openid", "profile", "email"}

// TokenSet holds the raw tokens returned by the token endpoint.
type TokenSet struct {
	AccessToken string
	IDToken     string
}

// Client bridges the portal to a Keycloak realm using the authorization
// code flow.
type Client struct {
	enabled     bool
	baseURL     string
	clientID    string
	frontendURL string
	oauth       *oauth2.Config
	httpClient  *http.Client
}

// NewClient builds a client from configuration. A client with incomplete
// settings is still returned; Enabled reports false and every flow
// operation returns ErrNotConfigured.
func NewClient(kc config.KeycloakConfig, app config.AppConfig) *Client {
	base := fmt.Sprintf(openIDConnectFmt, strings.TrimRight(kc.URL, "/"), kc.Realm)
	timeout := kc.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		enabled:     kc.URL != "" && kc.Realm != "" && kc.ClientID != "" && kc.ClientSecret != "",
		baseURL:     base,
		clientID:    kc.ClientID,
		frontendURL: strings.TrimRight(app.FrontendURL, "/"),
		oauth: &oauth2.Config{
			ClientID:     kc.ClientID,
			ClientSecret: kc.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/auth",
				TokenURL:  base + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: strings.TrimRight(app.BackendURL, "/") + callbackPath,
			Scopes:      Scopes,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether all four provider settings are present.
func (c *Client) Enabled() bool {
	return c != nil && c.enabled
}

// CallbackURL is the redirect URI registered with the provider.
func (c *Client) CallbackURL() string {
	return c.oauth.RedirectURL
}

// AuthorizationURL returns the provider login URL carrying state.
func (c *Client) AuthorizationURL(state string) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}
	return c.oauth.AuthCodeURL(state), nil
}

// Exchange trades an authorization code for tokens. The call is bounded by
// the configured timeout.
func (c *Client) Exchange(ctx context.Context, code string) (*TokenSet, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, fmt.Errorf("%w: status %d: %s", ErrUpstreamExchangeFailed,
				retrieveErr.Response.StatusCode, strings.TrimSpace(string(retrieveErr.Body)))
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamExchangeFailed, err)
	}

	set := &TokenSet{AccessToken: token.AccessToken}
	if idToken, ok := token.Extra("id_token").(string); ok {
		set.IDToken = idToken
	}
	return set, nil
}

// LogoutURL builds the federated logout URL. idTokenHint may be empty.
func (c *Client) LogoutURL(idTokenHint string) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}
	q := url.Values{}
	q.Set("post_logout_redirect_uri", c.frontendURL+postLogoutPath)
	q.Set("client_id", c.clientID)
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	return c.baseURL + "/logout?" + q.Encode(), nil
}

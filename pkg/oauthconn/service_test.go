package oauthconn

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"calendarbot/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type tokenEndpoint struct {
	mu    sync.Mutex
	forms []url.Values
	body  string
}

func (e *tokenEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	form, _ := url.ParseQuery(string(raw))
	e.mu.Lock()
	e.forms = append(e.forms, form)
	body := e.body
	e.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func (e *tokenEndpoint) lastForm(t *testing.T) url.Values {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	require.NotEmpty(t, e.forms)
	return e.forms[len(e.forms)-1]
}

func newTestService(t *testing.T, endpoint *tokenEndpoint) (*Service, *MemoryTokenStore) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(endpoint.handler))
	t.Cleanup(srv.Close)

	store := NewMemoryTokenStore()
	svc := NewWithConfig(&oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:3978/oauth/callback",
		Scopes:       []string{"User.Read"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv.URL + "/authorize",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, "graph", store, nil)
	return svc, store
}

func stateFromLink(t *testing.T, link string) url.Values {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Query()
}

func TestSignInLinkCarriesStateAndPKCE(t *testing.T) {
	svc, _ := newTestService(t, &tokenEndpoint{})

	link, err := svc.SignInLink(context.Background(), "test/u1")
	require.NoError(t, err)

	q := stateFromLink(t, link)
	assert.NotEmpty(t, q.Get("state"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, "query", q.Get("response_mode"))
	assert.Equal(t, "client", q.Get("client_id"))
}

func TestCallbackStoresTokenForRequestingUser(t *testing.T) {
	endpoint := &tokenEndpoint{body: `{"access_token":"access-1","token_type":"Bearer","refresh_token":"refresh-1","expires_in":3600}`}
	svc, store := newTestService(t, endpoint)
	ctx := context.Background()

	link, err := svc.SignInLink(ctx, "test/u1")
	require.NoError(t, err)
	state := stateFromLink(t, link).Get("state")

	userKey, err := svc.Callback(ctx, state, "the-code")
	require.NoError(t, err)
	assert.Equal(t, "test/u1", userKey)

	form := endpoint.lastForm(t)
	assert.Equal(t, "the-code", form.Get("code"))
	assert.NotEmpty(t, form.Get("code_verifier"))

	tok, err := store.GetToken(ctx, "test/u1", "graph")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "access-1", tok.AccessToken)

	resp, err := svc.UserToken(ctx, "test/u1")
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "graph", resp.ConnectionName)
	assert.Equal(t, "access-1", resp.Token)

	_, err = svc.Callback(ctx, state, "the-code")
	assert.ErrorIs(t, err, ErrUnknownState)
}

func TestCallbackRejectsExpiredState(t *testing.T) {
	svc, _ := newTestService(t, &tokenEndpoint{})
	ctx := context.Background()
	start := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }

	link, err := svc.SignInLink(ctx, "test/u1")
	require.NoError(t, err)
	state := stateFromLink(t, link).Get("state")

	svc.now = func() time.Time { return start.Add(pendingTTL + time.Second) }
	_, err = svc.Callback(ctx, state, "code")
	assert.ErrorIs(t, err, ErrUnknownState)

	_, err = svc.Callback(ctx, "whatever", "")
	assert.ErrorIs(t, err, ErrMissingCode)
}

func TestUserTokenWithoutSignIn(t *testing.T) {
	svc, _ := newTestService(t, &tokenEndpoint{})
	resp, err := svc.UserToken(context.Background(), "test/nobody")
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestUserTokenRefreshesExpiredToken(t *testing.T) {
	endpoint := &tokenEndpoint{body: `{"access_token":"access-2","token_type":"Bearer","refresh_token":"refresh-2","expires_in":3600}`}
	svc, store := newTestService(t, endpoint)
	ctx := context.Background()

	require.NoError(t, store.PutToken(ctx, "test/u1", "graph", &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	resp, err := svc.UserToken(ctx, "test/u1")
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "access-2", resp.Token)
	assert.Equal(t, "refresh_token", endpoint.lastForm(t).Get("grant_type"))

	stored, err := store.GetToken(ctx, "test/u1", "graph")
	require.NoError(t, err)
	assert.Equal(t, "access-2", stored.AccessToken)
}

func TestUserTokenExpiredWithoutRefresh(t *testing.T) {
	svc, store := newTestService(t, &tokenEndpoint{})
	ctx := context.Background()
	require.NoError(t, store.PutToken(ctx, "test/u1", "graph", &oauth2.Token{
		AccessToken: "stale",
		Expiry:      time.Now().Add(-time.Hour),
	}))

	resp, err := svc.UserToken(ctx, "test/u1")
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestSignOutDeletesToken(t *testing.T) {
	svc, store := newTestService(t, &tokenEndpoint{})
	ctx := context.Background()
	require.NoError(t, store.PutToken(ctx, "test/u1", "graph", &oauth2.Token{AccessToken: "a"}))

	require.NoError(t, svc.SignOut(ctx, "test/u1"))
	resp, err := svc.UserToken(ctx, "test/u1")
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestNewUsesAzureEndpoint(t *testing.T) {
	svc := New(config.OAuthConfig{TenantID: "contoso", ClientID: "c", Scopes: []string{"User.Read"}}, "graph", nil, nil)
	assert.Equal(t, "graph", svc.ConnectionName())
	assert.Contains(t, svc.oauth.Endpoint.AuthURL, "login.microsoftonline.com/contoso/")
}

// Package oauthconn signs users in to a named OAuth connection and hands out their tokens.
package oauthconn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"calendarbot/pkg/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// pendingTTL bounds how long a sign-in link stays redeemable.
const pendingTTL = 10 * time.Minute

var (
	ErrUnknownState = errors.New("oauthconn: unknown or expired sign-in state")
	ErrMissingCode  = errors.New("oauthconn: authorization code is empty")
)

// TokenResponse is a bearer token for one connection. It is handed out per turn and never cached by dialogs.
type TokenResponse struct {
	ConnectionName string
	Token          string
	Expiration     time.Time
}

type pendingLogin struct {
	userKey  string
	verifier string
	created  time.Time
}

// Service implements the authorization-code flow with PKCE against one connection.
type Service struct {
	connectionName string
	oauth          *oauth2.Config
	tokens         TokenStore
	logger         *zap.Logger
	now            func() time.Time

	mu      sync.Mutex
	pending map[string]pendingLogin
}

// New configures the Azure AD v2 endpoint for cfg.TenantID.
func New(cfg config.OAuthConfig, connectionName string, tokens TokenStore, logger *zap.Logger) *Service {
	return NewWithConfig(&oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
		Endpoint:     microsoft.AzureADEndpoint(cfg.TenantID),
	}, connectionName, tokens, logger)
}

func NewWithConfig(oauthCfg *oauth2.Config, connectionName string, tokens TokenStore, logger *zap.Logger) *Service {
	if tokens == nil {
		tokens = NewMemoryTokenStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		connectionName: connectionName,
		oauth:          oauthCfg,
		tokens:         tokens,
		logger:         logger,
		now:            time.Now,
		pending:        make(map[string]pendingLogin),
	}
}

func (s *Service) ConnectionName() string {
	return s.connectionName
}

// SignInLink returns an authorization URL whose state is bound to userKey.
func (s *Service) SignInLink(ctx context.Context, userKey string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	state := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	s.mu.Lock()
	s.prunePendingLocked()
	s.pending[state] = pendingLogin{userKey: userKey, verifier: verifier, created: s.now()}
	s.mu.Unlock()

	link := s.oauth.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("response_mode", "query"))
	s.logger.Debug("[SignInLink] issued sign-in link",
		zap.String("user", userKey),
		zap.String("connection", s.connectionName))
	return link, nil
}

// Callback redeems the code for the user that requested state and stores the token.
func (s *Service) Callback(ctx context.Context, state, code string) (string, error) {
	if code == "" {
		return "", ErrMissingCode
	}

	s.mu.Lock()
	login, ok := s.pending[state]
	delete(s.pending, state)
	s.mu.Unlock()

	if !ok || s.now().Sub(login.created) > pendingTTL {
		return "", ErrUnknownState
	}

	tok, err := s.oauth.Exchange(ctx, code, oauth2.VerifierOption(login.verifier))
	if err != nil {
		return "", fmt.Errorf("oauthconn: exchange code: %w", err)
	}
	if err := s.tokens.PutToken(ctx, login.userKey, s.connectionName, tok); err != nil {
		return "", err
	}
	s.logger.Info("[Callback] user signed in",
		zap.String("user", login.userKey),
		zap.String("connection", s.connectionName))
	return login.userKey, nil
}

// UserToken returns the user's current token, refreshing it when expired, or nil if the user must sign in.
func (s *Service) UserToken(ctx context.Context, userKey string) (*TokenResponse, error) {
	tok, err := s.tokens.GetToken(ctx, userKey, s.connectionName)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, nil
	}

	if !tok.Valid() {
		if tok.RefreshToken == "" {
			return nil, nil
		}
		fresh, err := s.oauth.TokenSource(ctx, tok).Token()
		if err != nil {
			s.logger.Warn("[UserToken] refresh failed, sign-in required",
				zap.String("user", userKey),
				zap.Error(err))
			return nil, nil
		}
		if err := s.tokens.PutToken(ctx, userKey, s.connectionName, fresh); err != nil {
			return nil, err
		}
		tok = fresh
	}

	return &TokenResponse{
		ConnectionName: s.connectionName,
		Token:          tok.AccessToken,
		Expiration:     tok.Expiry,
	}, nil
}

func (s *Service) SignOut(ctx context.Context, userKey string) error {
	if err := s.tokens.DeleteToken(ctx, userKey, s.connectionName); err != nil {
		return err
	}
	s.logger.Info("[SignOut] user signed out",
		zap.String("user", userKey),
		zap.String("connection", s.connectionName))
	return nil
}

func (s *Service) prunePendingLocked() {
	now := s.now()
	for state, login := range s.pending {
		if now.Sub(login.created) > pendingTTL {
			delete(s.pending, state)
		}
	}
}

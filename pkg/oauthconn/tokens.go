package oauthconn

import (
	"context"
	"sync"

	"golang.org/x/oauth2"
)

// TokenStore persists tokens per user and connection. GetToken returns nil when none is stored.
type TokenStore interface {
	GetToken(ctx context.Context, userKey, connectionName string) (*oauth2.Token, error)
	PutToken(ctx context.Context, userKey, connectionName string, token *oauth2.Token) error
	DeleteToken(ctx context.Context, userKey, connectionName string) error
}

type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]oauth2.Token
}

var _ TokenStore = (*MemoryTokenStore)(nil)

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]oauth2.Token)}
}

func tokenKey(userKey, connectionName string) string {
	return connectionName + "|" + userKey
}

func (m *MemoryTokenStore) GetToken(ctx context.Context, userKey, connectionName string) (*oauth2.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[tokenKey(userKey, connectionName)]
	if !ok {
		return nil, nil
	}
	return &tok, nil
}

func (m *MemoryTokenStore) PutToken(ctx context.Context, userKey, connectionName string, token *oauth2.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tokenKey(userKey, connectionName)] = *token
	return nil
}

func (m *MemoryTokenStore) DeleteToken(ctx context.Context, userKey, connectionName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, tokenKey(userKey, connectionName))
	return nil
}

package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type tokenRecord struct {
	UserKey        string `gorm:"primaryKey;size:255"`
	ConnectionName string `gorm:"primaryKey;size:128"`
	AccessToken    string
	RefreshToken   string
	TokenType      string `gorm:"size:32"`
	Expiry         time.Time
	UpdatedAt      time.Time
}

func (tokenRecord) TableName() string { return "oauth_tokens" }

// TokenStore keeps OAuth tokens in the oauth_tokens table.
type TokenStore struct {
	db *gorm.DB
}

func NewTokenStore(db *gorm.DB) *TokenStore {
	return &TokenStore{db: db}
}

// GetToken returns nil when the user has not signed in to the connection.
func (s *TokenStore) GetToken(ctx context.Context, userKey, connectionName string) (*oauth2.Token, error) {
	var rec tokenRecord
	err := s.db.WithContext(ctx).
		Where("user_key = ? AND connection_name = ?", userKey, connectionName).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gormstore: load token %s/%s: %w", userKey, connectionName, err)
	}
	return &oauth2.Token{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		TokenType:    rec.TokenType,
		Expiry:       rec.Expiry,
	}, nil
}

func (s *TokenStore) PutToken(ctx context.Context, userKey, connectionName string, token *oauth2.Token) error {
	if token == nil {
		return fmt.Errorf("gormstore: nil token for %s/%s", userKey, connectionName)
	}
	rec := tokenRecord{
		UserKey:        userKey,
		ConnectionName: connectionName,
		AccessToken:    token.AccessToken,
		RefreshToken:   token.RefreshToken,
		TokenType:      token.TokenType,
		Expiry:         token.Expiry,
		UpdatedAt:      time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_key"}, {Name: "connection_name"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("gormstore: save token %s/%s: %w", userKey, connectionName, err)
	}
	return nil
}

func (s *TokenStore) DeleteToken(ctx context.Context, userKey, connectionName string) error {
	err := s.db.WithContext(ctx).
		Where("user_key = ? AND connection_name = ?", userKey, connectionName).
		Delete(&tokenRecord{}).Error
	if err != nil {
		return fmt.Errorf("gormstore: delete token %s/%s: %w", userKey, connectionName, err)
	}
	return nil
}

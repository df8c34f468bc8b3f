// Package gormstore persists dialog state, profiles and OAuth tokens through gorm.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calendarbot/pkg/config"
	"calendarbot/pkg/state"

	"github.com/glebarez/sqlite"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type conversationRecord struct {
	ConversationKey string `gorm:"primaryKey;size:255"`
	LastQuestion    string `gorm:"size:32"`
	Dialog          []byte
	UpdatedAt       time.Time
}

func (conversationRecord) TableName() string { return "conversation_states" }

type profileRecord struct {
	UserKey   string `gorm:"primaryKey;size:255"`
	Subject   string
	Body      string
	StartAt   string
	EndAt     string
	Location  string
	UpdatedAt time.Time
}

func (profileRecord) TableName() string { return "user_profiles" }

// Store implements state.Store on top of a gorm connection.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ state.Store = (*Store)(nil)

// Open connects to postgres or sqlite and migrates every table this package owns.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case config.StoragePostgres:
		dialector = postgres.Open(dsn)
	case config.StorageSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("gormstore: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("gormstore: open %s: %w", driver, err)
	}
	if driver == config.StorageSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("gormstore: sql handle: %w", err)
		}
		// one connection keeps ":memory:" databases shared and serialises writers
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&conversationRecord{}, &profileRecord{}, &tokenRecord{}); err != nil {
		return nil, fmt.Errorf("gormstore: migrate: %w", err)
	}
	return db, nil
}

func New(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

func (s *Store) loadConversation(ctx context.Context, key string) (conversationRecord, bool, error) {
	var rec conversationRecord
	err := s.db.WithContext(ctx).Where("conversation_key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return conversationRecord{}, false, nil
	}
	if err != nil {
		return conversationRecord{}, false, fmt.Errorf("gormstore: load conversation %s: %w", key, err)
	}
	return rec, true, nil
}

func (s *Store) upsertConversation(ctx context.Context, rec conversationRecord, columns ...string) error {
	rec.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_key"}},
		DoUpdates: clause.AssignmentColumns(append(columns, "updated_at")),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("gormstore: save conversation %s: %w", rec.ConversationKey, err)
	}
	return nil
}

func (s *Store) LoadFlow(ctx context.Context, conversationKey string) (state.ConversationFlow, error) {
	rec, found, err := s.loadConversation(ctx, conversationKey)
	if err != nil {
		return state.ConversationFlow{}, err
	}
	if !found {
		s.logger.Debug("[LoadFlow] no flow stored, starting at none", zap.String("conversation", conversationKey))
	}
	return state.ConversationFlow{LastQuestionAsked: state.NormalizeQuestion(state.Question(rec.LastQuestion))}, nil
}

func (s *Store) SaveFlow(ctx context.Context, conversationKey string, flow state.ConversationFlow) error {
	return s.upsertConversation(ctx, conversationRecord{
		ConversationKey: conversationKey,
		LastQuestion:    string(flow.Current()),
	}, "last_question")
}

func (s *Store) LoadDialog(ctx context.Context, conversationKey string) (state.DialogState, error) {
	rec, found, err := s.loadConversation(ctx, conversationKey)
	if err != nil || !found || len(rec.Dialog) == 0 {
		return state.DialogState{}, err
	}
	var dialog state.DialogState
	if err := json.Unmarshal(rec.Dialog, &dialog); err != nil {
		return state.DialogState{}, fmt.Errorf("gormstore: decode dialog %s: %w", conversationKey, err)
	}
	return dialog, nil
}

func (s *Store) SaveDialog(ctx context.Context, conversationKey string, dialog state.DialogState) error {
	var raw []byte
	if !dialog.Idle() {
		encoded, err := json.Marshal(dialog)
		if err != nil {
			return fmt.Errorf("gormstore: encode dialog %s: %w", conversationKey, err)
		}
		raw = encoded
	}
	return s.upsertConversation(ctx, conversationRecord{
		ConversationKey: conversationKey,
		LastQuestion:    string(state.QuestionNone),
		Dialog:          raw,
	}, "dialog")
}

func (s *Store) LoadProfile(ctx context.Context, userKey string) (state.UserProfile, error) {
	var rec profileRecord
	err := s.db.WithContext(ctx).Where("user_key = ?", userKey).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return state.UserProfile{}, nil
	}
	if err != nil {
		return state.UserProfile{}, fmt.Errorf("gormstore: load profile %s: %w", userKey, err)
	}
	return state.UserProfile{
		Subject:  rec.Subject,
		Body:     rec.Body,
		Start:    rec.StartAt,
		End:      rec.EndAt,
		Location: rec.Location,
	}, nil
}

func (s *Store) SaveProfile(ctx context.Context, userKey string, profile state.UserProfile) error {
	rec := profileRecord{
		UserKey:   userKey,
		Subject:   profile.Subject,
		Body:      profile.Body,
		StartAt:   profile.Start,
		EndAt:     profile.End,
		Location:  profile.Location,
		UpdatedAt: time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_key"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("gormstore: save profile %s: %w", userKey, err)
	}
	return nil
}

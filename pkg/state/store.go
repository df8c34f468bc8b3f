package state

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MemoryStore keeps state in process memory.
type MemoryStore struct {
	flows    map[string]ConversationFlow
	dialogs  map[string]DialogState
	profiles map[string]UserProfile
	logger   *zap.Logger
	mu       sync.Mutex
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		flows:    make(map[string]ConversationFlow),
		dialogs:  make(map[string]DialogState),
		profiles: make(map[string]UserProfile),
		logger:   logger,
	}
}

func (s *MemoryStore) LoadFlow(ctx context.Context, conversationKey string) (ConversationFlow, error) {
	if err := ctx.Err(); err != nil {
		return ConversationFlow{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.flows[conversationKey]
	if !ok {
		s.logger.Debug("[LoadFlow] no flow stored, starting at none", zap.String("conversation", conversationKey))
		return ConversationFlow{LastQuestionAsked: QuestionNone}, nil
	}
	return flow, nil
}

func (s *MemoryStore) SaveFlow(ctx context.Context, conversationKey string, flow ConversationFlow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[conversationKey] = flow
	return nil
}

func (s *MemoryStore) LoadDialog(ctx context.Context, conversationKey string) (DialogState, error) {
	if err := ctx.Err(); err != nil {
		return DialogState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dialogs[conversationKey].Clone(), nil
}

func (s *MemoryStore) SaveDialog(ctx context.Context, conversationKey string, dialog DialogState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if dialog.Idle() {
		delete(s.dialogs, conversationKey)
		return nil
	}
	s.dialogs[conversationKey] = dialog.Clone()
	return nil
}

func (s *MemoryStore) LoadProfile(ctx context.Context, userKey string) (UserProfile, error) {
	if err := ctx.Err(); err != nil {
		return UserProfile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[userKey], nil
}

func (s *MemoryStore) SaveProfile(ctx context.Context, userKey string, profile UserProfile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userKey] = profile
	return nil
}

// TurnLocks hands out one mutex per conversation so turns for the same conversation run one at a time.
// An entry lives only while some turn holds or waits for it.
type TurnLocks struct {
	locks map[string]*turnLock
	mu    sync.Mutex
}

type turnLock struct {
	mu   sync.Mutex
	refs int
}

func NewTurnLocks() *TurnLocks {
	return &TurnLocks{locks: make(map[string]*turnLock)}
}

// Lock blocks until the conversation is free and returns the unlock func.
func (l *TurnLocks) Lock(conversationKey string) func() {
	l.mu.Lock()
	entry, ok := l.locks[conversationKey]
	if !ok {
		entry = &turnLock{}
		l.locks[conversationKey] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, conversationKey)
		}
		l.mu.Unlock()
	}
}

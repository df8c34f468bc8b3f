package botport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Package botport provides the outbound interface between the dialog machines and channel adapters.
// Adapters translate the channel-neutral markup types below into their native payloads.

// BotMessage captures adapter-agnostic identifiers for previously sent messages.
type BotMessage struct {
	ChatID    string
	MessageID string
	Transport string
	Payload   string
	Meta      map[string]string
}

// SignInCard asks the user to open an OAuth sign-in link.
type SignInCard struct {
	Title string
	Text  string
	URL   string
}

// Choices offers quick-reply suggestions alongside a prompt.
type Choices struct {
	Options []string
}

// BotError wraps adapter failures with retry hints and normalized codes.
type BotError struct {
	Op         string
	Code       string
	RetryAfter time.Duration
	Wrapped    error
}

func (e *BotError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

// Unwrap exposes the underlying adapter error for errors.Is/As.
func (e *BotError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Wrapped
}

// NewBotError builds a BotError with the provided operation/code, preserving the wrapped error.
func NewBotError(op, code string, err error) *BotError {
	return &BotError{
		Op:      op,
		Code:    code,
		Wrapped: err,
	}
}

// IsCode determines whether err represents a BotError with the provided code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var be *BotError
	if errors.As(err, &be) {
		return be != nil && be.Code == code
	}
	return false
}

// WrapContextError maps context failures to BotError codes shared by all adapters.
func WrapContextError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return &BotError{Op: op, Code: "context_canceled", Wrapped: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &BotError{Op: op, Code: "context_deadline", Wrapped: err}
	}
	return &BotError{Op: op, Code: "context_error", Wrapped: err}
}

// BotPort abstracts outbound message operations for adapters (Telegram, HTTP activity, console, fake).
type BotPort interface {
	SendMessage(ctx context.Context, chatID string, text string, markup interface{}) (BotMessage, error)
}

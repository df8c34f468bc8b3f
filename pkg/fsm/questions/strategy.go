package questions

import (
	"context"
	"time"

	"calendarbot/pkg/recognizer"
	"calendarbot/pkg/state"
)

// QuestionStrategy validates the raw answer to one slot.
type QuestionStrategy interface {
	Name() string
	HandleAnswer(AnswerContext, AnswerInput) (AnswerResult, error)
}

// AnswerContext carries what a strategy may consult; strategies never touch stored state.
type AnswerContext struct {
	Context    context.Context
	Slot       state.Question
	Locale     string
	Now        time.Time
	Recognizer recognizer.DateTimeRecognizer
	// EmptyFeedback is sent when the answer is blank.
	EmptyFeedback string
}

func (c AnswerContext) ctx() context.Context {
	if c.Context == nil {
		return context.Background()
	}
	return c.Context
}

type AnswerInput struct {
	Text string
}

// AnswerResult tells the machine whether to advance. Feedback may be empty on failure.
type AnswerResult struct {
	Advance  bool
	Value    string
	Feedback string
}

const (
	TypeText     = "text"
	TypeDateTime = "datetime"
)

package questions

import "strings"

type textStrategy struct{}

// NewTextStrategy returns a QuestionStrategy for free-text slots.
func NewTextStrategy() QuestionStrategy {
	return &textStrategy{}
}

func (t *textStrategy) Name() string {
	return TypeText
}

func (t *textStrategy) HandleAnswer(ctx AnswerContext, input AnswerInput) (AnswerResult, error) {
	value := strings.TrimSpace(input.Text)
	if value == "" {
		return AnswerResult{Feedback: ctx.EmptyFeedback}, nil
	}
	return AnswerResult{Advance: true, Value: value}, nil
}

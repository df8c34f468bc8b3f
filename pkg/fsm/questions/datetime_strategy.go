package questions

import (
	"fmt"
	"strings"
	"time"

	"calendarbot/pkg/recognizer"
)

const (
	FeedbackTooSoon        = "I'm sorry, please enter a date at least an hour out."
	FeedbackNotInterpreted = "I'm sorry, I could not interpret that as an appropriate date. Please enter a date at least an hour out."

	// ShortDateLayout is how an accepted date is stored and echoed.
	ShortDateLayout = "1/2/2006"

	minLeadTime = time.Hour
)

// resolutionLayouts are tried in order; a time-only value lands on the day of now.
var resolutionLayouts = []string{
	recognizer.ResolutionLayout,
	"2006-01-02",
	"15:04:05",
}

type dateTimeStrategy struct{}

// NewDateTimeStrategy returns a QuestionStrategy that accepts the first candidate more than an hour out.
func NewDateTimeStrategy() QuestionStrategy {
	return &dateTimeStrategy{}
}

func (d *dateTimeStrategy) Name() string {
	return TypeDateTime
}

// HandleAnswer walks results and resolutions in recognizer order. A candidate qualifies when it
// parses and is strictly later than now+1h; later candidates are ignored once one qualifies.
func (d *dateTimeStrategy) HandleAnswer(ctx AnswerContext, input AnswerInput) (AnswerResult, error) {
	if ctx.Recognizer == nil {
		return AnswerResult{}, fmt.Errorf("datetime slot %q has no recognizer", ctx.Slot)
	}
	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}

	results, err := ctx.Recognizer.RecognizeDateTime(ctx.ctx(), strings.TrimSpace(input.Text), ctx.Locale, now)
	if err != nil {
		return AnswerResult{Feedback: FeedbackNotInterpreted}, nil
	}

	earliest := now.Add(minLeadTime)
	for _, result := range results {
		for _, res := range result.Resolutions {
			raw := res.Value
			if raw == "" {
				raw = res.Start
			}
			if raw == "" {
				continue
			}
			candidate, ok := parseResolution(raw, now)
			if !ok || !candidate.After(earliest) {
				continue
			}
			return AnswerResult{Advance: true, Value: candidate.Format(ShortDateLayout)}, nil
		}
	}
	return AnswerResult{Feedback: FeedbackTooSoon}, nil
}

func parseResolution(raw string, now time.Time) (time.Time, bool) {
	loc := now.Location()
	for _, layout := range resolutionLayouts {
		t, err := time.ParseInLocation(layout, raw, loc)
		if err != nil {
			continue
		}
		if layout == "15:04:05" {
			y, m, day := now.Date()
			t = time.Date(y, m, day, t.Hour(), t.Minute(), t.Second(), 0, loc)
		}
		return t, true
	}
	return time.Time{}, false
}

// Package recognizer turns free text into candidate date-time resolutions.
package recognizer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"go.uber.org/zap"
)

// ResolutionLayout is the timestamp format used in every Resolution field.
const ResolutionLayout = "2006-01-02 15:04:05"

// Resolution is one interpretation: a single Value, or a Start/End range.
type Resolution struct {
	Value string
	Start string
	End   string
}

// Result groups the resolutions produced for one matched span of text.
type Result struct {
	Text        string
	Resolutions []Resolution
}

// DateTimeRecognizer returns candidates in the order they should be tried.
type DateTimeRecognizer interface {
	RecognizeDateTime(ctx context.Context, text, locale string, now time.Time) ([]Result, error)
}

// Recognizer combines natural-language rules with absolute-date parsing.
type Recognizer struct {
	parser *when.Parser
	loc    *time.Location
	logger *zap.Logger
}

var _ DateTimeRecognizer = (*Recognizer)(nil)

func New(loc *time.Location, logger *zap.Logger) *Recognizer {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Recognizer{parser: w, loc: loc, logger: logger}
}

// RecognizeDateTime tries relative phrases first ("tomorrow at 3pm"), then absolute layouts.
// Only English phrases are understood; locale is logged for diagnostics.
func (r *Recognizer) RecognizeDateTime(ctx context.Context, text, locale string, now time.Time) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	var results []Result

	match, err := r.parser.Parse(text, now.In(r.loc))
	if err != nil {
		return nil, fmt.Errorf("recognize %q: %w", text, err)
	}
	if match != nil {
		results = append(results, Result{
			Text:        match.Text,
			Resolutions: []Resolution{{Value: match.Time.Format(ResolutionLayout)}},
		})
	}

	if parsed, err := dateparse.ParseIn(text, r.loc); err == nil {
		results = append(results, Result{
			Text:        text,
			Resolutions: []Resolution{{Value: parsed.Format(ResolutionLayout)}},
		})
	}

	r.logger.Debug("[RecognizeDateTime] candidates",
		zap.String("text", text),
		zap.String("locale", locale),
		zap.Int("results", len(results)))
	return results, nil
}

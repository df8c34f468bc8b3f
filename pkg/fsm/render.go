package fsm

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"calendarbot/pkg/graph"
)

const shortTimeLayout = "3:04 PM"

type eventLine struct {
	Subject string
	Start   string
	End     string
}

var eventLineTpl = template.Must(template.New("event").Parse(`- {{.Subject}} from {{.Start}} till {{.End}}`))

// renderEventList prefixes header to one line per event, lines joined by a newline.
func renderEventList(header string, events []graph.Event) (string, error) {
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		var buf bytes.Buffer
		line := eventLine{
			Subject: ev.Subject,
			Start:   shortTime(ev.Start),
			End:     shortTime(ev.End),
		}
		if err := eventLineTpl.Execute(&buf, line); err != nil {
			return "", fmt.Errorf("render event %q: %w", ev.ID, err)
		}
		lines = append(lines, buf.String())
	}
	return header + strings.Join(lines, "\n"), nil
}

// shortTime falls back to the raw Graph value when it does not parse.
func shortTime(dt *graph.DateTimeZone) string {
	if dt == nil {
		return ""
	}
	t, err := dt.Time()
	if err != nil {
		return dt.DateTime
	}
	return t.Format(shortTimeLayout)
}

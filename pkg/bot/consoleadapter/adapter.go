// Package consoleadapter prints replies for the local chat REPL.
package consoleadapter

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"calendarbot/pkg/ports/botport"
)

const ChannelID = "console"

type Adapter struct {
	mu   sync.Mutex
	out  io.Writer
	sent int
}

var _ botport.BotPort = (*Adapter)(nil)

func New(out io.Writer) *Adapter {
	return &Adapter{out: out}
}

// SendMessage writes the text, then a sign-in link or the choices on their own lines.
func (a *Adapter) SendMessage(ctx context.Context, chatID string, text string, markup interface{}) (botport.BotMessage, error) {
	if err := ctx.Err(); err != nil {
		return botport.BotMessage{}, botport.WrapContextError("send_message", err)
	}

	var b strings.Builder
	if text != "" {
		fmt.Fprintf(&b, "bot> %s\n", text)
	}
	switch m := markup.(type) {
	case botport.SignInCard:
		writeCard(&b, m)
	case *botport.SignInCard:
		if m != nil {
			writeCard(&b, *m)
		}
	case botport.Choices:
		writeChoices(&b, m)
	case *botport.Choices:
		if m != nil {
			writeChoices(&b, *m)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := io.WriteString(a.out, b.String()); err != nil {
		return botport.BotMessage{}, botport.NewBotError("send_message", "write_failed", err)
	}
	a.sent++
	return botport.BotMessage{
		ChatID:    chatID,
		MessageID: strconv.Itoa(a.sent),
		Transport: ChannelID,
		Payload:   text,
	}, nil
}

func writeCard(b *strings.Builder, card botport.SignInCard) {
	fmt.Fprintf(b, "bot> %s: %s\n     [%s] %s\n", card.Title, card.Text, card.Title, card.URL)
}

func writeChoices(b *strings.Builder, choices botport.Choices) {
	for _, opt := range choices.Options {
		fmt.Fprintf(b, "     * %s\n", opt)
	}
}

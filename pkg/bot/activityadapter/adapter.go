// Package activityadapter buffers replies so an HTTP request can return them with its response.
package activityadapter

import (
	"context"
	"strconv"
	"sync"

	"calendarbot/pkg/ports/botport"
)

// Adapter collects outbound activities addressed back to one inbound activity.
type Adapter struct {
	inbound botport.Activity

	mu      sync.Mutex
	replies []botport.Activity
}

var _ botport.BotPort = (*Adapter)(nil)

func New(inbound botport.Activity) *Adapter {
	return &Adapter{inbound: inbound}
}

// SendMessage buffers the reply. chatID must be the inbound conversation.
func (a *Adapter) SendMessage(ctx context.Context, chatID string, text string, markup interface{}) (botport.BotMessage, error) {
	if err := ctx.Err(); err != nil {
		return botport.BotMessage{}, botport.WrapContextError("send_message", err)
	}
	if chatID != a.inbound.Conversation.ID {
		return botport.BotMessage{}, botport.NewBotError("send_message", "bad_payload", errUnknownConversation(chatID))
	}

	reply := botport.ReplyActivity(a.inbound, text, markup)

	a.mu.Lock()
	a.replies = append(a.replies, reply)
	id := strconv.Itoa(len(a.replies))
	a.replies[len(a.replies)-1].ID = id
	a.mu.Unlock()

	return botport.BotMessage{
		ChatID:    chatID,
		MessageID: id,
		Transport: "activity",
		Payload:   text,
	}, nil
}

// Replies returns the buffered activities in send order.
func (a *Adapter) Replies() []botport.Activity {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]botport.Activity, len(a.replies))
	copy(out, a.replies)
	return out
}

type errUnknownConversation string

func (e errUnknownConversation) Error() string {
	return "reply addressed to unknown conversation " + strconv.Quote(string(e))
}

package activityadapter

import (
	"context"
	"testing"

	"calendarbot/pkg/ports/botport"
)

func inbound() botport.Activity {
	return botport.Activity{
		Type:         botport.ActivityMessage,
		ID:           "in-1",
		ChannelID:    "webchat",
		From:         botport.ChannelAccount{ID: "user-1"},
		Recipient:    &botport.ChannelAccount{ID: "bot-1"},
		Conversation: botport.ConversationAccount{ID: "conv-1"},
	}
}

func TestSendMessageBuffersReplies(t *testing.T) {
	a := New(inbound())

	if _, err := a.SendMessage(context.Background(), "conv-1", "one", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg, err := a.SendMessage(context.Background(), "conv-1", "", botport.SignInCard{Title: "Login", URL: "https://x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.MessageID != "2" || msg.Transport != "activity" {
		t.Fatalf("unexpected bot message: %+v", msg)
	}

	replies := a.Replies()
	if len(replies) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(replies))
	}
	if replies[0].Text != "one" || replies[0].ReplyToID != "in-1" || replies[0].From.ID != "bot-1" {
		t.Fatalf("unexpected first reply: %+v", replies[0])
	}
	if len(replies[1].Attachments) != 1 || replies[1].Attachments[0].ContentType != botport.SigninCardContentType {
		t.Fatalf("expected sign-in attachment, got %+v", replies[1].Attachments)
	}
}

func TestSendMessageRejectsOtherConversation(t *testing.T) {
	a := New(inbound())
	_, err := a.SendMessage(context.Background(), "conv-2", "x", nil)
	if !botport.IsCode(err, "bad_payload") {
		t.Fatalf("expected bad_payload, got %v", err)
	}
	if len(a.Replies()) != 0 {
		t.Fatalf("nothing should be buffered")
	}
}

package fsm

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"calendarbot/pkg/bot/fakeadapter"
	"calendarbot/pkg/config"
	"calendarbot/pkg/graph"
	"calendarbot/pkg/ports/botport"
	"calendarbot/pkg/state"
)

func message(text string) botport.Activity {
	return botport.Activity{
		Type:         botport.ActivityMessage,
		ID:           "act-1",
		ChannelID:    "webchat",
		From:         botport.ChannelAccount{ID: "user-1", Name: "Ada"},
		Recipient:    &botport.ChannelAccount{ID: "bot"},
		Conversation: botport.ConversationAccount{ID: "conv-1"},
		Text:         text,
		Locale:       "en-US",
	}
}

func newProfileBot(store state.Store, rec *stubRecognizer) *Bot {
	return NewBot(Options{
		Mode:    config.ModeProfile,
		Store:   store,
		Profile: NewProfileMachine(rec, fixedNow, nil),
	})
}

func TestHandleTurnProfileModePersistsFlow(t *testing.T) {
	store := state.NewMemoryStore(nil)
	bot := newProfileBot(store, &stubRecognizer{})
	adapter := &fakeadapter.FakeAdapter{}
	ctx := context.Background()

	if err := bot.HandleTurn(ctx, message("Team Sync"), adapter); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := adapter.Texts(); !reflect.DeepEqual(got, []string{MsgAskSubject}) {
		t.Fatalf("unexpected replies: %q", got)
	}
	if call := adapter.LastCall("send_message"); call.ChatID != "conv-1" {
		t.Fatalf("expected reply to conversation, got %q", call.ChatID)
	}

	adapter.Reset()
	if err := bot.HandleTurn(ctx, message("Team Sync"), adapter); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := adapter.Texts(); !reflect.DeepEqual(got, []string{"Event subject is Team Sync.", MsgAskBody}) {
		t.Fatalf("unexpected replies: %q", got)
	}

	flow, _ := store.LoadFlow(ctx, "webchat/conv-1")
	if flow.LastQuestionAsked != state.QuestionBody {
		t.Fatalf("expected saved cursor body, got %q", flow.LastQuestionAsked)
	}
	profile, _ := store.LoadProfile(ctx, "webchat/user-1")
	if profile.Subject != "Team Sync" {
		t.Fatalf("expected saved subject, got %+v", profile)
	}
}

func TestHandleTurnProfileEmptyInputRepeatsPrompt(t *testing.T) {
	store := state.NewMemoryStore(nil)
	ctx := context.Background()
	_ = store.SaveFlow(ctx, "webchat/conv-1", state.ConversationFlow{LastQuestionAsked: state.QuestionSubject})
	bot := newProfileBot(store, &stubRecognizer{})
	adapter := &fakeadapter.FakeAdapter{}

	for i := 0; i < 2; i++ {
		if err := bot.HandleTurn(ctx, message(""), adapter); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := adapter.Texts(); !reflect.DeepEqual(got, []string{MsgEmptySubject, MsgEmptySubject}) {
		t.Fatalf("unexpected replies: %q", got)
	}
	flow, _ := store.LoadFlow(ctx, "webchat/conv-1")
	if flow.LastQuestionAsked != state.QuestionSubject {
		t.Fatalf("cursor moved to %q", flow.LastQuestionAsked)
	}
}

func TestHandleTurnWizardFailureApologisesAndResets(t *testing.T) {
	store := state.NewMemoryStore(nil)
	ctx := context.Background()
	_ = store.SaveDialog(ctx, "webchat/conv-1", state.DialogState{Step: StateAwaitingCommand})

	tokens := &fakeTokens{token: "tok"}
	gateway := &fakeGateway{err: graph.ErrUnauthorised}
	wizard, _ := newTestWizard(tokens, gateway)
	bot := NewBot(Options{Mode: config.ModeWizard, Store: store, Wizard: wizard})
	adapter := &fakeadapter.FakeAdapter{}

	err := bot.HandleTurn(ctx, message("groupcalendar"), adapter)
	if !errors.Is(err, graph.ErrUnauthorised) {
		t.Fatalf("expected unauthorised error, got %v", err)
	}
	if got := adapter.Texts(); len(got) == 0 || got[len(got)-1] != MsgTurnError {
		t.Fatalf("expected apology last, got %q", got)
	}
	dialog, _ := store.LoadDialog(ctx, "webchat/conv-1")
	if !dialog.Idle() {
		t.Fatalf("expected dialog reset, got %+v", dialog)
	}
}

func TestHandleTurnWizardSendsMarkup(t *testing.T) {
	store := state.NewMemoryStore(nil)
	wizard, _ := newTestWizard(&fakeTokens{link: "https://login.example/x"}, &fakeGateway{})
	bot := NewBot(Options{Store: store, Wizard: wizard})
	adapter := &fakeadapter.FakeAdapter{}

	if err := bot.HandleTurn(context.Background(), message("hi"), adapter); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	call := adapter.LastCall("send_message")
	card, ok := call.Markup.(botport.SignInCard)
	if !ok || card.URL != "https://login.example/x" {
		t.Fatalf("expected sign-in card markup, got %+v", call.Markup)
	}
	dialog, _ := store.LoadDialog(context.Background(), "webchat/conv-1")
	if dialog.Step != StateLoginPending {
		t.Fatalf("expected pending login saved, got %+v", dialog)
	}
}

func TestHandleTurnWelcomesNewMembers(t *testing.T) {
	update := botport.Activity{
		Type:         botport.ActivityConversationUpdate,
		ChannelID:    "webchat",
		Recipient:    &botport.ChannelAccount{ID: "bot"},
		Conversation: botport.ConversationAccount{ID: "conv-1"},
		MembersAdded: []botport.ChannelAccount{{ID: "bot"}, {ID: "user-1"}, {ID: "user-2"}},
	}

	cases := []struct {
		mode string
		want int
	}{
		{config.ModeWizard, 2},
		{config.ModeProfile, 0},
	}
	for _, tc := range cases {
		t.Run(tc.mode, func(t *testing.T) {
			bot := NewBot(Options{Mode: tc.mode, Welcome: "Welcome!", Store: state.NewMemoryStore(nil)})
			adapter := &fakeadapter.FakeAdapter{}
			if err := bot.HandleTurn(context.Background(), update, adapter); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := len(adapter.Texts()); got != tc.want {
				t.Fatalf("expected %d welcomes, got %d", tc.want, got)
			}
		})
	}
}

func TestHandleTurnIgnoresOtherActivities(t *testing.T) {
	bot := newProfileBot(state.NewMemoryStore(nil), &stubRecognizer{})
	adapter := &fakeadapter.FakeAdapter{}

	typing := message("x")
	typing.Type = "typing"
	anonymous := message("x")
	anonymous.From.ID = ""

	for _, act := range []botport.Activity{typing, anonymous} {
		if err := bot.HandleTurn(context.Background(), act, adapter); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(adapter.Calls) != 0 {
		t.Fatalf("expected no replies, got %+v", adapter.Calls)
	}
}

func TestHandleTurnMissingDialogForMode(t *testing.T) {
	bot := NewBot(Options{Mode: config.ModeWizard, Store: state.NewMemoryStore(nil)})
	adapter := &fakeadapter.FakeAdapter{}
	err := bot.HandleTurn(context.Background(), message("hi"), adapter)
	if !errors.Is(err, errModeNotConfigured) {
		t.Fatalf("expected errModeNotConfigured, got %v", err)
	}
}

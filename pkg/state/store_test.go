package state

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestNormalizeQuestion(t *testing.T) {
	cases := map[Question]Question{
		"":          QuestionNone,
		"bogus":     QuestionNone,
		" Subject ": QuestionSubject,
		"LOCATION":  QuestionLocation,
		"end":       QuestionEnd,
	}
	for in, want := range cases {
		if got := NormalizeQuestion(in); got != want {
			t.Fatalf("NormalizeQuestion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMemoryStoreDefaults(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	flow, err := s.LoadFlow(ctx, "test/c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flow.Current() != QuestionNone {
		t.Fatalf("expected none, got %q", flow.Current())
	}
	dialog, err := s.LoadDialog(ctx, "test/c1")
	if err != nil || !dialog.Idle() {
		t.Fatalf("expected idle dialog, got %+v err=%v", dialog, err)
	}
	profile, err := s.LoadProfile(ctx, "test/u1")
	if err != nil || profile != (UserProfile{}) {
		t.Fatalf("expected empty profile, got %+v err=%v", profile, err)
	}
}

func TestMemoryStoreRoundTripPerScope(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	if err := s.SaveFlow(ctx, "test/c1", ConversationFlow{LastQuestionAsked: QuestionBody}); err != nil {
		t.Fatalf("save flow: %v", err)
	}
	if err := s.SaveProfile(ctx, "test/u1", UserProfile{Subject: "Sync"}); err != nil {
		t.Fatalf("save profile: %v", err)
	}
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.SaveDialog(ctx, "test/c1", DialogState{Step: "appointment_start", Values: map[string]string{"title": "Standup"}, PromptStartedAt: started}); err != nil {
		t.Fatalf("save dialog: %v", err)
	}

	flow, _ := s.LoadFlow(ctx, "test/c1")
	if flow.LastQuestionAsked != QuestionBody {
		t.Fatalf("flow not persisted: %+v", flow)
	}
	other, _ := s.LoadFlow(ctx, "test/c2")
	if other.Current() != QuestionNone {
		t.Fatalf("flow leaked across conversations: %+v", other)
	}
	profile, _ := s.LoadProfile(ctx, "test/u1")
	if profile.Subject != "Sync" {
		t.Fatalf("profile not persisted: %+v", profile)
	}
	dialog, _ := s.LoadDialog(ctx, "test/c1")
	if dialog.Step != "appointment_start" || dialog.Values["title"] != "Standup" || !dialog.PromptStartedAt.Equal(started) {
		t.Fatalf("dialog not persisted: %+v", dialog)
	}

	dialog.Values["title"] = "mutated"
	again, _ := s.LoadDialog(ctx, "test/c1")
	if again.Values["title"] != "Standup" {
		t.Fatalf("stored dialog shares map with caller")
	}

	if err := s.SaveDialog(ctx, "test/c1", DialogState{}); err != nil {
		t.Fatalf("save idle dialog: %v", err)
	}
	cleared, _ := s.LoadDialog(ctx, "test/c1")
	if !cleared.Idle() {
		t.Fatalf("expected idle dialog after reset, got %+v", cleared)
	}
}

func TestMemoryStoreHonoursContext(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.SaveFlow(ctx, "k", ConversationFlow{}); err == nil {
		t.Fatalf("expected error for canceled context")
	}
}

func TestKeys(t *testing.T) {
	if got := ConversationKey("telegram", "42"); got != "telegram/42" {
		t.Fatalf("unexpected conversation key %q", got)
	}
	if got := UserKey("console", "me"); got != "console/me" {
		t.Fatalf("unexpected user key %q", got)
	}
}

func TestTurnLocksSerialisePerConversation(t *testing.T) {
	locks := NewTurnLocks()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("test/c1")
			defer unlock()
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected at most one turn at a time, saw %d", maxSeen)
	}

	unlockA := locks.Lock("test/a")
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("test/b")
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock on another conversation blocked")
	}
	unlockA()
}

func TestTurnLocksReleaseIdleConversations(t *testing.T) {
	locks := NewTurnLocks()

	unlockFirst := locks.Lock("test/c1")
	acquired := make(chan func())
	go func() {
		acquired <- locks.Lock("test/c1")
	}()

	// the waiter keeps the entry alive after the first holder lets go
	deadline := time.Now().Add(time.Second)
	for {
		locks.mu.Lock()
		refs := locks.locks["test/c1"].refs
		locks.mu.Unlock()
		if refs == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("second turn never queued on the lock")
		}
		time.Sleep(time.Millisecond)
	}
	unlockFirst()

	var unlockSecond func()
	select {
	case unlockSecond = <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("second turn never acquired the lock")
	}
	locks.mu.Lock()
	if _, ok := locks.locks["test/c1"]; !ok {
		t.Fatalf("entry dropped while a turn still holds it")
	}
	locks.mu.Unlock()

	unlockSecond()
	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.locks) != 0 {
		t.Fatalf("expected no lock entries after all turns finished, got %d", len(locks.locks))
	}
}

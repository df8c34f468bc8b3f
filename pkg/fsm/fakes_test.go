package fsm

import (
	"context"
	"sync"
	"time"

	"calendarbot/pkg/graph"
	"calendarbot/pkg/oauthconn"
	"calendarbot/pkg/recognizer"
)

var testNow = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

// stubRecognizer returns the same candidates for every input.
type stubRecognizer struct {
	results []recognizer.Result
	err     error
	calls   int
}

func (s *stubRecognizer) RecognizeDateTime(_ context.Context, _ string, _ string, _ time.Time) ([]recognizer.Result, error) {
	s.calls++
	return s.results, s.err
}

func resolutions(values ...string) []recognizer.Result {
	res := make([]recognizer.Resolution, 0, len(values))
	for _, v := range values {
		res = append(res, recognizer.Resolution{Value: v})
	}
	return []recognizer.Result{{Text: "stub", Resolutions: res}}
}

type fakeTokens struct {
	mu        sync.Mutex
	token     string
	link      string
	err       error
	signedOut []string
	lookups   int
}

func (f *fakeTokens) UserToken(_ context.Context, _ string) (*oauthconn.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	if f.token == "" {
		return nil, nil
	}
	return &oauthconn.TokenResponse{ConnectionName: "graph", Token: f.token, Expiration: testNow.Add(time.Hour)}, nil
}

func (f *fakeTokens) SignInLink(_ context.Context, userKey string) (string, error) {
	if f.link != "" {
		return f.link, nil
	}
	return "https://login.example/authorize?user=" + userKey, nil
}

func (f *fakeTokens) SignOut(_ context.Context, userKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signedOut = append(f.signedOut, userKey)
	f.token = ""
	return nil
}

type createdEvent struct {
	Title, Start, End string
}

type fakeGateway struct {
	me            *graph.User
	myEvents      []graph.Event
	groupEvents   []graph.Event
	err           error
	created       []createdEvent
	groupsCreated int
	listed        []string
}

var _ graph.Gateway = (*fakeGateway)(nil)

func (g *fakeGateway) GetMe(context.Context) (*graph.User, error) {
	if g.err != nil {
		return nil, g.err
	}
	if g.me == nil {
		return &graph.User{DisplayName: "Ada Lovelace", Mail: "ada@example.com"}, nil
	}
	return g.me, nil
}

func (g *fakeGateway) ListMyEvents(context.Context) ([]graph.Event, error) {
	g.listed = append(g.listed, "me")
	if g.err != nil {
		return nil, g.err
	}
	return g.myEvents, nil
}

func (g *fakeGateway) ListGroupEvents(context.Context) ([]graph.Event, error) {
	g.listed = append(g.listed, "group")
	if g.err != nil {
		return nil, g.err
	}
	return g.groupEvents, nil
}

func (g *fakeGateway) CreateEvent(_ context.Context, title, start, end string) error {
	if g.err != nil {
		return g.err
	}
	g.created = append(g.created, createdEvent{Title: title, Start: start, End: end})
	return nil
}

func (g *fakeGateway) CreateCalendarGroup(context.Context) error {
	if g.err != nil {
		return g.err
	}
	g.groupsCreated++
	return nil
}

type fakeFactory struct {
	gateway *fakeGateway
	tokens  []string
}

func (f *fakeFactory) Connect(_ context.Context, token string) (graph.Gateway, error) {
	f.tokens = append(f.tokens, token)
	return f.gateway, nil
}

func newTestWizard(tokens *fakeTokens, gateway *fakeGateway) (*Wizard, *fakeFactory) {
	factory := &fakeFactory{gateway: gateway}
	return NewWizard(WizardOptions{
		Tokens:       tokens,
		Graph:        factory,
		LoginTimeout: 5 * time.Minute,
		Now:          fixedNow,
	}), factory
}

func graphEvent(subject, start, end string) graph.Event {
	return graph.Event{
		Subject: subject,
		Start:   &graph.DateTimeZone{DateTime: start, TimeZone: "UTC"},
		End:     &graph.DateTimeZone{DateTime: end, TimeZone: "UTC"},
	}
}

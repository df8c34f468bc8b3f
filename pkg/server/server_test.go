package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"calendarbot/pkg/oauthconn"
	"calendarbot/pkg/ports/botport"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTurns struct {
	err      error
	received []botport.Activity
}

func (e *echoTurns) HandleTurn(ctx context.Context, activity botport.Activity, port botport.BotPort) error {
	e.received = append(e.received, activity)
	if _, err := port.SendMessage(ctx, activity.Conversation.ID, "echo: "+activity.Text, nil); err != nil {
		return err
	}
	if e.err != nil {
		_, _ = port.SendMessage(ctx, activity.Conversation.ID, "sorry", nil)
	}
	return e.err
}

type stubCallback struct {
	userKey string
	err     error
	state   string
	code    string
}

func (s *stubCallback) Callback(_ context.Context, state, code string) (string, error) {
	s.state, s.code = state, code
	return s.userKey, s.err
}

type messagesResponse struct {
	Activities []botport.Activity `json:"activities"`
}

func postActivity(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const activityJSON = `{"type":"message","id":"a1","channelId":"webchat","from":{"id":"u1"},"recipient":{"id":"bot"},"conversation":{"id":"c1"},"text":"mycalendar"}`

func TestMessagesReturnsTurnReplies(t *testing.T) {
	turns := &echoTurns{}
	s := New(":0", turns, &stubCallback{}, nil)

	rec := postActivity(t, s.Handler(), activityJSON)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp messagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Activities, 1)
	assert.Equal(t, "echo: mycalendar", resp.Activities[0].Text)
	assert.Equal(t, "a1", resp.Activities[0].ReplyToID)
	assert.Equal(t, "u1", resp.Activities[0].Recipient.ID)
	require.Len(t, turns.received, 1)
	assert.Equal(t, "webchat", turns.received[0].ChannelID)
}

func TestMessagesTurnErrorStillReturnsReplies(t *testing.T) {
	s := New(":0", &echoTurns{err: errors.New("graph down")}, &stubCallback{}, nil)

	rec := postActivity(t, s.Handler(), activityJSON)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp messagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Activities, 2)
	assert.Equal(t, "sorry", resp.Activities[1].Text)
}

func TestMessagesRejectsBadBodies(t *testing.T) {
	s := New(":0", &echoTurns{}, &stubCallback{}, nil)

	for _, body := range []string{`not json`, `{"type":"message"}`, `{"conversation":{"id":"c"}}`} {
		rec := postActivity(t, s.Handler(), body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestOAuthCallback(t *testing.T) {
	cases := []struct {
		name   string
		query  string
		err    error
		status int
	}{
		{name: "success", query: "?state=s1&code=c1", status: http.StatusOK},
		{name: "unknown state", query: "?state=s1&code=c1", err: oauthconn.ErrUnknownState, status: http.StatusBadRequest},
		{name: "exchange failure", query: "?state=s1&code=c1", err: errors.New("boom"), status: http.StatusBadGateway},
		{name: "provider error", query: "?error=access_denied", status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cb := &stubCallback{userKey: "webchat/u1", err: tc.err}
			s := New(":0", &echoTurns{}, cb, nil)

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/callback"+tc.query, nil))

			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, signedInPage, rec.Body.String())
				assert.Equal(t, "s1", cb.state)
				assert.Equal(t, "c1", cb.code)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	s := New(":0", &echoTurns{}, &stubCallback{}, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

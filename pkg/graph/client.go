// Package graph is a small Microsoft Graph client covering the calendar calls the bot makes.
package graph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"

	// calendarViewWindow is how far ahead the event lists look.
	calendarViewWindow = 7 * 24 * time.Hour

	// queryTimeLayout mirrors a round-trip timestamp with the offset cut off.
	queryTimeLayout = "2006-01-02T15:04:05.0000000"

	calendarGroupClassID   = "c8ea0ed1-3834-4d80-ba48-9552c4d2e689"
	calendarGroupChangeKey = "changeKey-value"
)

var (
	errNilDateTime = errors.New("graph: nil dateTime")
	errEmptyToken  = errors.New("graph: empty bearer token")
)

// Gateway is the set of Graph operations the dialogs use.
type Gateway interface {
	GetMe(ctx context.Context) (*User, error)
	ListMyEvents(ctx context.Context) ([]Event, error)
	ListGroupEvents(ctx context.Context) ([]Event, error)
	CreateEvent(ctx context.Context, title, start, end string) error
	CreateCalendarGroup(ctx context.Context) error
}

// Options configure every Client built by a Connector.
type Options struct {
	BaseURL           string
	GroupCalendarID   string
	CalendarGroupName string
	// LocalTimeZone goes into Prefer: outlook.timezone on reads.
	LocalTimeZone string
	// EventTimeZone labels start/end on created events.
	EventTimeZone string

	Limiter    *RateLimiter
	HTTPClient *http.Client
	Now        func() time.Time
	Logger     *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.CalendarGroupName == "" {
		o.CalendarGroupName = "DEMO-GROUP-CALENDAR"
	}
	if o.LocalTimeZone == "" {
		o.LocalTimeZone = "UTC"
	}
	if o.EventTimeZone == "" {
		o.EventTimeZone = "Pacific Standard Time"
	}
	if o.Limiter == nil {
		o.Limiter = NewRateLimiter(10, 15)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Client issues Graph calls with one user's bearer token.
type Client struct {
	http *http.Client
	opts Options
}

var _ Gateway = (*Client)(nil)

// NewClient wraps token in a static token source; the bearer header is added by the oauth2 transport.
func NewClient(ctx context.Context, token string, opts Options) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errEmptyToken
	}
	opts = opts.withDefaults()
	if opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, opts.HTTPClient)
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	return &Client{http: oauth2.NewClient(ctx, src), opts: opts}, nil
}

// Connector builds a Client per turn from a freshly obtained token.
type Connector struct {
	opts Options
}

func NewConnector(opts Options) *Connector {
	opts = opts.withDefaults()
	return &Connector{opts: opts}
}

func (c *Connector) Connect(ctx context.Context, token string) (Gateway, error) {
	return NewClient(ctx, token, c.opts)
}

func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var me User
	if err := c.do(ctx, http.MethodGet, "/me?$select=id,displayName,mail,userPrincipalName", nil, false, &me); err != nil {
		return nil, fmt.Errorf("get me: %w", err)
	}
	return &me, nil
}

func (c *Client) ListMyEvents(ctx context.Context) ([]Event, error) {
	events, err := c.calendarView(ctx, "/me/calendar/calendarView")
	if err != nil {
		return nil, fmt.Errorf("list my events: %w", err)
	}
	return events, nil
}

func (c *Client) ListGroupEvents(ctx context.Context) ([]Event, error) {
	path := "/groups/" + url.PathEscape(c.opts.GroupCalendarID) + "/calendar/calendarView"
	events, err := c.calendarView(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("list group events: %w", err)
	}
	return events, nil
}

// CreateEvent stores start and end verbatim, labelled with the configured event time zone.
func (c *Client) CreateEvent(ctx context.Context, title, start, end string) error {
	event := Event{
		Subject: title,
		Body:    &EventBody{ContentType: "HTML", Content: ""},
		Start:   &DateTimeZone{DateTime: start, TimeZone: c.opts.EventTimeZone},
		End:     &DateTimeZone{DateTime: end, TimeZone: c.opts.EventTimeZone},
		Location: &Location{
			DisplayName: title,
		},
	}
	if err := c.do(ctx, http.MethodPost, "/me/calendar/events", event, false, nil); err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

func (c *Client) CreateCalendarGroup(ctx context.Context) error {
	group := CalendarGroup{
		Name:      c.opts.CalendarGroupName,
		ClassID:   calendarGroupClassID,
		ChangeKey: calendarGroupChangeKey,
	}
	if err := c.do(ctx, http.MethodPost, "/me/calendarGroups", group, false, nil); err != nil {
		return fmt.Errorf("create calendar group: %w", err)
	}
	return nil
}

// calendarView reads the first page of events between now and now+7d.
func (c *Client) calendarView(ctx context.Context, path string) ([]Event, error) {
	now := c.opts.Now()
	q := url.Values{}
	q.Set("startDateTime", now.Format(queryTimeLayout))
	q.Set("endDateTime", now.Add(calendarViewWindow).Format(queryTimeLayout))

	var page eventList
	if err := c.do(ctx, http.MethodGet, path+"?"+q.Encode(), nil, true, &page); err != nil {
		return nil, err
	}
	return page.Value, nil
}

func (c *Client) do(ctx context.Context, method, path string, in interface{}, preferLocal bool, out interface{}) error {
	if err := c.opts.Limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader = http.NoBody
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if preferLocal {
		req.Header.Set("Prefer", `outlook.timezone="`+c.opts.LocalTimeZone+`"`)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.opts.Logger.Debug("[graph.do] response",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)))

	if err := WrapError(resp.StatusCode); err != nil {
		c.opts.Logger.Warn("[graph.do] request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("retry_after", resp.Header.Get("Retry-After")),
			zap.ByteString("body", raw))
		return fmt.Errorf("%s %s failed with status %d: %w", method, path, resp.StatusCode, err)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

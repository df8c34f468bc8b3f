package graph

import (
	"strings"
	"time"
)

// User is the subset of /me the bot reads.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// Email falls back to the principal name when mail is unset.
func (u *User) Email() string {
	if u.Mail != "" {
		return u.Mail
	}
	return u.UserPrincipalName
}

type Event struct {
	ID       string        `json:"id,omitempty"`
	Subject  string        `json:"subject"`
	Body     *EventBody    `json:"body,omitempty"`
	Start    *DateTimeZone `json:"start,omitempty"`
	End      *DateTimeZone `json:"end,omitempty"`
	Location *Location     `json:"location,omitempty"`
}

type EventBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type DateTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

// graphDateTimeLayout matches dateTime values returned by Graph, e.g. 2026-10-17T15:00:00.0000000.
const graphDateTimeLayout = "2006-01-02T15:04:05.9999999"

// Time parses the wall-clock value; the zone label is not applied.
func (d *DateTimeZone) Time() (time.Time, error) {
	if d == nil {
		return time.Time{}, errNilDateTime
	}
	return time.Parse(graphDateTimeLayout, strings.TrimSuffix(d.DateTime, "Z"))
}

type Location struct {
	DisplayName string `json:"displayName"`
}

type CalendarGroup struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	ClassID   string `json:"classId,omitempty"`
	ChangeKey string `json:"changeKey,omitempty"`
}

type eventList struct {
	Value    []Event `json:"value"`
	NextLink string  `json:"@odata.nextLink,omitempty"`
}

package state

import (
	"strings"
	"time"
)

// Question is the slot the profile flow asked about last.
type Question string

const (
	QuestionNone     Question = "none"
	QuestionSubject  Question = "subject"
	QuestionBody     Question = "body"
	QuestionStart    Question = "start"
	QuestionEnd      Question = "end"
	QuestionLocation Question = "location"
)

// NormalizeQuestion maps unknown or empty values to QuestionNone.
func NormalizeQuestion(q Question) Question {
	switch Question(strings.ToLower(strings.TrimSpace(string(q)))) {
	case QuestionSubject:
		return QuestionSubject
	case QuestionBody:
		return QuestionBody
	case QuestionStart:
		return QuestionStart
	case QuestionEnd:
		return QuestionEnd
	case QuestionLocation:
		return QuestionLocation
	default:
		return QuestionNone
	}
}

// UserProfile is the event being collected, one field per turn. User-scoped.
type UserProfile struct {
	Subject  string `json:"subject,omitempty"`
	Body     string `json:"body,omitempty"`
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	Location string `json:"location,omitempty"`
}

// ConversationFlow is the slot-filling cursor. Conversation-scoped.
type ConversationFlow struct {
	LastQuestionAsked Question `json:"lastQuestionAsked"`
}

// Current returns the cursor with unknown values treated as none.
func (f ConversationFlow) Current() Question {
	return NormalizeQuestion(f.LastQuestionAsked)
}

// DialogState is the persisted position of the calendar wizard. An empty Step means idle.
type DialogState struct {
	Step            string            `json:"step,omitempty"`
	Command         string            `json:"command,omitempty"`
	Values          map[string]string `json:"values,omitempty"`
	PromptStartedAt time.Time         `json:"promptStartedAt,omitempty"`
}

func (d DialogState) Idle() bool {
	return d.Step == ""
}

// Clone returns a copy that shares no map with d.
func (d DialogState) Clone() DialogState {
	out := d
	if d.Values != nil {
		out.Values = make(map[string]string, len(d.Values))
		for k, v := range d.Values {
			out.Values[k] = v
		}
	}
	return out
}

// ConversationKey addresses conversation-scoped state.
func ConversationKey(channelID, conversationID string) string {
	return channelID + "/" + conversationID
}

// UserKey addresses user-scoped state and tokens.
func UserKey(channelID, userID string) string {
	return channelID + "/" + userID
}

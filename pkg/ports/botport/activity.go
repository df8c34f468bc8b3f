package botport

import "time"

const (
	ActivityMessage            = "message"
	ActivityConversationUpdate = "conversationUpdate"
)

// ChannelAccount identifies a user or bot on a channel.
type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type ConversationAccount struct {
	ID string `json:"id"`
}

// CardAction is a button on a suggested-actions row or a card.
type CardAction struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Value string `json:"value"`
}

type SuggestedActions struct {
	Actions []CardAction `json:"actions"`
}

// Attachment carries rich content such as a sign-in card.
type Attachment struct {
	ContentType string      `json:"contentType"`
	Content     interface{} `json:"content"`
}

// SigninCardContent is the content of an application/vnd.microsoft.card.signin attachment.
type SigninCardContent struct {
	Text    string       `json:"text"`
	Buttons []CardAction `json:"buttons"`
}

const SigninCardContentType = "application/vnd.microsoft.card.signin"

// Activity is one inbound or outbound turn event, shaped after the Bot Framework schema.
type Activity struct {
	Type             string              `json:"type"`
	ID               string              `json:"id,omitempty"`
	Timestamp        time.Time           `json:"timestamp,omitempty"`
	ChannelID        string              `json:"channelId"`
	From             ChannelAccount      `json:"from"`
	Recipient        *ChannelAccount     `json:"recipient,omitempty"`
	Conversation     ConversationAccount `json:"conversation"`
	Text             string              `json:"text,omitempty"`
	Locale           string              `json:"locale,omitempty"`
	MembersAdded     []ChannelAccount    `json:"membersAdded,omitempty"`
	SuggestedActions *SuggestedActions   `json:"suggestedActions,omitempty"`
	Attachments      []Attachment        `json:"attachments,omitempty"`
	ReplyToID        string              `json:"replyToId,omitempty"`
}

// ReplyActivity renders an outbound message with its markup attached the Bot Framework way.
func ReplyActivity(to Activity, text string, markup interface{}) Activity {
	reply := Activity{
		Type:         ActivityMessage,
		Timestamp:    time.Now().UTC(),
		ChannelID:    to.ChannelID,
		From:         recipientOrBot(to),
		Recipient:    &ChannelAccount{ID: to.From.ID, Name: to.From.Name},
		Conversation: to.Conversation,
		Text:         text,
		Locale:       to.Locale,
		ReplyToID:    to.ID,
	}
	switch m := markup.(type) {
	case SignInCard:
		reply.Attachments = []Attachment{signinAttachment(m)}
	case *SignInCard:
		if m != nil {
			reply.Attachments = []Attachment{signinAttachment(*m)}
		}
	case Choices:
		reply.SuggestedActions = suggested(m)
	case *Choices:
		if m != nil {
			reply.SuggestedActions = suggested(*m)
		}
	}
	return reply
}

func recipientOrBot(to Activity) ChannelAccount {
	if to.Recipient != nil {
		return *to.Recipient
	}
	return ChannelAccount{ID: "bot"}
}

func signinAttachment(card SignInCard) Attachment {
	return Attachment{
		ContentType: SigninCardContentType,
		Content: SigninCardContent{
			Text:    card.Text,
			Buttons: []CardAction{{Type: "signin", Title: card.Title, Value: card.URL}},
		},
	}
}

func suggested(c Choices) *SuggestedActions {
	actions := make([]CardAction, 0, len(c.Options))
	for _, opt := range c.Options {
		actions = append(actions, CardAction{Type: "imBack", Title: opt, Value: opt})
	}
	return &SuggestedActions{Actions: actions}
}

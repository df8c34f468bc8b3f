package telegramadapter

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"calendarbot/pkg/bot"
	"calendarbot/pkg/ports/botport"

	json "github.com/goccy/go-json"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Package telegramadapter implements botport.BotPort on top of the Telegram client.

// ChannelID is the channel name Telegram activities are keyed under.
const ChannelID = "telegram"

type telegramClient interface {
	SendMessage(chatID int64, text string, markup interface{}) (tgbotapi.Message, error)
}

// Adapter wraps a Telegram client and satisfies botport.BotPort.
type Adapter struct {
	client telegramClient
	logger *zap.Logger
}

var _ telegramClient = (*bot.Client)(nil)
var _ botport.BotPort = (*Adapter)(nil)

// New constructs a Telegram adapter with the provided bot client and logger.
func New(client telegramClient, logger *zap.Logger) (*Adapter, error) {
	if client == nil {
		return nil, fmt.Errorf("telegramadapter: client is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		client: client,
		logger: logger,
	}, nil
}

// SendMessage dispatches a new Telegram message and returns a botport.BotMessage record.
// A sign-in card becomes an inline URL button; choices become a one-time reply keyboard.
func (a *Adapter) SendMessage(ctx context.Context, chatID string, text string, markup interface{}) (botport.BotMessage, error) {
	if err := ctx.Err(); err != nil {
		return botport.BotMessage{}, botport.WrapContextError("send_message", err)
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return botport.BotMessage{}, botport.NewBotError("send_message", "bad_payload", fmt.Errorf("chat id %q: %w", chatID, err))
	}
	text, native, err := toTelegramMarkup(text, markup)
	if err != nil {
		return botport.BotMessage{}, botport.NewBotError("send_message", "bad_payload", err)
	}

	msg, err := a.client.SendMessage(id, text, native)
	if err != nil {
		return botport.BotMessage{}, a.wrapAndLogError("send_message", id, err)
	}
	bm := toBotMessage(msg, native)
	a.logger.Debug("[SendMessage] sent", zap.String("chat_id", bm.ChatID), zap.String("message_id", bm.MessageID))
	return bm, nil
}

func (a *Adapter) wrapAndLogError(op string, chatID int64, err error) error {
	wrapped := wrapTelegramError(op, err)
	a.logger.Warn("[wrapAndLogError] telegram call failed",
		zap.String("op", op),
		zap.Int64("chat_id", chatID),
		zap.String("code", getBotErrorCode(wrapped)),
		zap.Error(err))
	return wrapped
}

// toTelegramMarkup maps channel-neutral markup to Telegram payloads. Telegram rejects
// empty texts, so a card without text borrows its own.
func toTelegramMarkup(text string, markup interface{}) (string, interface{}, error) {
	switch v := markup.(type) {
	case nil:
		return text, nil, nil
	case botport.SignInCard:
		return signInMessage(text, v), signInKeyboard(v), nil
	case *botport.SignInCard:
		if v == nil {
			return text, nil, nil
		}
		return signInMessage(text, *v), signInKeyboard(*v), nil
	case botport.Choices:
		return text, choicesKeyboard(v), nil
	case *botport.Choices:
		if v == nil {
			return text, nil, nil
		}
		return text, choicesKeyboard(*v), nil
	case tgbotapi.InlineKeyboardMarkup, *tgbotapi.InlineKeyboardMarkup,
		tgbotapi.ReplyKeyboardMarkup, tgbotapi.ReplyKeyboardRemove:
		return text, v, nil
	default:
		return text, nil, fmt.Errorf("unsupported markup type %T", markup)
	}
}

func signInMessage(text string, card botport.SignInCard) string {
	if text != "" {
		return text
	}
	if card.Text != "" {
		return card.Text
	}
	return card.Title
}

func signInKeyboard(card botport.SignInCard) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL(card.Title, card.URL),
		),
	)
}

func choicesKeyboard(choices botport.Choices) tgbotapi.ReplyKeyboardMarkup {
	rows := make([][]tgbotapi.KeyboardButton, 0, len(choices.Options))
	for _, opt := range choices.Options {
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(opt)))
	}
	keyboard := tgbotapi.NewReplyKeyboard(rows...)
	keyboard.OneTimeKeyboard = true
	keyboard.ResizeKeyboard = true
	return keyboard
}

// ActivityFromUpdate converts a Telegram update into an inbound activity.
// Updates without a message are reported as not ok.
func ActivityFromUpdate(update tgbotapi.Update, self *tgbotapi.User) (botport.Activity, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return botport.Activity{}, false
	}

	act := botport.Activity{
		ID:           strconv.Itoa(msg.MessageID),
		Timestamp:    msg.Time(),
		ChannelID:    ChannelID,
		Conversation: botport.ConversationAccount{ID: strconv.FormatInt(msg.Chat.ID, 10)},
	}
	if msg.From != nil {
		act.From = toAccount(*msg.From)
		act.Locale = msg.From.LanguageCode
	}
	if self != nil {
		recipient := toAccount(*self)
		act.Recipient = &recipient
	}

	if len(msg.NewChatMembers) > 0 {
		act.Type = botport.ActivityConversationUpdate
		for _, member := range msg.NewChatMembers {
			act.MembersAdded = append(act.MembersAdded, toAccount(member))
		}
		return act, true
	}

	if msg.From == nil {
		return botport.Activity{}, false
	}
	act.Type = botport.ActivityMessage
	act.Text = msg.Text
	return act, true
}

func toAccount(u tgbotapi.User) botport.ChannelAccount {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return botport.ChannelAccount{ID: strconv.FormatInt(u.ID, 10), Name: name}
}

func toBotMessage(msg tgbotapi.Message, markup interface{}) botport.BotMessage {
	payload := msg.Text
	if payload == "" {
		payload = msg.Caption
	}
	return botport.BotMessage{
		ChatID:    chatIDFromMessage(msg),
		MessageID: strconv.Itoa(msg.MessageID),
		Transport: ChannelID,
		Payload:   payload,
		Meta:      metaFromMarkup(markup),
	}
}

func metaFromMarkup(markup interface{}) map[string]string {
	if markup == nil {
		return nil
	}
	meta := map[string]string{
		"markup_type": fmt.Sprintf("%T", markup),
	}
	if raw, err := json.Marshal(markup); err == nil {
		meta["raw_markup"] = string(raw)
	}
	return meta
}

func chatIDFromMessage(msg tgbotapi.Message) string {
	if msg.Chat != nil {
		return strconv.FormatInt(msg.Chat.ID, 10)
	}
	return ""
}

func wrapTelegramError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return botport.WrapContextError(op, err)
	}
	code, retry := classifyTelegramError(err)
	return &botport.BotError{
		Op:         op,
		Code:       code,
		RetryAfter: retry,
		Wrapped:    err,
	}
}

var retryAfterRegex = regexp.MustCompile(`(?i)retry after (\d+)`)

func classifyTelegramError(err error) (string, time.Duration) {
	if err == nil {
		return "unknown", 0
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "too many requests"):
		return "rate_limited", extractRetryAfter(msg)
	case strings.Contains(msg, "bad request"):
		return "bad_request", 0
	case strings.Contains(msg, "forbidden"):
		return "forbidden", 0
	default:
		return "unknown", 0
	}
}

func extractRetryAfter(msg string) time.Duration {
	matches := retryAfterRegex.FindStringSubmatch(msg)
	if len(matches) != 2 {
		return 0
	}
	seconds, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func getBotErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var be *botport.BotError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

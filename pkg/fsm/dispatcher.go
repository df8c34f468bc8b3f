package fsm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"calendarbot/pkg/config"
	"calendarbot/pkg/ports/botport"
	"calendarbot/pkg/state"

	"go.uber.org/zap"
)

var errModeNotConfigured = errors.New("dialog for the configured mode is not set")

type Options struct {
	Mode    string
	Welcome string
	Store   state.Store
	Locks   *state.TurnLocks
	Profile *ProfileMachine
	Wizard  *Wizard
	Logger  *zap.Logger
}

// Bot routes inbound activities to the configured dialog and persists its state.
type Bot struct {
	mode    string
	welcome string
	store   state.Store
	locks   *state.TurnLocks
	profile *ProfileMachine
	wizard  *Wizard
	logger  *zap.Logger
}

func NewBot(opts Options) *Bot {
	if opts.Mode == "" {
		opts.Mode = config.ModeWizard
	}
	if opts.Locks == nil {
		opts.Locks = state.NewTurnLocks()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Bot{
		mode:    strings.ToLower(strings.TrimSpace(opts.Mode)),
		welcome: opts.Welcome,
		store:   opts.Store,
		locks:   opts.Locks,
		profile: opts.Profile,
		wizard:  opts.Wizard,
		logger:  opts.Logger,
	}
}

func (b *Bot) Mode() string {
	return b.mode
}

// HandleTurn processes one activity. Turns for the same conversation never overlap.
// When the dialog fails the user gets a generic apology and the error is returned to the host.
func (b *Bot) HandleTurn(ctx context.Context, activity botport.Activity, port botport.BotPort) error {
	switch activity.Type {
	case botport.ActivityMessage:
	case botport.ActivityConversationUpdate:
		return b.greetMembers(ctx, activity, port)
	default:
		b.logger.Debug("[HandleTurn] ignoring activity", zap.String("type", activity.Type))
		return nil
	}

	if activity.Conversation.ID == "" || activity.From.ID == "" {
		b.logger.Warn("[HandleTurn] activity without conversation or sender",
			zap.String("channel", activity.ChannelID),
			zap.String("activityID", activity.ID))
		return nil
	}

	convKey := state.ConversationKey(activity.ChannelID, activity.Conversation.ID)
	userKey := state.UserKey(activity.ChannelID, activity.From.ID)

	unlock := b.locks.Lock(convKey)
	defer unlock()

	var err error
	switch b.mode {
	case config.ModeProfile:
		err = b.profileTurn(ctx, activity, convKey, userKey, port)
	default:
		err = b.wizardTurn(ctx, activity, convKey, userKey, port)
	}
	if err != nil {
		b.logger.Error("[HandleTurn] turn failed",
			zap.String("conversation", convKey),
			zap.String("mode", b.mode),
			zap.Error(err))
		if _, sendErr := port.SendMessage(ctx, activity.Conversation.ID, MsgTurnError, nil); sendErr != nil {
			b.logger.Warn("[HandleTurn] failed to send apology", zap.Error(sendErr))
		}
		return err
	}
	return nil
}

func (b *Bot) profileTurn(ctx context.Context, activity botport.Activity, convKey, userKey string, port botport.BotPort) error {
	if b.profile == nil {
		return errModeNotConfigured
	}
	flow, err := b.store.LoadFlow(ctx, convKey)
	if err != nil {
		return fmt.Errorf("load conversation flow: %w", err)
	}
	profile, err := b.store.LoadProfile(ctx, userKey)
	if err != nil {
		return fmt.Errorf("load user profile: %w", err)
	}

	outcome, err := b.profile.Advance(ctx, flow, profile, activity.Text, activity.Locale)
	if err != nil {
		return err
	}

	for _, msg := range outcome.Messages {
		if _, err := port.SendMessage(ctx, activity.Conversation.ID, msg, nil); err != nil {
			return fmt.Errorf("send reply: %w", err)
		}
	}

	if err := b.store.SaveFlow(ctx, convKey, outcome.Flow); err != nil {
		return fmt.Errorf("save conversation flow: %w", err)
	}
	if err := b.store.SaveProfile(ctx, userKey, outcome.Profile); err != nil {
		return fmt.Errorf("save user profile: %w", err)
	}
	return nil
}

func (b *Bot) wizardTurn(ctx context.Context, activity botport.Activity, convKey, userKey string, port botport.BotPort) error {
	if b.wizard == nil {
		return errModeNotConfigured
	}
	dialog, err := b.store.LoadDialog(ctx, convKey)
	if err != nil {
		return fmt.Errorf("load dialog state: %w", err)
	}

	outcome, stepErr := b.wizard.Step(ctx, userKey, activity.Text, dialog)

	// Replies produced before a failure still go out, and the reset dialog is saved.
	for _, reply := range outcome.Replies {
		if _, err := port.SendMessage(ctx, activity.Conversation.ID, reply.Text, reply.Markup); err != nil {
			return fmt.Errorf("send reply: %w", err)
		}
	}
	if err := b.store.SaveDialog(ctx, convKey, outcome.Dialog); err != nil {
		return fmt.Errorf("save dialog state: %w", err)
	}
	return stepErr
}

// greetMembers welcomes every added member except the bot itself. Wizard mode only.
func (b *Bot) greetMembers(ctx context.Context, activity botport.Activity, port botport.BotPort) error {
	if b.mode != config.ModeWizard || b.welcome == "" {
		return nil
	}
	for _, member := range activity.MembersAdded {
		if activity.Recipient != nil && member.ID == activity.Recipient.ID {
			continue
		}
		if _, err := port.SendMessage(ctx, activity.Conversation.ID, b.welcome, nil); err != nil {
			return fmt.Errorf("send welcome: %w", err)
		}
	}
	return nil
}

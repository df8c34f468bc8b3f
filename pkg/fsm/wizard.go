package fsm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"calendarbot/pkg/graph"
	"calendarbot/pkg/oauthconn"
	"calendarbot/pkg/ports/botport"
	"calendarbot/pkg/state"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// maxTransitionsPerTurn bounds the driver loop in Step.
const maxTransitionsPerTurn = 8

// TokenService is the OAuth connection the wizard signs users in through.
type TokenService interface {
	UserToken(ctx context.Context, userKey string) (*oauthconn.TokenResponse, error)
	SignInLink(ctx context.Context, userKey string) (string, error)
	SignOut(ctx context.Context, userKey string) error
}

// GatewayFactory opens a Graph gateway for one bearer token.
type GatewayFactory interface {
	Connect(ctx context.Context, token string) (graph.Gateway, error)
}

// Reply is one outbound message with optional channel markup.
type Reply struct {
	Text   string
	Markup interface{}
}

// WizardOutcome is the result of one wizard turn. Dialog replaces the caller's copy.
type WizardOutcome struct {
	Replies []Reply
	Dialog  state.DialogState
}

type WizardOptions struct {
	Tokens            TokenService
	Graph             GatewayFactory
	LoginTimeout      time.Duration
	CalendarGroupName string
	Now               func() time.Time
	Logger            *zap.Logger
}

// Wizard is the login and calendar command dialog.
type Wizard struct {
	tokens       TokenService
	graph        GatewayFactory
	loginTimeout time.Duration
	groupName    string
	now          func() time.Time
	logger       *zap.Logger
}

func NewWizard(opts WizardOptions) *Wizard {
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = 5 * time.Minute
	}
	if opts.CalendarGroupName == "" {
		opts.CalendarGroupName = "DEMO-GROUP-CALENDAR"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Wizard{
		tokens:       opts.Tokens,
		graph:        opts.Graph,
		loginTimeout: opts.LoginTimeout,
		groupName:    opts.CalendarGroupName,
		now:          opts.Now,
		logger:       opts.Logger,
	}
}

// wizardTurn carries one turn through the callbacks. Callbacks never fire events
// themselves; they set next and Step fires it once the current transition is done.
type wizardTurn struct {
	ctx     context.Context
	userKey string
	text    string
	now     time.Time
	dialog  state.DialogState
	token   *oauthconn.TokenResponse
	replies []Reply
	next    string
	err     error
}

func (t *wizardTurn) say(text string) {
	t.replies = append(t.replies, Reply{Text: text})
}

func (t *wizardTurn) sayWith(text string, markup interface{}) {
	t.replies = append(t.replies, Reply{Text: text, Markup: markup})
}

func (t *wizardTurn) fail(err error) {
	t.err = err
	t.next = ""
}

func (w *Wizard) newFSM(current string) *fsm.FSM {
	return fsm.NewFSM(
		current,
		fsm.Events{
			{Name: EventBeginLogin, Src: []string{StateIdle}, Dst: StateLoginPending},
			{Name: EventLoggedIn, Src: []string{StateLoginPending}, Dst: StateAwaitingCommand},
			{Name: EventCommandEntered, Src: []string{StateAwaitingCommand}, Dst: StateCommandLoginPending},
			{Name: EventBeginAppointment, Src: []string{StateCommandLoginPending}, Dst: StateAppointmentTitle},
			{Name: EventTitleEntered, Src: []string{StateAppointmentTitle}, Dst: StateAppointmentStart},
			{Name: EventStartEntered, Src: []string{StateAppointmentStart}, Dst: StateAppointmentEnd},
			{Name: EventEndDialog, Src: []string{
				StateLoginPending,
				StateAwaitingCommand,
				StateCommandLoginPending,
				StateAppointmentTitle,
				StateAppointmentStart,
				StateAppointmentEnd,
			}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_" + StateLoginPending:        w.enterLoginPrompt,
			"enter_" + StateCommandLoginPending: w.enterLoginPrompt,
			"enter_" + StateAwaitingCommand:     w.enterAwaitingCommand,
			"enter_" + StateAppointmentTitle:    w.enterAppointmentStep,
			"enter_" + StateAppointmentStart:    w.enterAppointmentStep,
			"enter_" + StateAppointmentEnd:      w.enterAppointmentStep,
			"enter_" + StateIdle:                w.enterIdle,
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if turn := wizardTurnFromEvent(e); turn != nil {
					turn.dialog.Step = e.Dst
				}
			},
		},
	)
}

func wizardTurnFromEvent(e *fsm.Event) *wizardTurn {
	if len(e.Args) == 0 {
		return nil
	}
	turn, _ := e.Args[0].(*wizardTurn)
	return turn
}

// Step runs one inbound message through the wizard.
// On error the returned dialog is idle and Replies holds whatever was produced before the failure.
func (w *Wizard) Step(ctx context.Context, userKey, text string, dialog state.DialogState) (WizardOutcome, error) {
	turn := &wizardTurn{
		ctx:     ctx,
		userKey: userKey,
		text:    text,
		now:     w.now(),
		dialog:  dialog.Clone(),
	}
	if turn.dialog.Idle() {
		turn.dialog.Step = StateIdle
	}

	if isLogout(text) {
		if err := w.tokens.SignOut(ctx, userKey); err != nil {
			return WizardOutcome{Dialog: state.DialogState{}}, fmt.Errorf("sign out %s: %w", userKey, err)
		}
		w.logger.Info("[Step] user signed out", zap.String("user", userKey), zap.String("from", turn.dialog.Step))
		return WizardOutcome{
			Replies: []Reply{{Text: MsgSignedOut}},
			Dialog:  state.DialogState{},
		}, nil
	}

	machine := w.newFSM(turn.dialog.Step)
	w.continueStep(turn, machine.Current())

	event := turn.next
	for i := 0; event != "" && turn.err == nil; i++ {
		if i >= maxTransitionsPerTurn {
			turn.fail(fmt.Errorf("wizard did not settle after %d transitions", i))
			break
		}
		from := machine.Current()
		turn.next = ""
		err := machine.Event(ctx, event, turn)
		if err != nil && turn.err == nil {
			if isNoTransitionError(err) {
				w.logger.Warn("[Step] event caused no transition", zap.String("state", from), zap.String("event", event))
			} else {
				turn.fail(fmt.Errorf("wizard %s/%s: %w", from, event, err))
			}
		}
		w.logger.Debug("[Step] transition", zap.String("from", from), zap.String("event", event), zap.String("to", machine.Current()))
		event = turn.next
	}

	if turn.err != nil {
		w.logger.Error("[Step] turn failed, resetting dialog",
			zap.String("user", userKey),
			zap.String("state", machine.Current()),
			zap.Error(turn.err))
		return WizardOutcome{Replies: turn.replies, Dialog: state.DialogState{}}, turn.err
	}

	out := turn.dialog
	if out.Step == StateIdle {
		out = state.DialogState{}
	}
	return WizardOutcome{Replies: turn.replies, Dialog: out}, nil
}

// continueStep handles the message in the state the dialog was waiting in and picks the first event.
func (w *Wizard) continueStep(turn *wizardTurn, current string) {
	switch current {
	case StateIdle:
		turn.next = EventBeginLogin

	case StateLoginPending, StateCommandLoginPending:
		if turn.now.Sub(turn.dialog.PromptStartedAt) > w.loginTimeout {
			w.logger.Info("[continueStep] login prompt timed out", zap.String("user", turn.userKey), zap.String("state", current))
			w.loginFailed(turn, current)
			return
		}
		w.checkToken(turn, current, true)

	case StateAwaitingCommand:
		turn.dialog.Command = turn.text
		turn.next = EventCommandEntered

	case StateAppointmentTitle:
		turn.dialog.Values = setValue(turn.dialog.Values, ValueTitle, turn.text)
		turn.next = EventTitleEntered

	case StateAppointmentStart:
		turn.dialog.Values = setValue(turn.dialog.Values, ValueStartTime, turn.text)
		turn.next = EventStartEntered

	case StateAppointmentEnd:
		turn.dialog.Values = setValue(turn.dialog.Values, ValueEndTime, turn.text)
		w.createAppointment(turn)

	default:
		w.logger.Warn("[continueStep] unknown dialog step, restarting", zap.String("step", current))
		turn.fail(fmt.Errorf("unknown dialog step %q", current))
	}
}

func setValue(values map[string]string, key, value string) map[string]string {
	if values == nil {
		values = make(map[string]string)
	}
	values[key] = value
	return values
}

// enterLoginPrompt begins an OAuth prompt; it completes in the same turn when a token already exists.
func (w *Wizard) enterLoginPrompt(_ context.Context, e *fsm.Event) {
	turn := wizardTurnFromEvent(e)
	if turn == nil {
		w.logger.Error("[enterLoginPrompt] FATAL: missing turn argument")
		return
	}
	turn.dialog.PromptStartedAt = turn.now
	w.checkToken(turn, e.Dst, false)
}

// checkToken resolves a pending prompt, or sends the sign-in card when no token is available yet.
func (w *Wizard) checkToken(turn *wizardTurn, pending string, resend bool) {
	token, err := w.tokens.UserToken(turn.ctx, turn.userKey)
	if err != nil {
		turn.fail(fmt.Errorf("get user token: %w", err))
		return
	}
	if token != nil && token.Token != "" {
		turn.token = token
		if pending == StateLoginPending {
			turn.next = EventLoggedIn
			return
		}
		w.dispatchCommand(turn)
		return
	}

	link, err := w.tokens.SignInLink(turn.ctx, turn.userKey)
	if err != nil {
		turn.fail(fmt.Errorf("get sign-in link: %w", err))
		return
	}
	if resend {
		w.logger.Debug("[checkToken] still waiting for sign-in, re-sending card", zap.String("user", turn.userKey))
	}
	turn.sayWith("", botport.SignInCard{Title: MsgLoginTitle, Text: MsgLoginText, URL: link})
}

func (w *Wizard) loginFailed(turn *wizardTurn, pending string) {
	if pending == StateLoginPending {
		turn.say(MsgLoginFailed)
	} else {
		turn.say(MsgCommandLoginFail)
	}
	turn.next = EventEndDialog
}

func (w *Wizard) enterAwaitingCommand(_ context.Context, e *fsm.Event) {
	turn := wizardTurnFromEvent(e)
	if turn == nil {
		w.logger.Error("[enterAwaitingCommand] FATAL: missing turn argument")
		return
	}
	gateway, err := w.graph.Connect(turn.ctx, turn.token.Token)
	if err != nil {
		turn.fail(fmt.Errorf("connect to graph: %w", err))
		return
	}
	me, err := gateway.GetMe(turn.ctx)
	if err != nil {
		turn.fail(fmt.Errorf("get me: %w", err))
		return
	}
	w.logger.Info("[enterAwaitingCommand] user logged in",
		zap.String("user", turn.userKey),
		zap.String("displayName", me.DisplayName),
		zap.String("email", me.Email()))

	turn.say(fmt.Sprintf(fmtYouAre, me.DisplayName))
	turn.sayWith(MsgCommandPrompt, botport.Choices{Options: append([]string(nil), commandChoices...)})
}

// dispatchCommand runs the stored command with the second token.
func (w *Wizard) dispatchCommand(turn *wizardTurn) {
	command := strings.ToLower(strings.TrimSpace(turn.dialog.Command))

	if strings.HasPrefix(command, CommandSetAppointment) {
		turn.next = EventBeginAppointment
		return
	}

	gateway, err := w.graph.Connect(turn.ctx, turn.token.Token)
	if err != nil {
		turn.fail(fmt.Errorf("connect to graph: %w", err))
		return
	}

	switch {
	case command == CommandMyCalendar:
		events, err := gateway.ListMyEvents(turn.ctx)
		if err != nil {
			turn.fail(fmt.Errorf("list my events: %w", err))
			return
		}
		text, err := renderEventList(MsgMyEventsHeader, events)
		if err != nil {
			turn.fail(err)
			return
		}
		turn.say(text)

	case strings.HasPrefix(command, CommandGroupCalendar):
		events, err := gateway.ListGroupEvents(turn.ctx)
		if err != nil {
			turn.fail(fmt.Errorf("list group events: %w", err))
			return
		}
		text, err := renderEventList(MsgGroupEventsHead, events)
		if err != nil {
			turn.fail(err)
			return
		}
		turn.say(text)

	case strings.HasPrefix(command, CommandCreateGroupCalendar):
		if err := gateway.CreateCalendarGroup(turn.ctx); err != nil {
			turn.fail(fmt.Errorf("create calendar group: %w", err))
			return
		}
		turn.say(fmt.Sprintf(fmtGroupCreated, w.groupName))

	default:
		w.logger.Debug("[dispatchCommand] invalid command", zap.String("command", command))
		turn.say(MsgInvalidCommand)
	}
	turn.next = EventEndDialog
}

func (w *Wizard) enterAppointmentStep(_ context.Context, e *fsm.Event) {
	turn := wizardTurnFromEvent(e)
	if turn == nil {
		w.logger.Error("[enterAppointmentStep] FATAL: missing turn argument")
		return
	}
	switch e.Dst {
	case StateAppointmentTitle:
		turn.say(MsgMeetingTitle)
	case StateAppointmentStart:
		turn.say(MsgStartTime)
	case StateAppointmentEnd:
		turn.say(MsgEndTime)
	}
}

// createAppointment posts the collected values as-is; they are not validated as dates.
func (w *Wizard) createAppointment(turn *wizardTurn) {
	token, err := w.tokens.UserToken(turn.ctx, turn.userKey)
	if err != nil {
		turn.fail(fmt.Errorf("get user token: %w", err))
		return
	}
	if token == nil || token.Token == "" {
		turn.say(MsgCommandLoginFail)
		turn.next = EventEndDialog
		return
	}

	gateway, err := w.graph.Connect(turn.ctx, token.Token)
	if err != nil {
		turn.fail(fmt.Errorf("connect to graph: %w", err))
		return
	}
	values := turn.dialog.Values
	if err := gateway.CreateEvent(turn.ctx, values[ValueTitle], values[ValueStartTime], values[ValueEndTime]); err != nil {
		turn.fail(fmt.Errorf("create event: %w", err))
		return
	}
	w.logger.Info("[createAppointment] event created", zap.String("user", turn.userKey), zap.String("title", values[ValueTitle]))
	turn.say(MsgEventCreated)
	turn.next = EventEndDialog
}

func (w *Wizard) enterIdle(_ context.Context, e *fsm.Event) {
	turn := wizardTurnFromEvent(e)
	if turn == nil {
		return
	}
	turn.dialog = state.DialogState{Step: StateIdle}
}

func isLogout(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), CommandLogout)
}

func isNoTransitionError(err error) bool {
	if err == nil {
		return false
	}
	var noTransitionError fsm.NoTransitionError
	return errors.As(err, &noTransitionError)
}

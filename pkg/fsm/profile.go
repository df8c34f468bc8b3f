package fsm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calendarbot/pkg/fsm/questions"
	"calendarbot/pkg/recognizer"
	"calendarbot/pkg/state"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// slotSpec describes how one profile question is validated, stored and followed up.
type slotSpec struct {
	strategy   string
	empty      string
	confirm    string
	nextPrompt string
	assign     func(*state.UserProfile, string)
}

var profileSlots = map[state.Question]slotSpec{
	state.QuestionSubject: {
		strategy:   questions.TypeText,
		empty:      MsgEmptySubject,
		confirm:    fmtSubjectConfirmed,
		nextPrompt: MsgAskBody,
		assign:     func(p *state.UserProfile, v string) { p.Subject = v },
	},
	state.QuestionBody: {
		strategy:   questions.TypeText,
		empty:      MsgEmptyBody,
		confirm:    fmtBodyConfirmed,
		nextPrompt: MsgAskStart,
		assign:     func(p *state.UserProfile, v string) { p.Body = v },
	},
	state.QuestionStart: {
		strategy:   questions.TypeDateTime,
		confirm:    fmtStartConfirmed,
		nextPrompt: MsgAskEnd,
		assign:     func(p *state.UserProfile, v string) { p.Start = v },
	},
	state.QuestionEnd: {
		strategy:   questions.TypeDateTime,
		confirm:    fmtEndConfirmed,
		nextPrompt: MsgAskLocation,
		assign:     func(p *state.UserProfile, v string) { p.End = v },
	},
	state.QuestionLocation: {
		strategy: questions.TypeText,
		empty:    MsgEmptyLocation,
		confirm:  fmtLocationDone,
		assign:   func(p *state.UserProfile, v string) { p.Location = v },
	},
}

// Outcome is the result of one profile turn. Flow and Profile replace the caller's copies.
type Outcome struct {
	Messages []string
	Flow     state.ConversationFlow
	Profile  state.UserProfile
}

// profileTurn is passed to the callbacks as the first event argument.
type profileTurn struct {
	ctx     context.Context
	input   string
	locale  string
	now     time.Time
	profile state.UserProfile
	out     []string
	err     error
}

var errAnswerRejected = errors.New("answer rejected")

// ProfileMachine collects subject, body, start, end and location, one question per turn.
type ProfileMachine struct {
	recognizer recognizer.DateTimeRecognizer
	now        func() time.Time
	logger     *zap.Logger
}

func NewProfileMachine(rec recognizer.DateTimeRecognizer, now func() time.Time, logger *zap.Logger) *ProfileMachine {
	questions.RegisterBuiltins()
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileMachine{recognizer: rec, now: now, logger: logger}
}

func (m *ProfileMachine) newFSM(current state.Question) *fsm.FSM {
	events := fsm.Events{
		{Name: EventPrompt, Src: []string{string(state.QuestionNone)}, Dst: string(state.QuestionSubject)},
		{Name: EventAnswer, Src: []string{string(state.QuestionSubject)}, Dst: string(state.QuestionBody)},
		{Name: EventAnswer, Src: []string{string(state.QuestionBody)}, Dst: string(state.QuestionStart)},
		{Name: EventAnswer, Src: []string{string(state.QuestionStart)}, Dst: string(state.QuestionEnd)},
		{Name: EventAnswer, Src: []string{string(state.QuestionEnd)}, Dst: string(state.QuestionLocation)},
		{Name: EventAnswer, Src: []string{string(state.QuestionLocation)}, Dst: string(state.QuestionNone)},
	}
	callbacks := fsm.Callbacks{
		"after_" + EventPrompt:  m.afterPrompt,
		"before_" + EventAnswer: m.beforeAnswer,
		"after_" + EventAnswer:  m.afterAnswer,
	}
	return fsm.NewFSM(string(current), events, callbacks)
}

// Advance runs one turn against flow and profile and returns their replacements.
// A rejected answer leaves the cursor where it was and yields exactly one message.
func (m *ProfileMachine) Advance(ctx context.Context, flow state.ConversationFlow, profile state.UserProfile, input, locale string) (Outcome, error) {
	current := flow.Current()
	machine := m.newFSM(current)
	turn := &profileTurn{
		ctx:     ctx,
		input:   input,
		locale:  locale,
		now:     m.now(),
		profile: profile,
	}

	event := EventAnswer
	if current == state.QuestionNone {
		event = EventPrompt
	}

	err := machine.Event(ctx, event, turn)
	if turn.err != nil {
		return Outcome{}, turn.err
	}
	var canceled fsm.CanceledError
	if err != nil && !errors.As(err, &canceled) {
		m.logger.Error("[Advance] unexpected FSM error",
			zap.String("state", string(current)),
			zap.String("event", event),
			zap.Error(err))
		return Outcome{}, fmt.Errorf("profile flow %s/%s: %w", current, event, err)
	}

	next := state.Question(machine.Current())
	m.logger.Debug("[Advance] turn complete",
		zap.String("from", string(current)),
		zap.String("to", string(next)),
		zap.Int("messages", len(turn.out)))

	return Outcome{
		Messages: turn.out,
		Flow:     state.ConversationFlow{LastQuestionAsked: next},
		Profile:  turn.profile,
	}, nil
}

func turnFromEvent(e *fsm.Event) *profileTurn {
	if len(e.Args) == 0 {
		return nil
	}
	turn, _ := e.Args[0].(*profileTurn)
	return turn
}

func (m *ProfileMachine) afterPrompt(_ context.Context, e *fsm.Event) {
	turn := turnFromEvent(e)
	if turn == nil {
		m.logger.Error("[afterPrompt] FATAL: missing turn argument")
		return
	}
	turn.out = append(turn.out, MsgAskSubject)
}

// beforeAnswer validates the input for e.Src and cancels the transition when it is rejected.
func (m *ProfileMachine) beforeAnswer(_ context.Context, e *fsm.Event) {
	turn := turnFromEvent(e)
	if turn == nil {
		m.logger.Error("[beforeAnswer] FATAL: missing turn argument")
		e.Cancel(errors.New("missing turn argument"))
		return
	}
	slot := state.Question(e.Src)
	spec, ok := profileSlots[slot]
	if !ok {
		turn.err = fmt.Errorf("no slot spec for %q", slot)
		e.Cancel(turn.err)
		return
	}
	strategy := questions.Get(spec.strategy)
	if strategy == nil {
		turn.err = fmt.Errorf("no question strategy %q for slot %q", spec.strategy, slot)
		e.Cancel(turn.err)
		return
	}

	result, err := strategy.HandleAnswer(questions.AnswerContext{
		Context:       turn.ctx,
		Slot:          slot,
		Locale:        turn.locale,
		Now:           turn.now,
		Recognizer:    m.recognizer,
		EmptyFeedback: spec.empty,
	}, questions.AnswerInput{Text: turn.input})
	if err != nil {
		turn.err = fmt.Errorf("validate %s: %w", slot, err)
		e.Cancel(turn.err)
		return
	}
	if !result.Advance {
		feedback := result.Feedback
		if feedback == "" {
			feedback = MsgNotUnderstood
		}
		turn.out = append(turn.out, feedback)
		m.logger.Debug("[beforeAnswer] answer rejected", zap.String("slot", string(slot)))
		e.Cancel(errAnswerRejected)
		return
	}

	spec.assign(&turn.profile, result.Value)
	turn.out = append(turn.out, fmt.Sprintf(spec.confirm, result.Value))
	if spec.nextPrompt != "" {
		turn.out = append(turn.out, spec.nextPrompt)
	}
}

// afterAnswer restarts the flow once the last slot is filled.
func (m *ProfileMachine) afterAnswer(_ context.Context, e *fsm.Event) {
	turn := turnFromEvent(e)
	if turn == nil {
		return
	}
	if e.Dst == string(state.QuestionNone) {
		m.logger.Info("[afterAnswer] profile complete, restarting flow",
			zap.String("subject", turn.profile.Subject),
			zap.String("location", turn.profile.Location))
		turn.profile = state.UserProfile{}
	}
}

package fsm

// Profile flow events. Profile flow states are the state.Question values.
const (
	EventPrompt = "prompt"
	EventAnswer = "answer"
)

// Calendar wizard states.
const (
	StateIdle                = "idle"
	StateLoginPending        = "login_pending"
	StateAwaitingCommand     = "awaiting_command"
	StateCommandLoginPending = "command_login_pending"
	StateAppointmentTitle    = "appointment_title"
	StateAppointmentStart    = "appointment_start"
	StateAppointmentEnd      = "appointment_end"
)

// Calendar wizard events.
const (
	EventBeginLogin       = "begin_login"
	EventLoggedIn         = "logged_in"
	EventCommandEntered   = "command_entered"
	EventBeginAppointment = "begin_appointment"
	EventTitleEntered     = "title_entered"
	EventStartEntered     = "start_entered"
	EventEndDialog        = "end_dialog"
)

const (
	CommandMyCalendar          = "mycalendar"
	CommandGroupCalendar       = "groupcalendar"
	CommandSetAppointment      = "setappointment"
	CommandCreateGroupCalendar = "create group calendar"
	CommandLogout              = "logout"
)

const (
	ValueTitle     = "title"
	ValueStartTime = "startTime"
	ValueEndTime   = "endTime"
)

// Profile flow messages.
const (
	MsgAskSubject       = "Please enter event subject"
	MsgEmptySubject     = "Please enter subject of event"
	MsgAskBody          = "Please enter event body"
	MsgEmptyBody        = "Please enter body of event"
	MsgAskStart         = "What time event starts"
	MsgAskEnd           = "What time event ends"
	MsgAskLocation      = "Event Location"
	MsgEmptyLocation    = "Please enter location of event"
	MsgNotUnderstood    = "I'm sorry, I didn't understand that."
	fmtSubjectConfirmed = "Event subject is %s."
	fmtBodyConfirmed    = "Event body consist of %s."
	fmtStartConfirmed   = "Event starts at %s."
	fmtEndConfirmed     = "Event ends at %s."
	fmtLocationDone     = "Event location is %s."
)

// Calendar wizard messages.
const (
	MsgLoginTitle       = "Login"
	MsgLoginText        = "Please login"
	MsgCommandPrompt    = "Would you like to view or create? (type 'mycalendar', or 'groupcalendar', or 'setappointment',or 'create group calendar')"
	MsgLoginFailed      = "Login was not successful please try again."
	MsgCommandLoginFail = "We couldn't log you in. Please try again later."
	MsgInvalidCommand   = "Oops! Thats not a valid entry"
	MsgMyEventsHeader   = "You have the following events: \n"
	MsgGroupEventsHead  = "Your group have the following events: \n"
	MsgMeetingTitle     = "Meeting Title"
	MsgStartTime        = "Start time"
	MsgEndTime          = "End time"
	MsgEventCreated     = "Event created"
	MsgSignedOut        = "You have been signed out."
	MsgTurnError        = "The bot encountered an error or bug."
	fmtGroupCreated     = "%s created \n"
	fmtYouAre           = "You are %s."
)

var commandChoices = []string{CommandMyCalendar, CommandGroupCalendar, CommandSetAppointment, CommandCreateGroupCalendar}

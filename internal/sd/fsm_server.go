package sd

// Server FSM: drives offering of a single (service, instance)
// that this host provides. Modeled as a pure function over a transition
// table: no side effects, no timers owned by the FSM itself — the caller
// supplies events (including timer expiry) and executes the returned
// Actions.
//
// REPETITION needs a bounded repeat counter (r < R_max vs r = R_max), so
// the state carried between calls is a small struct rather than a single
// enum value; the (phase, event) pair selects the transition.

// ServerPhase is the Server FSM's phase.
type ServerPhase uint8

const (
	ServerNotReady ServerPhase = iota
	ServerInitialWait
	ServerRepetition
	ServerMain
)

func (p ServerPhase) String() string {
	switch p {
	case ServerNotReady:
		return "NotReady"
	case ServerInitialWait:
		return "InitialWait"
	case ServerRepetition:
		return "Repetition"
	case ServerMain:
		return "Main"
	default:
		return "Unknown"
	}
}

// ServerEvent is an input to the Server FSM.
type ServerEvent uint8

const (
	// ServerEventReady fires when the network is up and the application
	// has offered the service (spec: "network up & service ready").
	ServerEventReady ServerEvent = iota
	// ServerEventWithdrawn fires when the application stops offering the
	// service, from any phase.
	ServerEventWithdrawn
	// ServerEventInitialTimerExpired fires when T0 elapses.
	ServerEventInitialTimerExpired
	// ServerEventRepetitionTimerExpired fires when a T1_r elapses; the
	// FSM compares ServerState.Repetition with rMax to decide between
	// another repetition and MAIN.
	ServerEventRepetitionTimerExpired
	// ServerEventCyclicTimerExpired fires on the periodic MAIN-phase
	// offer timer.
	ServerEventCyclicTimerExpired
	// ServerEventFindServiceReceived fires when a FindService entry for
	// this (service, instance) is received.
	ServerEventFindServiceReceived
)

// ServerAction is a side effect the caller must execute after a
// transition.
type ServerAction uint8

const (
	ServerActionScheduleInitialTimer ServerAction = iota + 1
	ServerActionScheduleRepetitionTimer
	ServerActionScheduleCyclicTimer
	ServerActionSendOfferMulticast
	ServerActionSendOfferUnicast
	ServerActionSendStopOffer
)

func (a ServerAction) String() string {
	switch a {
	case ServerActionScheduleInitialTimer:
		return "ScheduleInitialTimer"
	case ServerActionScheduleRepetitionTimer:
		return "ScheduleRepetitionTimer"
	case ServerActionScheduleCyclicTimer:
		return "ScheduleCyclicTimer"
	case ServerActionSendOfferMulticast:
		return "SendOfferMulticast"
	case ServerActionSendOfferUnicast:
		return "SendOfferUnicast"
	case ServerActionSendStopOffer:
		return "SendStopOffer"
	default:
		return "Unknown"
	}
}

// ServerState is the Server FSM's full state between events.
type ServerState struct {
	Phase      ServerPhase
	Repetition int // number of REPETITION-phase offers sent so far
}

// ServerResult is the outcome of applying an event to the Server FSM.
type ServerResult struct {
	Old     ServerState
	New     ServerState
	Actions []ServerAction
}

// ApplyServerEvent advances the Server FSM. rMax is the configured
// repetition count (spec: "R_max"); it is consulted only on
// ServerEventRepetitionTimerExpired to decide REPETITION vs MAIN.
func ApplyServerEvent(state ServerState, event ServerEvent, rMax int) ServerResult {
	res := ServerResult{Old: state, New: state}

	switch event {
	case ServerEventWithdrawn:
		if state.Phase == ServerNotReady {
			return res
		}
		res.New = ServerState{Phase: ServerNotReady}
		res.Actions = []ServerAction{ServerActionSendStopOffer}

	case ServerEventReady:
		if state.Phase != ServerNotReady {
			return res
		}
		res.New = ServerState{Phase: ServerInitialWait}
		res.Actions = []ServerAction{ServerActionScheduleInitialTimer}

	case ServerEventInitialTimerExpired:
		if state.Phase != ServerInitialWait {
			return res
		}
		if rMax <= 0 {
			res.New = ServerState{Phase: ServerMain}
			res.Actions = []ServerAction{ServerActionSendOfferMulticast, ServerActionScheduleCyclicTimer}
			return res
		}
		res.New = ServerState{Phase: ServerRepetition, Repetition: 1}
		res.Actions = []ServerAction{ServerActionSendOfferMulticast, ServerActionScheduleRepetitionTimer}

	case ServerEventRepetitionTimerExpired:
		if state.Phase != ServerRepetition {
			return res
		}
		if state.Repetition >= rMax {
			res.New = ServerState{Phase: ServerMain}
			res.Actions = []ServerAction{ServerActionSendOfferMulticast, ServerActionScheduleCyclicTimer}
			return res
		}
		res.New = ServerState{Phase: ServerRepetition, Repetition: state.Repetition + 1}
		res.Actions = []ServerAction{ServerActionSendOfferMulticast, ServerActionScheduleRepetitionTimer}

	case ServerEventCyclicTimerExpired:
		if state.Phase != ServerMain {
			return res
		}
		res.Actions = []ServerAction{ServerActionSendOfferMulticast, ServerActionScheduleCyclicTimer}

	case ServerEventFindServiceReceived:
		switch state.Phase {
		case ServerInitialWait, ServerRepetition:
			res.Actions = []ServerAction{ServerActionSendOfferUnicast}
		case ServerMain:
			// Caller decides multicast-vs-unicast based on time since
			// last multicast offer; it always calls back
			// with at least a unicast reply available as an option.
			res.Actions = []ServerAction{ServerActionSendOfferUnicast}
		}
	}

	return res
}

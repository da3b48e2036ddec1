package sd

// Client FSM: drives finding of a single (service, instance)
// that this host wants to consume. Same pure-function-over-transition
// shape as the Server FSM in fsm_server.go.

// ClientPhase is the Client FSM's phase.
type ClientPhase uint8

const (
	ClientInitialWait ClientPhase = iota
	ClientSearching
	ClientSeenNotRequested
	ClientSeenRequested
)

func (p ClientPhase) String() string {
	switch p {
	case ClientInitialWait:
		return "InitialWait"
	case ClientSearching:
		return "Searching"
	case ClientSeenNotRequested:
		return "SeenNotRequested"
	case ClientSeenRequested:
		return "SeenRequested"
	default:
		return "Unknown"
	}
}

// ClientEvent is an input to the Client FSM.
type ClientEvent uint8

const (
	// ClientEventRequested fires when a local application requests the
	// service.
	ClientEventRequested ClientEvent = iota
	// ClientEventReleased fires when the last requester releases it.
	ClientEventReleased
	// ClientEventFindTimerExpired fires when the FindService repetition
	// delay elapses with no answer; the FSM compares ClientState.Attempt
	// with rMax (one transmission on entry to Searching, then up to rMax
	// repetitions).
	ClientEventFindTimerExpired
	// ClientEventOfferReceived fires when an OfferService entry for this
	// (service, instance) arrives.
	ClientEventOfferReceived
	// ClientEventOfferWithdrawn fires on StopOffer or TTL expiry.
	ClientEventOfferWithdrawn
)

// ClientAction is a side effect the caller must execute after a
// transition.
type ClientAction uint8

const (
	ClientActionSendFindService ClientAction = iota + 1
	ClientActionScheduleFindTimer
	ClientActionNotifyAvailable
	ClientActionNotifyUnavailable
)

func (a ClientAction) String() string {
	switch a {
	case ClientActionSendFindService:
		return "SendFindService"
	case ClientActionScheduleFindTimer:
		return "ScheduleFindTimer"
	case ClientActionNotifyAvailable:
		return "NotifyAvailable"
	case ClientActionNotifyUnavailable:
		return "NotifyUnavailable"
	default:
		return "Unknown"
	}
}

// ClientState is the Client FSM's full state between events.
type ClientState struct {
	Phase     ClientPhase
	Attempt   int  // FindService transmissions sent so far in Searching
	Requested bool // whether a local application currently wants the service
}

// ClientResult is the outcome of applying an event to the Client FSM.
type ClientResult struct {
	Old     ClientState
	New     ClientState
	Actions []ClientAction
}

// ApplyClientEvent advances the Client FSM. rMax bounds FindService
// repetitions (spec: "up to R_max repetitions with doubling delays").
func ApplyClientEvent(state ClientState, event ClientEvent, rMax int) ClientResult {
	res := ClientResult{Old: state, New: state}

	switch event {
	case ClientEventRequested:
		res.New.Requested = true
		switch state.Phase {
		case ClientInitialWait:
			res.New.Phase = ClientSearching
			res.New.Attempt = 1
			res.Actions = []ClientAction{ClientActionSendFindService, ClientActionScheduleFindTimer}
		case ClientSeenNotRequested:
			res.New.Phase = ClientSeenRequested
			res.Actions = []ClientAction{ClientActionNotifyAvailable}
		}

	case ClientEventReleased:
		res.New.Requested = false
		if state.Phase == ClientSeenRequested {
			res.New.Phase = ClientSeenNotRequested
		}

	case ClientEventFindTimerExpired:
		if state.Phase != ClientSearching {
			return res
		}
		if state.Attempt > rMax {
			// Passive until an OFFER arrives or a new request restarts
			// the search.
			res.New.Attempt = state.Attempt
			return res
		}
		res.New.Attempt = state.Attempt + 1
		res.Actions = []ClientAction{ClientActionSendFindService, ClientActionScheduleFindTimer}

	case ClientEventOfferReceived:
		switch state.Phase {
		case ClientInitialWait, ClientSearching:
			if state.Requested {
				res.New.Phase = ClientSeenRequested
				res.Actions = []ClientAction{ClientActionNotifyAvailable}
			} else {
				res.New.Phase = ClientSeenNotRequested
			}
		case ClientSeenNotRequested, ClientSeenRequested:
			// Refreshing offer while already seen: no phase change.
		}

	case ClientEventOfferWithdrawn:
		switch state.Phase {
		case ClientSeenRequested:
			res.New.Phase = ClientSearching
			res.New.Attempt = 1
			res.Actions = []ClientAction{ClientActionNotifyUnavailable, ClientActionSendFindService, ClientActionScheduleFindTimer}
		case ClientSeenNotRequested:
			res.New.Phase = ClientInitialWait
		}
	}

	return res
}

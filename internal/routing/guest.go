package routing

import (
	"fmt"

	"github.com/someip-go/routingd/internal/someip"
)

// GuestState is the state of a guest's connection to the routing host.
type GuestState uint8

const (
	GuestDisconnected GuestState = iota
	GuestConnecting
	GuestAssigned
)

func (s GuestState) String() string {
	switch s {
	case GuestDisconnected:
		return "Disconnected"
	case GuestConnecting:
		return "Connecting"
	case GuestAssigned:
		return "Assigned"
	default:
		return "Unknown"
	}
}

// GuestEvent is an input to the guest connection FSM.
type GuestEvent uint8

const (
	GuestEventDial GuestEvent = iota
	GuestEventHello
	GuestEventHangup
	GuestEventShutdown
)

func (e GuestEvent) String() string {
	switch e {
	case GuestEventDial:
		return "Dial"
	case GuestEventHello:
		return "Hello"
	case GuestEventHangup:
		return "Hangup"
	case GuestEventShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// transitionGuestState applies event to state and reports the resulting
// state:
//
//	DISCONNECTED --dial--> CONNECTING --hello--> ASSIGNED
//	    ^                       |                   |
//	    |---------- hangup/error --------- ------ shutdown
func transitionGuestState(state GuestState, event GuestEvent) (GuestState, error) {
	switch state {
	case GuestDisconnected:
		if event == GuestEventDial {
			return GuestConnecting, nil
		}
	case GuestConnecting:
		switch event {
		case GuestEventHello:
			return GuestAssigned, nil
		case GuestEventHangup:
			return GuestDisconnected, nil
		}
	case GuestAssigned:
		switch event {
		case GuestEventHangup, GuestEventShutdown:
			return GuestDisconnected, nil
		}
	}
	return state, fmt.Errorf("routing: invalid guest transition %s on %s", event, state)
}

// GuestChannel is the host-to-guest send direction of a local-IPC
// connection. Implementations live in internal/ipc.
type GuestChannel interface {
	// DeliverCommand writes one IPC command to the guest. id identifies
	// the command (ROUTING_INFO, SEND_MESSAGE, PING, ...); payload is
	// the command-specific body.
	DeliverCommand(id uint8, payload []byte) error
}

// Guest is the host's bookkeeping record for one connected application.
type Guest struct {
	Client  someip.ClientID
	PID     int32
	UID     uint32
	GID     uint32
	Channel GuestChannel

	state GuestState
}

// State returns the guest's current connection state.
func (g *Guest) State() GuestState {
	return g.state
}

package sd_test

import (
	"testing"

	"github.com/someip-go/routingd/internal/sd"
)

func TestClientFindServiceThenOffer(t *testing.T) {
	t.Parallel()

	const rMax = 3
	state := sd.ClientState{Phase: sd.ClientInitialWait}

	res := sd.ApplyClientEvent(state, sd.ClientEventRequested, rMax)
	if res.New.Phase != sd.ClientSearching {
		t.Fatalf("phase = %v, want Searching", res.New.Phase)
	}
	if len(res.Actions) != 2 || res.Actions[0] != sd.ClientActionSendFindService {
		t.Fatalf("actions = %v", res.Actions)
	}
	state = res.New

	res = sd.ApplyClientEvent(state, sd.ClientEventOfferReceived, rMax)
	if res.New.Phase != sd.ClientSeenRequested {
		t.Fatalf("phase = %v, want SeenRequested", res.New.Phase)
	}
	if len(res.Actions) != 1 || res.Actions[0] != sd.ClientActionNotifyAvailable {
		t.Fatalf("actions = %v, want NotifyAvailable", res.Actions)
	}
}

func TestClientFindServiceStopsAfterRMax(t *testing.T) {
	t.Parallel()

	const rMax = 2
	state := sd.ClientState{Phase: sd.ClientSearching, Attempt: 1, Requested: true}

	res := sd.ApplyClientEvent(state, sd.ClientEventFindTimerExpired, rMax)
	if res.New.Attempt != 2 || len(res.Actions) == 0 {
		t.Fatalf("attempt 1->2 should retransmit, got %+v actions=%v", res.New, res.Actions)
	}

	res = sd.ApplyClientEvent(res.New, sd.ClientEventFindTimerExpired, rMax)
	if res.New.Attempt != 3 || len(res.Actions) == 0 {
		t.Fatalf("attempt 2->3 is repetition R_max and should retransmit, got %+v actions=%v", res.New, res.Actions)
	}

	res = sd.ApplyClientEvent(res.New, sd.ClientEventFindTimerExpired, rMax)
	if len(res.Actions) != 0 {
		t.Fatalf("actions after R_max reached = %v, want none (passive)", res.Actions)
	}
	if res.New.Phase != sd.ClientSearching {
		t.Fatalf("phase = %v, want still Searching (passive)", res.New.Phase)
	}
}

func TestClientOfferWithdrawnWhileSubscribedGoesBackToSearching(t *testing.T) {
	t.Parallel()

	state := sd.ClientState{Phase: sd.ClientSeenRequested, Requested: true}
	res := sd.ApplyClientEvent(state, sd.ClientEventOfferWithdrawn, 3)
	if res.New.Phase != sd.ClientSearching {
		t.Fatalf("phase = %v, want Searching", res.New.Phase)
	}
	foundUnavailable := false
	for _, a := range res.Actions {
		if a == sd.ClientActionNotifyUnavailable {
			foundUnavailable = true
		}
	}
	if !foundUnavailable {
		t.Fatalf("actions = %v, want NotifyUnavailable", res.Actions)
	}
}

package policy_test

import (
	"log/slog"
	"testing"

	"github.com/someip-go/routingd/internal/policy"
	"github.com/someip-go/routingd/internal/routing"
	"github.com/someip-go/routingd/internal/someip"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestEngineOffModeAllowsEverythingWithNoRules(t *testing.T) {
	t.Parallel()

	e := policy.NewEngine(testLogger(), policy.ModeOff)
	if !e.Allow(1, 1, 0x1234, 0x0001, 0x0001, routing.DirectionSend) {
		t.Error("ModeOff with no rules should allow")
	}
}

func TestEngineEnforcedDeniesWithNoRules(t *testing.T) {
	t.Parallel()

	e := policy.NewEngine(testLogger(), policy.ModeEnforced)
	if e.Allow(1, 1, 0x1234, 0x0001, 0x0001, routing.DirectionSend) {
		t.Error("ModeEnforced with no rules should deny")
	}
}

func TestEngineGrantWithinRange(t *testing.T) {
	t.Parallel()

	e := policy.NewEngine(testLogger(), policy.ModeEnforced)
	e.SetRules([]policy.Rule{
		{
			UID: 1000, GID: policy.AnyID,
			Grants: []policy.Grant{
				{Service: policy.Range{Min: 0x1000, Max: 0x1FFF}, Instance: policy.AnyRange, Method: policy.Range{Min: 0, Max: 0x7FFF}},
			},
		},
	})

	if !e.Allow(1000, 2000, 0x1234, 0x0001, 0x0010, routing.DirectionSend) {
		t.Error("expected allow: uid matches, service/method in range")
	}
	if e.Allow(1000, 2000, 0x1234, 0x0001, 0x9000, routing.DirectionSend) {
		t.Error("expected deny: method above granted range")
	}
	if e.Allow(1000, 2000, 0x2000, 0x0001, 0x0010, routing.DirectionSend) {
		t.Error("expected deny: service outside granted range")
	}
	if e.Allow(2000, 2000, 0x1234, 0x0001, 0x0010, routing.DirectionSend) {
		t.Error("expected deny: uid does not match the rule")
	}
}

func TestEngineWildcardUIDMatchesAnyUID(t *testing.T) {
	t.Parallel()

	e := policy.NewEngine(testLogger(), policy.ModeEnforced)
	e.SetRules([]policy.Rule{
		{
			UID: policy.AnyID, GID: 500,
			Grants: []policy.Grant{{Service: policy.AnyRange, Instance: policy.AnyRange, Method: policy.AnyRange}},
		},
	})

	if !e.Allow(42, 500, 0x1234, 0, 0, routing.DirectionOffer) {
		t.Error("expected allow: gid matches, uid irrelevant under the wildcard rule")
	}
	if e.Allow(42, 501, 0x1234, 0, 0, routing.DirectionOffer) {
		t.Error("expected deny: gid does not match")
	}
}

func TestEngineEventgroupSubscription(t *testing.T) {
	t.Parallel()

	e := policy.NewEngine(testLogger(), policy.ModeEnforced)
	e.SetRules([]policy.Rule{
		{UID: 7, GID: 7, Eventgroups: []someip.EventgroupID{0x0005}},
	})

	if !e.Allow(7, 7, 0x1234, 0x0001, someip.MethodID(0x0005), routing.DirectionSubscribe) {
		t.Error("expected allow: eventgroup 0x0005 is granted")
	}
	if e.Allow(7, 7, 0x1234, 0x0001, someip.MethodID(0x0006), routing.DirectionSubscribe) {
		t.Error("expected deny: eventgroup 0x0006 is not granted")
	}
	// A service/instance/method grant does not imply subscribe rights.
	e.SetRules([]policy.Rule{
		{UID: 7, GID: 7, Grants: []policy.Grant{{Service: policy.AnyRange, Instance: policy.AnyRange, Method: policy.AnyRange}}},
	})
	if e.Allow(7, 7, 0x1234, 0x0001, someip.MethodID(0x0005), routing.DirectionSubscribe) {
		t.Error("a send/offer/request grant must not authorize subscriptions")
	}
}

// TestEngineMonotonicity exercises Testable property 7: revoking a
// previously granted (uid, service, method) must deny the very next
// Allow call for that tuple.
func TestEngineMonotonicity(t *testing.T) {
	t.Parallel()

	e := policy.NewEngine(testLogger(), policy.ModeEnforced)
	rule := policy.Rule{
		UID: 9, GID: 9,
		Grants: []policy.Grant{{Service: policy.Range{Min: 0x1234, Max: 0x1234}, Instance: policy.AnyRange, Method: policy.Range{Min: 0x0001, Max: 0x0001}}},
	}
	e.SetRules([]policy.Rule{rule})

	if !e.Allow(9, 9, 0x1234, 0x0001, 0x0001, routing.DirectionSend) {
		t.Fatal("expected allow before revocation")
	}

	e.SetRules(nil)

	if e.Allow(9, 9, 0x1234, 0x0001, 0x0001, routing.DirectionSend) {
		t.Error("expected deny immediately after the grant is revoked")
	}
}

func TestEngineAuditModeLogsButAllows(t *testing.T) {
	t.Parallel()

	e := policy.NewEngine(testLogger(), policy.ModeAudit)
	if !e.Allow(1, 1, 0x1234, 0, 0, routing.DirectionSend) {
		t.Error("ModeAudit must allow even when no rule grants the request")
	}
}

func TestModeStringAndParse(t *testing.T) {
	t.Parallel()

	cases := map[string]policy.Mode{
		"enforced": policy.ModeEnforced,
		"audit":    policy.ModeAudit,
		"off":      policy.ModeOff,
		"bogus":    policy.ModeEnforced,
	}
	for s, want := range cases {
		if got := policy.ParseMode(s); got != want {
			t.Errorf("ParseMode(%q) = %v, want %v", s, got, want)
		}
	}
	if policy.ModeEnforced.String() != "enforced" || policy.ModeAudit.String() != "audit" || policy.ModeOff.String() != "off" {
		t.Error("Mode.String() mismatch")
	}
}

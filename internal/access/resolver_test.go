package access_test

import (
	"reflect"
	"testing"

	"github.com/basket/clawgate/internal/access"
)

func TestEffectiveDMAllowlist_PairingMergesStore(t *testing.T) {
	got := access.EffectiveDMAllowlist(
		[]string{"trusted-user"},
		[]string{"attacker"},
		access.DMPairing,
	)
	want := []string{"trusted-user", "attacker"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("pairing policy must merge store entries: got %v want %v", got, want)
	}
}

func TestEffectiveDMAllowlist_AllowlistIgnoresStore(t *testing.T) {
	got := access.EffectiveDMAllowlist(
		[]string{"trusted-user"},
		[]string{"attacker"},
		access.DMAllowlist,
	)
	want := []string{"trusted-user"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("allowlist policy must not merge store entries: got %v want %v", got, want)
	}
}

func TestEffectiveGroupAllowlist_NeverContainsStoreEntries(t *testing.T) {
	got := access.EffectiveGroupAllowlist(nil, []string{"trusted-user"}, true)
	want := []string{"trusted-user"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("group fallback must use configured entries only: got %v want %v", got, want)
	}

	// Fallback disabled: empty group list stays empty.
	if got := access.EffectiveGroupAllowlist(nil, []string{"trusted-user"}, false); len(got) != 0 {
		t.Fatalf("without fallback the group list must stay empty, got %v", got)
	}

	// A non-empty group list suppresses the fallback.
	got = access.EffectiveGroupAllowlist([]string{"ops"}, []string{"trusted-user"}, true)
	want = []string{"ops"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("non-empty group list must win: got %v want %v", got, want)
	}
}

func TestEffective_Idempotent(t *testing.T) {
	base := []string{"alice", "bob", "carol"}
	doubled := append(append([]string{}, base...), base...)
	a := access.EffectiveDMAllowlist(base, nil, access.DMAllowlist)
	b := access.EffectiveDMAllowlist(doubled, nil, access.DMAllowlist)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("effective(list ++ list) must equal effective(list): %v vs %v", a, b)
	}
}

func TestEffective_FirstSeenOrderAndBlanks(t *testing.T) {
	got := access.EffectiveDMAllowlist(
		[]string{"  bob ", "", "alice", "bob", "   "},
		[]string{"alice", "dave"},
		access.DMPairing,
	)
	want := []string{"bob", "alice", "dave"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestResolve_DMPolicies(t *testing.T) {
	tests := []struct {
		name     string
		policy   access.DMPolicy
		sender   string
		decision access.Decision
	}{
		{"open allows anyone", access.DMOpen, "stranger", access.Allow},
		{"disabled blocks everyone", access.DMDisabled, "alice", access.Block},
		{"allowlist allows listed", access.DMAllowlist, "alice", access.Allow},
		{"allowlist blocks unlisted", access.DMAllowlist, "stranger", access.Block},
		{"pairing allows listed", access.DMPairing, "alice", access.Allow},
		{"pairing offers handshake to unlisted", access.DMPairing, "stranger", access.Pairing},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := access.Resolve(access.Input{
				DMPolicy:  tc.policy,
				AllowFrom: []string{"alice"},
				Matches:   access.ExactSender(tc.sender),
			})
			if res.Decision != tc.decision {
				t.Fatalf("got %s (%s), want %s", res.Decision, res.Reason, tc.decision)
			}
			if res.Reason == "" {
				t.Fatalf("every decision must carry a reason")
			}
		})
	}
}

func TestResolve_PairingStoreMember(t *testing.T) {
	res := access.Resolve(access.Input{
		DMPolicy:       access.DMPairing,
		AllowFrom:      []string{"alice"},
		StoreAllowFrom: []string{"paired-user"},
		Matches:        access.ExactSender("paired-user"),
	})
	if res.Decision != access.Allow {
		t.Fatalf("paired sender must be allowed under pairing policy, got %s (%s)", res.Decision, res.Reason)
	}
}

func TestResolve_GroupPolicies(t *testing.T) {
	tests := []struct {
		name     string
		input    access.Input
		decision access.Decision
	}{
		{
			name:     "open default allows",
			input:    access.Input{Group: true, Matches: access.ExactSender("anyone")},
			decision: access.Allow,
		},
		{
			name: "disabled always blocks",
			input: access.Input{
				Group:          true,
				GroupPolicy:    access.GroupDisabled,
				GroupAllowFrom: []string{"alice"},
				Matches:        access.ExactSender("alice"),
			},
			decision: access.Block,
		},
		{
			name: "allowlist blocks on empty list",
			input: access.Input{
				Group:       true,
				GroupPolicy: access.GroupAllowlist,
				Matches:     access.ExactSender("alice"),
			},
			decision: access.Block,
		},
		{
			name: "allowlist blocks unlisted sender",
			input: access.Input{
				Group:          true,
				GroupPolicy:    access.GroupAllowlist,
				GroupAllowFrom: []string{"alice"},
				Matches:        access.ExactSender("mallory"),
			},
			decision: access.Block,
		},
		{
			name: "allowlist allows listed sender",
			input: access.Input{
				Group:          true,
				GroupPolicy:    access.GroupAllowlist,
				GroupAllowFrom: []string{"alice"},
				Matches:        access.ExactSender("alice"),
			},
			decision: access.Allow,
		},
		{
			name: "allowlist with dm fallback",
			input: access.Input{
				Group:              true,
				GroupPolicy:        access.GroupAllowlist,
				AllowFrom:          []string{"alice"},
				AllowFromForGroups: true,
				Matches:            access.ExactSender("alice"),
			},
			decision: access.Allow,
		},
		{
			name: "store entries never reach groups",
			input: access.Input{
				Group:              true,
				GroupPolicy:        access.GroupAllowlist,
				AllowFrom:          []string{"alice"},
				StoreAllowFrom:     []string{"attacker"},
				AllowFromForGroups: true,
				Matches:            access.ExactSender("attacker"),
			},
			decision: access.Block,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := access.Resolve(tc.input)
			if res.Decision != tc.decision {
				t.Fatalf("got %s (%s), want %s", res.Decision, res.Reason, tc.decision)
			}
		})
	}
}

func TestResolve_WildcardEntry(t *testing.T) {
	res := access.Resolve(access.Input{
		DMPolicy:  access.DMAllowlist,
		AllowFrom: []string{"*"},
		Matches:   access.ExactSender("whoever"),
	})
	if res.Decision != access.Allow {
		t.Fatalf("wildcard entry must allow any sender, got %s", res.Decision)
	}
}

func TestResolve_ResultCarriesEffectiveLists(t *testing.T) {
	res := access.Resolve(access.Input{
		DMPolicy:       access.DMPairing,
		AllowFrom:      []string{"trusted-user"},
		StoreAllowFrom: []string{"attacker"},
		Matches:        access.ExactSender("trusted-user"),
	})
	if !reflect.DeepEqual(res.DMAllowlist, []string{"trusted-user", "attacker"}) {
		t.Fatalf("dm allowlist mismatch: %v", res.DMAllowlist)
	}
	if len(res.GroupAllowlist) != 0 {
		t.Fatalf("group allowlist must not inherit store entries: %v", res.GroupAllowlist)
	}
}

func TestResolve_NilMatcherBlocks(t *testing.T) {
	res := access.Resolve(access.Input{
		DMPolicy:  access.DMAllowlist,
		AllowFrom: []string{"alice"},
	})
	if res.Decision != access.Block {
		t.Fatalf("nil matcher must never allow, got %s", res.Decision)
	}
}

package approval_test

import (
	"strings"
	"testing"

	"github.com/basket/clawgate/internal/approval"
)

func baseRequest() approval.Request {
	return approval.Request{
		Host:       approval.HostGateway,
		Command:    "git status --short",
		Argv:       []string{"git", "status", "--short"},
		Cwd:        "/srv/repo",
		AgentID:    "main",
		SessionKey: "telegram:42",
		Env:        map[string]string{"GIT_PAGER": "cat"},
	}
}

func TestMatch_IdenticalRequestMatches(t *testing.T) {
	req := baseRequest()
	b := approval.NewBinding(req)
	res := approval.Match(req, b)
	if !res.OK {
		t.Fatalf("identical request must match, got %+v", res)
	}
}

func TestMatch_SingleFieldFlipsFailTheMatch(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*approval.Request)
		reason approval.Reason
		field  string
	}{
		{
			name:   "argv token changed",
			mutate: func(r *approval.Request) { r.Argv = []string{"git", "push", "--short"} },
			reason: approval.ReasonRequestMismatch,
			field:  "argv",
		},
		{
			name:   "argv token appended",
			mutate: func(r *approval.Request) { r.Argv = append(r.Argv, "--force") },
			reason: approval.ReasonRequestMismatch,
			field:  "argv",
		},
		{
			name:   "cwd character changed",
			mutate: func(r *approval.Request) { r.Cwd = "/srv/repp" },
			reason: approval.ReasonRequestMismatch,
			field:  "cwd",
		},
		{
			name:   "cwd dropped",
			mutate: func(r *approval.Request) { r.Cwd = "" },
			reason: approval.ReasonRequestMismatch,
			field:  "cwd",
		},
		{
			name:   "agent substituted",
			mutate: func(r *approval.Request) { r.AgentID = "other" },
			reason: approval.ReasonRequestMismatch,
			field:  "agentId",
		},
		{
			name:   "session substituted",
			mutate: func(r *approval.Request) { r.SessionKey = "telegram:43" },
			reason: approval.ReasonRequestMismatch,
			field:  "sessionKey",
		},
		{
			name:   "env value changed",
			mutate: func(r *approval.Request) { r.Env = map[string]string{"GIT_PAGER": "less"} },
			reason: approval.ReasonEnvMismatch,
			field:  "envHash",
		},
		{
			name:   "env dropped",
			mutate: func(r *approval.Request) { r.Env = nil },
			reason: approval.ReasonEnvMismatch,
			field:  "envHash",
		},
		{
			name:   "host substituted",
			mutate: func(r *approval.Request) { r.Host = approval.HostNode },
			reason: approval.ReasonRequestMismatch,
			field:  "host",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := approval.NewBinding(baseRequest())
			req := baseRequest()
			tc.mutate(&req)
			res := approval.Match(req, b)
			if res.OK {
				t.Fatalf("mutated request must not match")
			}
			if res.Reason != tc.reason || res.Field != tc.field {
				t.Fatalf("got reason=%s field=%s, want reason=%s field=%s",
					res.Reason, res.Field, tc.reason, tc.field)
			}
		})
	}
}

func TestMatch_LegacyJoinedCommand(t *testing.T) {
	issue := baseRequest()
	issue.Env = nil
	b := approval.NewBinding(issue)

	live := approval.Request{
		Host:       approval.HostGateway,
		Command:    "  git status --short  ",
		Cwd:        "/srv/repo",
		AgentID:    "main",
		SessionKey: "telegram:42",
	}
	if res := approval.Match(live, b); !res.OK {
		t.Fatalf("joined command must match after trimming, got %+v", res)
	}

	live.Command = "git status --long"
	res := approval.Match(live, b)
	if res.OK || res.Field != "command" {
		t.Fatalf("changed command text must fail on command, got %+v", res)
	}
}

func TestMatch_VersionedIsAuthoritative(t *testing.T) {
	issue := baseRequest()
	issue.Env = nil
	b := approval.NewBinding(issue)

	// Legacy fields disagree wildly, but the echoed binding matches.
	echoed := b
	live := approval.Request{
		Host:    approval.HostGateway,
		Command: "rm -rf /",
		Argv:    []string{"rm", "-rf", "/"},
		Binding: &echoed,
	}
	if res := approval.Match(live, b); !res.OK {
		t.Fatalf("versioned match must win over legacy mismatch, got %+v", res)
	}

	// Legacy fields agree, but the echoed binding differs.
	bad := b
	bad.Argv = []string{"git", "push"}
	live = baseRequest()
	live.Env = nil
	live.Binding = &bad
	res := approval.Match(live, b)
	if res.OK || res.Field != "argv" {
		t.Fatalf("versioned mismatch must fail despite legacy match, got %+v", res)
	}
}

func TestMatch_VersionTagMismatchFails(t *testing.T) {
	issue := baseRequest()
	issue.Env = nil
	b := approval.NewBinding(issue)

	stale := b
	stale.Version = approval.BindingVersion + 1
	live := issue
	live.Binding = &stale
	res := approval.Match(live, b)
	if res.OK || res.Field != "version" {
		t.Fatalf("version tag mismatch must fail on version, got %+v", res)
	}
}

func TestMatch_EnvBindingMissing(t *testing.T) {
	issue := baseRequest()
	issue.Env = nil
	b := approval.NewBinding(issue)

	live := baseRequest() // carries env overrides the approval never saw
	res := approval.Match(live, b)
	if res.OK || res.Reason != approval.ReasonEnvBindingMissing {
		t.Fatalf("injected overrides must fail with binding-missing, got %+v", res)
	}
}

func TestMatch_EnvHashByteFlip(t *testing.T) {
	b := approval.NewBinding(baseRequest())

	echoed := b
	flipped := []byte(echoed.EnvHash)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}
	echoed.EnvHash = string(flipped)

	live := baseRequest()
	live.Binding = &echoed
	res := approval.Match(live, b)
	if res.OK || res.Reason != approval.ReasonEnvMismatch {
		t.Fatalf("hash byte flip must fail with env mismatch, got %+v", res)
	}
}

func TestHashEnv_OrderIndependent(t *testing.T) {
	a := approval.HashEnv(map[string]string{"A": "1", "B": "2", "C": "3"})
	b := approval.HashEnv(map[string]string{"C": "3", "A": "1", "B": "2"})
	if a == "" || a != b {
		t.Fatalf("hash must be order independent: %q vs %q", a, b)
	}
	c := approval.HashEnv(map[string]string{"A": "1", "B": "2", "C": "4"})
	if c == a {
		t.Fatalf("differing sets must hash differently")
	}
}

func TestHashEnv_FiltersInvalidNames(t *testing.T) {
	if got := approval.HashEnv(map[string]string{"1BAD": "x", "ALSO-BAD": "y"}); got != "" {
		t.Fatalf("only invalid names must yield absent hash, got %q", got)
	}
	withJunk := approval.HashEnv(map[string]string{"GOOD": "x", "1BAD": "y"})
	clean := approval.HashEnv(map[string]string{"GOOD": "x"})
	if withJunk != clean {
		t.Fatalf("invalid names must not perturb the hash")
	}
}

func TestHashEnv_EmptyAbsent(t *testing.T) {
	if got := approval.HashEnv(nil); got != "" {
		t.Fatalf("nil env must yield absent hash, got %q", got)
	}
}

func TestNewBinding_Normalizes(t *testing.T) {
	b := approval.NewBinding(approval.Request{
		Host:       approval.HostGateway,
		Argv:       []string{"ls", "-la"},
		Cwd:        "  /tmp  ",
		AgentID:    "   ",
		SessionKey: " dm:7 ",
	})
	if b.Command != "ls -la" {
		t.Fatalf("command must be joined from argv, got %q", b.Command)
	}
	if b.Cwd != "/tmp" || b.AgentID != "" || b.SessionKey != "dm:7" {
		t.Fatalf("fields must be trimmed with empty as absent: %+v", b)
	}
	if b.Version != approval.BindingVersion {
		t.Fatalf("binding must carry the current version")
	}
	if b.EnvHash != "" {
		t.Fatalf("no overrides means no env hash")
	}
}

func TestRegistry_PutConsume(t *testing.T) {
	reg := approval.NewRegistry()
	b := approval.NewBinding(baseRequest())
	id := reg.Put(b)
	if id == "" || strings.TrimSpace(id) != id {
		t.Fatalf("approval id must be a non-empty token, got %q", id)
	}

	got, ok := reg.Get(id)
	if !ok || got.Command != b.Command {
		t.Fatalf("Get must return the stored binding")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected one pending binding, got %d", reg.Len())
	}

	if _, ok := reg.Consume(id); !ok {
		t.Fatalf("Consume must return the binding once")
	}
	if _, ok := reg.Consume(id); ok {
		t.Fatalf("Consume must not return a binding twice")
	}
	if reg.Len() != 0 {
		t.Fatalf("registry must be empty after consume")
	}
}

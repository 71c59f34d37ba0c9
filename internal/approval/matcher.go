package approval

import "strings"

// Reason is a deterministic code for why a live request failed to match
// its approval. Codes are stable strings suitable for audit events.
type Reason string

const (
	ReasonRequestMismatch   Reason = "APPROVAL_REQUEST_MISMATCH"
	ReasonEnvBindingMissing Reason = "APPROVAL_ENV_BINDING_MISSING"
	ReasonEnvMismatch       Reason = "APPROVAL_ENV_MISMATCH"
)

// Result is the outcome of matching a live request against a binding.
// Field names the first comparison that failed; it never carries raw
// values, so results are safe to log as-is.
type Result struct {
	OK     bool
	Reason Reason
	Field  string
}

func fail(reason Reason, field string) Result {
	return Result{Reason: reason, Field: field}
}

var matched = Result{OK: true}

// Match reports whether a live execution request is exactly the command a
// human approved. It is a pure predicate: no side effects, safe to call
// concurrently.
//
// When the live request echoes a versioned binding, that protocol is
// authoritative: a versioned mismatch fails the match even if the legacy
// fields agree, and a versioned match succeeds even if they differ.
// Without one, the legacy fields are compared directly.
func Match(req Request, approved Binding) Result {
	if req.Host != approved.Host {
		return fail(ReasonRequestMismatch, "host")
	}
	if req.Binding != nil {
		return matchVersioned(req.Binding.normalized(), approved)
	}
	return matchLegacy(req, approved)
}

func matchVersioned(live, approved Binding) Result {
	if live.Version != BindingVersion || approved.Version != BindingVersion {
		return fail(ReasonRequestMismatch, "version")
	}
	if !argvEqual(live.Argv, approved.Argv) {
		return fail(ReasonRequestMismatch, "argv")
	}
	if live.Cwd != approved.Cwd {
		return fail(ReasonRequestMismatch, "cwd")
	}
	if live.AgentID != approved.AgentID {
		return fail(ReasonRequestMismatch, "agentId")
	}
	if live.SessionKey != approved.SessionKey {
		return fail(ReasonRequestMismatch, "sessionKey")
	}
	return matchEnvHash(approved.EnvHash, live.EnvHash)
}

func matchLegacy(req Request, approved Binding) Result {
	if req.Argv != nil {
		if !argvEqual(req.Argv, approved.Argv) {
			return fail(ReasonRequestMismatch, "argv")
		}
	} else if strings.TrimSpace(req.Command) != approved.Command {
		return fail(ReasonRequestMismatch, "command")
	}
	if strings.TrimSpace(req.Cwd) != approved.Cwd {
		return fail(ReasonRequestMismatch, "cwd")
	}
	if strings.TrimSpace(req.AgentID) != approved.AgentID {
		return fail(ReasonRequestMismatch, "agentId")
	}
	if strings.TrimSpace(req.SessionKey) != approved.SessionKey {
		return fail(ReasonRequestMismatch, "sessionKey")
	}
	return matchEnvHash(approved.EnvHash, HashEnv(req.Env))
}

// matchEnvHash applies the shared environment-hash rule. An approval that
// never considered overrides must not be reusable to inject them, hence
// the distinct missing-binding code.
func matchEnvHash(approvedHash, liveHash string) Result {
	switch {
	case approvedHash == "" && liveHash == "":
		return matched
	case approvedHash == "":
		return fail(ReasonEnvBindingMissing, "envHash")
	case approvedHash != liveHash:
		return fail(ReasonEnvMismatch, "envHash")
	default:
		return matched
	}
}

func argvEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

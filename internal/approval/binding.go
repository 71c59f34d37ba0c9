// Package approval binds a human approval to the exact command it
// authorizes and re-checks that binding when the execution is retried.
// A reused approval id must never authorize a different command, cwd,
// environment, or target session than the one the human saw.
package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

// BindingVersion is the current binding schema version. Versioned matching
// rejects any binding carrying a different version.
const BindingVersion = 1

// HostType identifies where an approved command executes. Approvals are
// host-scoped: a binding issued for one host type never matches a request
// targeting another.
type HostType string

const (
	HostGateway HostType = "gateway"
	HostNode    HostType = "node"
)

// Binding is the immutable record of what one pending approval authorizes.
// All optional fields use the empty string as the absence sentinel; raw
// environment override values are never stored, only their hash.
type Binding struct {
	Version    int      `json:"version"`
	Host       HostType `json:"host"`
	Command    string   `json:"command"`
	Argv       []string `json:"argv"`
	Cwd        string   `json:"cwd,omitempty"`
	AgentID    string   `json:"agentId,omitempty"`
	SessionKey string   `json:"sessionKey,omitempty"`
	EnvHash    string   `json:"envHash,omitempty"`
}

// Request is a command-execution request: either the live retry being
// checked against a stored binding, or the shape a binding is constructed
// from at approval-issue time.
type Request struct {
	Host       HostType
	Command    string
	Argv       []string // nil when only the joined command text is known
	Cwd        string
	AgentID    string
	SessionKey string

	// Env holds raw environment overrides. Only a hash of the valid
	// entries ever leaves this struct.
	Env map[string]string

	// Binding is the versioned binding echoed back by the live request.
	// When present it is authoritative over the legacy fields above.
	Binding *Binding
}

// envNamePattern matches syntactically valid environment variable names.
// Overrides with invalid names are ignored rather than hashed, so junk
// keys cannot perturb the binding.
var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewBinding constructs the binding recorded when a command is queued for
// approval. Fields are normalized here, at the boundary, so every later
// comparison is exact.
func NewBinding(req Request) Binding {
	argv := make([]string, len(req.Argv))
	copy(argv, req.Argv)

	command := strings.TrimSpace(req.Command)
	if command == "" && len(argv) > 0 {
		command = strings.Join(argv, " ")
	}

	return Binding{
		Version:    BindingVersion,
		Host:       req.Host,
		Command:    command,
		Argv:       argv,
		Cwd:        strings.TrimSpace(req.Cwd),
		AgentID:    strings.TrimSpace(req.AgentID),
		SessionKey: strings.TrimSpace(req.SessionKey),
		EnvHash:    HashEnv(req.Env),
	}
}

// HashEnv returns a stable digest of the given environment overrides, or
// "" when no valid overrides are present. Keys are filtered to valid
// variable names and sorted, so the digest is independent of input order
// and safe to persist in audit trails in place of the raw values.
func HashEnv(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		if envNamePattern.MatchString(k) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(env[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// normalized returns a copy of b with the same normalization applied as
// NewBinding. Live requests echo bindings off the wire, which may carry
// padding the stored side never had.
func (b Binding) normalized() Binding {
	argv := make([]string, len(b.Argv))
	copy(argv, b.Argv)
	b.Argv = argv
	b.Command = strings.TrimSpace(b.Command)
	b.Cwd = strings.TrimSpace(b.Cwd)
	b.AgentID = strings.TrimSpace(b.AgentID)
	b.SessionKey = strings.TrimSpace(b.SessionKey)
	return b
}

// Package access decides whether a sender may reach the agent at all.
// The resolver is a total, pure function over (context, configuration,
// pairing snapshot) and is identical across every chat surface: denial is
// a frequent first-class return value, never an error.
package access

import (
	"context"
	"strings"
)

// DMPolicy governs direct messages from senders not otherwise listed.
type DMPolicy string

const (
	DMOpen      DMPolicy = "open"
	DMPairing   DMPolicy = "pairing"
	DMAllowlist DMPolicy = "allowlist"
	DMDisabled  DMPolicy = "disabled"
)

// GroupPolicy governs group messages. The empty value is the open default.
type GroupPolicy string

const (
	GroupOpen      GroupPolicy = ""
	GroupAllowlist GroupPolicy = "allowlist"
	GroupDisabled  GroupPolicy = "disabled"
)

// Decision tags the outcome of an access check.
type Decision string

const (
	Allow Decision = "allow"
	Block Decision = "block"
	// Pairing signals that an out-of-band pairing handshake should be
	// offered to the sender; the handshake itself is owned elsewhere.
	Pairing Decision = "pairing"
)

// SenderMatcher reports whether the sender matches one allowlist entry.
// Sender-id normalization is channel-specific, so the predicate is
// supplied by the caller.
type SenderMatcher func(entry string) bool

// Snapshotter fetches the current pairing-store entries for a channel.
// Implementations live outside this package; tests substitute fakes.
type Snapshotter interface {
	AllowFrom(ctx context.Context, channel string) ([]string, error)
}

// Input carries everything one access decision depends on. Effective
// allowlists are derived from it per request, never stored.
type Input struct {
	Group bool

	DMPolicy    DMPolicy
	GroupPolicy GroupPolicy

	// AllowFrom is the configured DM allow-from list.
	AllowFrom []string
	// GroupAllowFrom is the configured group allow-from list.
	GroupAllowFrom []string
	// AllowFromForGroups lets an empty group list fall back to the
	// configured DM allow-from entries. Pairing-store entries never
	// enter the group allowlist either way.
	AllowFromForGroups bool

	// StoreAllowFrom is the pairing-store snapshot. Callers must degrade
	// a failed fetch to nil rather than refusing the message.
	StoreAllowFrom []string

	Matches SenderMatcher
}

// Result is the access decision plus the derived lists, so a diagnostic
// surface reporting "who can reach this bot" can never disagree with the
// decision itself.
type Result struct {
	Decision Decision
	Reason   string

	DMAllowlist    []string
	GroupAllowlist []string
}

// Resolve computes the access decision for one inbound message.
func Resolve(in Input) Result {
	dmList := EffectiveDMAllowlist(in.AllowFrom, in.StoreAllowFrom, in.DMPolicy)
	groupList := EffectiveGroupAllowlist(in.GroupAllowFrom, in.AllowFrom, in.AllowFromForGroups)

	res := Result{DMAllowlist: dmList, GroupAllowlist: groupList}

	if in.Group {
		switch in.GroupPolicy {
		case GroupDisabled:
			res.Decision, res.Reason = Block, "group policy disabled"
		case GroupAllowlist:
			switch {
			case len(groupList) == 0:
				res.Decision, res.Reason = Block, "group allowlist empty"
			case !matchesAny(in.Matches, groupList):
				res.Decision, res.Reason = Block, "sender not in group allowlist"
			default:
				res.Decision, res.Reason = Allow, "sender in group allowlist"
			}
		default:
			res.Decision, res.Reason = Allow, "group policy open"
		}
		return res
	}

	switch in.DMPolicy {
	case DMDisabled:
		res.Decision, res.Reason = Block, "dm policy disabled"
	case DMOpen:
		res.Decision, res.Reason = Allow, "dm policy open"
	default:
		if matchesAny(in.Matches, dmList) {
			res.Decision, res.Reason = Allow, "sender in dm allowlist"
		} else if in.DMPolicy == DMPairing {
			res.Decision, res.Reason = Pairing, "sender not paired"
		} else {
			res.Decision, res.Reason = Block, "sender not in dm allowlist"
		}
	}
	return res
}

// EffectiveDMAllowlist derives the DM allowlist: the configured entries,
// plus the pairing-store snapshot only under the pairing policy. Stable
// under reordering and duplication of inputs; first-seen order preserved;
// blanks dropped after trimming.
func EffectiveDMAllowlist(allowFrom, storeAllowFrom []string, policy DMPolicy) []string {
	if policy == DMPairing {
		return normalize(allowFrom, storeAllowFrom)
	}
	return normalize(allowFrom)
}

// EffectiveGroupAllowlist derives the group allowlist from the configured
// group entries, falling back to the configured DM entries only when
// fallback is enabled and the group list is empty.
func EffectiveGroupAllowlist(groupAllowFrom, allowFrom []string, fallback bool) []string {
	list := normalize(groupAllowFrom)
	if len(list) == 0 && fallback {
		return normalize(allowFrom)
	}
	return list
}

// normalize trims entries, drops blanks, and dedupes preserving the
// first-seen order across all input lists.
func normalize(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, entry := range list {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			if _, dup := seen[entry]; dup {
				continue
			}
			seen[entry] = struct{}{}
			out = append(out, entry)
		}
	}
	return out
}

func matchesAny(matches SenderMatcher, entries []string) bool {
	if matches == nil {
		return false
	}
	for _, entry := range entries {
		if matches(entry) {
			return true
		}
	}
	return false
}

// ExactSender returns a matcher comparing the normalized sender id
// against each entry, with "*" accepted as a wildcard entry. Channels
// with richer id schemes supply their own matcher instead.
func ExactSender(senderID string) SenderMatcher {
	senderID = strings.TrimSpace(senderID)
	return func(entry string) bool {
		return entry == "*" || (senderID != "" && entry == senderID)
	}
}

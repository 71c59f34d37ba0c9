// Package gateway wires the trust core together: every inbound message
// passes dedup, then access resolution, then session touch, in that
// order. Channel adapters hand messages in and act on the verdict; they
// never talk to the stores directly.
package gateway

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/clawgate/internal/access"
	"github.com/basket/clawgate/internal/approval"
	"github.com/basket/clawgate/internal/audit"
	"github.com/basket/clawgate/internal/bus"
	"github.com/basket/clawgate/internal/config"
	"github.com/basket/clawgate/internal/dedup"
	clawotel "github.com/basket/clawgate/internal/otel"
	"github.com/basket/clawgate/internal/sessions"
	"github.com/basket/clawgate/internal/shared"
)

// Verdict is the pipeline's instruction to the channel adapter.
type Verdict string

const (
	VerdictAllow     Verdict = "allow"
	VerdictBlock     Verdict = "block"
	VerdictPairing   Verdict = "pairing"
	VerdictDuplicate Verdict = "duplicate"
)

// Message is one inbound platform message, already normalized by the
// channel adapter.
type Message struct {
	Channel   string
	MessageID string
	Sender    string
	Group     bool
	// SessionKey identifies the conversation for session-store purposes.
	SessionKey string
	Text       string
}

// Result is the pipeline outcome for one message.
type Result struct {
	Verdict Verdict
	Reason  string
	// PairingCode is set when the verdict is pairing and a code issuer
	// is attached; the adapter sends it to the user.
	PairingCode string
}

// CodeIssuer issues pairing codes for senders offered the pairing
// handshake. The sqlite pairing store implements it.
type CodeIssuer interface {
	IssueCode(ctx context.Context, channel, sender string, ttl time.Duration) (string, error)
}

// Pipeline owns the per-message trust flow and approval resolution.
type Pipeline struct {
	cfg      config.Config
	dedup    *dedup.Cache
	store    *sessions.Store
	snapshot access.Snapshotter
	codes    CodeIssuer
	pending  *approval.Registry
	events   *bus.Bus
	logger   *slog.Logger
	metrics  *clawotel.Metrics
}

type Option func(*Pipeline)

// WithCodeIssuer attaches a pairing-code issuer.
func WithCodeIssuer(c CodeIssuer) Option {
	return func(p *Pipeline) { p.codes = c }
}

// WithMetrics attaches metric instruments.
func WithMetrics(m *clawotel.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func New(cfg config.Config, cache *dedup.Cache, store *sessions.Store, snap access.Snapshotter, events *bus.Bus, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		cfg:      cfg,
		dedup:    cache,
		store:    store,
		snapshot: snap,
		pending:  approval.NewRegistry(),
		events:   events,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Pending exposes the approval registry so adapters can stage bindings
// when the agent proposes a privileged command.
func (p *Pipeline) Pending() *approval.Registry {
	return p.pending
}

// Reconfigure swaps the access configuration, typically on config reload.
func (p *Pipeline) Reconfigure(cfg config.Config) {
	p.cfg = cfg
	p.logger.Info("pipeline reconfigured", "fingerprint", cfg.Fingerprint())
}

// HandleInbound runs one message through dedup, access resolution, and
// session touch. Errors are reserved for store failures; denial is a
// normal Result.
func (p *Pipeline) HandleInbound(ctx context.Context, msg Message) (Result, error) {
	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	ctx = shared.WithChannel(ctx, msg.Channel)
	log := p.logger.With("channel", msg.Channel, "sender", msg.Sender, "trace_id", shared.TraceID(ctx))

	if p.metrics != nil {
		p.metrics.MessagesInbound.Add(ctx, 1, metric.WithAttributes(clawotel.AttrChannel.String(msg.Channel)))
	}

	if p.dedup != nil && msg.MessageID != "" {
		if !p.dedup.TryRecord(msg.Channel, msg.MessageID) {
			log.Debug("duplicate delivery dropped", "message_id", msg.MessageID)
			if p.metrics != nil {
				p.metrics.DuplicatesDropped.Add(ctx, 1, metric.WithAttributes(clawotel.AttrChannel.String(msg.Channel)))
			}
			if p.events != nil {
				p.events.Publish(bus.TopicMessageDuplicate, bus.DuplicateEvent{
					Channel:   msg.Channel,
					MessageID: msg.MessageID,
				})
			}
			audit.Record(audit.Event{
				Kind:     "message.duplicate",
				Channel:  msg.Channel,
				Sender:   msg.Sender,
				Decision: "drop",
				Detail:   msg.MessageID,
			})
			return Result{Verdict: VerdictDuplicate, Reason: "duplicate delivery"}, nil
		}
	}

	res := p.resolveAccess(ctx, msg, log)
	p.publishAccess(ctx, msg, res)

	switch res.Decision {
	case access.Block:
		log.Info("sender blocked", "reason", res.Reason)
		return Result{Verdict: VerdictBlock, Reason: res.Reason}, nil
	case access.Pairing:
		out := Result{Verdict: VerdictPairing, Reason: res.Reason}
		if p.codes != nil {
			code, err := p.codes.IssueCode(ctx, msg.Channel, msg.Sender, time.Hour)
			if err != nil {
				log.Warn("pairing code issue failed", "error", err)
			} else {
				out.PairingCode = code
			}
		}
		log.Info("pairing offered", "reason", res.Reason)
		return out, nil
	}

	if p.store != nil && msg.SessionKey != "" {
		if err := p.touchSession(msg); err != nil {
			return Result{}, err
		}
	}
	return Result{Verdict: VerdictAllow, Reason: res.Reason}, nil
}

// resolveAccess builds the resolver input from the layered channel
// config and the pairing snapshot. A failed snapshot fetch degrades to
// no store entries; it never blocks the message by itself.
func (p *Pipeline) resolveAccess(ctx context.Context, msg Message, log *slog.Logger) access.Result {
	acc := p.cfg.ChannelAccess(msg.Channel)

	var storeList []string
	if p.snapshot != nil {
		list, err := p.snapshot.AllowFrom(ctx, msg.Channel)
		if err != nil {
			log.Warn("pairing snapshot unavailable", "error", err)
		} else {
			storeList = list
		}
	}

	fallback := acc.AllowFromForGroups != nil && *acc.AllowFromForGroups
	return access.Resolve(access.Input{
		Group:              msg.Group,
		DMPolicy:           access.DMPolicy(acc.DMPolicy),
		GroupPolicy:        access.GroupPolicy(acc.GroupPolicy),
		AllowFrom:          acc.AllowFrom,
		GroupAllowFrom:     acc.GroupAllowFrom,
		AllowFromForGroups: fallback,
		StoreAllowFrom:     storeList,
		Matches:            access.ExactSender(msg.Sender),
	})
}

func (p *Pipeline) publishAccess(ctx context.Context, msg Message, res access.Result) {
	if p.metrics != nil {
		p.metrics.AccessDecisions.Add(ctx, 1, metric.WithAttributes(
			clawotel.AttrChannel.String(msg.Channel),
			clawotel.AttrDecision.String(string(res.Decision)),
		))
	}
	if p.events != nil {
		topic := bus.TopicAccessAllowed
		switch res.Decision {
		case access.Block:
			topic = bus.TopicAccessBlocked
		case access.Pairing:
			topic = bus.TopicAccessPairing
		}
		p.events.Publish(topic, bus.AccessEvent{
			Channel:  msg.Channel,
			Sender:   msg.Sender,
			Group:    msg.Group,
			Decision: string(res.Decision),
			Reason:   res.Reason,
		})
	}
	if res.Decision == access.Block {
		audit.Record(audit.Event{
			Kind:     "access.blocked",
			Channel:  msg.Channel,
			Sender:   msg.Sender,
			Decision: "deny",
			Reason:   res.Reason,
		})
	}
}

func (p *Pipeline) touchSession(msg Message) error {
	now := time.Now()
	_, err := p.store.Mutate(func(entries map[string]sessions.Entry) {
		entry, ok := entries[msg.SessionKey]
		if !ok {
			entry = sessions.Entry{SessionID: msg.SessionKey}
		}
		entry.Touch(now)
		entries[msg.SessionKey] = entry
	})
	return err
}

// StageApproval registers a proposed privileged command and returns the
// approval id the operator will later resolve.
func (p *Pipeline) StageApproval(b approval.Binding) string {
	return p.pending.Put(b)
}

// ResolveApproval checks the live request against the pending binding
// and consumes the approval only on a successful match, so a mismatched
// retry can be corrected and retried against the same approval. A
// missing id and a mismatch both deny; only the mismatch is audited as
// a trust event.
func (p *Pipeline) ResolveApproval(ctx context.Context, approvalID string, live approval.Request) approval.Result {
	approved, ok := p.pending.Get(approvalID)
	if !ok {
		p.logger.Warn("unknown approval id", "approval_id", approvalID)
		return approval.Result{OK: false, Reason: approval.ReasonRequestMismatch, Field: "approvalId"}
	}

	res := approval.Match(live, approved)
	if res.OK {
		// Consume decides the winner when resolutions race: only the
		// caller that removes the binding is granted.
		if _, won := p.pending.Consume(approvalID); !won {
			p.logger.Warn("approval already resolved", "approval_id", approvalID)
			return approval.Result{OK: false, Reason: approval.ReasonRequestMismatch, Field: "approvalId"}
		}
		if p.events != nil {
			p.events.Publish(bus.TopicApprovalGranted, bus.ApprovalEvent{
				ApprovalID: approvalID,
				Granted:    true,
			})
		}
		return res
	}

	p.logger.Warn("approval denied",
		"approval_id", approvalID,
		"reason", string(res.Reason),
		"field", res.Field,
	)
	if p.metrics != nil {
		p.metrics.ApprovalMismatches.Add(ctx, 1, metric.WithAttributes(
			clawotel.AttrReason.String(string(res.Reason)),
			attribute.String("field", res.Field),
		))
	}
	if p.events != nil {
		p.events.Publish(bus.TopicApprovalDenied, bus.ApprovalEvent{
			ApprovalID: approvalID,
			Granted:    false,
			Reason:     string(res.Reason),
			Field:      res.Field,
		})
	}
	audit.Record(audit.Event{
		Kind:     "approval.denied",
		Decision: "deny",
		Reason:   string(res.Reason),
		Detail:   res.Field,
	})
	return res
}

package bus

// Access decision topics.
const (
	TopicAccessBlocked = "access.blocked"
	TopicAccessAllowed = "access.allowed"
	TopicAccessPairing = "access.pairing"
)

// Delivery and approval topics.
const (
	TopicMessageDuplicate    = "message.duplicate"
	TopicApprovalDenied      = "approval.denied"
	TopicApprovalGranted     = "approval.granted"
	TopicSessionsMaintenance = "sessions.maintenance"
)

// AccessEvent is published for every access decision on an inbound message.
type AccessEvent struct {
	Channel  string // Channel the message arrived on
	Sender   string // Normalized sender id
	Group    bool   // Group context vs direct message
	Decision string // "allow", "block", or "pairing"
	Reason   string // Resolver reason for the decision
}

// DuplicateEvent is published when the dedup cache drops a redelivery.
type DuplicateEvent struct {
	Channel   string // Partition the duplicate was seen on
	MessageID string // Platform message id
}

// ApprovalEvent is published when a pending approval is resolved.
type ApprovalEvent struct {
	ApprovalID string // Registry id of the pending approval
	Granted    bool   // Whether execution may proceed
	Reason     string // Mismatch reason code when denied
	Field      string // First mismatching field when denied
}

// MaintenanceEvent is published after a session store sweep.
type MaintenanceEvent struct {
	Pruned  int    // Entries removed by age
	Capped  int    // Entries removed by the size cap
	Rotated bool   // Whether a backup rotation ran
	Backup  string // Backup path when rotated
}

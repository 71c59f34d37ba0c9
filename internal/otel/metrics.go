package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the clawgate metric instruments.
type Metrics struct {
	MessagesInbound     metric.Int64Counter
	DuplicatesDropped   metric.Int64Counter
	AccessDecisions     metric.Int64Counter
	ApprovalMismatches  metric.Int64Counter
	SessionsPruned      metric.Int64Counter
	StoreRotations      metric.Int64Counter
	MaintenanceDuration metric.Float64Histogram
	SessionSaveDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.MessagesInbound, err = meter.Int64Counter("clawgate.messages.inbound",
		metric.WithDescription("Inbound messages before dedup and access checks"),
	)
	if err != nil {
		return nil, err
	}

	m.DuplicatesDropped, err = meter.Int64Counter("clawgate.messages.duplicates",
		metric.WithDescription("Messages suppressed by the delivery dedup cache"),
	)
	if err != nil {
		return nil, err
	}

	m.AccessDecisions, err = meter.Int64Counter("clawgate.access.decisions",
		metric.WithDescription("Access decisions by outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.ApprovalMismatches, err = meter.Int64Counter("clawgate.approval.mismatches",
		metric.WithDescription("Approval retries denied by the binding matcher"),
	)
	if err != nil {
		return nil, err
	}

	m.SessionsPruned, err = meter.Int64Counter("clawgate.sessions.pruned",
		metric.WithDescription("Session entries removed by maintenance"),
	)
	if err != nil {
		return nil, err
	}

	m.StoreRotations, err = meter.Int64Counter("clawgate.sessions.rotations",
		metric.WithDescription("Session store rotations with backup"),
	)
	if err != nil {
		return nil, err
	}

	m.MaintenanceDuration, err = meter.Float64Histogram("clawgate.maintenance.duration",
		metric.WithDescription("Session store maintenance pass duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.SessionSaveDuration, err = meter.Float64Histogram("clawgate.sessions.save.duration",
		metric.WithDescription("Session store persisted-write duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

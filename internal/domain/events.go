package domain

import (
	"context"
	"time"
)

// EventType enumerates the events the core emits at the observability
// boundary. Rendering is external; the core only publishes.
type EventType string

const (
	EventOpportunityDetected EventType = "opportunity_detected"
	EventOpportunityDropped  EventType = "opportunity_dropped"
	EventRiskApproved        EventType = "risk_approved"
	EventRiskDenied          EventType = "risk_denied"
	EventExecutionComplete   EventType = "execution_complete"
	EventExecutionUnwound    EventType = "execution_unwound"
	EventUnwindFailed        EventType = "unwind_failed"
	EventFeedResync          EventType = "feed_resync"
	EventRelationRefresh     EventType = "relation_refresh"
)

// Event is one observability record.
type Event struct {
	Type    EventType         `json:"type"`
	Ticker  string            `json:"ticker,omitempty"`
	PairKey string            `json:"pair_key,omitempty"`
	Detail  map[string]string `json:"detail,omitempty"`
	At      time.Time         `json:"at"`
}

// EventSink receives core events for external metrics/alerting/dashboards.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

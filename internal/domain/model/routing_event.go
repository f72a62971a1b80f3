package model

import "encoding/json"

// RoutingEvent is the unit consumed from the durable chat event log.
// Payload stays opaque: the engine routes it, it never interprets it.
type RoutingEvent struct {
	EventID   string          `json:"event_id"`
	ChannelID ChannelID       `json:"channel_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Sequence  uint64          `json:"sequence"`

	// OccurredAt is the producer-side unix-milli timestamp, used only as a
	// consumer-lag proxy. Zero when the producer does not set it.
	OccurredAt int64 `json:"occurred_at,omitempty"`
}

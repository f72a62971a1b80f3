package model

import "github.com/google/uuid"

type MembershipChange string

const (
	MemberJoined MembershipChange = "joined"
	MemberLeft   MembershipChange = "left"
)

// MembershipEvent is one entry of the metadata change log.
// Sequence is monotonic per (user, channel) and gates stale updates.
type MembershipEvent struct {
	Type      MembershipChange `json:"type"`
	ChannelID ChannelID        `json:"channel_id"`
	UserID    uuid.UUID        `json:"user_id"`
	Sequence  uint64           `json:"sequence"`
}

package model

import "github.com/google/uuid"

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// PresenceUpdate is one transition of the TTL-backed liveness key space.
// An online update doubles as a heartbeat renewal: the sweeper treats its
// arrival time as the user's last-seen mark.
type PresenceUpdate struct {
	UserID     uuid.UUID      `json:"user_id"`
	Status     PresenceStatus `json:"status"`
	InstanceID InstanceID     `json:"instance_id"`
	Sequence   uint64         `json:"sequence"`
}

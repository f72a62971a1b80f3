package model

// ChannelID is the opaque identifier of a group conversation.
// The engine attaches no semantics to it beyond hashing and equality.
type ChannelID string

// InstanceID identifies one delivery-edge process. Instances are ephemeral:
// they join and leave the fleet at any time, and each one owns exactly one
// inbox address derived from this ID.
type InstanceID string

func (c ChannelID) String() string  { return string(c) }
func (i InstanceID) String() string { return string(i) }

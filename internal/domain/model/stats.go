package model

import "time"

// IndexStats is the snapshot exposed on /stats and consumed by the
// operator dashboard. Per-shard breakdown is optional on the wire.
type IndexStats struct {
	Channels int           `json:"channels"`
	Users    int           `json:"users"`
	Entries  int           `json:"entries"` // total (channel, instance, user) triples
	Uptime   time.Duration `json:"uptime"`
	Shards   []ShardStats  `json:"shards,omitempty"`
}

type ShardStats struct {
	ShardID  int `json:"shard_id"`
	Channels int `json:"channels"`
	Entries  int `json:"entries"`
}

// OutboxStats describes the instance publisher side of the snapshot.
type OutboxStats struct {
	Instances int    `json:"instances"`
	Pending   int    `json:"pending"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

// EngineStats is the full /stats document.
type EngineStats struct {
	Index  IndexStats  `json:"index"`
	Outbox OutboxStats `json:"outbox"`
}

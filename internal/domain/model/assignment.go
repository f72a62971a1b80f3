package model

// PartitionAssignment is the versioned registry record that drives the
// extreme-scale sharded mode. Externally owned; workers only ever apply a
// version strictly greater than the one they already hold.
type PartitionAssignment struct {
	Version        uint64              `json:"version"`
	PartitionCount int                 `json:"partition_count"`
	Assignments    map[string][]uint32 `json:"assignments"` // worker ID -> owned partitions
}

// PartitionsOf returns the partitions owned by the given worker, nil when the
// worker is absent from the assignment.
func (a *PartitionAssignment) PartitionsOf(workerID string) []uint32 {
	if a == nil {
		return nil
	}
	return a.Assignments[workerID]
}

// Package scheduler decides when the fleet captures a snapshot. The duration
// variant is driven by a 1 Hz clock, the distance variant by distance updates.
// Both advance their next trigger strictly forward, so repeated or overlapping
// inputs never fire twice for the same threshold.
package scheduler

// Commander issues the snapshot command to every device and reports how many
// writes were issued.
type Commander interface {
	SnapshotAll() int
}

// Gate reports whether snapshots may fire: the run must be in the running
// state and the training dataset must still be collecting.
type Gate interface {
	Running() bool
	Active() bool
}

// Firing describes one issued snapshot.
type Firing struct {
	Ordinal int     // 1-based
	At      float64 // elapsed seconds or meters at which it fired
	Writes  int
}

// OnFire is invoked synchronously for every issued snapshot.
type OnFire func(Firing)

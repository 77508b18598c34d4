package scheduler

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// DistanceScheduler fires Sets snapshots evenly spread over TargetMeters.
type DistanceScheduler struct {
	mu     sync.Mutex
	sets   int
	target float64
	armed  bool
	fired  int

	commander Commander
	gate      Gate
	onFire    OnFire
	logger    *logrus.Logger
}

// NewDistanceScheduler creates a disarmed scheduler. Call Reset to arm it.
func NewDistanceScheduler(sets int, targetMeters float64, commander Commander, gate Gate, logger *logrus.Logger) *DistanceScheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &DistanceScheduler{
		sets:      sets,
		target:    targetMeters,
		commander: commander,
		gate:      gate,
		logger:    logger,
	}
}

// OnFire registers a callback for issued snapshots.
func (d *DistanceScheduler) OnFire(fn OnFire) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFire = fn
}

// Configure replaces the set count and target and re-arms.
func (d *DistanceScheduler) Configure(sets int, targetMeters float64) {
	d.mu.Lock()
	d.sets = sets
	d.target = targetMeters
	d.mu.Unlock()
	d.Reset()
}

// Reset arms the scheduler with the first trigger one interval in.
func (d *DistanceScheduler) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.fired = 0
	d.armed = d.sets > 0 && d.target > 0
}

// threshold returns the distance of the k-th trigger. Computing it from the
// ordinal keeps the last intermediate threshold strictly below the target.
func (d *DistanceScheduler) threshold(k int) float64 {
	return d.target * float64(k) / float64(d.sets)
}

// Next returns the distance of the pending trigger.
func (d *DistanceScheduler) Next() (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.armed {
		return 0, false
	}
	return d.threshold(d.fired + 1), true
}

// Disarm stops further snapshots until the next Reset.
func (d *DistanceScheduler) Disarm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = false
}

// Armed reports whether a trigger is pending.
func (d *DistanceScheduler) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// Fired returns the number of snapshots issued since Reset.
func (d *DistanceScheduler) Fired() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired
}

// Update evaluates the schedule at current meters. Every intermediate
// threshold passed since the last update fires; reaching the target fires the
// final snapshot exactly once and disarms. It returns the snapshots issued.
func (d *DistanceScheduler) Update(current float64) int {
	d.mu.Lock()
	if !d.armed {
		d.mu.Unlock()
		return 0
	}
	if d.gate != nil && (!d.gate.Running() || !d.gate.Active()) {
		d.mu.Unlock()
		return 0
	}

	var firings []Firing
	for d.fired+1 < d.sets && current >= d.threshold(d.fired+1) {
		d.fired++
		firings = append(firings, Firing{Ordinal: d.fired, At: d.threshold(d.fired)})
	}
	if current >= d.target {
		d.fired++
		firings = append(firings, Firing{Ordinal: d.fired, At: d.target})
		d.armed = false
	}
	onFire := d.onFire
	d.mu.Unlock()

	for _, f := range firings {
		if d.commander != nil {
			f.Writes = d.commander.SnapshotAll()
		}
		d.logger.WithFields(logrus.Fields{
			"snapshot": f.Ordinal,
			"distance": current,
			"devices":  f.Writes,
		}).Info("Snapshot triggered")
		if onFire != nil {
			onFire(f)
		}
	}
	return len(firings)
}

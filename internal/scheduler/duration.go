package scheduler

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// CountdownTier buckets the time left until the next snapshot for display:
// far within 30s, near within 10s, imminent within 3s.
type CountdownTier int

const (
	CountdownNone CountdownTier = iota
	CountdownFar
	CountdownNear
	CountdownImminent
)

func (c CountdownTier) String() string {
	switch c {
	case CountdownFar:
		return "far"
	case CountdownNear:
		return "near"
	case CountdownImminent:
		return "imminent"
	default:
		return "none"
	}
}

// DurationScheduler fires Sets snapshots evenly spread over TargetSeconds.
type DurationScheduler struct {
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

// NewDurationScheduler creates a disarmed scheduler. Call Reset to arm it.
func NewDurationScheduler(sets int, targetSeconds float64, commander Commander, gate Gate, logger *logrus.Logger) *DurationScheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &DurationScheduler{
		sets:      sets,
		target:    targetSeconds,
		commander: commander,
		gate:      gate,
		logger:    logger,
	}
}

// OnFire registers a callback for issued snapshots.
func (d *DurationScheduler) OnFire(fn OnFire) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFire = fn
}

// Configure replaces the set count and target and re-arms.
func (d *DurationScheduler) Configure(sets int, targetSeconds float64) {
	d.mu.Lock()
	d.sets = sets
	d.target = targetSeconds
	d.mu.Unlock()
	d.Reset()
}

// Reset arms the scheduler with the first trigger one interval in. With no
// sets or no target it stays disarmed.
func (d *DurationScheduler) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.fired = 0
	if d.sets <= 0 || d.target <= 0 {
		d.armed = false
		d.logger.WithField("sets", d.sets).Debug("Duration scheduler disarmed: nothing to schedule")
		return
	}
	d.armed = true
	d.logger.WithFields(logrus.Fields{
		"sets":     d.sets,
		"target_s": d.target,
		"interval": d.target / float64(d.sets),
	}).Debug("Duration scheduler armed")
}

// next returns the elapsed seconds of the pending trigger.
func (d *DurationScheduler) next() float64 {
	return d.target * float64(d.fired+1) / float64(d.sets)
}

// Disarm stops further snapshots until the next Reset.
func (d *DurationScheduler) Disarm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = false
}

// Armed reports whether the scheduler may still fire.
func (d *DurationScheduler) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// Fired returns the number of snapshots issued since Reset.
func (d *DurationScheduler) Fired() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired
}

// Next returns the elapsed seconds of the pending trigger.
func (d *DurationScheduler) Next() (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.armed {
		return 0, false
	}
	return d.next(), true
}

// Tick evaluates the schedule at elapsed seconds. At most one snapshot fires
// per tick; it returns whether one did.
func (d *DurationScheduler) Tick(elapsed float64) bool {
	d.mu.Lock()
	if !d.armed || elapsed < d.next() {
		d.mu.Unlock()
		return false
	}
	if d.gate != nil && (!d.gate.Running() || !d.gate.Active()) {
		d.mu.Unlock()
		return false
	}
	at := d.next()
	d.fired++
	f := Firing{Ordinal: d.fired, At: at}
	if d.fired >= d.sets {
		d.armed = false
	}
	onFire := d.onFire
	d.mu.Unlock()

	if d.commander != nil {
		f.Writes = d.commander.SnapshotAll()
	}
	d.logger.WithFields(logrus.Fields{
		"snapshot": f.Ordinal,
		"elapsed":  elapsed,
		"devices":  f.Writes,
	}).Info("Snapshot triggered")
	if onFire != nil {
		onFire(f)
	}
	return true
}

// Countdown returns the display tier for the time left until the next trigger.
// It has no effect on the schedule.
func (d *DurationScheduler) Countdown(elapsed float64) CountdownTier {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.armed {
		return CountdownNone
	}
	remaining := d.next() - elapsed
	switch {
	case remaining < 0 || remaining > 30:
		return CountdownNone
	case remaining <= 3:
		return CountdownImminent
	case remaining <= 10:
		return CountdownNear
	default:
		return CountdownFar
	}
}

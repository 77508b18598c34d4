package device

import (
	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// Field names a telemetry or stream attribute that changed.
type Field string

const (
	FieldCommand    Field = "command"
	FieldBattery    Field = "battery"
	FieldLocation   Field = "location"
	FieldImuProfile Field = "imuProfile"
	FieldError      Field = "error"
	FieldSampleRate Field = "sampleRate"
	FieldFatigue    Field = "fatigue"
	FieldRSSI       Field = "rssi"
	FieldFIFOStatus Field = "fifoStatus"
	FieldStream     Field = "stream"
	FieldSamples    Field = "samples"
	FieldWrite      Field = "write"
)

// Change is a change notification emitted by a session.
type Change struct {
	Identity Identity
	Field    Field
}

// ChangeFeed is a bounded change queue. When consumers fall behind the oldest
// entries are overwritten; producers never block.
type ChangeFeed struct {
	ring   mpmc.RichOverlappedRingBuffer[Change]
	notify chan struct{}
}

// NewChangeFeed creates a feed holding up to size pending changes.
func NewChangeFeed(size int) *ChangeFeed {
	return &ChangeFeed{
		ring:   mpmc.NewOverlappedRingBuffer[Change](uint32(size)),
		notify: make(chan struct{}, 1),
	}
}

// Publish enqueues c and wakes a waiting consumer. It returns the number of
// entries overwritten to make room.
func (f *ChangeFeed) Publish(c Change) uint32 {
	overwrites, err := f.ring.EnqueueM(c)
	if err != nil {
		return 0
	}
	select {
	case f.notify <- struct{}{}:
	default:
	}
	return overwrites
}

// Ready is signalled after a Publish. Consumers should Drain after receiving.
func (f *ChangeFeed) Ready() <-chan struct{} {
	return f.notify
}

// Drain removes and returns every pending change, oldest first.
func (f *ChangeFeed) Drain() []Change {
	var out []Change
	for !f.ring.IsEmpty() {
		c, err := f.ring.Dequeue()
		if err != nil {
			break
		}
		out = append(out, c)
	}
	return out
}

package training

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/stingray/internal/event"
	"github.com/srg/stingray/internal/publish"
)

// Log collects the events of one run. Events are only kept between Start and
// Stop; anything logged outside a run is dropped. Every kept event is also
// handed to the publisher.
type Log struct {
	mu        sync.Mutex
	active    bool
	id        uuid.UUID
	startedAt time.Time
	activity  string
	events    []event.Event

	publisher publish.Publisher
	logger    *logrus.Logger
	now       func() time.Time
}

// NewLog creates an inactive log. publisher may be nil.
func NewLog(publisher publish.Publisher, logger *logrus.Logger) *Log {
	if publisher == nil {
		publisher = publish.Nop
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Log{publisher: publisher, logger: logger, now: time.Now}
}

// Start begins a new run, discarding anything left from a previous one.
func (l *Log) Start(activity string) uuid.UUID {
	l.mu.Lock()
	l.active = true
	l.id = uuid.New()
	l.startedAt = l.now()
	l.activity = activity
	l.events = nil
	id := l.id
	l.mu.Unlock()

	l.LogEvent(event.Start, "", map[string]string{"activity": activity})
	return id
}

// Active reports whether a run is being logged.
func (l *Log) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// LogEvent implements event.Logger.
func (l *Log) LogEvent(kind event.Kind, message string, fields map[string]string) {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return
	}
	e := event.Event{Kind: kind, Timestamp: l.now().UTC(), Message: message, Fields: copyFields(fields)}
	l.events = append(l.events, e)
	session := l.id.String()
	l.mu.Unlock()

	if err := l.publisher.Publish(session, e); err != nil {
		l.logger.WithFields(logrus.Fields{
			"kind":  kind,
			"error": err,
		}).Warn("Failed to publish event")
	}
}

// Events returns a copy of the events of the current run.
func (l *Log) Events() []event.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]event.Event(nil), l.events...)
}

// Stop ends the run and returns its record. It returns false when no run is active.
func (l *Log) Stop(finalState string) (event.Record, bool) {
	l.LogEvent(event.Stop, "", map[string]string{"finalState": finalState})

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active {
		return event.Record{}, false
	}
	rec := event.Record{
		ID:          l.id,
		StartedAt:   l.startedAt.UTC(),
		StoppedAt:   l.now().UTC(),
		Activity:    l.activity,
		StateAtStop: finalState,
		Events:      l.events,
	}
	l.active = false
	l.events = nil
	l.activity = ""
	return rec, true
}

func copyFields(fields map[string]string) map[string]string {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

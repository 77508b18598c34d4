// Package dataset accumulates captured IMU sample batches into a bounded
// per-location training dataset.
package dataset

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/stingray/internal/codec"
	"github.com/srg/stingray/internal/device"
)

// FatigueLabel is the ordinal label of a capture within its location.
type FatigueLabel string

const (
	Fresh     FatigueLabel = "fresh"
	Moderate  FatigueLabel = "moderate"
	Fatigued  FatigueLabel = "fatigued"
	Exhausted FatigueLabel = "exhausted"
)

// LabelFor derives the label from the number of captures already stored at a location.
func LabelFor(count int) FatigueLabel {
	switch {
	case count <= 0:
		return Fresh
	case count == 1:
		return Moderate
	case count == 2:
		return Fatigued
	default:
		return Exhausted
	}
}

// TrainingSession is one stored capture.
type TrainingSession struct {
	ID          uuid.UUID         `json:"id"`
	Fatigue     FatigueLabel      `json:"fatigue"`
	FrequencyHz float64           `json:"frequencyHz"`
	CreatedAt   time.Time         `json:"createdAt"`
	Samples     []codec.IMUSample `json:"samples"`
}

// FrequencyHz estimates the sample rate of samples from their timestamps.
func FrequencyHz(samples []codec.IMUSample) float64 {
	if len(samples) < 2 {
		return 0
	}
	first, last := samples[0].TimestampMs, samples[len(samples)-1].TimestampMs
	if last <= first {
		return 0
	}
	return float64(len(samples)-1) * 1000 / float64(last-first)
}

// Config fixes the shape of a dataset.
type Config struct {
	Activity    string
	Sets        int
	SetDuration float64
	Distance    float64
	Required    []device.Location
}

type slot struct {
	mu       sync.Mutex
	sessions []TrainingSession
}

// Dataset is keyed by body location. Each location holds at most Sets captures;
// inserts at capacity evict the oldest. Inserts are serialized per location.
type Dataset struct {
	id     uuid.UUID
	cfg    Config
	logger *logrus.Logger

	slotsMu sync.RWMutex
	slots   map[device.Location]*slot

	accepting atomic.Bool
}

// New creates an empty dataset.
func New(cfg Config, logger *logrus.Logger) *Dataset {
	if logger == nil {
		logger = logrus.New()
	}
	cfg.Required = append([]device.Location(nil), cfg.Required...)
	return &Dataset{
		id:     uuid.New(),
		cfg:    cfg,
		logger: logger,
		slots:  make(map[device.Location]*slot),
	}
}

// ID returns the dataset identifier.
func (d *Dataset) ID() uuid.UUID {
	d.slotsMu.RLock()
	defer d.slotsMu.RUnlock()
	return d.id
}

// Config returns the dataset shape.
func (d *Dataset) Config() Config {
	cfg := d.cfg
	cfg.Required = append([]device.Location(nil), d.cfg.Required...)
	return cfg
}

func (d *Dataset) slot(loc device.Location, create bool) *slot {
	d.slotsMu.RLock()
	s, ok := d.slots[loc]
	d.slotsMu.RUnlock()
	if ok || !create {
		return s
	}

	d.slotsMu.Lock()
	defer d.slotsMu.Unlock()
	if s, ok = d.slots[loc]; !ok {
		s = &slot{}
		d.slots[loc] = s
	}
	return s
}

// Count returns the number of captures stored at loc.
func (d *Dataset) Count(loc device.Location) int {
	s := d.slot(loc, false)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// CanAdd reports whether loc has room without eviction.
func (d *Dataset) CanAdd(loc device.Location) bool {
	return d.cfg.Sets > 0 && d.Count(loc) < d.cfg.Sets
}

// Add stores samples at loc, evicting the oldest capture when the location is
// at capacity. It returns false only when the dataset has no capacity at all.
func (d *Dataset) Add(loc device.Location, samples []codec.IMUSample) (TrainingSession, bool) {
	return d.add(loc, samples, true)
}

// TryAdd stores samples at loc only when there is room. A full location is a
// normal condition reported as false.
func (d *Dataset) TryAdd(loc device.Location, samples []codec.IMUSample) (TrainingSession, bool) {
	return d.add(loc, samples, false)
}

func (d *Dataset) add(loc device.Location, samples []codec.IMUSample, evict bool) (TrainingSession, bool) {
	if d.cfg.Sets <= 0 {
		return TrainingSession{}, false
	}
	s := d.slot(loc, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.sessions)
	if count >= d.cfg.Sets && !evict {
		return TrainingSession{}, false
	}

	ts := TrainingSession{
		ID:          uuid.New(),
		Fatigue:     LabelFor(count),
		FrequencyHz: FrequencyHz(samples),
		CreatedAt:   time.Now().UTC(),
		Samples:     samples,
	}
	for len(s.sessions) >= d.cfg.Sets {
		evicted := s.sessions[0]
		s.sessions = s.sessions[1:]
		d.logger.WithFields(logrus.Fields{
			"location": loc,
			"session":  evicted.ID,
		}).Debug("Evicted oldest capture")
	}
	s.sessions = append(s.sessions, ts)

	d.logger.WithFields(logrus.Fields{
		"location": loc,
		"fatigue":  ts.Fatigue,
		"samples":  len(samples),
		"count":    len(s.sessions),
	}).Info("Capture stored")
	return ts, true
}

// Sessions returns a copy of the captures at loc, oldest first.
func (d *Dataset) Sessions(loc device.Location) []TrainingSession {
	s := d.slot(loc, false)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TrainingSession(nil), s.sessions...)
}

// Locations returns the locations holding captures, in slot order.
func (d *Dataset) Locations() []device.Location {
	d.slotsMu.RLock()
	defer d.slotsMu.RUnlock()
	var out []device.Location
	for loc, s := range d.slots {
		s.mu.Lock()
		n := len(s.sessions)
		s.mu.Unlock()
		if n > 0 {
			out = append(out, loc)
		}
	}
	sortLocations(out)
	return out
}

func sortLocations(locs []device.Location) {
	order := make(map[device.Location]int)
	for i, l := range device.Locations() {
		order[l] = i
	}
	sort.Slice(locs, func(i, j int) bool {
		oi, iok := order[locs[i]]
		oj, jok := order[locs[j]]
		if iok != jok {
			return iok
		}
		if oi != oj {
			return oi < oj
		}
		return locs[i] < locs[j]
	})
}

// Active reports whether any required location still has fewer captures than Sets.
func (d *Dataset) Active() bool {
	if d.cfg.Sets <= 0 {
		return false
	}
	for _, loc := range d.cfg.Required {
		if d.Count(loc) < d.cfg.Sets {
			return true
		}
	}
	return false
}

// Reset drops every capture and assigns a new identifier.
func (d *Dataset) Reset() {
	d.slotsMu.Lock()
	d.slots = make(map[device.Location]*slot)
	d.id = uuid.New()
	d.slotsMu.Unlock()
	d.logger.WithField("activity", d.cfg.Activity).Info("Dataset reset")
}

// SetAccepting toggles whether streamed batches are stored.
func (d *Dataset) SetAccepting(v bool) {
	d.accepting.Store(v)
}

// AddSamples implements device.SampleSink. Batches are stored only while the
// dataset is accepting and the location has room.
func (d *Dataset) AddSamples(loc device.Location, samples []codec.IMUSample) bool {
	if !d.accepting.Load() {
		d.logger.WithField("location", loc).Debug("Dataset not accepting, batch dropped")
		return false
	}
	if _, ok := d.TryAdd(loc, samples); !ok {
		d.logger.WithField("location", loc).Info("Dataset full for location")
		return false
	}
	return true
}

// Package fleet tracks the connected device sessions and their body location
// assignments.
//
// Only the Fleet mutates location assignments. Session telemetry is updated
// through Session.SetLocation while the fleet's assignment lock is held, so
// readers never observe two sessions claiming the same slot.
package fleet

import (
	"sort"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/stingray/internal/codec"
	"github.com/srg/stingray/internal/device"
)

// KnownDevice is a device that has connected at least once.
type KnownDevice struct {
	Identity device.Identity `json:"identity"`
	Name     string          `json:"name"`
	LastSeen time.Time       `json:"lastSeen"`
}

// Fleet is the registry of device sessions keyed by identity.
type Fleet struct {
	logger   *logrus.Logger
	sessions *hashmap.Map[string, *device.Session]
	known    *hashmap.Map[string, KnownDevice]

	// addMu pairs the duplicate check with the insert.
	addMu sync.Mutex

	// assignMu serializes every location change.
	assignMu  sync.Mutex
	occupants map[device.Location]device.Identity
}

// New creates an empty fleet.
func New(logger *logrus.Logger) *Fleet {
	if logger == nil {
		logger = logrus.New()
	}
	return &Fleet{
		logger:    logger,
		sessions:  hashmap.New[string, *device.Session](),
		known:     hashmap.New[string, KnownDevice](),
		occupants: make(map[device.Location]device.Identity),
	}
}

// Add registers s. An existing session with the same identity is returned
// unchanged together with false.
func (f *Fleet) Add(s *device.Session) (*device.Session, bool) {
	f.addMu.Lock()
	key := string(s.Identity())
	if actual, ok := f.sessions.Get(key); ok {
		f.addMu.Unlock()
		f.logger.WithField("device", s.Identity()).Warn("Session already registered")
		return actual, false
	}
	f.sessions.Insert(key, s)
	f.addMu.Unlock()

	f.Remember(s.Identity(), s.Telemetry().Name)
	f.logger.WithFields(logrus.Fields{
		"device":   s.Identity(),
		"sessions": f.sessions.Len(),
	}).Info("Session added")
	return s, true
}

// Remove closes and unregisters the session for id, releasing its slot.
func (f *Fleet) Remove(id device.Identity) bool {
	s, ok := f.sessions.Get(string(id))
	if !ok {
		return false
	}
	f.Clear(id)
	f.sessions.Del(string(id))
	s.Close()
	f.logger.WithField("device", id).Info("Session removed")
	return true
}

// Get returns the session for id.
func (f *Fleet) Get(id device.Identity) (*device.Session, bool) {
	return f.sessions.Get(string(id))
}

// Len returns the number of registered sessions.
func (f *Fleet) Len() int {
	return f.sessions.Len()
}

// Sessions returns every session ordered by identity.
func (f *Fleet) Sessions() []*device.Session {
	out := make([]*device.Session, 0, f.sessions.Len())
	f.sessions.Range(func(_ string, s *device.Session) bool {
		out = append(out, s)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity() < out[j].Identity()
	})
	return out
}

// Assign places id at loc. It is a no-op returning false when loc is held by
// another device or id is not registered. A previous slot of id is released.
func (f *Fleet) Assign(id device.Identity, loc device.Location) bool {
	s, ok := f.sessions.Get(string(id))
	if !ok || !loc.IsValid() {
		return false
	}

	f.assignMu.Lock()
	defer f.assignMu.Unlock()

	if holder, held := f.occupants[loc]; held {
		if holder == id {
			return true
		}
		f.logger.WithFields(logrus.Fields{
			"device":   id,
			"location": loc,
			"holder":   holder,
		}).Info("Location already held, assignment rejected")
		return false
	}

	if prev, had := f.locationOfLocked(id); had {
		delete(f.occupants, prev)
	}
	f.occupants[loc] = id
	s.SetLocation(&loc)
	f.logger.WithFields(logrus.Fields{"device": id, "location": loc}).Info("Location assigned")
	return true
}

// AutoAssign gives id the first free slot in connection order.
func (f *Fleet) AutoAssign(id device.Identity) (device.Location, bool) {
	if loc, ok := f.LocationOf(id); ok {
		return loc, true
	}
	for _, loc := range device.Locations() {
		if f.Assign(id, loc) {
			return loc, true
		}
	}
	return "", false
}

// Clear releases the slot held by id.
func (f *Fleet) Clear(id device.Identity) {
	f.assignMu.Lock()
	defer f.assignMu.Unlock()

	loc, ok := f.locationOfLocked(id)
	if !ok {
		return
	}
	delete(f.occupants, loc)
	if s, ok := f.sessions.Get(string(id)); ok {
		s.SetLocation(nil)
	}
}

// Swap exchanges the locations of a and b. Either may be unassigned. Both new
// assignments are computed before either is applied.
func (f *Fleet) Swap(a, b device.Identity) bool {
	sa, okA := f.sessions.Get(string(a))
	sb, okB := f.sessions.Get(string(b))
	if !okA || !okB || a == b {
		return false
	}

	f.assignMu.Lock()
	defer f.assignMu.Unlock()

	locA, hasA := f.locationOfLocked(a)
	locB, hasB := f.locationOfLocked(b)

	if hasA {
		delete(f.occupants, locA)
	}
	if hasB {
		delete(f.occupants, locB)
	}
	if hasB {
		f.occupants[locB] = a
	}
	if hasA {
		f.occupants[locA] = b
	}

	// Release both before claiming so no reader sees one slot twice.
	sa.SetLocation(nil)
	sb.SetLocation(nil)
	sa.SetLocation(ptrIf(locB, hasB))
	sb.SetLocation(ptrIf(locA, hasA))

	f.logger.WithFields(logrus.Fields{
		"a": a, "a_location": locB,
		"b": b, "b_location": locA,
	}).Info("Locations swapped")
	return true
}

func ptrIf(loc device.Location, ok bool) *device.Location {
	if !ok {
		return nil
	}
	return &loc
}

// At returns the session assigned to loc.
func (f *Fleet) At(loc device.Location) (*device.Session, bool) {
	f.assignMu.Lock()
	id, ok := f.occupants[loc]
	f.assignMu.Unlock()
	if !ok {
		return nil, false
	}
	return f.sessions.Get(string(id))
}

// LocationOf returns the slot held by id.
func (f *Fleet) LocationOf(id device.Identity) (device.Location, bool) {
	f.assignMu.Lock()
	defer f.assignMu.Unlock()
	return f.locationOfLocked(id)
}

func (f *Fleet) locationOfLocked(id device.Identity) (device.Location, bool) {
	for loc, holder := range f.occupants {
		if holder == id {
			return loc, true
		}
	}
	return "", false
}

// Assignments returns a copy of the slot table.
func (f *Fleet) Assignments() map[device.Location]device.Identity {
	f.assignMu.Lock()
	defer f.assignMu.Unlock()
	out := make(map[device.Location]device.Identity, len(f.occupants))
	for k, v := range f.occupants {
		out[k] = v
	}
	return out
}

// Broadcast writes code to every session. Failures are logged and returned
// keyed by identity; they do not stop the broadcast.
func (f *Fleet) Broadcast(code byte) map[device.Identity]error {
	var failed map[device.Identity]error
	for _, s := range f.Sessions() {
		if err := s.WriteCommand(code); err != nil {
			if failed == nil {
				failed = make(map[device.Identity]error)
			}
			failed[s.Identity()] = err
			f.logger.WithFields(logrus.Fields{
				"device":  s.Identity(),
				"command": code,
				"error":   err,
			}).Warn("Command broadcast failed")
		}
	}
	return failed
}

// SnapshotAll sends the snapshot command to every session and returns how many
// writes were issued.
func (f *Fleet) SnapshotAll() int {
	failed := f.Broadcast(codec.CmdSnapshot)
	return f.Len() - len(failed)
}

// Locate asks one device to show its location.
func (f *Fleet) Locate(id device.Identity) error {
	s, ok := f.sessions.Get(string(id))
	if !ok {
		return &device.NotFoundError{Resource: "device", UUIDs: []string{string(id)}}
	}
	return s.WriteCommand(codec.CmdShowLocation)
}

// Remember records id in the known device list.
func (f *Fleet) Remember(id device.Identity, name string) {
	f.known.Set(string(id), KnownDevice{Identity: id, Name: name, LastSeen: time.Now()})
}

// Known returns the known devices ordered by identity.
func (f *Fleet) Known() []KnownDevice {
	out := make([]KnownDevice, 0, f.known.Len())
	f.known.Range(func(_ string, k KnownDevice) bool {
		out = append(out, k)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

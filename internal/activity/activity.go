// Package activity describes the supported training activities and their
// capture defaults.
package activity

import (
	"fmt"
	"strings"

	"github.com/srg/stingray/internal/dataset"
	"github.com/srg/stingray/internal/device"
)

// Type is a training activity.
type Type string

const (
	Running Type = "running"
	Hiking  Type = "hiking"
	Racket  Type = "racket"
	Cycling Type = "cycling"
)

// Training selects which scheduler gates snapshots.
type Training string

const (
	ByDuration Training = "duration"
	ByDistance Training = "distance"
)

// Spec holds the defaults of an activity.
type Spec struct {
	Type            Type
	Title           string
	Training        Training
	Sets            int
	DurationSeconds float64
	DistanceMeters  float64
	Required        []device.Location
	profile         byte
	hasProfile      bool
}

var feet = []device.Location{device.LeftFoot, device.RightFoot}

var specs = map[Type]Spec{
	Running: {
		Type: Running, Title: "Running", Training: ByDistance,
		Sets: 3, DurationSeconds: 1800, DistanceMeters: 5000,
		Required: feet, profile: 0x01, hasProfile: true,
	},
	Hiking: {
		Type: Hiking, Title: "Hiking", Training: ByDistance,
		Sets: 3, DurationSeconds: 3600, DistanceMeters: 10000,
		Required: feet, profile: 0x02, hasProfile: true,
	},
	Racket: {
		Type: Racket, Title: "Racket", Training: ByDuration,
		Sets: 3, DurationSeconds: 1800,
		Required: device.Locations(), profile: 0x03, hasProfile: true,
	},
	Cycling: {
		Type: Cycling, Title: "Cycling", Training: ByDuration,
		Sets: 3, DurationSeconds: 3600, DistanceMeters: 20000,
		Required: feet,
	},
}

// All returns every activity in display order.
func All() []Type {
	return []Type{Running, Hiking, Racket, Cycling}
}

// Parse resolves a case-insensitive activity name.
func Parse(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := specs[t]; !ok {
		return "", fmt.Errorf("unknown activity %q", s)
	}
	return t, nil
}

// Spec returns the defaults of t. Unknown types return a zero Spec and false.
func (t Type) Spec() (Spec, bool) {
	s, ok := specs[t]
	if !ok {
		return Spec{}, false
	}
	s.Required = append([]device.Location(nil), s.Required...)
	return s, true
}

// Profile returns the IMU profile code selected on devices for t.
func (t Type) Profile() (byte, bool) {
	s, ok := specs[t]
	if !ok || !s.hasProfile {
		return 0, false
	}
	return s.profile, true
}

func (t Type) String() string {
	return string(t)
}

// DatasetConfig returns the dataset shape for s.
func (s Spec) DatasetConfig() dataset.Config {
	return dataset.Config{
		Activity:    string(s.Type),
		Sets:        s.Sets,
		SetDuration: s.DurationSeconds,
		Distance:    s.DistanceMeters,
		Required:    append([]device.Location(nil), s.Required...),
	}
}

package device

import (
	"fmt"
	"strings"
)

// Location is the body slot a device is assigned to.
type Location string

const (
	LeftFoot  Location = "leftfoot"
	RightFoot Location = "rightfoot"
	LeftHand  Location = "lefthand"
	RightHand Location = "righthand"
)

var locationOrder = []Location{LeftFoot, RightFoot, LeftHand, RightHand}

var locationTitles = map[Location]string{
	LeftFoot:  "Left Foot",
	RightFoot: "Right Foot",
	LeftHand:  "Left Hand",
	RightHand: "Right Hand",
}

// Locations returns every slot in assignment order.
func Locations() []Location {
	out := make([]Location, len(locationOrder))
	copy(out, locationOrder)
	return out
}

// LocationForIndex maps a connection ordinal to its default slot.
func LocationForIndex(i int) (Location, bool) {
	if i < 0 || i >= len(locationOrder) {
		return "", false
	}
	return locationOrder[i], true
}

// ParseLocation accepts slot names case-insensitively, with or without separators.
func ParseLocation(s string) (Location, error) {
	norm := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s))
	for _, l := range locationOrder {
		if string(l) == norm {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown body location %q", s)
}

// Title returns the display name of l.
func (l Location) Title() string {
	if t, ok := locationTitles[l]; ok {
		return t
	}
	return string(l)
}

// IsValid reports whether l is one of the known slots.
func (l Location) IsValid() bool {
	_, ok := locationTitles[l]
	return ok
}

package dataset

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/stingray/internal/device"
)

// Document is the serialized form of a Dataset handed to persistence.
type Document struct {
	ID          uuid.UUID                             `json:"id"`
	Activity    string                                `json:"activity"`
	Sets        int                                   `json:"sets"`
	SetDuration float64                               `json:"setDuration"`
	Distance    float64                               `json:"distance"`
	Required    []device.Location                     `json:"required"`
	Sessions    map[device.Location][]TrainingSession `json:"sessions"`
}

// Document snapshots d.
func (d *Dataset) Document() Document {
	doc := Document{
		ID:          d.ID(),
		Activity:    d.cfg.Activity,
		Sets:        d.cfg.Sets,
		SetDuration: d.cfg.SetDuration,
		Distance:    d.cfg.Distance,
		Required:    append([]device.Location(nil), d.cfg.Required...),
		Sessions:    make(map[device.Location][]TrainingSession),
	}
	for _, loc := range d.Locations() {
		doc.Sessions[loc] = d.Sessions(loc)
	}
	return doc
}

// FromDocument rebuilds a dataset. Locations holding more captures than Sets
// keep only the newest.
func FromDocument(doc Document, logger *logrus.Logger) (*Dataset, error) {
	if doc.Sets < 0 {
		return nil, fmt.Errorf("invalid set count %d", doc.Sets)
	}
	d := New(Config{
		Activity:    doc.Activity,
		Sets:        doc.Sets,
		SetDuration: doc.SetDuration,
		Distance:    doc.Distance,
		Required:    doc.Required,
	}, logger)
	if doc.ID != uuid.Nil {
		d.id = doc.ID
	}

	for loc, sessions := range doc.Sessions {
		if !loc.IsValid() {
			return nil, fmt.Errorf("invalid location %q in dataset", loc)
		}
		if len(sessions) > doc.Sets {
			sessions = sessions[len(sessions)-doc.Sets:]
		}
		if len(sessions) == 0 {
			continue
		}
		s := d.slot(loc, true)
		s.sessions = append([]TrainingSession(nil), sessions...)
	}
	return d, nil
}

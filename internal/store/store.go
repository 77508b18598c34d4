// Package store persists training datasets and run records.
//
// Datasets are keyed by activity. A Store never interprets the captures it
// holds; callers rebuild a dataset with dataset.FromDocument.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/stingray/internal/activity"
	"github.com/srg/stingray/internal/dataset"
	"github.com/srg/stingray/internal/event"
)

// ErrNotFound is returned by Load when no dataset is stored for an activity.
var ErrNotFound = errors.New("dataset not found")

// Store is the persistence collaborator.
type Store interface {
	Save(ctx context.Context, doc dataset.Document) error
	Load(ctx context.Context, activity string) (dataset.Document, error)
	Delete(ctx context.Context, activity string) error
	SaveRecord(ctx context.Context, rec event.Record) error
	Records(ctx context.Context) ([]event.Record, error)
}

// Open loads the dataset of t, or creates an empty one from the activity
// defaults when nothing is stored yet.
func Open(ctx context.Context, s Store, t activity.Type, logger *logrus.Logger) (*dataset.Dataset, error) {
	spec, ok := t.Spec()
	if !ok {
		return nil, fmt.Errorf("unknown activity %q", t)
	}
	doc, err := s.Load(ctx, string(t))
	switch {
	case errors.Is(err, ErrNotFound):
		return dataset.New(spec.DatasetConfig(), logger), nil
	case err != nil:
		return nil, err
	}
	return dataset.FromDocument(doc, logger)
}

// Reset replaces the stored dataset of t with an empty one and returns it.
func Reset(ctx context.Context, s Store, t activity.Type, logger *logrus.Logger) (*dataset.Dataset, error) {
	spec, ok := t.Spec()
	if !ok {
		return nil, fmt.Errorf("unknown activity %q", t)
	}
	d := dataset.New(spec.DatasetConfig(), logger)
	if err := s.Save(ctx, d.Document()); err != nil {
		return nil, fmt.Errorf("failed to reset %s dataset: %w", t, err)
	}
	return d, nil
}

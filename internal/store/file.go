package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/stingray/internal/dataset"
	"github.com/srg/stingray/internal/event"
)

// FileStore keeps one JSON file per activity under <root>/datasets, the
// training export under <root>/exports and run records in <root>/records.json.
type FileStore struct {
	root   string
	logger *logrus.Logger
	mu     sync.Mutex
}

// NewFileStore creates the directory layout under root.
func NewFileStore(root string, logger *logrus.Logger) (*FileStore, error) {
	if logger == nil {
		logger = logrus.New()
	}
	for _, dir := range []string{root, filepath.Join(root, "datasets"), filepath.Join(root, "exports")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
		}
	}
	return &FileStore{root: root, logger: logger}, nil
}

func (s *FileStore) datasetPath(activity string) string {
	return filepath.Join(s.root, "datasets", activity+".json")
}

// ExportPath returns where the training export of activity is written.
func (s *FileStore) ExportPath(activity string) string {
	return filepath.Join(s.root, "exports", activity+".json")
}

func (s *FileStore) recordsPath() string {
	return filepath.Join(s.root, "records.json")
}

// Save writes doc and refreshes its export.
func (s *FileStore) Save(ctx context.Context, doc dataset.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc.Activity == "" {
		return fmt.Errorf("dataset has no activity")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}
	export, err := Export(doc)
	if err != nil {
		return fmt.Errorf("failed to render export: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.datasetPath(doc.Activity), data); err != nil {
		return err
	}
	if err := writeFileAtomic(s.ExportPath(doc.Activity), export); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"activity": doc.Activity,
		"dataset":  doc.ID,
	}).Debug("Dataset saved")
	return nil
}

// Load reads the dataset of activity.
func (s *FileStore) Load(ctx context.Context, activity string) (dataset.Document, error) {
	if err := ctx.Err(); err != nil {
		return dataset.Document{}, err
	}
	s.mu.Lock()
	data, err := os.ReadFile(s.datasetPath(activity))
	s.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return dataset.Document{}, ErrNotFound
	}
	if err != nil {
		return dataset.Document{}, fmt.Errorf("failed to read %s dataset: %w", activity, err)
	}
	var doc dataset.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return dataset.Document{}, fmt.Errorf("failed to decode %s dataset: %w", activity, err)
	}
	return doc, nil
}

// Delete removes the dataset of activity and its export. Missing files are not an error.
func (s *FileStore) Delete(ctx context.Context, activity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range []string{s.datasetPath(activity), s.ExportPath(activity)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
	}
	return nil
}

// SaveRecord appends rec to the records file.
func (s *FileStore) SaveRecord(ctx context.Context, rec event.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := s.readRecords()
	if err != nil {
		return err
	}
	records = append(records, rec)
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	if err := writeFileAtomic(s.recordsPath(), data); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"record": rec.ID,
		"events": len(rec.Events),
	}).Info("Run record saved")
	return nil
}

// Records returns every saved record, oldest first.
func (s *FileStore) Records(ctx context.Context) ([]event.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readRecords()
}

func (s *FileStore) readRecords() ([]event.Record, error) {
	data, err := os.ReadFile(s.recordsPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	var records []event.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}
	return records, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

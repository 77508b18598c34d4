package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/srg/stingray/internal/dataset"
	"github.com/srg/stingray/internal/event"
)

// DefaultRedisPrefix namespaces every key written by RedisStore.
const DefaultRedisPrefix = "stingray"

// RedisStore keeps datasets as JSON strings at <prefix>:dataset:<activity>
// and run records in the list <prefix>:records.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *logrus.Logger
}

// NewRedisStore wraps client. An empty prefix selects DefaultRedisPrefix.
func NewRedisStore(client *redis.Client, prefix string, logger *logrus.Logger) *RedisStore {
	if logger == nil {
		logger = logrus.New()
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisStore) datasetKey(activity string) string {
	return s.prefix + ":dataset:" + activity
}

func (s *RedisStore) recordsKey() string {
	return s.prefix + ":records"
}

// Save stores doc.
func (s *RedisStore) Save(ctx context.Context, doc dataset.Document) error {
	if doc.Activity == "" {
		return fmt.Errorf("dataset has no activity")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}
	if err := s.client.Set(ctx, s.datasetKey(doc.Activity), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save %s dataset: %w", doc.Activity, err)
	}
	s.logger.WithFields(logrus.Fields{
		"activity": doc.Activity,
		"dataset":  doc.ID,
	}).Debug("Dataset saved")
	return nil
}

// Load reads the dataset of activity.
func (s *RedisStore) Load(ctx context.Context, activity string) (dataset.Document, error) {
	data, err := s.client.Get(ctx, s.datasetKey(activity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return dataset.Document{}, ErrNotFound
	}
	if err != nil {
		return dataset.Document{}, fmt.Errorf("failed to load %s dataset: %w", activity, err)
	}
	var doc dataset.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return dataset.Document{}, fmt.Errorf("failed to decode %s dataset: %w", activity, err)
	}
	return doc, nil
}

// Delete removes the dataset of activity.
func (s *RedisStore) Delete(ctx context.Context, activity string) error {
	if err := s.client.Del(ctx, s.datasetKey(activity)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s dataset: %w", activity, err)
	}
	return nil
}

// SaveRecord appends rec to the records list.
func (s *RedisStore) SaveRecord(ctx context.Context, rec event.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := s.client.RPush(ctx, s.recordsKey(), data).Err(); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"record": rec.ID,
		"events": len(rec.Events),
	}).Info("Run record saved")
	return nil
}

// Records returns every saved record, oldest first.
func (s *RedisStore) Records(ctx context.Context) ([]event.Record, error) {
	raw, err := s.client.LRange(ctx, s.recordsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	records := make([]event.Record, 0, len(raw))
	for _, r := range raw {
		var rec event.Record
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

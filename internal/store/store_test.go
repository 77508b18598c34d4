package store

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/stingray/internal/activity"
	"github.com/srg/stingray/internal/codec"
	"github.com/srg/stingray/internal/dataset"
	"github.com/srg/stingray/internal/device"
	"github.com/srg/stingray/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func sampleDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	spec, ok := activity.Running.Spec()
	require.True(t, ok)
	d := dataset.New(spec.DatasetConfig(), quietLogger())
	batch := []codec.IMUSample{
		{Position: 0, TimestampMs: 0, Accel: [3]float32{1, 2, 3}, Gyro: [3]float32{4, 5, 6}},
		{Position: 1, TimestampMs: 20, Accel: [3]float32{1, 2, 3}, Gyro: [3]float32{4, 5, 6}},
	}
	_, ok = d.Add(device.LeftFoot, batch)
	require.True(t, ok)
	_, ok = d.Add(device.LeftFoot, batch)
	require.True(t, ok)
	return d
}

// StoreTestSuite runs the same contract against every backend.
type StoreTestSuite struct {
	suite.Suite
	newStore func(t *testing.T) Store
	store    Store
	ctx      context.Context
}

func (s *StoreTestSuite) SetupTest() {
	s.store = s.newStore(s.T())
	s.ctx = context.Background()
}

func (s *StoreTestSuite) TestLoadMissing() {
	_, err := s.store.Load(s.ctx, "running")
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreTestSuite) TestSaveLoadRoundTrip() {
	d := sampleDataset(s.T())
	s.Require().NoError(s.store.Save(s.ctx, d.Document()))

	doc, err := s.store.Load(s.ctx, "running")
	s.Require().NoError(err)
	s.Equal(d.ID(), doc.ID)
	s.Equal(3, doc.Sets)
	s.Require().Len(doc.Sessions[device.LeftFoot], 2)
	s.Equal(dataset.Moderate, doc.Sessions[device.LeftFoot][1].Fatigue)
	s.Equal([3]float32{4, 5, 6}, doc.Sessions[device.LeftFoot][0].Samples[1].Gyro)
}

func (s *StoreTestSuite) TestSaveRequiresActivity() {
	s.Error(s.store.Save(s.ctx, dataset.Document{}))
}

func (s *StoreTestSuite) TestDelete() {
	s.Require().NoError(s.store.Save(s.ctx, sampleDataset(s.T()).Document()))
	s.Require().NoError(s.store.Delete(s.ctx, "running"))
	_, err := s.store.Load(s.ctx, "running")
	s.ErrorIs(err, ErrNotFound)
	s.NoError(s.store.Delete(s.ctx, "running"))
}

func (s *StoreTestSuite) TestOpenAndReset() {
	d, err := Open(s.ctx, s.store, activity.Hiking, quietLogger())
	s.Require().NoError(err)
	s.Equal("hiking", d.Config().Activity)
	s.Zero(d.Count(device.LeftFoot))

	d.Add(device.LeftFoot, []codec.IMUSample{{}})
	s.Require().NoError(s.store.Save(s.ctx, d.Document()))

	reopened, err := Open(s.ctx, s.store, activity.Hiking, quietLogger())
	s.Require().NoError(err)
	s.Equal(d.ID(), reopened.ID())
	s.Equal(1, reopened.Count(device.LeftFoot))

	fresh, err := Reset(s.ctx, s.store, activity.Hiking, quietLogger())
	s.Require().NoError(err)
	s.NotEqual(d.ID(), fresh.ID())

	reopened, err = Open(s.ctx, s.store, activity.Hiking, quietLogger())
	s.Require().NoError(err)
	s.Equal(fresh.ID(), reopened.ID())
	s.Zero(reopened.Count(device.LeftFoot))
}

func (s *StoreTestSuite) TestRecords() {
	records, err := s.store.Records(s.ctx)
	s.Require().NoError(err)
	s.Empty(records)

	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 2; i++ {
		s.Require().NoError(s.store.SaveRecord(s.ctx, event.Record{
			ID:          uuid.New(),
			StartedAt:   start,
			StoppedAt:   start.Add(time.Minute),
			Activity:    "running",
			StateAtStop: "stopped",
			Events:      []event.Event{{Kind: event.Start, Timestamp: start}},
		}))
	}

	records, err = s.store.Records(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(records, 2)
	s.Equal(start, records[0].StartedAt)
	s.Equal(event.Start, records[1].Events[0].Kind)
}

func TestFileStore(t *testing.T) {
	suite.Run(t, &StoreTestSuite{newStore: func(t *testing.T) Store {
		fs, err := NewFileStore(t.TempDir(), quietLogger())
		require.NoError(t, err)
		return fs
	}})
}

func TestRedisStore(t *testing.T) {
	suite.Run(t, &StoreTestSuite{newStore: func(t *testing.T) Store {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewRedisStore(client, "", quietLogger())
	}})
}

func TestRedisStoreKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client, "", quietLogger())
	require.NoError(t, s.Save(context.Background(), sampleDataset(t).Document()))
	assert.True(t, mr.Exists("stingray:dataset:running"))

	require.NoError(t, s.SaveRecord(context.Background(), event.Record{ID: uuid.New()}))
	items, err := mr.List("stingray:records")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	client, err := DialRedis(context.Background(), addr, "", 0)
	require.NoError(t, err)
	_ = client.Close()

	mr.Close()
	_, err = DialRedis(context.Background(), addr, "", 0)
	assert.Error(t, err)
}

func TestFileStoreWritesExport(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), quietLogger())
	require.NoError(t, err)
	require.NoError(t, fs.Save(context.Background(), sampleDataset(t).Document()))
	assert.FileExists(t, fs.ExportPath("running"))

	require.NoError(t, fs.Delete(context.Background(), "running"))
	assert.NoFileExists(t, fs.ExportPath("running"))
}

func TestExport(t *testing.T) {
	d := sampleDataset(t)
	data, err := Export(d.Document())
	require.NoError(t, err)

	text := string(data)
	assert.Less(t, strings.Index(text, `"header"`), strings.Index(text, `"locations"`))
	for _, pair := range [][2]string{{`"uuid"`, `"sport"`}, {`"sport"`, `"sets"`}, {`"sets"`, `"duration"`}, {`"duration"`, `"distance"`}} {
		assert.Less(t, strings.Index(text, pair[0]), strings.Index(text, pair[1]), "%s before %s", pair[0], pair[1])
	}

	var decoded struct {
		Header struct {
			UUID     string `json:"uuid"`
			Sport    string `json:"sport"`
			Sets     int    `json:"sets"`
			Distance int    `json:"distance"`
		} `json:"header"`
		Locations []struct {
			Name     string `json:"name"`
			Sessions []struct {
				Fatigue     string  `json:"fatigue"`
				FrequencyHz float64 `json:"frequencyHz"`
				DataPoints  []struct {
					Time  float64 `json:"time"`
					AccX  float32 `json:"accX"`
					GyroZ float32 `json:"gyroZ"`
				} `json:"dataPoints"`
			} `json:"sessions"`
		} `json:"locations"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, d.ID().String(), decoded.Header.UUID)
	assert.Equal(t, "running", decoded.Header.Sport)
	assert.Equal(t, 3, decoded.Header.Sets)
	assert.Equal(t, 5000, decoded.Header.Distance)

	require.Len(t, decoded.Locations, 1)
	assert.Equal(t, "Left Foot", decoded.Locations[0].Name)
	require.Len(t, decoded.Locations[0].Sessions, 2)
	s := decoded.Locations[0].Sessions[1]
	assert.Equal(t, "moderate", s.Fatigue)
	assert.InDelta(t, 50.0, s.FrequencyHz, 1e-9)
	require.Len(t, s.DataPoints, 2)
	assert.InDelta(t, 0.02, s.DataPoints[1].Time, 1e-9)
	assert.Equal(t, float32(1), s.DataPoints[1].AccX)
	assert.Equal(t, float32(6), s.DataPoints[1].GyroZ)
}

func TestExportEmpty(t *testing.T) {
	data, err := Export(dataset.Document{Activity: "racket"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"locations": []`)
}

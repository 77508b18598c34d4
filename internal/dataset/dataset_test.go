package dataset

import (
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/stingray/internal/codec"
	"github.com/srg/stingray/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func batch(tag uint32) []codec.IMUSample {
	return []codec.IMUSample{
		{Position: tag, TimestampMs: 0},
		{Position: tag, TimestampMs: 10},
		{Position: tag, TimestampMs: 20},
	}
}

func feetDataset(sets int) *Dataset {
	return New(Config{
		Activity: "running",
		Sets:     sets,
		Distance: 1000,
		Required: []device.Location{device.LeftFoot, device.RightFoot},
	}, quietLogger())
}

func TestFatigueLabelSequence(t *testing.T) {
	d := feetDataset(4)
	var labels []FatigueLabel
	for i := 0; i < 4; i++ {
		ts, ok := d.Add(device.LeftFoot, batch(uint32(i)))
		require.True(t, ok)
		labels = append(labels, ts.Fatigue)
	}
	assert.Equal(t, []FatigueLabel{Fresh, Moderate, Fatigued, Exhausted}, labels)
}

func TestLabelFor(t *testing.T) {
	assert.Equal(t, Fresh, LabelFor(0))
	assert.Equal(t, Exhausted, LabelFor(3))
	assert.Equal(t, Exhausted, LabelFor(10))
}

func TestAddEvictsOldest(t *testing.T) {
	d := feetDataset(3)
	for i := 0; i < 4; i++ {
		_, ok := d.Add(device.LeftFoot, batch(uint32(i)))
		require.True(t, ok)
	}

	sessions := d.Sessions(device.LeftFoot)
	require.Len(t, sessions, 3)
	assert.Equal(t, uint32(1), sessions[0].Samples[0].Position)
	assert.Equal(t, uint32(3), sessions[2].Samples[0].Position)
	assert.Equal(t, Exhausted, sessions[2].Fatigue)
}

func TestTryAddRejectsWhenFull(t *testing.T) {
	d := feetDataset(1)
	_, ok := d.TryAdd(device.LeftFoot, batch(1))
	require.True(t, ok)
	assert.False(t, d.CanAdd(device.LeftFoot))

	_, ok = d.TryAdd(device.LeftFoot, batch(2))
	assert.False(t, ok)
	assert.Equal(t, uint32(1), d.Sessions(device.LeftFoot)[0].Samples[0].Position)
}

func TestZeroSetsStoresNothing(t *testing.T) {
	d := feetDataset(0)
	_, ok := d.Add(device.LeftFoot, batch(1))
	assert.False(t, ok)
	assert.False(t, d.Active())
}

func TestActive(t *testing.T) {
	d := feetDataset(2)
	assert.True(t, d.Active())

	d.Add(device.LeftFoot, batch(1))
	d.Add(device.LeftFoot, batch(2))
	assert.True(t, d.Active())

	d.Add(device.RightFoot, batch(1))
	d.Add(device.RightFoot, batch(2))
	assert.False(t, d.Active())

	d.Add(device.LeftHand, batch(1))
	assert.False(t, d.Active())

	d.Reset()
	assert.True(t, d.Active())
	assert.Empty(t, d.Locations())
}

func TestAddSamplesHonoursAcceptingAndCapacity(t *testing.T) {
	d := feetDataset(1)
	assert.False(t, d.AddSamples(device.LeftFoot, batch(1)))

	d.SetAccepting(true)
	assert.True(t, d.AddSamples(device.LeftFoot, batch(1)))
	assert.False(t, d.AddSamples(device.LeftFoot, batch(2)))
	assert.Equal(t, 1, d.Count(device.LeftFoot))
}

func TestConcurrentInsertsAcrossLocations(t *testing.T) {
	d := feetDataset(50)
	var wg sync.WaitGroup
	for _, loc := range device.Locations() {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(loc device.Location) {
				defer wg.Done()
				for i := 0; i < 20; i++ {
					d.Add(loc, batch(uint32(i)))
				}
			}(loc)
		}
	}
	wg.Wait()

	for _, loc := range device.Locations() {
		sessions := d.Sessions(loc)
		require.Len(t, sessions, 50)
		counts := map[FatigueLabel]int{}
		for _, s := range sessions {
			counts[s.Fatigue]++
		}
		assert.Equal(t, map[FatigueLabel]int{Exhausted: 50}, counts, "location %s", loc)
	}
	assert.Equal(t, device.Locations(), d.Locations())
}

func TestFrequencyHz(t *testing.T) {
	assert.InDelta(t, 100.0, FrequencyHz(batch(0)), 1e-9)
	assert.Zero(t, FrequencyHz(batch(0)[:1]))
	assert.Zero(t, FrequencyHz([]codec.IMUSample{{TimestampMs: 5}, {TimestampMs: 5}}))
}

func TestDocumentRoundTrip(t *testing.T) {
	d := feetDataset(2)
	d.Add(device.LeftFoot, batch(1))
	d.Add(device.LeftFoot, batch(2))
	d.Add(device.RightFoot, batch(3))

	raw, err := json.Marshal(d.Document())
	require.NoError(t, err)

	var doc Document
	require.NoError(t, json.Unmarshal(raw, &doc))
	restored, err := FromDocument(doc, quietLogger())
	require.NoError(t, err)

	assert.Equal(t, d.ID(), restored.ID())
	assert.Equal(t, 2, restored.Count(device.LeftFoot))
	assert.Equal(t, 1, restored.Count(device.RightFoot))
	assert.Equal(t, Moderate, restored.Sessions(device.LeftFoot)[1].Fatigue)

	ts, _ := restored.Add(device.RightFoot, batch(4))
	assert.Equal(t, Moderate, ts.Fatigue)
}

func TestFromDocumentRejectsUnknownLocation(t *testing.T) {
	_, err := FromDocument(Document{Sets: 1, Sessions: map[device.Location][]TrainingSession{"tail": {{}}}}, quietLogger())
	assert.Error(t, err)
}

package ptyio

import (
	"bufio"
	"bytes"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/srg/stingray/internal/codec"
	"github.com/srg/stingray/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	accept bool
	calls  int
}

func (s *recordingSink) AddSamples(device.Location, []codec.IMUSample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.accept
}

func TestTapWritesHeaderOnce(t *testing.T) {
	var out bytes.Buffer
	tap := NewTap(nil, &out)

	batch := []codec.IMUSample{
		{Position: 1, TimestampMs: 10, Accel: [3]float32{1, 0, -1}},
		{Position: 2, TimestampMs: 20},
	}
	assert.True(t, tap.AddSamples(device.LeftFoot, batch))
	assert.True(t, tap.AddSamples(device.RightHand, batch[:1]))

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, TapHeader, lines[0])
	assert.Equal(t, "leftfoot,"+batch[0].CSV(), lines[1])
	assert.Equal(t, "leftfoot,"+batch[1].CSV(), lines[2])
	assert.Equal(t, "righthand,"+batch[0].CSV(), lines[3])
	assert.Equal(t, uint64(3), tap.Rows())
}

func TestTapForwardsVerdict(t *testing.T) {
	tests := []struct {
		name   string
		accept bool
	}{
		{"accepted", true},
		{"rejected", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := &recordingSink{accept: tt.accept}
			var out bytes.Buffer
			tap := NewTap(next, &out)

			assert.Equal(t, tt.accept, tap.AddSamples(device.LeftHand, []codec.IMUSample{{Position: 1}}))
			assert.Equal(t, 1, next.calls)
			assert.Contains(t, out.String(), "lefthand,1,")
		})
	}
}

func TestWriterDeliversToSlave(t *testing.T) {
	w, err := NewWriter(nil, nil)
	if err != nil {
		t.Skipf("PTY not available: %v", err)
	}
	defer func() { _ = w.Close() }()
	require.NotEmpty(t, w.TTYName())

	slave, err := os.OpenFile(w.TTYName(), os.O_RDONLY, 0)
	require.NoError(t, err)
	defer func() { _ = slave.Close() }()

	lines := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(slave).ReadString('\n')
		lines <- line
	}()

	n, err := w.Write([]byte("leftfoot,1,0\n"))
	require.NoError(t, err)
	assert.Equal(t, 13, n)

	select {
	case line := <-lines:
		assert.Equal(t, "leftfoot,1,0\n", line)
	case <-time.After(2 * time.Second):
		t.Fatal("no data on slave")
	}
	assert.Eventually(t, func() bool { return w.Stats().WrittenBytes == 13 }, time.Second, 5*time.Millisecond)
}

func TestWriterRejectsAfterClose(t *testing.T) {
	w, err := NewWriter(&Options{WriteCap: 8, PollTimeout: time.Hour}, nil)
	if err != nil {
		t.Skipf("PTY not available: %v", err)
	}
	require.NoError(t, w.Close())

	n, err := w.Write([]byte("abc"))
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.Zero(t, n)
	assert.NoError(t, w.Close())
}

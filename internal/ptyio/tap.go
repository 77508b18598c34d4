package ptyio

import (
	"io"
	"strings"
	"sync"

	"github.com/srg/stingray/internal/codec"
	"github.com/srg/stingray/internal/device"
)

// TapHeader is the first line written by a Tap.
const TapHeader = "location," + codec.CSVHeader

// Tap mirrors every sample batch it receives to out as CSV before handing it
// to next. The header row is written once, before the first batch.
type Tap struct {
	next device.SampleSink
	out  io.Writer

	mu         sync.Mutex
	headerSent bool
	rows       uint64
}

// NewTap wraps next. A nil next accepts every batch.
func NewTap(next device.SampleSink, out io.Writer) *Tap {
	return &Tap{next: next, out: out}
}

// AddSamples implements device.SampleSink.
func (t *Tap) AddSamples(loc device.Location, samples []codec.IMUSample) bool {
	t.write(loc, samples)
	if t.next == nil {
		return true
	}
	return t.next.AddSamples(loc, samples)
}

func (t *Tap) write(loc device.Location, samples []codec.IMUSample) {
	var b strings.Builder
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.headerSent {
		b.WriteString(TapHeader)
		b.WriteByte('\n')
		t.headerSent = true
	}
	for _, s := range samples {
		b.WriteString(string(loc))
		b.WriteByte(',')
		b.WriteString(s.CSV())
		b.WriteByte('\n')
	}
	// Short writes are accounted for by the writer.
	_, _ = io.WriteString(t.out, b.String())
	t.rows += uint64(len(samples))
}

// Rows returns the number of sample rows written.
func (t *Tap) Rows() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rows
}

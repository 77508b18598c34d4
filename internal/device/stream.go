package device

import (
	"errors"
	"fmt"

	"github.com/smallnest/ringbuffer"
	"github.com/srg/stingray/internal/codec"
)

// StreamState is the lifecycle of the streaming channel.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamHandshakeSent
	StreamChannelOpen
	StreamReceiving
	StreamClosed
	StreamFailed
)

var streamStateNames = [...]string{
	StreamIdle:          "idle",
	StreamHandshakeSent: "handshake-sent",
	StreamChannelOpen:   "channel-open",
	StreamReceiving:     "receiving",
	StreamClosed:        "closed",
	StreamFailed:        "failed",
}

func (s StreamState) String() string {
	if s < 0 || int(s) >= len(streamStateNames) {
		return fmt.Sprintf("StreamState(%d)", int(s))
	}
	return streamStateNames[s]
}

// Terminal reports whether the channel needs an explicit retry to carry data again.
func (s StreamState) Terminal() bool {
	return s == StreamClosed || s == StreamFailed
}

// frameAssembler cuts the inbound channel byte stream into complete frames.
// The header is consumed as soon as it is available; the payload is pulled
// once the declared length is buffered. Bytes past a frame stay buffered for
// the next one.
type frameAssembler struct {
	buf      *ringbuffer.RingBuffer
	capacity int
	hdr      *codec.FrameHeader
	hdrBytes [codec.FrameHeaderSize]byte
}

func newFrameAssembler(capacity int) *frameAssembler {
	return &frameAssembler{
		buf:      ringbuffer.New(capacity),
		capacity: capacity,
	}
}

// Push appends data and returns every frame completed by it.
func (a *frameAssembler) Push(data []byte) ([][]byte, error) {
	var frames [][]byte
	for {
		n, err := a.buf.Write(data)
		data = data[n:]
		if err != nil && !errors.Is(err, ringbuffer.ErrTooMuchDataToWrite) && !errors.Is(err, ringbuffer.ErrIsFull) {
			return frames, err
		}

		extracted := 0
		for {
			frame, err := a.next()
			if err != nil {
				return frames, err
			}
			if frame == nil {
				break
			}
			frames = append(frames, frame)
			extracted++
		}

		if len(data) == 0 {
			return frames, nil
		}
		if n == 0 && extracted == 0 {
			return frames, fmt.Errorf("%w: %d bytes buffered, capacity %d", ErrStreamOverflow, a.buf.Length(), a.capacity)
		}
	}
}

func (a *frameAssembler) next() ([]byte, error) {
	if a.hdr == nil {
		if a.buf.Length() < codec.FrameHeaderSize {
			return nil, nil
		}
		if _, err := a.buf.Read(a.hdrBytes[:]); err != nil {
			return nil, err
		}
		hdr, err := codec.DecodeFrameHeader(a.hdrBytes[:])
		if err != nil {
			return nil, err
		}
		if uint64(hdr.PayloadLen) > uint64(a.capacity) {
			return nil, fmt.Errorf("%w: frame declares %d bytes, capacity %d", ErrStreamOverflow, hdr.PayloadLen, a.capacity)
		}
		a.hdr = &hdr
	}

	size := int(a.hdr.PayloadLen)
	if a.buf.Length() < size {
		return nil, nil
	}
	frame := make([]byte, codec.FrameHeaderSize+size)
	copy(frame, a.hdrBytes[:])
	if size > 0 {
		if _, err := a.buf.Read(frame[codec.FrameHeaderSize:]); err != nil {
			return nil, err
		}
	}
	a.hdr = nil
	return frame, nil
}

// Pending returns the number of buffered bytes, including a consumed header.
func (a *frameAssembler) Pending() int {
	n := a.buf.Length()
	if a.hdr != nil {
		n += codec.FrameHeaderSize
	}
	return n
}

// Reset discards any partial frame.
func (a *frameAssembler) Reset() {
	a.buf.Reset()
	a.hdr = nil
}

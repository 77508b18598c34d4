package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// FrameHeaderSize is the u32 payload length plus the u16 sample count.
	FrameHeaderSize = 6

	// SampleSize is the wire size of one IMUSample.
	SampleSize = 32
)

var (
	ErrShortFrame  = errors.New("stream frame shorter than header")
	ErrFrameLength = errors.New("stream frame payload length mismatch")
)

// IMUSample is one accelerometer and gyroscope reading.
type IMUSample struct {
	Position    uint32     `json:"position"`
	TimestampMs uint32     `json:"timestampMs"`
	Accel       [3]float32 `json:"accel"`
	Gyro        [3]float32 `json:"gyro"`
}

// CSVHeader matches the column order of IMUSample.CSV.
const CSVHeader = "position,timestamp_ms,ax,ay,az,gx,gy,gz"

// CSV renders the sample as a single comma separated row without a newline.
func (s IMUSample) CSV() string {
	fields := make([]string, 0, 8)
	fields = append(fields,
		strconv.FormatUint(uint64(s.Position), 10),
		strconv.FormatUint(uint64(s.TimestampMs), 10),
	)
	for _, v := range s.Accel {
		fields = append(fields, strconv.FormatFloat(float64(v), 'f', 4, 32))
	}
	for _, v := range s.Gyro {
		fields = append(fields, strconv.FormatFloat(float64(v), 'f', 4, 32))
	}
	return strings.Join(fields, ",")
}

// FrameHeader is the fixed prefix of a stream frame.
type FrameHeader struct {
	PayloadLen  uint32
	SampleCount uint16
}

// DecodeFrameHeader reads the header from the first FrameHeaderSize bytes of b.
func DecodeFrameHeader(b []byte) (FrameHeader, error) {
	if len(b) < FrameHeaderSize {
		return FrameHeader{}, ErrShortFrame
	}
	return FrameHeader{
		PayloadLen:  binary.LittleEndian.Uint32(b[0:4]),
		SampleCount: binary.LittleEndian.Uint16(b[4:6]),
	}, nil
}

// DecodeIMUSample decodes one 32-byte entry. b must hold at least SampleSize bytes.
func DecodeIMUSample(b []byte) IMUSample {
	le := binary.LittleEndian
	s := IMUSample{
		Position:    le.Uint32(b[0:4]),
		TimestampMs: le.Uint32(b[4:8]),
	}
	for i := 0; i < 3; i++ {
		s.Accel[i] = math.Float32frombits(le.Uint32(b[8+4*i:]))
		s.Gyro[i] = math.Float32frombits(le.Uint32(b[20+4*i:]))
	}
	return s
}

// DecodeStreamFrame decodes a complete stream frame. The payload must be exactly
// the declared length. A trailing partial entry ends decoding without failing the
// frame, and no more than the declared sample count is returned.
func DecodeStreamFrame(b []byte) ([]IMUSample, error) {
	hdr, err := DecodeFrameHeader(b)
	if err != nil {
		return nil, err
	}
	payload := b[FrameHeaderSize:]
	if uint64(len(payload)) != uint64(hdr.PayloadLen) {
		return nil, fmt.Errorf("%w: header says %d bytes, got %d", ErrFrameLength, hdr.PayloadLen, len(payload))
	}

	samples := make([]IMUSample, 0, hdr.SampleCount)
	for off := 0; len(samples) < int(hdr.SampleCount); off += SampleSize {
		if off+SampleSize > len(payload) {
			break
		}
		samples = append(samples, DecodeIMUSample(payload[off:off+SampleSize]))
	}
	return samples, nil
}

// EncodeIMUSample appends the wire form of s to dst.
func EncodeIMUSample(dst []byte, s IMUSample) []byte {
	var buf [SampleSize]byte
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], s.Position)
	le.PutUint32(buf[4:8], s.TimestampMs)
	for i := 0; i < 3; i++ {
		le.PutUint32(buf[8+4*i:], math.Float32bits(s.Accel[i]))
		le.PutUint32(buf[20+4*i:], math.Float32bits(s.Gyro[i]))
	}
	return append(dst, buf[:]...)
}

// EncodeStreamFrame builds a complete frame for samples.
func EncodeStreamFrame(samples []IMUSample) []byte {
	out := make([]byte, FrameHeaderSize, FrameHeaderSize+len(samples)*SampleSize)
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(samples)*SampleSize))
	binary.LittleEndian.PutUint16(out[4:6], uint16(len(samples)))
	for _, s := range samples {
		out = EncodeIMUSample(out, s)
	}
	return out
}

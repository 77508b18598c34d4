package codec

import "encoding/binary"

// FIFOStatusSize is the wire size of a FIFO status record.
const FIFOStatusSize = 30

// FIFOStatus reports the fill and overflow state of the device-side sample buffer.
type FIFOStatus struct {
	SamplesStored        uint32 `json:"samplesStored"`
	SamplesDropped       uint32 `json:"samplesDropped"`
	TotalCaptured        uint32 `json:"totalCaptured"`
	MemoryUsedBytes      uint32 `json:"memoryUsedBytes"`
	BufferCapacity       uint32 `json:"bufferCapacity"`
	RecordingDurationMs  uint32 `json:"recordingDurationMs"`
	ActualSampleRate     uint16 `json:"actualSampleRate"`
	ConfiguredSampleRate uint16 `json:"configuredSampleRate"`
	IsRecording          bool   `json:"isRecording"`
	IsFull               bool   `json:"isFull"`
}

// FillPercent returns stored samples relative to buffer capacity, 0 when capacity is unknown.
func (s *FIFOStatus) FillPercent() float64 {
	if s == nil || s.BufferCapacity == 0 {
		return 0
	}
	return float64(s.SamplesStored) * 100 / float64(s.BufferCapacity)
}

// DecodeFIFOStatus decodes a 30-byte FIFO status record. Shorter payloads are
// absent; bytes past the record are ignored.
func DecodeFIFOStatus(b []byte) (*FIFOStatus, bool) {
	if len(b) < FIFOStatusSize {
		return nil, false
	}
	le := binary.LittleEndian
	return &FIFOStatus{
		SamplesStored:        le.Uint32(b[0:4]),
		SamplesDropped:       le.Uint32(b[4:8]),
		TotalCaptured:        le.Uint32(b[8:12]),
		MemoryUsedBytes:      le.Uint32(b[12:16]),
		BufferCapacity:       le.Uint32(b[16:20]),
		RecordingDurationMs:  le.Uint32(b[20:24]),
		ActualSampleRate:     le.Uint16(b[24:26]),
		ConfiguredSampleRate: le.Uint16(b[26:28]),
		IsRecording:          b[28] != 0,
		IsFull:               b[29] != 0,
	}, true
}

// EncodeFIFOStatus is the inverse of DecodeFIFOStatus.
func EncodeFIFOStatus(s FIFOStatus) []byte {
	le := binary.LittleEndian
	b := make([]byte, FIFOStatusSize)
	le.PutUint32(b[0:4], s.SamplesStored)
	le.PutUint32(b[4:8], s.SamplesDropped)
	le.PutUint32(b[8:12], s.TotalCaptured)
	le.PutUint32(b[12:16], s.MemoryUsedBytes)
	le.PutUint32(b[16:20], s.BufferCapacity)
	le.PutUint32(b[20:24], s.RecordingDurationMs)
	le.PutUint16(b[24:26], s.ActualSampleRate)
	le.PutUint16(b[26:28], s.ConfiguredSampleRate)
	if s.IsRecording {
		b[28] = 1
	}
	if s.IsFull {
		b[29] = 1
	}
	return b
}

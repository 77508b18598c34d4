// Package simulator provides an in-process sensor that speaks the device
// protocol. It implements device.Link and answers writes, reads and channel
// requests synchronously on the caller's goroutine.
package simulator

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/stingray/internal/bledb"
	"github.com/srg/stingray/internal/codec"
	"github.com/srg/stingray/internal/device"
)

// ErrChannelRefused is reported when a channel is requested with the wrong
// setup code or the device is configured to refuse channels.
var ErrChannelRefused = errors.New("simulated channel refused")

// Options configures a simulated sensor. Zero fields take their defaults.
type Options struct {
	Name               string
	SamplesPerSnapshot int    `default:"50"`
	SampleIntervalMs   uint32 `default:"10"`
	Battery            uint8  `default:"87"`
	SetupCode          uint16 `default:"128"`
	ChunkSize          int    `default:"180"`
	BufferCapacity     uint32 `default:"4096"`
	RefuseChannel      bool
	FailWrites         bool
}

var (
	commandHandle    = device.Handle{Service: bledb.ControlService, Characteristic: bledb.CommandChar}
	errorHandle      = device.Handle{Service: bledb.ControlService, Characteristic: bledb.ErrorChar}
	fatigueHandle    = device.Handle{Service: bledb.ControlService, Characteristic: bledb.FatigueChar}
	sampleRateHandle = device.Handle{Service: bledb.ControlService, Characteristic: bledb.SampleRateChar}
	profileHandle    = device.Handle{Service: bledb.ControlService, Characteristic: bledb.ImuProfileChar}
	streamHandle     = device.Handle{Service: bledb.FifoService, Characteristic: bledb.FifoStreamChar}
	statusHandle     = device.Handle{Service: bledb.FifoService, Characteristic: bledb.FifoStatusChar}
	setupHandle      = device.Handle{Service: bledb.FifoService, Characteristic: bledb.FifoChannelSetupChar}
	batteryHandle    = device.Handle{Service: bledb.BatteryService, Characteristic: bledb.BatteryLevelChar}
)

// Characteristics returns the table a simulated sensor exposes on discovery.
func Characteristics() []device.Discovered {
	rn := device.PropRead | device.PropNotify
	return []device.Discovered{
		{Handle: commandHandle, Properties: rn | device.PropWrite},
		{Handle: errorHandle, Properties: rn},
		{Handle: fatigueHandle, Properties: rn},
		{Handle: sampleRateHandle, Properties: rn},
		{Handle: profileHandle, Properties: rn},
		{Handle: streamHandle, Properties: device.PropNotify},
		{Handle: statusHandle, Properties: rn},
		{Handle: setupHandle, Properties: device.PropRead},
		{Handle: batteryHandle, Properties: rn},
	}
}

// Device is one simulated sensor.
type Device struct {
	id     device.Identity
	opts   Options
	logger *logrus.Logger

	mu          sync.Mutex
	sink        device.EventSink
	state       codec.CommandState
	profile     byte
	channelOpen bool
	position    uint32
	clockMs     uint32
	captured    uint32
	snapshots   int
	writes      [][]byte
}

// New creates a powered-off sensor.
func New(id device.Identity, opts *Options, logger *logrus.Logger) *Device {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	defaults.SetDefaults(&o)
	if o.Name == "" {
		o.Name = "Stingray-" + string(id)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Device{id: id, opts: o, logger: logger, state: codec.StateIdle}
}

// Name returns the advertised name.
func (d *Device) Name() string {
	return d.opts.Name
}

// Connect binds sink and delivers the characteristic table to it.
func (d *Device) Connect(sink device.EventSink) {
	d.mu.Lock()
	d.sink = sink
	d.mu.Unlock()
	d.logger.WithField("device", d.id).Debug("Simulated device connected")
	sink.OnDiscovered(Characteristics())
}

// Disconnect drops the link and reports the loss to the sink.
func (d *Device) Disconnect() {
	d.mu.Lock()
	sink := d.sink
	d.channelOpen = false
	d.sink = nil
	d.mu.Unlock()
	if sink != nil {
		sink.OnDisconnected(device.ErrNotConnected)
	}
}

// Identity implements device.Link.
func (d *Device) Identity() device.Identity {
	return d.id
}

// Write implements device.Link. Command writes change the simulated state and
// are answered with notifications.
func (d *Device) Write(h device.Handle, data []byte) error {
	d.mu.Lock()
	sink := d.sink
	d.writes = append(d.writes, append([]byte(nil), data...))
	fail := d.opts.FailWrites
	d.mu.Unlock()
	if sink == nil {
		return device.ErrNotConnected
	}
	if fail {
		sink.OnWriteResult(h, fmt.Errorf("simulated write failure"))
		return nil
	}
	sink.OnWriteResult(h, nil)

	if h != commandHandle || len(data) == 0 {
		return nil
	}
	switch data[0] {
	case codec.CmdSelectProfile:
		if len(data) < 2 {
			d.notify(sink, errorHandle, []byte{0x01})
			return nil
		}
		d.mu.Lock()
		d.profile = data[1]
		d.mu.Unlock()
		d.notify(sink, profileHandle, []byte{data[1]})
	case codec.CmdOff, codec.CmdIdle, codec.CmdRunning:
		d.setState(sink, codec.DecodeCommandState(data[0]))
	case codec.CmdShowLocation:
		prev := d.currentState()
		d.setState(sink, codec.StateLocating)
		d.setState(sink, prev)
	case codec.CmdSnapshot:
		d.snapshot(sink)
	default:
		d.notify(sink, errorHandle, []byte{0x02})
	}
	return nil
}

// Read implements device.Link. The current value is delivered as a notification.
func (d *Device) Read(h device.Handle) error {
	d.mu.Lock()
	sink := d.sink
	d.mu.Unlock()
	if sink == nil {
		return device.ErrNotConnected
	}

	var payload []byte
	switch h {
	case setupHandle:
		payload = codec.EncodeU16LE(d.opts.SetupCode)
	case batteryHandle:
		payload = []byte{d.opts.Battery}
	case commandHandle:
		code, ok := d.currentState().Code()
		if !ok {
			return nil
		}
		payload = []byte{code}
	case sampleRateHandle:
		payload = codec.EncodeU16LE(d.sampleRate())
	case profileHandle:
		d.mu.Lock()
		payload = []byte{d.profile}
		d.mu.Unlock()
	case fatigueHandle:
		payload = []byte{d.fatigue()}
	case errorHandle:
		payload = []byte{0x00}
	case statusHandle:
		payload = codec.EncodeFIFOStatus(d.status())
	default:
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{h.Characteristic}}
	}
	sink.OnNotify(h, payload)
	return nil
}

// OpenChannel implements device.Link.
func (d *Device) OpenChannel(code uint16) error {
	d.mu.Lock()
	sink := d.sink
	ok := !d.opts.RefuseChannel && code == d.opts.SetupCode
	d.channelOpen = ok
	d.mu.Unlock()
	if sink == nil {
		return device.ErrNotConnected
	}
	if !ok {
		sink.OnChannelOpen(ErrChannelRefused)
		return nil
	}
	sink.OnChannelOpen(nil)
	return nil
}

// Writes returns a copy of every payload written to the device.
func (d *Device) Writes() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.writes))
	for i, w := range d.writes {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

// State returns the simulated command state.
func (d *Device) State() codec.CommandState {
	return d.currentState()
}

// Snapshots returns how many snapshots the device captured.
func (d *Device) Snapshots() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshots
}

func (d *Device) currentState() codec.CommandState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Device) setState(sink device.EventSink, s codec.CommandState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
	code, ok := s.Code()
	if !ok {
		return
	}
	d.notify(sink, commandHandle, []byte{code})
}

func (d *Device) notify(sink device.EventSink, h device.Handle, payload []byte) {
	sink.OnNotify(h, payload)
}

func (d *Device) sampleRate() uint16 {
	if d.opts.SampleIntervalMs == 0 {
		return 0
	}
	return uint16(1000 / d.opts.SampleIntervalMs)
}

func (d *Device) fatigue() byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return byte(min(d.snapshots*25, 100))
}

func (d *Device) status() codec.FIFOStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	stored := uint32(d.opts.SamplesPerSnapshot)
	return codec.FIFOStatus{
		SamplesStored:        stored,
		TotalCaptured:        d.captured,
		MemoryUsedBytes:      stored * codec.SampleSize,
		BufferCapacity:       d.opts.BufferCapacity,
		RecordingDurationMs:  d.clockMs,
		ActualSampleRate:     d.sampleRate(),
		ConfiguredSampleRate: d.sampleRate(),
		IsRecording:          d.state == codec.StateRunning || d.state == codec.StateSnapshotting,
		IsFull:               stored >= d.opts.BufferCapacity,
	}
}

// snapshot captures a batch, streams it on the open channel in chunks and
// reports the FIFO status.
func (d *Device) snapshot(sink device.EventSink) {
	prev := d.currentState()
	d.setState(sink, codec.StateSnapshotting)

	d.mu.Lock()
	samples := make([]codec.IMUSample, d.opts.SamplesPerSnapshot)
	for i := range samples {
		samples[i] = synthesize(d.position, d.clockMs, d.snapshots)
		d.position++
		d.clockMs += d.opts.SampleIntervalMs
	}
	d.captured += uint32(len(samples))
	d.snapshots++
	open := d.channelOpen
	chunk := d.opts.ChunkSize
	d.mu.Unlock()

	if open {
		frame := codec.EncodeStreamFrame(samples)
		for off := 0; off < len(frame); off += chunk {
			end := min(off+chunk, len(frame))
			sink.OnChannelData(frame[off:end])
		}
	} else {
		d.logger.WithField("device", d.id).Debug("Snapshot captured without an open channel")
	}

	d.notify(sink, statusHandle, codec.EncodeFIFOStatus(d.status()))
	d.notify(sink, fatigueHandle, []byte{d.fatigue()})
	d.setState(sink, prev)
}

// synthesize produces a gait-like reading whose amplitude grows with fatigue.
func synthesize(pos, ms uint32, fatigue int) codec.IMUSample {
	t := float64(ms) / 1000
	amp := 1 + 0.15*float64(fatigue)
	phase := 2 * math.Pi * 1.6 * t
	return codec.IMUSample{
		Position:    pos,
		TimestampMs: ms,
		Accel: [3]float32{
			float32(amp * math.Sin(phase)),
			float32(0.3 * amp * math.Cos(phase)),
			float32(9.81 + amp*0.5*math.Sin(2*phase)),
		},
		Gyro: [3]float32{
			float32(40 * amp * math.Cos(phase)),
			float32(10 * math.Sin(phase)),
			float32(5 * amp * math.Sin(0.5*phase)),
		},
	}
}

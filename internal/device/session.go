package device

import (
	"fmt"
	"sync"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/stingray/internal/bledb"
	"github.com/srg/stingray/internal/codec"
	"github.com/srg/stingray/internal/event"
)

// SessionOptions tunes a Session. Zero fields take their defaults.
type SessionOptions struct {
	Name            string
	MaxStreamBuffer int `default:"65536"`
	ChangeBuffer    int `default:"256"`
}

// Session is the protocol state of one connected device. It implements EventSink.
type Session struct {
	id     Identity
	link   Link
	owner  Owner
	sink   SampleSink
	logger *logrus.Logger

	// mu guards telemetry, handles and the stream state machine.
	mu             sync.RWMutex
	telemetry      Telemetry
	handles        map[bledb.Role]Handle
	unrecognized   map[Handle]Properties
	state          StreamState
	setupAttempted bool
	framesReceived uint64

	onDisconnect func(Identity)

	// streamMu guards the frame assembler, which is fed from the channel path
	// only. It is taken before mu, never after.
	streamMu  sync.Mutex
	assembler *frameAssembler

	changes *ChangeFeed
}

// NewSession creates the session for link. owner and sink may be nil.
func NewSession(link Link, owner Owner, sink SampleSink, opts *SessionOptions, logger *logrus.Logger) *Session {
	o := SessionOptions{}
	if opts != nil {
		o = *opts
	}
	defaults.SetDefaults(&o)
	if logger == nil {
		logger = logrus.New()
	}

	return &Session{
		id:           link.Identity(),
		link:         link,
		owner:        owner,
		sink:         sink,
		logger:       logger,
		telemetry:    Telemetry{Name: o.Name},
		handles:      make(map[bledb.Role]Handle),
		unrecognized: make(map[Handle]Properties),
		assembler:    newFrameAssembler(o.MaxStreamBuffer),
		changes:      NewChangeFeed(o.ChangeBuffer),
	}
}

// Identity returns the device identity.
func (s *Session) Identity() Identity {
	return s.id
}

// Telemetry returns a copy of the current telemetry snapshot.
func (s *Session) Telemetry() Telemetry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.telemetry.Clone()
}

// StreamState returns the streaming channel state.
func (s *Session) StreamState() StreamState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// FramesReceived returns the number of complete stream frames decoded so far.
func (s *Session) FramesReceived() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.framesReceived
}

// Changes returns the session's change feed.
func (s *Session) Changes() *ChangeFeed {
	return s.changes
}

func (s *Session) log() *logrus.Entry {
	return s.logger.WithField("device", s.id)
}

func (s *Session) emit(f Field) {
	s.changes.Publish(Change{Identity: s.id, Field: f})
}

func (s *Session) logEvent(kind event.Kind, msg string, fields map[string]string) {
	if s.owner == nil {
		return
	}
	if fields == nil {
		fields = map[string]string{}
	}
	fields["device"] = string(s.id)
	s.owner.LogEvent(kind, msg, fields)
}

// OnDiscovered records the characteristic handle table. Discovering the command
// characteristic triggers the IMU profile write followed by a read of the
// command state when readable; discovering the channel setup characteristic
// triggers a read of the setup code.
func (s *Session) OnDiscovered(chars []Discovered) {
	var reads []Handle
	var profileHandle *Handle

	s.mu.Lock()
	for _, d := range chars {
		role := bledb.CharacteristicRole(d.Service, d.Characteristic)
		if role == bledb.RoleUnrecognized {
			s.unrecognized[d.Handle] = d.Properties
			continue
		}
		s.handles[role] = d.Handle

		switch role {
		case bledb.RoleCommand:
			h := d.Handle
			profileHandle = &h
			if d.Properties.Has(PropRead) {
				reads = append(reads, h)
			}
		case bledb.RoleFifoChannelSetup:
			reads = append(reads, d.Handle)
		default:
			if d.Properties.Has(PropRead) {
				reads = append(reads, d.Handle)
			}
		}
	}
	s.mu.Unlock()

	s.log().WithFields(logrus.Fields{
		"characteristics": len(chars),
		"reads":           len(reads),
	}).Debug("Characteristics discovered")

	if profileHandle != nil {
		s.negotiateProfile(*profileHandle)
	}
	for _, h := range reads {
		if err := s.link.Read(h); err != nil {
			s.log().WithFields(logrus.Fields{
				"characteristic": h.Characteristic,
				"error":          err,
			}).Warn("Initial characteristic read failed")
		}
	}
}

func (s *Session) negotiateProfile(h Handle) {
	if s.owner == nil {
		return
	}
	code, ok := s.owner.ActivityProfile()
	if !ok {
		s.log().Debug("No IMU profile for current activity, skipping profile selection")
		return
	}
	if err := s.link.Write(h, codec.ProfilePacket(code)); err != nil {
		s.log().WithField("error", err).Warn("IMU profile selection write failed")
		return
	}
	s.log().WithField("profile", code).Info("IMU profile selected")
	s.logEvent(event.BLECommand, "select IMU profile", map[string]string{"profile": fmt.Sprintf("0x%02x", code)})
}

// OnNotify routes a notification (or read result) to its decoder. Malformed
// payloads leave the previous value in place.
func (s *Session) OnNotify(h Handle, payload []byte) {
	role := bledb.CharacteristicRole(h.Service, h.Characteristic)
	entry := s.log().WithFields(logrus.Fields{
		"role": role,
		"size": len(payload),
	})

	switch role {
	case bledb.RoleCommand:
		b, ok := codec.DecodeU8(payload)
		if !ok {
			entry.Warn("Empty command state notification")
			return
		}
		st := codec.DecodeCommandState(b)
		s.mu.Lock()
		changed := s.telemetry.Command == nil || *s.telemetry.Command != st
		s.telemetry.Command = &st
		s.mu.Unlock()
		if changed {
			entry.WithField("state", st).Info("Command state changed")
			s.emit(FieldCommand)
		}

	case bledb.RoleError:
		b, ok := codec.DecodeU8(payload)
		if !ok {
			entry.Warn("Empty error notification")
			return
		}
		s.mu.Lock()
		s.telemetry.LastError = &b
		s.mu.Unlock()
		if b != 0 {
			entry.WithField("code", b).Warn("Device reported fault")
			s.logEvent(event.Note, "device fault", map[string]string{"code": fmt.Sprintf("%d", b)})
		}
		s.emit(FieldError)

	case bledb.RoleBattery:
		s.storeU8(entry, payload, FieldBattery, func(v *uint8) { s.telemetry.Battery = v })

	case bledb.RoleFatigue:
		s.storeU8(entry, payload, FieldFatigue, func(v *uint8) { s.telemetry.Fatigue = v })

	case bledb.RoleImuProfile:
		s.storeU8(entry, payload, FieldImuProfile, func(v *uint8) { s.telemetry.ImuProfile = v })

	case bledb.RoleSampleRate:
		v, ok := codec.DecodeU16LE(payload)
		if !ok {
			entry.Warn("Sample rate payload is not 2 bytes")
			return
		}
		s.mu.Lock()
		s.telemetry.SampleRate = &v
		s.mu.Unlock()
		s.emit(FieldSampleRate)

	case bledb.RoleFifoStatus:
		status, ok := codec.DecodeFIFOStatus(payload)
		if !ok {
			entry.Warn("Invalid FIFO status payload")
			return
		}
		fill := status.SamplesStored
		s.mu.Lock()
		s.telemetry.FIFOStatus = status
		s.telemetry.FifoFill = &fill
		s.mu.Unlock()
		s.emit(FieldFIFOStatus)

	case bledb.RoleFifoChannelSetup:
		s.HandleSetupCode(payload)

	case bledb.RoleFifoStream:
		entry.Debug("Stream data on notification characteristic ignored")

	default:
		entry.WithField("characteristic", h.Characteristic).Debug("Notification on unrecognized characteristic")
	}
}

func (s *Session) storeU8(entry *logrus.Entry, payload []byte, field Field, set func(*uint8)) {
	v, ok := codec.DecodeU8(payload)
	if !ok {
		entry.Warn("Empty single-byte payload")
		return
	}
	s.mu.Lock()
	set(&v)
	s.mu.Unlock()
	s.emit(field)
}

// HandleSetupCode starts the streaming handshake with the 1 or 2 byte setup
// code. The channel is requested at most once until RetryChannel is called.
func (s *Session) HandleSetupCode(payload []byte) {
	var code uint16
	switch len(payload) {
	case 1:
		code = uint16(payload[0])
	case 2:
		code, _ = codec.DecodeU16LE(payload)
	default:
		s.log().WithField("size", len(payload)).Warn("Invalid channel setup code")
		return
	}

	s.mu.Lock()
	if s.setupAttempted {
		state := s.state
		s.mu.Unlock()
		s.log().WithFields(logrus.Fields{
			"code":  code,
			"state": state,
		}).Info("Channel setup already attempted, ignoring")
		return
	}
	s.setupAttempted = true
	s.state = StreamHandshakeSent
	s.mu.Unlock()
	s.emit(FieldStream)

	s.log().WithField("code", code).Info("Requesting stream channel")
	if err := s.link.OpenChannel(code); err != nil {
		s.OnChannelOpen(err)
	}
}

// OnChannelOpen completes the handshake.
func (s *Session) OnChannelOpen(err error) {
	s.mu.Lock()
	prev := s.state
	switch {
	case err != nil:
		s.state = StreamFailed
	case prev == StreamHandshakeSent:
		s.state = StreamChannelOpen
	default:
		s.mu.Unlock()
		s.log().WithField("state", prev).Warn("Unexpected channel open, ignoring")
		return
	}
	next := s.state
	s.mu.Unlock()

	if err != nil {
		s.log().WithField("error", err).Error("Stream channel open failed")
		s.logEvent(event.BLEDisconnected, "stream channel open failed", map[string]string{"error": err.Error()})
	} else {
		s.log().Info("Stream channel open")
	}
	s.log().WithFields(logrus.Fields{"from": prev, "to": next}).Debug("Stream state transition")
	s.emit(FieldStream)
}

// OnChannelData feeds channel bytes to the frame assembler and forwards every
// completed frame to the sample sink.
func (s *Session) OnChannelData(data []byte) {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	s.mu.Lock()
	state := s.state
	switch state {
	case StreamChannelOpen:
		s.state = StreamReceiving
	case StreamReceiving:
	default:
		s.mu.Unlock()
		s.log().WithFields(logrus.Fields{
			"state": state,
			"size":  len(data),
		}).Debug("Channel data outside an open channel dropped")
		return
	}
	loc := clonePtr(s.telemetry.Location)
	s.mu.Unlock()
	if state == StreamChannelOpen {
		s.emit(FieldStream)
	}

	frames, err := s.assembler.Push(data)
	if err != nil {
		s.assembler.Reset()
	}

	for _, frame := range frames {
		s.deliverFrame(frame, loc)
	}

	if err != nil {
		s.mu.Lock()
		s.state = StreamFailed
		s.mu.Unlock()
		s.log().WithField("error", err).Error("Stream framing failed")
		s.emit(FieldStream)
	}
}

func (s *Session) deliverFrame(frame []byte, loc *Location) {
	samples, err := codec.DecodeStreamFrame(frame)
	if err != nil {
		s.log().WithField("error", err).Warn("Dropping undecodable stream frame")
		return
	}

	s.mu.Lock()
	s.framesReceived++
	s.mu.Unlock()

	entry := s.log().WithField("samples", len(samples))
	if loc == nil {
		entry.Warn("Stream frame received before a body location was assigned, dropping")
		return
	}
	if s.sink == nil {
		entry.Debug("No sample sink, dropping frame")
		return
	}
	if !s.sink.AddSamples(*loc, samples) {
		entry.WithField("location", *loc).Info("Sample batch not stored")
		return
	}
	entry.WithField("location", *loc).Info("Sample batch stored")
	s.emit(FieldSamples)
}

// OnChannelError closes the channel. It is not reopened automatically.
func (s *Session) OnChannelError(err error) {
	prev, pending := s.closeStream()

	s.log().WithFields(logrus.Fields{
		"from":      prev,
		"discarded": pending,
		"error":     err,
	}).Warn("Stream channel closed")
	s.emit(FieldStream)
}

// RetryChannel re-arms the handshake after the channel closed or failed and
// re-reads the setup code.
func (s *Session) RetryChannel() error {
	s.streamMu.Lock()
	s.mu.Lock()
	if !s.state.Terminal() {
		state := s.state
		s.mu.Unlock()
		s.streamMu.Unlock()
		return fmt.Errorf("stream channel is %s", state)
	}
	h, ok := s.handles[bledb.RoleFifoChannelSetup]
	if !ok {
		s.mu.Unlock()
		s.streamMu.Unlock()
		return &NotFoundError{Resource: "characteristic", UUIDs: []string{bledb.FifoService, bledb.FifoChannelSetupChar}}
	}
	s.state = StreamIdle
	s.setupAttempted = false
	s.mu.Unlock()
	s.assembler.Reset()
	s.streamMu.Unlock()

	s.emit(FieldStream)
	return s.link.Read(h)
}

// OnWriteResult surfaces write failures. A failed write does not touch the
// stream channel.
func (s *Session) OnWriteResult(h Handle, err error) {
	s.mu.Lock()
	if err != nil {
		s.telemetry.WriteError = err.Error()
	} else {
		s.telemetry.WriteError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log().WithFields(logrus.Fields{
			"characteristic": h.Characteristic,
			"error":          err,
		}).Error("Write failed")
		s.logEvent(event.BLECommand, "write failed", map[string]string{"error": err.Error()})
		s.emit(FieldWrite)
	}
}

// WriteCommand sends one command byte. Every call is one transport write.
func (s *Session) WriteCommand(code byte) error {
	return s.writeRole(bledb.RoleCommand, []byte{code}, fmt.Sprintf("0x%02x", code))
}

// SelectProfile sends the IMU profile selection packet.
func (s *Session) SelectProfile(profile byte) error {
	return s.writeRole(bledb.RoleCommand, codec.ProfilePacket(profile), fmt.Sprintf("profile 0x%02x", profile))
}

func (s *Session) writeRole(role bledb.Role, data []byte, label string) error {
	s.mu.RLock()
	h, ok := s.handles[role]
	s.mu.RUnlock()
	if !ok {
		return &NotFoundError{Resource: "characteristic", UUIDs: []string{bledb.ControlService, bledb.CommandChar}}
	}

	if err := s.link.Write(h, data); err != nil {
		return NormalizeError(err)
	}
	s.log().WithField("command", label).Debug("Command written")
	s.logEvent(event.BLECommand, label, nil)
	return nil
}

// SetLocation updates the assigned body location. Only the fleet calls this.
func (s *Session) SetLocation(loc *Location) {
	s.mu.Lock()
	s.telemetry.Location = clonePtr(loc)
	s.mu.Unlock()
	s.emit(FieldLocation)
}

// Location returns the assigned body location.
func (s *Session) Location() (Location, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.telemetry.Location == nil {
		return "", false
	}
	return *s.telemetry.Location, true
}

// UpdateRSSI records the latest signal strength.
func (s *Session) UpdateRSSI(rssi int) {
	s.mu.Lock()
	s.telemetry.RSSI = &rssi
	s.mu.Unlock()
	s.emit(FieldRSSI)
}

// SetName records the advertised display name.
func (s *Session) SetName(name string) {
	s.mu.Lock()
	s.telemetry.Name = name
	s.mu.Unlock()
}

// SetDisconnectHandler registers fn to run when the transport loses the device.
func (s *Session) SetDisconnectHandler(fn func(Identity)) {
	s.mu.Lock()
	s.onDisconnect = fn
	s.mu.Unlock()
}

// OnDisconnected closes the channel and hands the session to the disconnect
// handler, which is expected to remove it.
func (s *Session) OnDisconnected(err error) {
	prev, pending := s.closeStream()
	s.mu.RLock()
	fn := s.onDisconnect
	s.mu.RUnlock()

	s.log().WithFields(logrus.Fields{
		"from":      prev,
		"discarded": pending,
		"error":     err,
	}).Warn("Device disconnected")
	s.emit(FieldStream)

	if fn != nil {
		fn(s.id)
		return
	}
	fields := map[string]string{}
	if err != nil {
		fields["error"] = err.Error()
	}
	s.logEvent(event.BLEDisconnected, "device disconnected", fields)
}

// closeStream moves the channel to Closed and discards buffered bytes. It
// returns the previous state and the number of bytes dropped.
func (s *Session) closeStream() (StreamState, int) {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	s.mu.Lock()
	prev := s.state
	s.state = StreamClosed
	s.mu.Unlock()

	pending := s.assembler.Pending()
	s.assembler.Reset()
	return prev, pending
}

// Close tears the session down. Partially buffered frames are discarded.
func (s *Session) Close() {
	s.closeStream()
	s.log().Debug("Session closed")
	s.emit(FieldStream)
}

package device

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/stingray/internal/codec"
	"github.com/srg/stingray/internal/event"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	ChannelFailed    ConnectionState = "channel_failed"
	ChannelClosed    ConnectionState = "channel_closed"
	BluetoothOff     ConnectionState = "bluetooth_off"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrChannelFailed    = &ConnectionError{State: ChannelFailed}
	ErrChannelClosed    = &ConnectionError{State: ChannelClosed}
	ErrBluetoothOff     = &ConnectionError{State: BluetoothOff}
)

// Operation errors
var (
	ErrTimeout        = errors.New("timeout")
	ErrUnsupported    = errors.New("unsupported")
	ErrStreamOverflow = errors.New("stream buffer overflow")
)

// NormalizeError maps known transport error strings to structured ConnectionError types.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not connected"), strings.Contains(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case strings.Contains(msg, "already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return err
	}
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Identity is the transport-assigned identifier of a physical device.
type Identity string

// Properties is the capability bit set reported at discovery.
type Properties uint8

const (
	PropRead Properties = 1 << iota
	PropWrite
	PropWriteWithoutResponse
	PropNotify
	PropIndicate
)

// Has reports whether all bits of p2 are set in p.
func (p Properties) Has(p2 Properties) bool {
	return p&p2 == p2
}

// Handle addresses a characteristic within a service.
type Handle struct {
	Service        string
	Characteristic string
}

// Discovered is one characteristic reported by transport discovery.
type Discovered struct {
	Handle
	Properties Properties
}

// Link is the transport side of one connected device. Every call is
// asynchronous: outcomes come back through the session's EventSink methods.
type Link interface {
	Identity() Identity
	// Write sends data to a characteristic. The result is reported via OnWriteResult.
	Write(h Handle, data []byte) error
	// Read requests the current value; it is delivered via OnNotify.
	Read(h Handle) error
	// OpenChannel asks the transport for the streamed byte channel negotiated
	// with code. Success or failure is reported via OnChannelOpen.
	OpenChannel(code uint16) error
}

// EventSink receives transport events for one device.
type EventSink interface {
	OnDiscovered(chars []Discovered)
	OnNotify(h Handle, payload []byte)
	OnWriteResult(h Handle, err error)
	OnChannelOpen(err error)
	OnChannelData(data []byte)
	OnChannelError(err error)
	// OnDisconnected reports that the transport lost the device.
	OnDisconnected(err error)
}

// Owner is the non-owning back reference a session uses to forward log events
// and to read the active activity's IMU profile.
type Owner interface {
	event.Logger
	ActivityProfile() (byte, bool)
}

// SampleSink accepts decoded sample batches from the streaming channel.
// It returns false when the batch was not stored.
type SampleSink interface {
	AddSamples(loc Location, samples []codec.IMUSample) bool
}

package device

import "github.com/srg/stingray/internal/codec"

// Telemetry is the decoded state of one device. Every field except Name is
// nil until its characteristic has been read or has notified.
type Telemetry struct {
	Name       string              `json:"name,omitempty"`
	Battery    *uint8              `json:"battery,omitempty"`
	Command    *codec.CommandState `json:"command,omitempty"`
	Location   *Location           `json:"location,omitempty"`
	ImuProfile *uint8              `json:"imuProfile,omitempty"`
	LastError  *uint8              `json:"lastError,omitempty"`
	SampleRate *uint16             `json:"sampleRate,omitempty"`
	FifoFill   *uint32             `json:"fifoFill,omitempty"`
	Fatigue    *uint8              `json:"fatigue,omitempty"`
	RSSI       *int                `json:"rssi,omitempty"`
	FIFOStatus *codec.FIFOStatus   `json:"fifoStatus,omitempty"`
	WriteError string              `json:"writeError,omitempty"`
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Clone returns a deep copy of t.
func (t Telemetry) Clone() Telemetry {
	return Telemetry{
		Name:       t.Name,
		Battery:    clonePtr(t.Battery),
		Command:    clonePtr(t.Command),
		Location:   clonePtr(t.Location),
		ImuProfile: clonePtr(t.ImuProfile),
		LastError:  clonePtr(t.LastError),
		SampleRate: clonePtr(t.SampleRate),
		FifoFill:   clonePtr(t.FifoFill),
		Fatigue:    clonePtr(t.Fatigue),
		RSSI:       clonePtr(t.RSSI),
		FIFOStatus: clonePtr(t.FIFOStatus),
		WriteError: t.WriteError,
	}
}

// CommandState returns the last notified command state, StateUnknown when none.
func (t Telemetry) CommandState() codec.CommandState {
	if t.Command == nil {
		return codec.StateUnknown
	}
	return *t.Command
}

// HasFault reports whether the device reported a non-zero error code.
func (t Telemetry) HasFault() bool {
	return t.LastError != nil && *t.LastError != 0
}

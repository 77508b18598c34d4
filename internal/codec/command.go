package codec

import (
	"encoding/binary"
	"fmt"
)

// Command codes written to the command characteristic.
const (
	CmdOff           byte = 0x00
	CmdIdle          byte = 0x01
	CmdRunning       byte = 0x02
	CmdShowLocation  byte = 0x03
	CmdSnapshot      byte = 0x04
	CmdSelectProfile byte = 0x05
)

// CommandState is the device mode reported by command notifications.
type CommandState int

const (
	StateUnknown CommandState = iota
	StateOff
	StateIdle
	StateRunning
	StateLocating
	StateSnapshotting
)

var commandStateNames = map[CommandState]string{
	StateUnknown:      "unknown",
	StateOff:          "off",
	StateIdle:         "idle",
	StateRunning:      "running",
	StateLocating:     "locating",
	StateSnapshotting: "snapshotting",
}

func (s CommandState) String() string {
	if name, ok := commandStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("CommandState(%d)", int(s))
}

// Code returns the wire byte for s. StateUnknown has no wire value and reports false.
func (s CommandState) Code() (byte, bool) {
	switch s {
	case StateOff:
		return CmdOff, true
	case StateIdle:
		return CmdIdle, true
	case StateRunning:
		return CmdRunning, true
	case StateLocating:
		return CmdShowLocation, true
	case StateSnapshotting:
		return CmdSnapshot, true
	default:
		return 0, false
	}
}

// MarshalText renders the state name, so JSON documents carry "running" rather than 3.
func (s CommandState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DecodeCommandState maps a notified byte to CommandState. Values the firmware
// may add later decode to StateUnknown.
func DecodeCommandState(b byte) CommandState {
	switch b {
	case CmdOff:
		return StateOff
	case CmdIdle:
		return StateIdle
	case CmdRunning:
		return StateRunning
	case CmdShowLocation:
		return StateLocating
	case CmdSnapshot:
		return StateSnapshotting
	default:
		return StateUnknown
	}
}

// ProfilePacket builds the two-byte IMU profile selection write.
func ProfilePacket(profile byte) []byte {
	return []byte{CmdSelectProfile, profile}
}

// DecodeU16LE decodes a two-byte little-endian counter. Any other length is absent.
func DecodeU16LE(b []byte) (uint16, bool) {
	if len(b) != 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b), true
}

// DecodeU8 decodes a single-byte value from the first byte of b.
func DecodeU8(b []byte) (uint8, bool) {
	if len(b) < 1 {
		return 0, false
	}
	return b[0], true
}

// EncodeU16LE is the inverse of DecodeU16LE.
func EncodeU16LE(v uint16) []byte {
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, v)
	return out
}

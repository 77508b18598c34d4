package main

import (
	"context"
	"errors"

	"github.com/srg/stingray/internal/device"
	"github.com/srg/stingray/internal/store"
	"github.com/srg/stingray/internal/training"
)

// FormatUserError turns well-known failures into a one-line hint.
// Anything else is reported as is.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case device.IsConnectionState(err, device.BluetoothOff):
		return "Bluetooth is turned off. Enable it and try again."
	case device.IsConnectionState(err, device.NotConnected):
		return "sensor is not connected: " + err.Error()
	case errors.Is(err, device.ErrUnsupported):
		return "Bluetooth is not supported on this platform"
	case errors.Is(err, device.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "operation timed out; move the sensor closer and try again"
	case errors.Is(err, store.ErrNotFound):
		return "no stored dataset for this activity yet"
	case errors.Is(err, training.ErrRunInProgress):
		return "a training run is in progress; stop it first"
	default:
		return err.Error()
	}
}

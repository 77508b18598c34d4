// Package device implements the per-sensor protocol session: characteristic
// handle bookkeeping, notification decoding into a telemetry snapshot, command
// writes, IMU profile negotiation and the secondary streaming channel that
// carries framed IMU samples.
//
// A Session never talks to a radio directly. It drives a Link supplied by a
// transport and receives transport events through its EventSink methods.
// Notifications for one device arrive in order on one goroutine; channel bytes
// arrive in order on another. The two paths use separate locks so a command
// notification landing mid-frame cannot corrupt the frame buffer.
package device

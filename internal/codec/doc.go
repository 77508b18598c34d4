// Package codec decodes and encodes the fixed-layout payloads exchanged with
// stingray motion sensors: command-state bytes, little-endian counters, the
// 30-byte FIFO status record and the framed IMU sample stream.
//
// Every decoder has a defined "absent" result for malformed input. Nothing in
// this package performs I/O or keeps state.
package codec

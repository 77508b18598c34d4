package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/stingray/internal/codec"
	"github.com/srg/stingray/internal/device"
	"github.com/srg/stingray/internal/store"
	"github.com/srg/stingray/internal/testutils"
	"github.com/srg/stingray/internal/training"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type CommandTestSuite struct {
	suite.Suite
	dataDir string
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func (s *CommandTestSuite) SetupTest() {
	s.dataDir = s.T().TempDir()
	resetFlags(rootCmd)
}

// ExecuteCommand runs the root command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func (s *CommandTestSuite) TestDecodeCommand() {
	out, err := s.ExecuteCommand("decode", "command", "0x02")
	s.Require().NoError(err)
	testutils.NewTextAsserter(s.T()).Assert(out, "0x02 running")

	out, err = s.ExecuteCommand("decode", "command", "--json", "09")
	s.Require().NoError(err)
	testutils.NewJSONAsserter(s.T()).Assert(out, `{"code": 9, "state": "unknown"}`)
}

func (s *CommandTestSuite) TestDecodeFrame() {
	samples := []codec.IMUSample{
		{Position: 1, TimestampMs: 10, Accel: [3]float32{0.5, 0, -1}},
		{Position: 2, TimestampMs: 20, Gyro: [3]float32{1, 2, 3}},
	}
	frame := hex.EncodeToString(codec.EncodeStreamFrame(samples))

	out, err := s.ExecuteCommand("decode", "frame", frame)
	s.Require().NoError(err)
	testutils.NewTextAsserter(s.T()).Assert(out, strings.Join([]string{
		codec.CSVHeader,
		samples[0].CSV(),
		samples[1].CSV(),
	}, "\n"))
}

func (s *CommandTestSuite) TestDecodeFIFO() {
	status := codec.FIFOStatus{
		SamplesStored:        40,
		TotalCaptured:        120,
		BufferCapacity:       400,
		ActualSampleRate:     98,
		ConfiguredSampleRate: 100,
		IsRecording:          true,
	}
	payload := hex.EncodeToString(codec.EncodeFIFOStatus(status))

	out, err := s.ExecuteCommand("decode", "fifo", "--json", payload)
	s.Require().NoError(err)
	testutils.NewJSONAsserter(s.T()).Assert(out, `{
		"samplesStored": 40,
		"totalCaptured": 120,
		"bufferCapacity": 400,
		"actualSampleRate": 98,
		"configuredSampleRate": 100,
		"isRecording": true,
		"isFull": false
	}`)

	out, err = s.ExecuteCommand("decode", "fifo", payload)
	s.Require().NoError(err)
	s.Contains(out, "Fill:")
	s.Contains(out, "10.0%")
	s.Contains(out, "98/100 Hz")
}

func (s *CommandTestSuite) TestDecodeErrors() {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"decode", "fifo", "0102"}, "needs 30 bytes, got 2"},
		{[]string{"decode", "frame", "01"}, "invalid stream frame"},
		{[]string{"decode", "command", "zz"}, "invalid hex payload"},
	}
	for _, tt := range tests {
		_, err := s.ExecuteCommand(tt.args...)
		if s.Error(err, strings.Join(tt.args, " ")) {
			s.Contains(err.Error(), tt.want)
		}
	}
}

func (s *CommandTestSuite) TestSimulateFillsStoredDataset() {
	out, err := s.ExecuteCommand("simulate", "--data-dir", s.dataDir, "--activity", "racket", "--devices", "4")
	s.Require().NoError(err)
	s.Contains(out, "Racket:")
	s.Contains(out, "3 snapshots")
	s.Equal(4, strings.Count(out, "3/3"))
	s.Contains(out, "complete")

	out, err = s.ExecuteCommand("dataset", "show", "--data-dir", s.dataDir, "--activity", "racket")
	s.Require().NoError(err)
	s.Equal(4, strings.Count(out, "3/3"))

	exportPath := filepath.Join(s.dataDir, "racket-export.json")
	_, err = s.ExecuteCommand("dataset", "export", "--data-dir", s.dataDir, "--activity", "racket", "-o", exportPath)
	s.Require().NoError(err)
	data, err := os.ReadFile(exportPath)
	s.Require().NoError(err)
	testutils.NewJSONAsserter(s.T()).Assert(string(data), `{
		"header": {"uuid": "<<PRESENCE>>", "sport": "racket", "sets": 3, "duration": 1800},
		"locations": [
			{"name": "Left Foot"}, {"name": "Right Foot"}, {"name": "Left Hand"}, {"name": "Right Hand"}
		]
	}`)

	out, err = s.ExecuteCommand("dataset", "reset", "--data-dir", s.dataDir, "--activity", "racket")
	s.Require().NoError(err)
	s.Contains(out, "Dataset for racket reset")

	out, err = s.ExecuteCommand("dataset", "show", "--data-dir", s.dataDir, "--activity", "racket")
	s.Require().NoError(err)
	s.Equal(4, strings.Count(out, "0/3"))
	s.Contains(out, "incomplete")
}

func (s *CommandTestSuite) TestSimulateDistanceActivity() {
	out, err := s.ExecuteCommand("simulate", "--data-dir", s.dataDir, "--activity", "running", "--devices", "2", "--pace", "5")
	s.Require().NoError(err)
	s.Contains(out, "Running:")
	s.Equal(2, strings.Count(out, "3/3"))
}

func (s *CommandTestSuite) TestSimulateResetStartsEmpty() {
	_, err := s.ExecuteCommand("simulate", "--data-dir", s.dataDir, "--activity", "racket", "--devices", "4")
	s.Require().NoError(err)

	out, err := s.ExecuteCommand("simulate", "--data-dir", s.dataDir, "--activity", "racket", "--devices", "4", "--reset")
	s.Require().NoError(err)
	s.Contains(out, "3 snapshots")
}

func (s *CommandTestSuite) TestExportWithoutStoredDataset() {
	out, err := s.ExecuteCommand("dataset", "export", "--data-dir", s.dataDir, "--activity", "hiking")
	s.Require().NoError(err)
	testutils.NewJSONAsserter(s.T()).Assert(out, `{"header": {"sport": "hiking", "distance": 10000}, "locations": []}`)
}

func (s *CommandTestSuite) TestInvalidInputs() {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"dataset", "show", "--data-dir", "DATA", "--activity", "swimming"}, "unknown activity"},
		{[]string{"simulate", "--data-dir", "DATA", "--devices", "7"}, "simulator devices"},
		{[]string{"simulate", "--data-dir", "DATA", "--log-level", "loud"}, "invalid log level"},
		{[]string{"dataset", "show", "--config", "DATA/missing.yaml"}, "failed to read config"},
	}
	for _, tt := range tests {
		args := make([]string, len(tt.args))
		for i, a := range tt.args {
			args[i] = strings.ReplaceAll(a, "DATA", s.dataDir)
		}
		_, err := s.ExecuteCommand(args...)
		if s.Error(err, strings.Join(args, " ")) {
			s.Contains(err.Error(), tt.want)
		}
	}
}

func TestCommandTestSuite(t *testing.T) {
	suite.Run(t, new(CommandTestSuite))
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"bluetooth off", fmt.Errorf("dial: %w", device.ErrBluetoothOff), "Bluetooth is turned off. Enable it and try again."},
		{"unsupported", fmt.Errorf("%w: no BLE stack", device.ErrUnsupported), "Bluetooth is not supported on this platform"},
		{"timeout", context.DeadlineExceeded, "operation timed out; move the sensor closer and try again"},
		{"not found", store.ErrNotFound, "no stored dataset for this activity yet"},
		{"run in progress", training.ErrRunInProgress, "a training run is in progress; stop it first"},
		{"other", errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.0", formatVersion("1.2.0"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "00:30:00", formatSeconds(1800))
	assert.Equal(t, "01:01:01", formatSeconds(3661.7))
}

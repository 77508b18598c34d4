package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/stingray/internal/codec"
)

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode raw sensor payloads",
	Long: `Decode payloads captured from a sensor. Bytes are given as hex; spaces,
colons, dashes and a 0x prefix are ignored.`,
}

var decodeJSON bool

var decodeFIFOCmd = &cobra.Command{
	Use:   "fifo <hex>",
	Short: "Decode a 30-byte FIFO status record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := parseHex(args[0])
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true
		status, ok := codec.DecodeFIFOStatus(b)
		if !ok {
			return fmt.Errorf("FIFO status needs %d bytes, got %d", codec.FIFOStatusSize, len(b))
		}
		if decodeJSON {
			return writeJSON(cmd.OutOrStdout(), status)
		}
		return printFIFOStatus(cmd.OutOrStdout(), status)
	},
}

var decodeFrameCmd = &cobra.Command{
	Use:   "frame <hex>",
	Short: "Decode a stream frame into CSV samples",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := parseHex(args[0])
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true
		samples, err := codec.DecodeStreamFrame(b)
		if err != nil {
			return fmt.Errorf("invalid stream frame: %w", err)
		}
		if decodeJSON {
			return writeJSON(cmd.OutOrStdout(), samples)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, codec.CSVHeader)
		for _, s := range samples {
			fmt.Fprintln(out, s.CSV())
		}
		return nil
	},
}

var decodeCommandCmd = &cobra.Command{
	Use:   "command <hex>",
	Short: "Decode a command state notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := parseHex(args[0])
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true
		if len(b) == 0 {
			return fmt.Errorf("command payload is empty")
		}
		state := codec.DecodeCommandState(b[0])
		if decodeJSON {
			return writeJSON(cmd.OutOrStdout(), map[string]any{"code": b[0], "state": state})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "0x%02x %s\n", b[0], state)
		return nil
	},
}

func init() {
	decodeCmd.PersistentFlags().BoolVar(&decodeJSON, "json", false, "Print JSON instead of text")
	decodeCmd.AddCommand(decodeFIFOCmd)
	decodeCmd.AddCommand(decodeFrameCmd)
	decodeCmd.AddCommand(decodeCommandCmd)
}

func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return b, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printFIFOStatus(w io.Writer, s *codec.FIFOStatus) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := []struct {
		name  string
		value any
	}{
		{"Samples stored", s.SamplesStored},
		{"Samples dropped", s.SamplesDropped},
		{"Total captured", s.TotalCaptured},
		{"Memory used", fmt.Sprintf("%d B", s.MemoryUsedBytes)},
		{"Buffer capacity", s.BufferCapacity},
		{"Fill", fmt.Sprintf("%.1f%%", s.FillPercent())},
		{"Recording duration", fmt.Sprintf("%d ms", s.RecordingDurationMs)},
		{"Sample rate", fmt.Sprintf("%d/%d Hz", s.ActualSampleRate, s.ConfiguredSampleRate)},
		{"Recording", s.IsRecording},
		{"Full", s.IsFull},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s:\t%v\n", r.name, r.value)
	}
	return tw.Flush()
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/stingray/internal/activity"
	"github.com/srg/stingray/internal/device"
	"github.com/srg/stingray/internal/groutine"
	"github.com/srg/stingray/internal/ptyio"
	"github.com/srg/stingray/internal/training"
	"golang.org/x/term"
)

var tapCmd = &cobra.Command{
	Use:   "tap",
	Short: "Stream simulated samples as CSV on a pseudo-terminal",
	Long: `Run a real-time simulated training and mirror every captured sample
batch as CSV lines on a freshly created PTY. Point a serial plotter or
"cat" at the printed device path. Stops on Ctrl+C or when the dataset is
complete.`,
	RunE: runTap,
}

var (
	tapTick time.Duration
	tapPace float64
)

func init() {
	tapCmd.Flags().StringP("activity", "a", "", "Activity (running, hiking, racket, cycling)")
	tapCmd.Flags().DurationVar(&tapTick, "tick", 0, "Wall-clock duration of one training second (default from config)")
	tapCmd.Flags().Float64Var(&tapPace, "pace", 3, "Simulated speed in meters per second")
}

func runTap(cmd *cobra.Command, _ []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if tapTick > 0 {
		cfg.TickInterval = tapTick
	}
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	w, err := ptyio.NewWriter(nil, logger)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	var tap *ptyio.Tap
	sim, err := newSimulation(ctx, cfg, &training.Options{TickInterval: cfg.TickInterval}, func(next device.SampleSink) device.SampleSink {
		tap = ptyio.NewTap(next, w)
		return tap
	}, logger)
	if err != nil {
		return err
	}
	defer sim.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sample tap: %s\n", w.TTYName())
	fmt.Fprintf(out, "%s training, one second every %v. Press Ctrl+C to stop.\n", sim.spec.Title, cfg.TickInterval)

	interactive := false
	if f, ok := out.(interface{ Fd() uintptr }); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}

	sim.orc.Run(ctx)
	done := groutine.Every(ctx, "tap-status", cfg.TickInterval, func(ctx context.Context, _ time.Time) {
		if sim.spec.Training == activity.ByDistance {
			sim.orc.UpdateDistance(sim.orc.Elapsed() * tapPace)
		}
		if !sim.orc.Active() {
			cancel()
			return
		}
		if interactive {
			fmt.Fprintf(out, "\r\033[K%s  %.0f m  snapshots %d  rows %d  countdown %s",
				formatSeconds(sim.orc.Elapsed()), sim.orc.Distance(), sim.orc.Snapshots(), tap.Rows(), sim.orc.Countdown())
		}
	})
	<-done

	if interactive {
		fmt.Fprintln(out)
	}
	if err := sim.orc.Stop(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	stats := w.Stats()
	fmt.Fprintf(out, "Tapped %d rows (%d bytes written, %d dropped)\n", tap.Rows(), stats.WrittenBytes, stats.DroppedBytes)
	return printDataset(out, sim.orc.Dataset())
}

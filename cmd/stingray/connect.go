package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/stingray/internal/activity"
	goble "github.com/srg/stingray/internal/device/go-ble"
	"github.com/srg/stingray/internal/groutine"
	"github.com/srg/stingray/internal/training"
)

var connectCmd = &cobra.Command{
	Use:   "connect <address>...",
	Short: "Run a training with real sensors",
	Long: `Connect to up to four sensors by address, assign them body locations in
connection order and run a training until Ctrl+C, --duration elapses or the
dataset is complete. Distance-based activities take their distance from
--pace, as no position source is attached.`,
	Args: cobra.RangeArgs(1, 4),
	RunE: runConnect,
}

var (
	connectDuration time.Duration
	connectPace     float64
)

func init() {
	connectCmd.Flags().StringP("activity", "a", "", "Activity (running, hiking, racket, cycling)")
	connectCmd.Flags().DurationVarP(&connectDuration, "duration", "d", 0, "Stop after this long (0 for no limit)")
	connectCmd.Flags().Float64Var(&connectPace, "pace", 3, "Assumed speed in meters per second for distance-based activities")
}

func runConnect(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	t, err := selectedActivity(cfg)
	if err != nil {
		return err
	}
	spec, _ := t.Spec()
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	if connectDuration > 0 {
		var cancelDuration context.CancelFunc
		ctx, cancelDuration = context.WithTimeout(ctx, connectDuration)
		defer cancelDuration()
	}

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	pub, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer pub.Close()

	orc, err := training.New(ctx, nil, st, pub, &training.Options{Activity: t, TickInterval: cfg.TickInterval}, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	links, err := dialAll(ctx, args, &goble.Options{ConnectTimeout: cfg.ConnectTimeout}, logger)
	defer func() {
		for _, l := range links {
			orc.Detach(l.Identity())
			if cerr := l.Close(); cerr != nil {
				logger.WithField("error", cerr).Warn("Failed to close sensor link")
			}
		}
	}()
	if err != nil {
		return err
	}
	for _, l := range links {
		session := orc.Attach(l, l.Name())
		l.Start(session)
		loc, _ := orc.Fleet().LocationOf(l.Identity())
		fmt.Fprintf(out, "Connected %s (%s) at %s\n", l.Name(), l.Identity(), loc.Title())
	}

	fmt.Fprintf(out, "%s training started. Press Ctrl+C to stop.\n", spec.Title)
	orc.Run(ctx)
	done := groutine.Every(ctx, "connect-monitor", cfg.TickInterval, func(ctx context.Context, _ time.Time) {
		if spec.Training == activity.ByDistance {
			orc.UpdateDistance(orc.Elapsed() * connectPace)
		}
		if orc.Fleet().Len() == 0 {
			fmt.Fprintln(out, "All sensors disconnected")
			cancel()
			return
		}
		if !orc.Active() {
			cancel()
		}
	})
	<-done

	if err := orc.Stop(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	fmt.Fprintf(out, "Training stopped after %s with %d snapshots\n", formatSeconds(orc.Elapsed()), orc.Snapshots())
	return printDataset(out, orc.Dataset())
}

// dialAll connects to every address in order. Links opened before a failure
// are returned alongside the error so the caller can close them.
func dialAll(ctx context.Context, addresses []string, opts *goble.Options, logger *logrus.Logger) ([]*goble.Link, error) {
	var links []*goble.Link
	for _, addr := range addresses {
		l, err := goble.Dial(ctx, addr, opts, logger)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return links, err
			}
			return links, fmt.Errorf("sensor %s: %w", addr, err)
		}
		links = append(links, l)
	}
	return links, nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/stingray/internal/activity"
	"github.com/srg/stingray/internal/dataset"
	"github.com/srg/stingray/internal/device"
	"github.com/srg/stingray/internal/publish"
	"github.com/srg/stingray/internal/simulator"
	"github.com/srg/stingray/internal/store"
	"github.com/srg/stingray/internal/training"
	"github.com/srg/stingray/pkg/config"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a training against simulated sensors",
	Long: `Attach simulated sensors to a fleet and drive a complete training run
with a virtual clock: the schedulers fire snapshots, the sensors stream their
samples back and the labelled captures are persisted to the configured store.`,
	RunE: runSimulate,
}

var (
	simDevices int
	simPace    float64
	simReset   bool
)

func init() {
	simulateCmd.Flags().StringP("activity", "a", "", "Activity (running, hiking, racket, cycling)")
	simulateCmd.Flags().IntVarP(&simDevices, "devices", "n", 0, "Number of simulated sensors (default from config)")
	simulateCmd.Flags().Float64Var(&simPace, "pace", 3, "Simulated speed in meters per second")
	simulateCmd.Flags().BoolVar(&simReset, "reset", false, "Start from an empty dataset")
}

// simulation is a fleet of simulated sensors attached to an orchestrator.
type simulation struct {
	orc       *training.Orchestrator
	spec      activity.Spec
	devices   []*simulator.Device
	store     store.Store
	publisher publish.Publisher
	closers   []func()
}

func newSimulation(ctx context.Context, cfg *config.Config, opts *training.Options, wrap func(device.SampleSink) device.SampleSink, logger *logrus.Logger) (*simulation, error) {
	t, err := selectedActivity(cfg)
	if err != nil {
		return nil, err
	}
	spec, _ := t.Spec()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	sim := &simulation{spec: spec, store: st, closers: []func(){closeStore}}

	pub, err := newPublisher(cfg, logger)
	if err != nil {
		sim.Close()
		return nil, err
	}
	sim.publisher = pub
	sim.closers = append(sim.closers, pub.Close)

	o := training.Options{}
	if opts != nil {
		o = *opts
	}
	o.Activity = t
	orc, err := training.New(ctx, nil, st, pub, &o, logger)
	if err != nil {
		sim.Close()
		return nil, err
	}
	sim.orc = orc
	if wrap != nil {
		orc.WrapSink(wrap)
	}

	for i := 0; i < cfg.Simulator.Devices; i++ {
		dev := simulator.New(device.Identity(fmt.Sprintf("sim-%d", i+1)), &simulator.Options{
			SamplesPerSnapshot: cfg.Simulator.SamplesPerSnapshot,
		}, logger)
		dev.Connect(orc.Attach(dev, dev.Name()))
		sim.devices = append(sim.devices, dev)
	}
	return sim, nil
}

// tickLimit bounds a virtual run at twice the activity target.
func (s *simulation) tickLimit(pace float64) int {
	target := s.spec.DurationSeconds
	if s.spec.Training == activity.ByDistance && pace > 0 {
		target = s.spec.DistanceMeters / pace
	}
	return int(math.Ceil(target))*2 + 1
}

// runVirtual advances the clock one second per iteration until the dataset
// is complete or the tick limit is reached.
func (s *simulation) runVirtual(ctx context.Context, pace float64) error {
	s.orc.Run(ctx)
	limit := s.tickLimit(pace)
	for i := 1; i <= limit && s.orc.Active(); i++ {
		if ctx.Err() != nil {
			break
		}
		s.orc.Tick()
		if s.spec.Training == activity.ByDistance {
			s.orc.UpdateDistance(float64(i) * pace)
		}
	}
	return s.orc.Stop(context.WithoutCancel(ctx))
}

func (s *simulation) Close() {
	for _, dev := range s.devices {
		dev.Disconnect()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if simDevices > 0 {
		cfg.Simulator.Devices = simDevices
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	sim, err := newSimulation(ctx, cfg, &training.Options{TickInterval: cfg.TickInterval}, nil, logger)
	if err != nil {
		return err
	}
	defer sim.Close()

	if simReset {
		if err := sim.orc.ResetDataset(ctx); err != nil {
			return err
		}
	}
	if err := sim.runVirtual(ctx, simPace); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s simulated, %.0f m, %d snapshots, %d events\n",
		sim.spec.Title,
		formatSeconds(sim.orc.Elapsed()),
		sim.orc.Distance(),
		sim.orc.Snapshots(),
		len(sim.orc.Log().Events()))
	return printDataset(out, sim.orc.Dataset())
}

func formatSeconds(s float64) string {
	total := int(s)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total/60%60, total%60)
}

var labelColors = map[dataset.FatigueLabel]*color.Color{
	dataset.Fresh:     color.New(color.FgGreen),
	dataset.Moderate:  color.New(color.FgYellow),
	dataset.Fatigued:  color.New(color.FgHiRed),
	dataset.Exhausted: color.New(color.FgRed, color.Bold),
}

func colorLabel(l dataset.FatigueLabel) string {
	if c, ok := labelColors[l]; ok {
		return c.Sprint(l)
	}
	return string(l)
}

// printDataset renders one row per required location.
func printDataset(w io.Writer, ds *dataset.Dataset) error {
	cfg := ds.Config()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "LOCATION\tCAPTURES\tLABELS\n")
	for _, loc := range cfg.Required {
		sessions := ds.Sessions(loc)
		labels := make([]string, 0, len(sessions))
		for _, s := range sessions {
			labels = append(labels, colorLabel(s.Fatigue))
		}
		fmt.Fprintf(tw, "%s\t%d/%d\t%s\n", loc.Title(), len(sessions), cfg.Sets, joinOrDash(labels))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	state := color.GreenString("complete")
	if ds.Active() {
		state = color.YellowString("incomplete")
	}
	_, err := fmt.Fprintf(w, "Dataset %s (%s)\n", ds.ID(), state)
	return err
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

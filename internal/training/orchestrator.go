// Package training drives a run: it starts, pauses and stops the devices of
// a fleet, feeds the clock and distance into the snapshot schedulers, routes
// streamed samples into the activity dataset and persists the outcome.
package training

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/stingray/internal/activity"
	"github.com/srg/stingray/internal/codec"
	"github.com/srg/stingray/internal/dataset"
	"github.com/srg/stingray/internal/device"
	"github.com/srg/stingray/internal/event"
	"github.com/srg/stingray/internal/fleet"
	"github.com/srg/stingray/internal/groutine"
	"github.com/srg/stingray/internal/publish"
	"github.com/srg/stingray/internal/scheduler"
	"github.com/srg/stingray/internal/store"
)

// State is the run state.
type State string

const (
	Stopped State = "stopped"
	Running State = "running"
	Paused  State = "paused"
)

// ErrRunInProgress is returned by operations that require a stopped run.
var ErrRunInProgress = errors.New("run in progress")

// Options configures an Orchestrator.
type Options struct {
	Activity     activity.Type `default:"running"`
	TickInterval time.Duration `default:"1s"`
}

// Orchestrator owns one run at a time. It implements device.Owner and
// device.SampleSink for the sessions it attaches, and scheduler.Gate for its
// schedulers.
type Orchestrator struct {
	fleet     *fleet.Fleet
	store     store.Store
	log       *Log
	logger    *logrus.Logger
	opts      Options
	durations *scheduler.DurationScheduler
	distances *scheduler.DistanceScheduler

	// runMu serializes run transitions.
	runMu sync.Mutex

	// mu guards the fields below.
	mu        sync.Mutex
	activity  activity.Type
	spec      activity.Spec
	elapsed   float64
	distance  float64
	stopClock context.CancelFunc
	clockDone <-chan struct{}
	sink      device.SampleSink

	state   atomic.Value
	dataset atomic.Pointer[dataset.Dataset]
}

// New creates a stopped orchestrator for fl. The dataset of the configured
// activity is loaded from st, which may be nil for an in-memory run.
func New(ctx context.Context, fl *fleet.Fleet, st store.Store, publisher publish.Publisher, opts *Options, logger *logrus.Logger) (*Orchestrator, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	defaults.SetDefaults(&o)
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	if fl == nil {
		fl = fleet.New(logger)
	}

	orc := &Orchestrator{
		fleet:  fl,
		store:  st,
		log:    NewLog(publisher, logger),
		logger: logger,
		opts:   o,
	}
	orc.sink = orc
	orc.state.Store(Stopped)
	orc.durations = scheduler.NewDurationScheduler(0, 0, fl, orc, logger)
	orc.distances = scheduler.NewDistanceScheduler(0, 0, fl, orc, logger)
	orc.durations.OnFire(orc.snapshotFired("duration"))
	orc.distances.OnFire(orc.snapshotFired("distance"))

	if err := orc.SetActivity(ctx, o.Activity); err != nil {
		return nil, err
	}
	return orc, nil
}

// State returns the run state.
func (o *Orchestrator) State() State {
	return o.state.Load().(State)
}

func (o *Orchestrator) setState(s State) {
	prev := o.State()
	o.state.Store(s)
	o.logger.WithFields(logrus.Fields{
		"from": prev,
		"to":   s,
	}).Info("Run state changed")
}

// Running implements scheduler.Gate.
func (o *Orchestrator) Running() bool {
	return o.State() == Running
}

// Active implements scheduler.Gate.
func (o *Orchestrator) Active() bool {
	return o.Dataset().Active()
}

// Dataset returns the dataset of the current activity.
func (o *Orchestrator) Dataset() *dataset.Dataset {
	return o.dataset.Load()
}

// Fleet returns the managed fleet.
func (o *Orchestrator) Fleet() *fleet.Fleet {
	return o.fleet
}

// Log returns the run event log.
func (o *Orchestrator) Log() *Log {
	return o.log
}

// Activity returns the selected activity.
func (o *Orchestrator) Activity() activity.Type {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activity
}

// Elapsed returns the running seconds of the current run.
func (o *Orchestrator) Elapsed() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.elapsed
}

// Distance returns the meters covered in the current run.
func (o *Orchestrator) Distance() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.distance
}

// Countdown returns the display tier of the next duration snapshot.
func (o *Orchestrator) Countdown() scheduler.CountdownTier {
	return o.durations.Countdown(o.Elapsed())
}

// Snapshots returns how many snapshots the active scheduler issued this run.
func (o *Orchestrator) Snapshots() int {
	o.mu.Lock()
	training := o.spec.Training
	o.mu.Unlock()
	if training == activity.ByDistance {
		return o.distances.Fired()
	}
	return o.durations.Fired()
}

// LogEvent implements device.Owner.
func (o *Orchestrator) LogEvent(kind event.Kind, message string, fields map[string]string) {
	o.log.LogEvent(kind, message, fields)
}

// ActivityProfile implements device.Owner.
func (o *Orchestrator) ActivityProfile() (byte, bool) {
	return o.Activity().Profile()
}

// AddSamples implements device.SampleSink by forwarding to the current dataset.
func (o *Orchestrator) AddSamples(loc device.Location, samples []codec.IMUSample) bool {
	return o.Dataset().AddSamples(loc, samples)
}

// WrapSink decorates the sample sink handed to sessions attached afterwards.
func (o *Orchestrator) WrapSink(wrap func(next device.SampleSink) device.SampleSink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sink = wrap(o.sink)
}

// Attach creates the session for link, registers it and assigns it the first
// free body location. The session is detached when its transport disconnects.
func (o *Orchestrator) Attach(link device.Link, name string) *device.Session {
	o.mu.Lock()
	sink := o.sink
	o.mu.Unlock()
	s := device.NewSession(link, o, sink, &device.SessionOptions{Name: name}, o.logger)
	actual, added := o.fleet.Add(s)
	if !added {
		return actual
	}
	s.SetDisconnectHandler(func(id device.Identity) { o.Detach(id) })
	loc, ok := o.fleet.AutoAssign(s.Identity())
	fields := map[string]string{"device": string(s.Identity())}
	if ok {
		fields["location"] = string(loc)
	}
	o.log.LogEvent(event.BLEConnected, name, fields)
	return s
}

// Detach removes the session of id from the fleet.
func (o *Orchestrator) Detach(id device.Identity) bool {
	if !o.fleet.Remove(id) {
		return false
	}
	o.log.LogEvent(event.BLEDisconnected, "", map[string]string{"device": string(id)})
	return true
}

// SetActivity selects the activity of the next run and loads its dataset.
// Connected devices are switched to the activity's IMU profile.
func (o *Orchestrator) SetActivity(ctx context.Context, t activity.Type) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.State() != Stopped {
		return ErrRunInProgress
	}
	spec, ok := t.Spec()
	if !ok {
		return fmt.Errorf("unknown activity %q", t)
	}

	var ds *dataset.Dataset
	if o.store != nil {
		var err error
		if ds, err = store.Open(ctx, o.store, t, o.logger); err != nil {
			return fmt.Errorf("failed to load %s dataset: %w", t, err)
		}
	} else {
		ds = dataset.New(spec.DatasetConfig(), o.logger)
	}
	o.install(t, spec, ds)

	if code, ok := t.Profile(); ok {
		for _, s := range o.fleet.Sessions() {
			if err := s.SelectProfile(code); err != nil {
				o.logger.WithFields(logrus.Fields{
					"device": s.Identity(),
					"error":  err,
				}).Warn("Failed to select IMU profile")
			}
		}
	}
	o.logger.WithFields(logrus.Fields{
		"activity": t,
		"dataset":  ds.ID(),
		"training": spec.Training,
	}).Info("Activity selected")
	return nil
}

// ResetDataset replaces the dataset of the current activity with an empty one.
func (o *Orchestrator) ResetDataset(ctx context.Context) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.State() != Stopped {
		return ErrRunInProgress
	}
	o.mu.Lock()
	t, spec := o.activity, o.spec
	o.mu.Unlock()

	var ds *dataset.Dataset
	if o.store != nil {
		var err error
		if ds, err = store.Reset(ctx, o.store, t, o.logger); err != nil {
			return err
		}
	} else {
		ds = dataset.New(spec.DatasetConfig(), o.logger)
	}
	o.install(t, spec, ds)
	return nil
}

func (o *Orchestrator) install(t activity.Type, spec activity.Spec, ds *dataset.Dataset) {
	o.mu.Lock()
	o.activity = t
	o.spec = spec
	o.mu.Unlock()
	o.dataset.Store(ds)

	cfg := ds.Config()
	o.durations.Configure(cfg.Sets, cfg.SetDuration)
	o.distances.Configure(cfg.Sets, cfg.Distance)
	o.durations.Disarm()
	o.distances.Disarm()
}

// Run starts a stopped run or resumes a paused one. ctx bounds the run clock.
func (o *Orchestrator) Run(ctx context.Context) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	switch o.State() {
	case Running:
		return
	case Stopped:
		o.mu.Lock()
		o.elapsed, o.distance = 0, 0
		t, training := o.activity, o.spec.Training
		o.mu.Unlock()

		o.log.Start(string(t))
		sessions := o.fleet.Sessions()
		for _, s := range sessions {
			o.log.LogEvent(event.Note, "", map[string]string{"device": deviceLabel(s)})
		}
		if len(sessions) == 0 {
			o.log.LogEvent(event.Note, "No devices attached", nil)
		}

		o.broadcast(codec.CmdRunning)
		o.setState(Running)
		o.Dataset().SetAccepting(true)
		if training == activity.ByDistance {
			o.distances.Reset()
		} else {
			o.durations.Reset()
		}
	case Paused:
		o.log.LogEvent(event.Resume, "Resumed", nil)
		o.broadcast(codec.CmdRunning)
		o.setState(Running)
	}
	o.startClock(ctx)
}

// Pause idles the devices and halts the clock. It has no effect unless running.
func (o *Orchestrator) Pause() {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.State() != Running {
		return
	}
	o.setState(Paused)
	o.haltClock()
	o.log.LogEvent(event.Pause, "Paused", nil)
	o.broadcast(codec.CmdIdle)
}

// Stop ends the run, idles the devices and persists the dataset and the run
// record. It has no effect when already stopped.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	if o.State() == Stopped {
		return nil
	}

	o.broadcast(codec.CmdIdle)
	o.setState(Stopped)
	o.haltClock()
	o.durations.Disarm()
	o.distances.Disarm()
	ds := o.Dataset()
	ds.SetAccepting(false)

	o.mu.Lock()
	elapsed, distance := o.elapsed, o.distance
	o.elapsed, o.distance = 0, 0
	o.mu.Unlock()

	o.log.LogEvent(event.Location, "", map[string]string{"end_distance": strconv.FormatFloat(distance, 'f', 1, 64)})
	o.log.LogEvent(event.Note, "", map[string]string{"duration": strconv.FormatFloat(elapsed, 'f', 0, 64)})
	rec, ok := o.log.Stop(string(Stopped))

	if o.store == nil {
		return nil
	}
	var errs []error
	if err := o.store.Save(ctx, ds.Document()); err != nil {
		errs = append(errs, fmt.Errorf("failed to save dataset: %w", err))
	}
	if ok {
		if err := o.store.SaveRecord(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("failed to save run record: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Tick advances the run clock by one second and evaluates the duration
// schedule. It is driven by the run clock and has no effect unless running.
func (o *Orchestrator) Tick() {
	o.mu.Lock()
	if o.State() != Running {
		o.mu.Unlock()
		return
	}
	o.elapsed++
	elapsed := o.elapsed
	o.mu.Unlock()

	o.durations.Tick(elapsed)
}

// UpdateDistance records the meters covered so far and evaluates the distance
// schedule. Updates outside a running run and backwards moves are ignored.
func (o *Orchestrator) UpdateDistance(meters float64) {
	o.mu.Lock()
	if o.State() != Running || meters < o.distance {
		o.mu.Unlock()
		return
	}
	o.distance = meters
	o.mu.Unlock()

	o.distances.Update(meters)
}

func (o *Orchestrator) startClock(ctx context.Context) {
	o.haltClock()
	ctx, cancel := context.WithCancel(ctx)
	done := groutine.Every(ctx, "training-clock", o.opts.TickInterval, func(context.Context, time.Time) {
		o.Tick()
	})
	o.mu.Lock()
	o.stopClock, o.clockDone = cancel, done
	o.mu.Unlock()
}

func (o *Orchestrator) haltClock() {
	o.mu.Lock()
	cancel, done := o.stopClock, o.clockDone
	o.stopClock, o.clockDone = nil, nil
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (o *Orchestrator) broadcast(code byte) {
	failed := o.fleet.Broadcast(code)
	o.log.LogEvent(event.BLECommand, "", map[string]string{
		"command": codec.DecodeCommandState(code).String(),
		"devices": strconv.Itoa(o.fleet.Len()),
		"failed":  strconv.Itoa(len(failed)),
	})
}

func (o *Orchestrator) snapshotFired(source string) scheduler.OnFire {
	return func(f scheduler.Firing) {
		o.log.LogEvent(event.MetricSnapshot, "", map[string]string{
			"scheduler": source,
			"snapshot":  strconv.Itoa(f.Ordinal),
			"at":        strconv.FormatFloat(f.At, 'f', 1, 64),
			"devices":   strconv.Itoa(f.Writes),
		})
	}
}

func deviceLabel(s *device.Session) string {
	if name := s.Telemetry().Name; name != "" {
		return name
	}
	return string(s.Identity())
}

// Package goble implements device.Link on top of github.com/go-ble/ble.
//
// Every callback into the session is delivered on one goroutine in arrival
// order. Writes and reads are queued and executed one at a time on a second
// goroutine; their outcome comes back through the same ordered callbacks.
// The sensor's stream characteristic plays the role of the secondary channel:
// OpenChannel subscribes to it and its notifications become channel data.
package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/stingray/internal/bledb"
	"github.com/srg/stingray/internal/device"
	"github.com/srg/stingray/internal/groutine"
)

// gattClient is the subset of ble.Client used by Link.
type gattClient interface {
	Name() string
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	ExchangeMTU(rxMTU int) (txMTU int, err error)
	ReadRSSI() int
	CancelConnection() error
}

// Options tunes a Link. Zero fields take their defaults.
type Options struct {
	ConnectTimeout time.Duration `default:"10s"`
	EventBuffer    int           `default:"512"`
	OpBuffer       int           `default:"64"`
	MTU            int           `default:"247"`
}

type characteristic struct {
	handle device.Handle
	props  device.Properties
	ble    *ble.Characteristic
}

// Link is a live connection to one sensor.
type Link struct {
	id     device.Identity
	client gattClient
	opts   Options
	logger *logrus.Logger

	chars map[device.Handle]*characteristic

	ctx    context.Context
	cancel context.CancelCauseFunc
	events chan func(device.EventSink)
	ops    chan func()
	wg     sync.WaitGroup

	startOnce   sync.Once
	closeOnce   sync.Once
	sinkMu      sync.RWMutex
	sink        device.EventSink
	subsMu      sync.Mutex
	subscribed  []*ble.Characteristic
	channelOpen atomic.Bool
}

// Dial connects to address and discovers the sensor profile. The returned
// link delivers nothing until Start is called.
func Dial(ctx context.Context, address string, opts *Options, logger *logrus.Logger) (*Link, error) {
	o := options(opts)
	if logger == nil {
		logger = logrus.New()
	}
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	ble.SetDefaultDevice(dev)

	connCtx, cancel := context.WithTimeout(ctx, o.ConnectTimeout)
	defer cancel()

	logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": o.ConnectTimeout,
	}).Info("Connecting to sensor...")
	client, err := ble.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	l, err := newLink(ctx, device.Identity(address), client, &o, logger)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, err
	}
	return l, nil
}

func options(opts *Options) Options {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	defaults.SetDefaults(&o)
	return o
}

func newLink(ctx context.Context, id device.Identity, client gattClient, opts *Options, logger *logrus.Logger) (*Link, error) {
	o := options(opts)
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	l := &Link{
		id:     id,
		client: client,
		opts:   o,
		logger: logger,
		chars:  make(map[device.Handle]*characteristic),
		events: make(chan func(device.EventSink), o.EventBuffer),
		ops:    make(chan func(), o.OpBuffer),
	}
	l.ctx, l.cancel = context.WithCancelCause(ctx)

	for _, svc := range profile.Services {
		svcUUID := bledb.NormalizeUUID(svc.UUID.String())
		for _, c := range svc.Characteristics {
			h := device.Handle{Service: svcUUID, Characteristic: bledb.NormalizeUUID(c.UUID.String())}
			l.chars[h] = &characteristic{handle: h, props: NewProperties(c.Property), ble: c}
		}
	}

	if txMTU, err := client.ExchangeMTU(o.MTU); err != nil {
		logger.WithField("error", err).Debug("MTU exchange not supported")
	} else {
		logger.WithField("mtu", txMTU).Debug("MTU negotiated")
	}

	logger.WithFields(logrus.Fields{
		"device":          id,
		"services":        len(profile.Services),
		"characteristics": len(l.chars),
	}).Info("Sensor profile discovered")
	return l, nil
}

// Identity implements device.Link.
func (l *Link) Identity() device.Identity {
	return l.id
}

// Name returns the GAP name reported by the peer.
func (l *Link) Name() string {
	return l.client.Name()
}

// RSSI reads the current signal strength.
func (l *Link) RSSI() int {
	return l.client.ReadRSSI()
}

// Discovered returns the characteristic table in catalog order.
func (l *Link) Discovered() []device.Discovered {
	out := make([]device.Discovered, 0, len(l.chars))
	for _, svc := range bledb.ServicesOfInterest() {
		for _, charID := range bledb.CharacteristicsOf(svc) {
			h := device.Handle{Service: bledb.NormalizeUUID(svc), Characteristic: bledb.NormalizeUUID(charID)}
			if c, ok := l.chars[h]; ok {
				out = append(out, device.Discovered{Handle: h, Properties: c.props})
			}
		}
	}
	return out
}

// Start binds sink, subscribes to every notifying characteristic except the
// stream and reports the characteristic table.
func (l *Link) Start(sink device.EventSink) {
	l.startOnce.Do(func() {
		l.sinkMu.Lock()
		l.sink = sink
		l.sinkMu.Unlock()

		l.wg.Add(2)
		groutine.Go(l.ctx, "ble-events-"+string(l.id), l.dispatch)
		groutine.Go(l.ctx, "ble-ops-"+string(l.id), l.runOps)
		groutine.Go(l.ctx, "ble-disconnect-"+string(l.id), l.watchDisconnect)

		streamRole := bledb.RoleFifoStream
		for _, d := range l.Discovered() {
			if bledb.CharacteristicRole(d.Service, d.Characteristic) == streamRole {
				continue
			}
			if !d.Properties.Has(device.PropNotify) && !d.Properties.Has(device.PropIndicate) {
				continue
			}
			h := d.Handle
			if err := l.subscribe(l.chars[h], func(data []byte) {
				l.emit(func(s device.EventSink) { s.OnNotify(h, data) })
			}); err != nil {
				l.logger.WithFields(logrus.Fields{
					"characteristic": h.Characteristic,
					"error":          err,
				}).Warn("Failed to subscribe to characteristic")
			}
		}
		l.emit(func(s device.EventSink) { s.OnDiscovered(l.Discovered()) })
	})
}

func (l *Link) subscribe(c *characteristic, fn func([]byte)) error {
	ind := !c.props.Has(device.PropNotify) && c.props.Has(device.PropIndicate)
	err := l.client.Subscribe(c.ble, ind, func(req []byte) {
		fn(append([]byte(nil), req...))
	})
	if err != nil {
		return NormalizeError(err)
	}
	l.subsMu.Lock()
	l.subscribed = append(l.subscribed, c.ble)
	l.subsMu.Unlock()
	return nil
}

func (l *Link) emit(fn func(device.EventSink)) {
	select {
	case l.events <- fn:
	case <-l.ctx.Done():
	}
}

func (l *Link) dispatch(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.events:
			l.sinkMu.RLock()
			sink := l.sink
			l.sinkMu.RUnlock()
			fn(sink)
		}
	}
}

func (l *Link) runOps(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-l.ops:
			op()
		}
	}
}

func (l *Link) watchDisconnect(ctx context.Context) {
	monitor, ok := l.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		l.logger.Debug("Client does not support Disconnected() channel")
		return
	}
	select {
	case <-ctx.Done():
	case <-monitor.Disconnected():
		l.logger.WithField("device", l.id).Warn("Sensor reported disconnection")
		l.channelOpen.Store(false)
		l.emit(func(s device.EventSink) { s.OnDisconnected(device.ErrNotConnected) })
	}
}

func (l *Link) enqueue(op func()) error {
	if l.ctx.Err() != nil {
		return fmt.Errorf("%w: %v", device.ErrNotConnected, context.Cause(l.ctx))
	}
	select {
	case l.ops <- op:
		return nil
	case <-l.ctx.Done():
		return fmt.Errorf("%w: %v", device.ErrNotConnected, context.Cause(l.ctx))
	}
}

func (l *Link) lookup(h device.Handle) (*characteristic, error) {
	key := device.Handle{Service: bledb.NormalizeUUID(h.Service), Characteristic: bledb.NormalizeUUID(h.Characteristic)}
	c, ok := l.chars[key]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{h.Service, h.Characteristic}}
	}
	return c, nil
}

// Write implements device.Link. The result is reported through OnWriteResult.
func (l *Link) Write(h device.Handle, data []byte) error {
	c, err := l.lookup(h)
	if err != nil {
		return err
	}
	payload := append([]byte(nil), data...)
	noRsp := !c.props.Has(device.PropWrite) && c.props.Has(device.PropWriteWithoutResponse)
	return l.enqueue(func() {
		err := NormalizeError(l.client.WriteCharacteristic(c.ble, payload, noRsp))
		l.emit(func(s device.EventSink) { s.OnWriteResult(h, err) })
	})
}

// Read implements device.Link. The value is delivered through OnNotify.
func (l *Link) Read(h device.Handle) error {
	c, err := l.lookup(h)
	if err != nil {
		return err
	}
	return l.enqueue(func() {
		data, err := l.client.ReadCharacteristic(c.ble)
		if err != nil {
			l.logger.WithFields(logrus.Fields{
				"characteristic": h.Characteristic,
				"error":          NormalizeError(err),
			}).Warn("Characteristic read failed")
			return
		}
		l.emit(func(s device.EventSink) { s.OnNotify(h, data) })
	})
}

// OpenChannel implements device.Link by subscribing to the stream
// characteristic. The outcome is reported through OnChannelOpen.
func (l *Link) OpenChannel(code uint16) error {
	c, err := l.lookup(device.Handle{Service: bledb.FifoService, Characteristic: bledb.FifoStreamChar})
	if err != nil {
		return err
	}
	return l.enqueue(func() {
		l.logger.WithFields(logrus.Fields{
			"device": l.id,
			"code":   code,
		}).Debug("Opening stream channel")
		err := l.subscribe(c, func(data []byte) {
			l.emit(func(s device.EventSink) { s.OnChannelData(data) })
		})
		if err == nil {
			l.channelOpen.Store(true)
		}
		l.emit(func(s device.EventSink) { s.OnChannelOpen(err) })
	})
}

// Close unsubscribes, stops the delivery goroutines and drops the connection.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.subsMu.Lock()
		subs := l.subscribed
		l.subscribed = nil
		l.subsMu.Unlock()
		for _, c := range subs {
			if uerr := l.client.Unsubscribe(c, false); uerr != nil {
				l.logger.WithFields(logrus.Fields{
					"characteristic": c.UUID.String(),
					"error":          uerr,
				}).Debug("Unsubscribe failed")
			}
		}

		l.channelOpen.Store(false)
		l.cancel(device.ErrNotConnected)
		l.wg.Wait()
		err = NormalizeError(l.client.CancelConnection())
		l.logger.WithField("device", l.id).Info("Sensor disconnected")
	})
	return err
}

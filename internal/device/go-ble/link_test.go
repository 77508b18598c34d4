package goble

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/stingray/internal/bledb"
	"github.com/srg/stingray/internal/codec"
	"github.com/srg/stingray/internal/device"
	"github.com/srg/stingray/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type write struct {
	uuid  string
	data  []byte
	noRsp bool
}

// fakeClient is an in-memory GATT peer.
type fakeClient struct {
	mu           sync.Mutex
	profile      *ble.Profile
	values       map[string][]byte
	handlers     map[string]ble.NotificationHandler
	writes       []write
	writeErr     error
	unsubscribed int
	cancelled    bool
	disconnected chan struct{}
}

func char(uuid string, p ble.Property) *ble.Characteristic {
	return &ble.Characteristic{UUID: ble.MustParse(uuid), Property: p}
}

func newFakeClient() *fakeClient {
	rn := ble.CharRead | ble.CharNotify
	return &fakeClient{
		profile: &ble.Profile{Services: []*ble.Service{
			{UUID: ble.MustParse(bledb.ControlService), Characteristics: []*ble.Characteristic{
				char(bledb.CommandChar, rn|ble.CharWrite),
				char(bledb.ErrorChar, rn),
				char(bledb.FatigueChar, rn),
				char(bledb.SampleRateChar, rn),
				char(bledb.ImuProfileChar, rn),
			}},
			{UUID: ble.MustParse(bledb.FifoService), Characteristics: []*ble.Characteristic{
				char(bledb.FifoStreamChar, ble.CharNotify),
				char(bledb.FifoStatusChar, rn),
				char(bledb.FifoChannelSetupChar, ble.CharRead),
			}},
			{UUID: ble.MustParse("180a"), Characteristics: []*ble.Characteristic{
				char("2a29", ble.CharRead),
			}},
		}},
		values: map[string][]byte{
			bledb.NormalizeUUID(bledb.FifoChannelSetupChar): {0x80, 0x00},
			bledb.NormalizeUUID(bledb.SampleRateChar):       {0x64, 0x00},
		},
		handlers:     make(map[string]ble.NotificationHandler),
		disconnected: make(chan struct{}),
	}
}

func key(c *ble.Characteristic) string {
	return bledb.NormalizeUUID(c.UUID.String())
}

func (f *fakeClient) Name() string { return "Stingray-L" }

func (f *fakeClient) DiscoverProfile(bool) (*ble.Profile, error) { return f.profile, nil }

func (f *fakeClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key(c)]
	if !ok {
		return nil, errors.New("read not permitted")
	}
	return v, nil
}

func (f *fakeClient) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, write{uuid: key(c), data: value, noRsp: noRsp})
	return f.writeErr
}

func (f *fakeClient) Subscribe(c *ble.Characteristic, _ bool, h ble.NotificationHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[key(c)] = h
	return nil
}

func (f *fakeClient) Unsubscribe(*ble.Characteristic, bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed++
	return nil
}

func (f *fakeClient) ExchangeMTU(int) (int, error) { return 185, nil }
func (f *fakeClient) ReadRSSI() int                { return -61 }

func (f *fakeClient) CancelConnection() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = true
	return nil
}

func (f *fakeClient) Disconnected() <-chan struct{} { return f.disconnected }

func (f *fakeClient) notify(uuid string, data []byte) bool {
	f.mu.Lock()
	h, ok := f.handlers[bledb.NormalizeUUID(uuid)]
	f.mu.Unlock()
	if ok {
		h(data)
	}
	return ok
}

func (f *fakeClient) subscribed(uuid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[bledb.NormalizeUUID(uuid)]
	return ok
}

func (f *fakeClient) writeLog() []write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]write(nil), f.writes...)
}

type owner struct{}

func (owner) LogEvent(event.Kind, string, map[string]string) {}
func (owner) ActivityProfile() (byte, bool)                   { return 0x01, true }

type sink struct {
	mu      sync.Mutex
	batches [][]codec.IMUSample
}

func (s *sink) AddSamples(_ device.Location, samples []codec.IMUSample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, samples)
	return true
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type LinkTestSuite struct {
	suite.Suite
	client  *fakeClient
	link    *Link
	session *device.Session
	sink    *sink
}

func (s *LinkTestSuite) SetupTest() {
	s.client = newFakeClient()
	link, err := newLink(context.Background(), "AA:BB", s.client, nil, quietLogger())
	s.Require().NoError(err)
	s.link = link
	s.sink = &sink{}
	s.session = device.NewSession(link, owner{}, s.sink, nil, quietLogger())
	loc := device.RightFoot
	s.session.SetLocation(&loc)
}

func (s *LinkTestSuite) TearDownTest() {
	_ = s.link.Close()
}

func (s *LinkTestSuite) eventually(cond func() bool) {
	s.Eventually(cond, 2*time.Second, 5*time.Millisecond)
}

func (s *LinkTestSuite) TestDiscoveredFollowsCatalog() {
	chars := s.link.Discovered()
	s.Len(chars, 8)
	s.Equal(bledb.RoleCommand, bledb.CharacteristicRole(chars[0].Service, chars[0].Characteristic))
	s.True(chars[0].Properties.Has(device.PropWrite | device.PropNotify))
	s.Equal("Stingray-L", s.link.Name())
	s.Equal(-61, s.link.RSSI())
}

func (s *LinkTestSuite) TestStartCompletesHandshake() {
	s.link.Start(s.session)

	s.eventually(func() bool { return s.session.StreamState() == device.StreamChannelOpen })
	s.True(s.client.subscribed(bledb.FifoStreamChar))
	s.True(s.client.subscribed(bledb.CommandChar))

	writes := s.client.writeLog()
	s.Require().NotEmpty(writes)
	s.Equal(codec.ProfilePacket(0x01), writes[0].data)
	s.False(writes[0].noRsp)

	s.eventually(func() bool {
		rate := s.session.Telemetry().SampleRate
		return rate != nil && *rate == 100
	})
}

func (s *LinkTestSuite) TestNotificationsAndStreamDelivered() {
	s.link.Start(s.session)
	s.eventually(func() bool { return s.session.StreamState() == device.StreamChannelOpen })

	s.True(s.client.notify(bledb.CommandChar, []byte{codec.CmdRunning}))
	s.eventually(func() bool { return s.session.Telemetry().CommandState() == codec.StateRunning })

	frame := codec.EncodeStreamFrame([]codec.IMUSample{{Position: 1}, {Position: 2}})
	s.True(s.client.notify(bledb.FifoStreamChar, frame[:10]))
	s.True(s.client.notify(bledb.FifoStreamChar, frame[10:]))
	s.eventually(func() bool { return s.sink.count() == 1 })
	s.Equal(device.StreamReceiving, s.session.StreamState())
}

func (s *LinkTestSuite) TestWriteFailureReported() {
	s.client.writeErr = errors.New("write not permitted")
	s.link.Start(s.session)
	s.eventually(func() bool { return s.session.Telemetry().WriteError != "" })
}

func (s *LinkTestSuite) TestUnknownHandle() {
	err := s.link.Write(device.Handle{Service: "ffff", Characteristic: "eeee"}, []byte{1})
	var nf *device.NotFoundError
	s.ErrorAs(err, &nf)
}

func (s *LinkTestSuite) TestDisconnectClosesChannel() {
	s.link.Start(s.session)
	s.eventually(func() bool { return s.session.StreamState() == device.StreamChannelOpen })
	close(s.client.disconnected)
	s.eventually(func() bool { return s.session.StreamState() == device.StreamClosed })
}

func (s *LinkTestSuite) TestDisconnectReportedToSession() {
	gone := make(chan device.Identity, 1)
	s.session.SetDisconnectHandler(func(id device.Identity) { gone <- id })
	s.link.Start(s.session)
	s.eventually(func() bool { return s.session.StreamState() == device.StreamChannelOpen })

	close(s.client.disconnected)
	select {
	case id := <-gone:
		s.Equal(s.link.Identity(), id)
	case <-time.After(time.Second):
		s.Fail("disconnect handler not called")
	}
	s.Equal(device.StreamClosed, s.session.StreamState())
}

func (s *LinkTestSuite) TestClose() {
	s.link.Start(s.session)
	s.eventually(func() bool { return s.session.StreamState() == device.StreamChannelOpen })
	s.Require().NoError(s.link.Close())
	s.True(s.client.cancelled)
	s.Positive(s.client.unsubscribed)

	err := s.link.Write(device.Handle{Service: bledb.ControlService, Characteristic: bledb.CommandChar}, []byte{1})
	s.True(device.IsConnectionState(err, device.NotConnected))
}

func TestLinkTestSuite(t *testing.T) {
	suite.Run(t, new(LinkTestSuite))
}

func TestNewProperties(t *testing.T) {
	p := NewProperties(ble.CharRead | ble.CharWriteNR | ble.CharIndicate | ble.CharBroadcast)
	assert.True(t, p.Has(device.PropRead|device.PropWriteWithoutResponse|device.PropIndicate))
	assert.False(t, p.Has(device.PropWrite))
	assert.False(t, p.Has(device.PropNotify))
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		msg   string
		state device.ConnectionState
	}{
		{"central manager has invalid state: have=4 want=5: is Bluetooth turned on?", device.BluetoothOff},
		{"Bluetooth is turned off", device.BluetoothOff},
		{"device not connected", device.NotConnected},
		{"connection is not initialized", device.NotConnected},
		{"device already connected", device.AlreadyConnected},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.True(t, device.IsConnectionState(NormalizeError(errors.New(tt.msg)), tt.state))
		})
	}
	assert.Nil(t, NormalizeError(nil))

	plain := errors.New("something else")
	assert.Equal(t, plain, NormalizeError(plain))
}

func TestAdvertisementIsSensor(t *testing.T) {
	adv := Advertisement{Services: []string{bledb.NormalizeUUID(bledb.ControlService)}}
	assert.True(t, adv.IsSensor())
	assert.False(t, Advertisement{Services: []string{"180f"}}.IsSensor())
}

func TestDialRejectsEmptyAddress(t *testing.T) {
	_, err := Dial(context.Background(), " ", nil, quietLogger())
	require.Error(t, err)
}

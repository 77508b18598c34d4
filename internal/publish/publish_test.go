package publish

import (
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/stingray/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done bool
	err  error
}

func (t fakeToken) WaitTimeout(time.Duration) bool { return t.done }
func (t fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	token        fakeToken
	sent         []published
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) token {
	c.sent = append(c.sent, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return c.token
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestMQTTPublishesJSONEvent(t *testing.T) {
	c := &fakeClient{token: fakeToken{done: true}}
	p := newMQTT(c, MQTTOptions{TopicPrefix: "gym/", QoS: 1}, quietLogger())

	e := event.Event{Kind: event.Start, Timestamp: time.Unix(100, 0).UTC(), Fields: map[string]string{"activity": "running"}}
	require.NoError(t, p.Publish("abc", e))

	require.Len(t, c.sent, 1)
	assert.Equal(t, "gym/abc/events", c.sent[0].topic)
	assert.Equal(t, byte(1), c.sent[0].qos)

	var got event.Event
	require.NoError(t, json.Unmarshal(c.sent[0].payload, &got))
	assert.Equal(t, e, got)

	p.Close()
	assert.True(t, c.disconnected)
}

func TestMQTTPublishFailures(t *testing.T) {
	tests := []struct {
		name  string
		token fakeToken
		want  string
	}{
		{name: "timeout", token: fakeToken{done: false}, want: "timed out"},
		{name: "broker error", token: fakeToken{done: true, err: errors.New("not authorized")}, want: "not authorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newMQTT(&fakeClient{token: tt.token}, MQTTOptions{}, quietLogger())
			err := p.Publish("s", event.Event{Kind: event.Note})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDefaultTopicPrefix(t *testing.T) {
	p := newMQTT(&fakeClient{}, MQTTOptions{}, quietLogger())
	assert.Equal(t, "stingray/run-1/events", p.Topic("run-1"))
}

func TestNewMQTTRequiresBroker(t *testing.T) {
	_, err := NewMQTT(MQTTOptions{}, quietLogger())
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop.Publish("s", event.Event{}))
	Nop.Close()
}

// Package publish forwards session events to an external uplink.
package publish

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/srg/stingray/internal/event"
)

// Publisher delivers one event of a run identified by session.
type Publisher interface {
	Publish(session string, e event.Event) error
	Close()
}

// Nop drops every event.
var Nop Publisher = nop{}

type nop struct{}

func (nop) Publish(string, event.Event) error { return nil }
func (nop) Close()                            {}

// MQTTOptions configures the MQTT uplink.
type MQTTOptions struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Timeout     time.Duration
}

// token is the subset of mqtt.Token used for publishing.
type token interface {
	WaitTimeout(time.Duration) bool
	Error() error
}

// client is the subset of mqtt.Client used by MQTTPublisher.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) token
	Disconnect(quiesce uint)
}

type pahoClient struct {
	mqtt.Client
}

func (c pahoClient) Publish(topic string, qos byte, retained bool, payload interface{}) token {
	return c.Client.Publish(topic, qos, retained, payload)
}

// MQTTPublisher publishes events as JSON to <prefix>/<session>/events.
type MQTTPublisher struct {
	client client
	opts   MQTTOptions
	logger *logrus.Logger
}

// NewMQTT connects to the broker.
func NewMQTT(opts MQTTOptions, logger *logrus.Logger) (*MQTTPublisher, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetCleanSession(true)

	c := mqtt.NewClient(co)
	if t := c.Connect(); t.Wait() && t.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", t.Error())
	}
	logger.WithField("broker", opts.Broker).Info("MQTT uplink connected")
	return newMQTT(pahoClient{c}, opts, logger), nil
}

func newMQTT(c client, opts MQTTOptions, logger *logrus.Logger) *MQTTPublisher {
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "stingray"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &MQTTPublisher{client: c, opts: opts, logger: logger}
}

// Topic returns the topic events of session are published to.
func (p *MQTTPublisher) Topic(session string) string {
	return strings.TrimSuffix(p.opts.TopicPrefix, "/") + "/" + session + "/events"
}

// Publish sends e and waits for the broker acknowledgement up to the configured timeout.
func (p *MQTTPublisher) Publish(session string, e event.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	topic := p.Topic(session)
	t := p.client.Publish(topic, p.opts.QoS, false, payload)
	if !t.WaitTimeout(p.opts.Timeout) {
		return fmt.Errorf("publish to %s timed out after %s", topic, p.opts.Timeout)
	}
	if err := t.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	p.logger.WithFields(logrus.Fields{
		"topic": topic,
		"kind":  e.Kind,
	}).Debug("Event published")
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

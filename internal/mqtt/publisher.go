// Package mqtt publishes check-ins to an MQTT broker, where door displays
// and home automation pick them up.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/detection"
)

const (
	connectTimeout = 30 * time.Second
	statusSuffix   = "/status"
)

// client is the part of paho.Client the publisher uses.
type client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// message is the JSON payload of every publish.
type message struct {
	Type     string             `json:"type"`
	CheckIn  *detection.CheckIn `json:"checkin,omitempty"`
	Degraded *bool              `json:"degraded,omitempty"`
	Error    string             `json:"error,omitempty"`
	At       time.Time          `json:"at"`
}

// Publisher is a detection.Sink backed by an MQTT connection.
type Publisher struct {
	client client
	topic  string
	now    func() time.Time
}

var _ detection.Sink = (*Publisher)(nil)

// Connect dials the broker and returns a publisher for cfg.Topic.
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("MQTT broker not configured")
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(paho.Client) {
		slog.Info("connected to MQTT broker", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		slog.Warn("lost connection to MQTT broker", "broker", cfg.Broker, "error", err)
	})

	c := paho.NewClient(opts)
	if err := wait(ctx, c.Connect(), connectTimeout); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	return newPublisher(c, cfg.Topic), nil
}

func newPublisher(c client, topic string) *Publisher {
	return &Publisher{client: c, topic: topic, now: time.Now}
}

// Name implements detection.Sink.
func (p *Publisher) Name() string { return "mqtt" }

// CheckIn publishes one check-in to the configured topic.
func (p *Publisher) CheckIn(ctx context.Context, ev detection.CheckIn) error {
	return p.publish(ctx, p.topic, false, message{Type: detection.EventCheckIn, CheckIn: &ev, At: p.now()})
}

// Degraded publishes a retained status message, so a display connecting
// later still sees the store is down.
func (p *Publisher) Degraded(ctx context.Context, degraded bool, cause error) error {
	msg := message{Type: detection.EventDegraded, Degraded: &degraded, At: p.now()}
	if cause != nil {
		msg.Error = cause.Error()
	}
	return p.publish(ctx, p.topic+statusSuffix, true, msg)
}

func (p *Publisher) publish(ctx context.Context, topic string, retained bool, msg message) error {
	if !p.client.IsConnected() {
		return errors.New("not connected to MQTT broker")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := wait(ctx, p.client.Publish(topic, 0, retained, payload), 0); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects, giving in-flight messages 250ms.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

// wait blocks until the token completes, ctx ends or timeout (when
// positive) passes.
func wait(ctx context.Context, token paho.Token, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return errors.New("timeout")
	}
}

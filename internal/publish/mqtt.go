// Package publish pushes device fingerprints to an MQTT broker, one
// retained-or-not message per device under a common topic prefix.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"sramprint/internal/config"
	"sramprint/internal/report"
)

var (
	ErrNotConnected = errors.New("publish: mqtt not connected")
	ErrTimeout      = errors.New("publish: timeout")
)

// Options configures a Publisher.
type Options struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Retain      bool
	Timeout     time.Duration
}

// OptionsFromConfig converts the publish section of the configuration.
func OptionsFromConfig(c config.PublishConfig) Options {
	return Options{
		Broker:      c.Broker,
		ClientID:    c.ClientID,
		Username:    c.Username,
		Password:    c.Password,
		TopicPrefix: strings.TrimSuffix(c.TopicPrefix, "/"),
		QoS:         byte(c.QoS),
		Retain:      c.Retain,
		Timeout:     time.Duration(c.TimeoutSec) * time.Second,
	}
}

// Message is the payload published for one device.
type Message struct {
	RunID         string    `json:"run_id"`
	DeviceID      string    `json:"device_id"`
	Algorithm     string    `json:"algorithm"`
	Digest        string    `json:"digest"`
	ReferenceBits int       `json:"reference_bits"`
	Masked        int       `json:"masked"`
	Samples       int       `json:"samples"`
	Matches       *bool     `json:"matches,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Publisher sends fingerprints to an MQTT broker.
type Publisher struct {
	opts   Options
	client mqtt.Client
	log    *slog.Logger

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// New creates a publisher with a paho client built from opts.
func New(opts Options, logger *slog.Logger) *Publisher {
	p := &Publisher{opts: opts, log: logger}
	if p.log == nil {
		p.log = slog.Default()
	}

	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetConnectRetry(false)
	co.SetMaxReconnectInterval(30 * time.Second)
	co.SetConnectTimeout(opts.Timeout)

	co.OnConnect = func(mqtt.Client) {
		p.setConnected(true)
		p.log.Info("mqtt connection established", "broker", opts.Broker, "client_id", opts.ClientID)
	}
	co.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.setConnected(false)
		p.log.Warn("mqtt connection lost", "broker", opts.Broker, "error", err)
	}

	p.client = mqtt.NewClient(co)
	return p
}

// NewWithClient wraps an existing client.
func NewWithClient(client mqtt.Client, opts Options, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{opts: opts, client: client, log: logger}
}

// Connect establishes the broker connection.
func (p *Publisher) Connect(ctx context.Context) error {
	p.log.Info("connecting to mqtt broker", "broker", p.opts.Broker)
	if err := p.wait(ctx, p.client.Connect()); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.setConnected(true)
	return nil
}

// Topic returns the topic a device's fingerprint is published on.
func (p *Publisher) Topic(deviceID string) string {
	return p.opts.TopicPrefix + "/" + deviceID
}

// Publish sends one message.
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	if !p.isConnected() {
		p.countError()
		return ErrNotConnected
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		p.countError()
		return fmt.Errorf("marshal message: %w", err)
	}

	topic := p.Topic(msg.DeviceID)
	if err := p.wait(ctx, p.client.Publish(topic, p.opts.QoS, p.opts.Retain, payload)); err != nil {
		p.countError()
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()

	p.log.Debug("fingerprint published", "topic", topic, "qos", p.opts.QoS, "size", len(payload))
	return nil
}

// PublishReport publishes every device of r that has a fingerprint and
// returns how many were sent. It keeps going past individual failures.
func (p *Publisher) PublishReport(ctx context.Context, r *report.Report) (int, error) {
	var (
		sent int
		errs []error
	)
	for _, d := range r.Devices {
		if d.Fingerprint == nil {
			continue
		}
		msg := Message{
			RunID:         r.RunID,
			DeviceID:      d.ID,
			Algorithm:     d.Fingerprint.Algorithm,
			Digest:        d.Fingerprint.Digest,
			ReferenceBits: d.Fingerprint.ReferenceBits,
			Masked:        d.Fingerprint.Masked,
			Samples:       d.Samples,
			Matches:       d.Fingerprint.Matches,
			CreatedAt:     r.CreatedAt,
		}
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
			if errors.Is(err, ErrNotConnected) || ctx.Err() != nil {
				break
			}
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

// Disconnect closes the connection with a short grace period.
func (p *Publisher) Disconnect() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
		p.log.Info("mqtt disconnected")
	}
	p.setConnected(false)
}

// Stats contains publisher statistics.
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// Stats returns publisher statistics.
func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{Connected: p.connected, Published: p.published, Errors: p.errors}
}

func (p *Publisher) wait(ctx context.Context, token mqtt.Token) error {
	timeout := p.opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *Publisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *Publisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}

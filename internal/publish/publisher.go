package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/adbmux/internal/device"
	"github.com/nerrad567/adbmux/internal/infrastructure/mqtt"
	"github.com/nerrad567/adbmux/internal/runner"
)

// Logger defines the logging interface used by publishers.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client is the MQTT surface publishers need.
// *mqtt.Client satisfies it.
type Client interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the client is connected.
	IsConnected() bool
}

// Publisher mirrors device changes and command results onto MQTT.
//
// Every changeset is published once as an event, and each affected device's
// retained state topic is updated: added and changed devices get their new
// record, removed devices get an empty retained payload, which deletes the
// retained message on the broker.
type Publisher struct {
	client Client
	topics mqtt.Topics
	qos    byte
	now    func() time.Time

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a publisher.
//
// Parameters:
//   - client: Connected (or reconnecting) MQTT client
//   - topics: Topic builders, normally client.Topics()
//   - qos: QoS for every message
//
// Returns:
//   - *Publisher: Ready to use
//   - error: ErrNilClient
func New(client Client, topics mqtt.Topics, qos byte) (*Publisher, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &Publisher{
		client: client,
		topics: topics,
		qos:    qos,
		now:    time.Now,
		logger: noopLogger{},
	}, nil
}

// SetLogger sets the logger for publish failures.
func (p *Publisher) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

func (p *Publisher) getLogger() Logger {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	return p.logger
}

// PublishChangeset publishes the change event, then the per-device state
// updates. It keeps going after a failed message and returns all failures
// joined. An empty changeset publishes nothing.
func (p *Publisher) PublishChangeset(cs device.Changeset) error {
	if cs.Empty() {
		return nil
	}
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	now := p.now()
	var errs []error

	if err := p.publishJSON(p.topics.DeviceChanges(), NewChangeMessage(cs, now), false); err != nil {
		errs = append(errs, err)
	}

	for _, rec := range cs.Added {
		errs = appendErr(errs, p.publishState(rec, now))
	}
	for _, rec := range cs.Changed {
		errs = appendErr(errs, p.publishState(rec, now))
	}
	for _, rec := range cs.Removed {
		if err := p.client.Publish(p.topics.DeviceState(rec.ID), nil, p.qos, true); err != nil {
			errs = append(errs, fmt.Errorf("clearing state of %s: %w", rec.ID, err))
		}
	}

	return errors.Join(errs...)
}

// PublishSnapshot publishes the retained state of every record. It is used
// at startup and after a reconnect so the broker holds current state.
func (p *Publisher) PublishSnapshot(records []device.Record) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	now := p.now()
	var errs []error
	for _, rec := range records {
		errs = appendErr(errs, p.publishState(rec, now))
	}
	return errors.Join(errs...)
}

// PublishResult publishes one command result.
func (p *Publisher) PublishResult(res runner.Result) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	return p.publishJSON(p.topics.CommandResults(), NewResultMessage(res), false)
}

// Listener returns a change listener that publishes every changeset and
// logs failures.
func (p *Publisher) Listener() func(device.Changeset) {
	return func(cs device.Changeset) {
		if err := p.PublishChangeset(cs); err != nil {
			p.logFailure("failed to publish changeset", err)
		}
	}
}

// Reporter returns a runner reporter that publishes each result.
func (p *Publisher) Reporter() runner.Reporter {
	return func(res runner.Result) {
		if err := p.PublishResult(res); err != nil {
			p.logFailure("failed to publish command result", err, "device", res.Device.ID)
		}
	}
}

func (p *Publisher) publishState(rec device.Record, now time.Time) error {
	if err := p.publishJSON(p.topics.DeviceState(rec.ID), NewStateMessage(rec, now), true); err != nil {
		return fmt.Errorf("state of %s: %w", rec.ID, err)
	}
	return nil
}

func (p *Publisher) publishJSON(topic string, msg any, retained bool) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", topic, err)
	}
	return p.client.Publish(topic, payload, p.qos, retained)
}

// logFailure logs at debug while offline since the broker will get the
// state again after reconnecting.
func (p *Publisher) logFailure(msg string, err error, args ...any) {
	args = append(args, "error", err)
	if errors.Is(err, ErrNotConnected) {
		p.getLogger().Debug(msg, args...)
		return
	}
	p.getLogger().Error(msg, args...)
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}

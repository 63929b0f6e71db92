// Package rabbitmq publishes parking session events to RabbitMQ queues.
//
// Each event kind goes to its own durable queue through the default exchange
// as a persistent JSON message. Publishing failures are logged and never
// block the engine.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xraph/parking"
	"github.com/xraph/parking/plugin"
	"github.com/xraph/parking/session"
)

// Queue names, one per event kind.
const (
	QueueSessionOpened   = "parking.session.opened"
	QueueSessionClosed   = "parking.session.closed"
	QueueSessionOverstay = "parking.session.overstay"
	QueueEntryRejected   = "parking.entry.rejected"
)

var queues = []string{
	QueueSessionOpened,
	QueueSessionClosed,
	QueueSessionOverstay,
	QueueEntryRejected,
}

// Compile-time interface checks.
var (
	_ plugin.Plugin            = (*Publisher)(nil)
	_ plugin.OnInit            = (*Publisher)(nil)
	_ plugin.OnShutdown        = (*Publisher)(nil)
	_ plugin.OnSessionOpened   = (*Publisher)(nil)
	_ plugin.OnSessionClosed   = (*Publisher)(nil)
	_ plugin.OnSessionOverstay = (*Publisher)(nil)
	_ plugin.OnEntryRejected   = (*Publisher)(nil)
)

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Event is the JSON body of every published message.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	VehicleID string    `json:"vehicle_id"`
	SpaceID   string    `json:"space_id,omitempty"`
	LotID     string    `json:"lot_id,omitempty"`
	EntryTime time.Time `json:"entry_time,omitzero"`
	ExitTime  time.Time `json:"exit_time,omitzero"`
	Stayed    string    `json:"stayed,omitempty"`
	Fee       int64     `json:"fee,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher is a parking plugin that forwards session events to RabbitMQ.
type Publisher struct {
	mu     sync.Mutex
	ch     Channel
	conn   *amqp.Connection
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger for the publisher.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// WithClock overrides the message timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

// New creates a Publisher on an open channel. The caller keeps ownership of
// the connection behind ch.
func New(ch Channel, opts ...Option) *Publisher {
	p := &Publisher{
		ch:     ch,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dial connects to url and creates a Publisher that owns the connection.
func Dial(url string, opts ...Option) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	p := New(ch, opts...)
	p.conn = conn
	return p, nil
}

// Name implements plugin.Plugin.
func (p *Publisher) Name() string { return "rabbitmq-publisher" }

// OnInit implements plugin.OnInit. It declares the event queues, which is
// idempotent on the broker.
func (p *Publisher) OnInit(_ context.Context, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, q := range queues {
		if _, err := p.ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("rabbitmq: declare %s: %w", q, err)
		}
	}
	return nil
}

// OnShutdown implements plugin.OnShutdown.
func (p *Publisher) OnShutdown(_ context.Context) error {
	return p.Close()
}

// Close closes the channel, and the connection when the publisher dialed it.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
		p.conn = nil
	}
	return err
}

// ──────────────────────────────────────────────────
// Session hooks
// ──────────────────────────────────────────────────

// OnSessionOpened implements plugin.OnSessionOpened.
func (p *Publisher) OnSessionOpened(ctx context.Context, s *session.Session) error {
	evt := sessionEvent(QueueSessionOpened, s)
	p.publish(ctx, QueueSessionOpened, evt)
	return nil
}

// OnSessionClosed implements plugin.OnSessionClosed.
func (p *Publisher) OnSessionClosed(ctx context.Context, s *session.Session, stayed time.Duration) error {
	evt := sessionEvent(QueueSessionClosed, s)
	evt.Stayed = stayed.String()
	if s.ExitTime != nil {
		evt.ExitTime = *s.ExitTime
	}
	if s.Fee != nil {
		evt.Fee = s.Fee.Amount
		evt.Currency = s.Fee.Currency
	}
	p.publish(ctx, QueueSessionClosed, evt)
	return nil
}

// OnSessionOverstay implements plugin.OnSessionOverstay.
func (p *Publisher) OnSessionOverstay(ctx context.Context, s *session.Session, stayed time.Duration) error {
	evt := sessionEvent(QueueSessionOverstay, s)
	evt.Stayed = stayed.String()
	p.publish(ctx, QueueSessionOverstay, evt)
	return nil
}

// OnEntryRejected implements plugin.OnEntryRejected.
func (p *Publisher) OnEntryRejected(ctx context.Context, vehicleID, lotID string, reason error) error {
	evt := &Event{
		Type:      QueueEntryRejected,
		VehicleID: vehicleID,
		LotID:     lotID,
		Kind:      string(parking.KindOf(reason)),
	}
	if reason != nil {
		evt.Reason = reason.Error()
	}
	p.publish(ctx, QueueEntryRejected, evt)
	return nil
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func sessionEvent(typ string, s *session.Session) *Event {
	return &Event{
		Type:      typ,
		SessionID: s.ID.String(),
		VehicleID: s.VehicleID,
		SpaceID:   s.SpaceID.String(),
		LotID:     s.LotID,
		EntryTime: s.EntryTime,
	}
}

// publish sends evt to queue. Failures are logged only.
func (p *Publisher) publish(ctx context.Context, queue string, evt *Event) {
	evt.Timestamp = p.now().UTC()
	body, err := json.Marshal(evt)
	if err != nil {
		p.logger.Warn("rabbitmq: marshal event failed", "queue", queue, "error", err)
		return
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    evt.Timestamp,
		Body:         body,
	}

	p.mu.Lock()
	err = p.ch.PublishWithContext(ctx, "", queue, false, false, msg)
	p.mu.Unlock()
	if err != nil {
		p.logger.Warn("rabbitmq: publish failed",
			"queue", queue,
			"vehicle_id", evt.VehicleID,
			"error", err,
		)
	}
}

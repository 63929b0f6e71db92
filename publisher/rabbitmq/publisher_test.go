package rabbitmq_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xraph/parking"
	"github.com/xraph/parking/publisher/rabbitmq"
	"github.com/xraph/parking/rateplan"
	"github.com/xraph/parking/space"
	"github.com/xraph/parking/store/memory"
	"github.com/xraph/parking/types"
)

type published struct {
	key string
	msg amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	published  []published
	publishErr error
	closed     bool
}

func (c *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	if exchange != "" {
		return errors.New("expected default exchange")
	}
	c.published = append(c.published, published{key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

var t0 = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func startEngine(t *testing.T, ch *fakeChannel) *parking.Parking {
	t.Helper()
	pub := rabbitmq.New(ch,
		rabbitmq.WithLogger(slog.New(slog.DiscardHandler)),
		rabbitmq.WithClock(func() time.Time { return t0 }),
	)
	p := parking.New(memory.New(),
		parking.WithLogger(slog.New(slog.DiscardHandler)),
		parking.WithClock(func() time.Time { return t0 }),
		parking.WithPlugin(pub),
	)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx := context.Background()
	if err := p.SetRatePlan(ctx, &rateplan.Plan{Class: "standard", Base: types.USD(5), Hourly: types.USD(3)}); err != nil {
		t.Fatalf("SetRatePlan: %v", err)
	}
	if err := p.ProvisionSpace(ctx, &space.Space{LotID: "lot-1", Class: "standard"}); err != nil {
		t.Fatalf("ProvisionSpace: %v", err)
	}
	return p
}

func TestPublisherForwardsSessionEvents(t *testing.T) {
	ctx := context.Background()
	ch := &fakeChannel{}
	p := startEngine(t, ch)

	if len(ch.declared) != 4 {
		t.Fatalf("declared queues: got %v", ch.declared)
	}

	entry, err := p.EnterVehicle(ctx, "ABC123", "lot-1", "standard", t0)
	if err != nil {
		t.Fatalf("EnterVehicle: %v", err)
	}
	_, _ = p.EnterVehicle(ctx, "XYZ999", "lot-1", "standard", t0)
	if _, err := p.ExitVehicle(ctx, "ABC123", t0.Add(90*time.Minute)); err != nil {
		t.Fatalf("ExitVehicle: %v", err)
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !ch.closed {
		t.Error("channel not closed on shutdown")
	}

	wantKeys := []string{
		rabbitmq.QueueSessionOpened,
		rabbitmq.QueueEntryRejected,
		rabbitmq.QueueSessionClosed,
	}
	if len(ch.published) != len(wantKeys) {
		t.Fatalf("published: got %d messages, want %d", len(ch.published), len(wantKeys))
	}
	for i, want := range wantKeys {
		got := ch.published[i]
		if got.key != want {
			t.Errorf("message %d: routing key %q, want %q", i, got.key, want)
		}
		if got.msg.DeliveryMode != amqp.Persistent || got.msg.ContentType != "application/json" {
			t.Errorf("message %d: not a persistent json message", i)
		}
	}

	var rejected rabbitmq.Event
	if err := json.Unmarshal(ch.published[1].msg.Body, &rejected); err != nil {
		t.Fatalf("decode rejected: %v", err)
	}
	if rejected.VehicleID != "XYZ999" || rejected.Kind != string(parking.KindNoAvailableSpace) {
		t.Errorf("rejected event: %+v", rejected)
	}

	var closed rabbitmq.Event
	if err := json.Unmarshal(ch.published[2].msg.Body, &closed); err != nil {
		t.Fatalf("decode closed: %v", err)
	}
	if closed.SessionID != entry.SessionID.String() || closed.Fee != 8 || closed.Currency != "usd" {
		t.Errorf("closed event: %+v", closed)
	}
	if closed.Stayed != "1h30m0s" || !closed.ExitTime.Equal(t0.Add(90*time.Minute)) {
		t.Errorf("closed timing: %+v", closed)
	}
}

func TestPublishFailureDoesNotFailEntry(t *testing.T) {
	ch := &fakeChannel{publishErr: errors.New("broker gone")}
	p := startEngine(t, ch)
	defer p.Stop()

	if _, err := p.EnterVehicle(context.Background(), "ABC123", "lot-1", "standard", t0); err != nil {
		t.Fatalf("EnterVehicle: %v", err)
	}
	if len(ch.published) != 0 {
		t.Errorf("unexpected messages: %d", len(ch.published))
	}
}

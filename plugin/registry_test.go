package plugin_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/parking/id"
	"github.com/xraph/parking/plugin"
	"github.com/xraph/parking/session"
)

type counting struct {
	name   string
	opened atomic.Int32
	closed atomic.Int32
	fail   bool
}

func (c *counting) Name() string { return c.name }

func (c *counting) OnSessionOpened(context.Context, *session.Session) error {
	c.opened.Add(1)
	if c.fail {
		return errors.New("boom")
	}
	return nil
}

func (c *counting) OnSessionClosed(context.Context, *session.Session, time.Duration) error {
	c.closed.Add(1)
	return nil
}

type slow struct{}

func (slow) Name() string { return "slow" }

func (slow) OnCompensated(ctx context.Context, _ id.SpaceID, _ error) error {
	<-ctx.Done()
	return ctx.Err()
}

func quietRegistry() *plugin.Registry {
	return plugin.NewRegistry().WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterDuplicate(t *testing.T) {
	r := quietRegistry()
	if err := r.Register(&counting{name: "a"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&counting{name: "a"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if r.Count() != 1 {
		t.Errorf("Count: got %d", r.Count())
	}
	if r.Get("a") == nil || r.Get("missing") != nil {
		t.Error("Get returned the wrong plugin")
	}
}

func TestEmitDispatchesOnlyImplementers(t *testing.T) {
	r := quietRegistry()
	a := &counting{name: "a"}
	b := &counting{name: "b", fail: true}
	_ = r.Register(a)
	_ = r.Register(b)
	_ = r.Register(slow{})

	s := &session.Session{ID: id.NewSessionID()}
	r.EmitSessionOpened(context.Background(), s)
	r.EmitSessionClosed(context.Background(), s, time.Hour)
	// No plugin implements OnSpaceRemoved; must be a no-op.
	r.EmitSpaceRemoved(context.Background(), id.NewSpaceID())

	if a.opened.Load() != 1 || b.opened.Load() != 1 {
		t.Errorf("opened: a=%d b=%d", a.opened.Load(), b.opened.Load())
	}
	if a.closed.Load() != 1 || b.closed.Load() != 1 {
		t.Errorf("closed: a=%d b=%d", a.closed.Load(), b.closed.Load())
	}
}

func TestEmitTimeout(t *testing.T) {
	r := quietRegistry().WithTimeout(20 * time.Millisecond)
	_ = r.Register(slow{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	r.EmitCompensated(ctx, id.NewSpaceID(), errors.New("cause"))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("EmitCompensated blocked for %v", elapsed)
	}
}

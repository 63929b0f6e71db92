package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/parking/id"
	"github.com/xraph/parking/rateplan"
	"github.com/xraph/parking/session"
	"github.com/xraph/parking/space"
)

// DefaultTimeout bounds every plugin call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery so emitting an event only touches the plugins
// that implement its hook.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit             []OnInit
	onShutdown         []OnShutdown
	onSpaceProvisioned []OnSpaceProvisioned
	onSpaceRemoved     []OnSpaceRemoved
	onSessionOpened    []OnSessionOpened
	onSessionClosed    []OnSessionClosed
	onEntryRejected    []OnEntryRejected
	onSessionOverstay  []OnSessionOverstay
	onCompensated      []OnCompensated
	onReleaseDesync    []OnReleaseDesync
	onRatePlanChanged  []OnRatePlanChanged
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-call plugin timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnSpaceProvisioned); ok {
		r.onSpaceProvisioned = append(r.onSpaceProvisioned, v)
	}
	if v, ok := p.(OnSpaceRemoved); ok {
		r.onSpaceRemoved = append(r.onSpaceRemoved, v)
	}
	if v, ok := p.(OnSessionOpened); ok {
		r.onSessionOpened = append(r.onSessionOpened, v)
	}
	if v, ok := p.(OnSessionClosed); ok {
		r.onSessionClosed = append(r.onSessionClosed, v)
	}
	if v, ok := p.(OnEntryRejected); ok {
		r.onEntryRejected = append(r.onEntryRejected, v)
	}
	if v, ok := p.(OnSessionOverstay); ok {
		r.onSessionOverstay = append(r.onSessionOverstay, v)
	}
	if v, ok := p.(OnCompensated); ok {
		r.onCompensated = append(r.onCompensated, v)
	}
	if v, ok := p.(OnReleaseDesync); ok {
		r.onReleaseDesync = append(r.onReleaseDesync, v)
	}
	if v, ok := p.(OnRatePlanChanged); ok {
		r.onRatePlanChanged = append(r.onRatePlanChanged, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeOf((*OnInit)(nil)).Elem()},
	{"OnShutdown", reflect.TypeOf((*OnShutdown)(nil)).Elem()},
	{"OnSpaceProvisioned", reflect.TypeOf((*OnSpaceProvisioned)(nil)).Elem()},
	{"OnSpaceRemoved", reflect.TypeOf((*OnSpaceRemoved)(nil)).Elem()},
	{"OnSessionOpened", reflect.TypeOf((*OnSessionOpened)(nil)).Elem()},
	{"OnSessionClosed", reflect.TypeOf((*OnSessionClosed)(nil)).Elem()},
	{"OnEntryRejected", reflect.TypeOf((*OnEntryRejected)(nil)).Elem()},
	{"OnSessionOverstay", reflect.TypeOf((*OnSessionOverstay)(nil)).Elem()},
	{"OnCompensated", reflect.TypeOf((*OnCompensated)(nil)).Elem()},
	{"OnReleaseDesync", reflect.TypeOf((*OnReleaseDesync)(nil)).Elem()},
	{"OnRatePlanChanged", reflect.TypeOf((*OnRatePlanChanged)(nil)).Elem()},
}

// implementedInterfaces returns the hook names a plugin implements.
func implementedInterfaces(p Plugin) []string {
	var names []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// snapshot copies a cached hook list under the read lock.
func snapshot[T any](r *Registry, list *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]T(nil), (*list)...)
}

// dispatch calls fn for each plugin, logging failures at warn.
func dispatch[T Plugin](ctx context.Context, r *Registry, hook string, plugins []T, fn func(T) error) {
	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return fn(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	dispatch(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	dispatch(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitSpaceProvisioned emits a space provisioned event.
func (r *Registry) EmitSpaceProvisioned(ctx context.Context, sp *space.Space) {
	dispatch(ctx, r, "OnSpaceProvisioned", snapshot(r, &r.onSpaceProvisioned), func(p OnSpaceProvisioned) error {
		return p.OnSpaceProvisioned(ctx, sp)
	})
}

// EmitSpaceRemoved emits a space removed event.
func (r *Registry) EmitSpaceRemoved(ctx context.Context, spaceID id.SpaceID) {
	dispatch(ctx, r, "OnSpaceRemoved", snapshot(r, &r.onSpaceRemoved), func(p OnSpaceRemoved) error {
		return p.OnSpaceRemoved(ctx, spaceID)
	})
}

// EmitSessionOpened emits a session opened event.
func (r *Registry) EmitSessionOpened(ctx context.Context, s *session.Session) {
	dispatch(ctx, r, "OnSessionOpened", snapshot(r, &r.onSessionOpened), func(p OnSessionOpened) error {
		return p.OnSessionOpened(ctx, s)
	})
}

// EmitSessionClosed emits a session closed event.
func (r *Registry) EmitSessionClosed(ctx context.Context, s *session.Session, stayed time.Duration) {
	dispatch(ctx, r, "OnSessionClosed", snapshot(r, &r.onSessionClosed), func(p OnSessionClosed) error {
		return p.OnSessionClosed(ctx, s, stayed)
	})
}

// EmitEntryRejected emits an entry rejected event.
func (r *Registry) EmitEntryRejected(ctx context.Context, vehicleID, lotID string, reason error) {
	dispatch(ctx, r, "OnEntryRejected", snapshot(r, &r.onEntryRejected), func(p OnEntryRejected) error {
		return p.OnEntryRejected(ctx, vehicleID, lotID, reason)
	})
}

// EmitSessionOverstay emits an overstay event.
func (r *Registry) EmitSessionOverstay(ctx context.Context, s *session.Session, stayed time.Duration) {
	dispatch(ctx, r, "OnSessionOverstay", snapshot(r, &r.onSessionOverstay), func(p OnSessionOverstay) error {
		return p.OnSessionOverstay(ctx, s, stayed)
	})
}

// EmitCompensated emits a compensation event.
func (r *Registry) EmitCompensated(ctx context.Context, spaceID id.SpaceID, cause error) {
	dispatch(ctx, r, "OnCompensated", snapshot(r, &r.onCompensated), func(p OnCompensated) error {
		return p.OnCompensated(ctx, spaceID, cause)
	})
}

// EmitReleaseDesync emits a release desync event.
func (r *Registry) EmitReleaseDesync(ctx context.Context, s *session.Session, err error) {
	dispatch(ctx, r, "OnReleaseDesync", snapshot(r, &r.onReleaseDesync), func(p OnReleaseDesync) error {
		return p.OnReleaseDesync(ctx, s, err)
	})
}

// EmitRatePlanChanged emits a rate plan changed event.
func (r *Registry) EmitRatePlanChanged(ctx context.Context, plan *rateplan.Plan) {
	dispatch(ctx, r, "OnRatePlanChanged", snapshot(r, &r.onRatePlanChanged), func(p OnRatePlanChanged) error {
		return p.OnRatePlanChanged(ctx, plan)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block entry or exit.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}

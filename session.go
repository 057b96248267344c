// session.go - the Engine/Database surface (SPEC_FULL §6 AMBIENT STACK
// "Configuration"), mirroring how the teacher's DialModernMGO takes a
// connection string and derives session defaults (Mode, Safe). There is
// no network dial here: Open(kv, opts...) plays the same role, wiring a
// host KV implementation and functional options into a ready-to-use
// Engine.

package kvdoc

import (
	"context"
	"log/slog"
	"time"
)

// Clock abstracts the current time, defaulting to time.Now; tests and
// deterministic replays can supply their own.
type Clock func() time.Time

// Engine is the top-level handle returned by Open. It owns no state of
// its own beyond the host KV handle and configuration; Collections are
// cheap views over it.
type Engine struct {
	kv     KV
	logger *slog.Logger
	clock  Clock
}

// Option configures an Engine at Open time.
type Option func(*Engine)

// WithLogger installs a structured logger; nil (the default) disables
// diagnostic logging entirely.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the engine's notion of "now", used nowhere in the
// core write path today but kept as the seam the teacher's session
// defaults (Mode, Safe) occupied, for callers layering TTL or audit
// fields on top of this engine.
func WithClock(clock Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// Open wires a host KV implementation into a ready-to-use Engine.
func Open(kv KV, opts ...Option) *Engine {
	e := &Engine{kv: kv, clock: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine's current time, honoring WithClock.
func (e *Engine) Now() time.Time { return e.clock() }

// Database is a thin namespace grouping Collections, mirroring the
// teacher's ModernDatabase. kvdoc itself has no database-level storage
// concerns (no auth, no separate KV namespace per database beyond the
// collection name prefix already baked into the key layout), so this is
// intentionally a very small type.
type Database struct {
	engine *Engine
	name   string
}

// DB returns a Database namespace backed by this engine.
func (e *Engine) DB(name string) *Database {
	return &Database{engine: e, name: name}
}

// C returns the named Collection, opening it (loading declared index
// metadata) before returning.
func (d *Database) C(ctx context.Context, name string) (*Collection, error) {
	full := d.name + "." + name
	c := newCollection(d.engine, full)
	if err := c.Open(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

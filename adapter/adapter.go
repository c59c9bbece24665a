// Package adapter defines the optional fan-out boundary between the
// daemon's in-process event bus (internal/events) and external systems:
// a webhook, a Redis pub/sub channel, or any other downstream consumer that wants
// to observe object lifecycle callbacks without attaching to the RPC
// transport itself.
//
// The daemon owns adapter lifecycle (construction from config, Close at
// shutdown); operators provide configuration only, same split the teacher
// used for run-completion fan-out.
package adapter

import (
	"context"

	"github.com/redapid/server/internal/events"
)

// Publisher is the retry/backoff-capable transport a concrete adapter
// (webhook, redis) implements: marshal env and deliver it to the
// downstream system, honoring ctx.
type Publisher interface {
	Publish(ctx context.Context, env *events.Envelope) error
	Close() error
}

// Logger is the two-method seam adapters log publish failures through,
// satisfied by *daemonlog.Logger without this package importing it.
type Logger interface {
	Errorw(msg string, keysAndValues ...any)
}

// Sink adapts a Publisher to events.Sink so it can subscribe to the same
// internal/events.Bus internal/metrics listens on. Emit has no error
// return and no caller-supplied context, so each call gets a background
// context (every Publisher config carries its own per-call timeout) and
// publish failures are logged rather than propagated.
type Sink struct {
	Publisher Publisher
	Log       Logger
}

// Emit implements events.Sink.
func (s Sink) Emit(env events.Envelope) {
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(context.Background(), &env); err != nil && s.Log != nil {
		s.Log.Errorw("adapter publish failed", "error", err, "event_type", string(env.Type))
	}
}

// Close releases the underlying Publisher's resources.
func (s Sink) Close() error {
	if s.Publisher == nil {
		return nil
	}
	return s.Publisher.Close()
}

package journal

import (
	"context"
	"log/slog"
	"time"

	"crossledger/core/events"
)

const appendTimeout = 5 * time.Second

// Journal is an events.Emitter that stamps committed events, persists them
// when a Store is configured and publishes them to live subscribers.
type Journal struct {
	store  *Store
	hub    *Broadcaster
	logger *slog.Logger
	now    func() time.Time
}

// New builds a Journal. Either store or hub may be nil.
func New(store *Store, hub *Broadcaster, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		store:  store,
		hub:    hub,
		logger: logger.With("component", "journal"),
		now:    time.Now,
	}
}

// Emit implements events.Emitter.
func (j *Journal) Emit(ev events.Event) {
	if j == nil || ev == nil {
		return
	}
	env, ok := events.NewEnvelope(ev, j.now())
	if !ok {
		return
	}
	if j.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		err := j.store.Append(ctx, env)
		cancel()
		if err != nil {
			j.logger.Error("journal append failed", "type", env.Type, "id", env.ID, "error", err)
		}
	}
	if j.hub != nil {
		j.hub.Publish(env)
	}
}

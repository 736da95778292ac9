package lending

import (
	"context"
	"sync/atomic"
)

type lockKey struct{}

// lockToken marks a context as executing inside an engine call. It stays live
// until the call that issued it returns.
type lockToken struct {
	engine *Engine
	live   atomic.Bool
}

// enter serialises engine calls and rejects re-entry. A context carrying a
// live token of this engine is always rejected. A caller that finds the lock
// held while the holder is waiting on a collaborator (price source, token
// ledger, emitter or pause view) is rejected with ErrEngineBusy whatever
// context it carries, since a nested call from that collaborator could never
// acquire the lock.
func (e *Engine) enter(ctx context.Context) (context.Context, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tok, ok := ctx.Value(lockKey{}).(*lockToken); ok && tok.engine == e && tok.live.Load() {
		return nil, nil, ErrReentrant
	}
	if !e.mu.TryLock() {
		if e.callouts.Load() > 0 {
			return nil, nil, ErrEngineBusy
		}
		e.mu.Lock()
	}
	tok := &lockToken{engine: e}
	tok.live.Store(true)
	release := func() {
		tok.live.Store(false)
		e.mu.Unlock()
	}
	return context.WithValue(ctx, lockKey{}, tok), release, nil
}

// callout marks the engine as waiting on a collaborator until the returned
// func runs.
func (e *Engine) callout() func() {
	e.callouts.Add(1)
	return func() { e.callouts.Add(-1) }
}

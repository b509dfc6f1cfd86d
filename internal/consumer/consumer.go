// Package consumer defines the downstream side of the voice pipeline: the
// backends that accept a completed utterance and answer with a response.
//
// The HTTP backends live in sub-packages and share [Client]. [Router] picks the
// backend for an utterance by its capture mode.
//
// Exactly one utterance is in flight per session; consumers may nevertheless
// be shared between sessions and must be safe for concurrent use.
package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/voicefront/voicefront/pkg/types"
)

// ErrNoConsumer is returned by [Router.Submit] when no consumer is registered
// for the utterance mode.
var ErrNoConsumer = errors.New("consumer: no consumer for mode")

// Consumer accepts a completed utterance and returns the backend response.
// Submit must honour ctx cancellation; a cancelled submit returns ctx.Err().
type Consumer interface {
	Submit(ctx context.Context, u types.Utterance) (types.Response, error)
}

// Func adapts an ordinary function to [Consumer].
type Func func(ctx context.Context, u types.Utterance) (types.Response, error)

// Submit calls f(ctx, u).
func (f Func) Submit(ctx context.Context, u types.Utterance) (types.Response, error) {
	return f(ctx, u)
}

// Router dispatches utterances to the consumer registered for their mode.
type Router map[types.Mode]Consumer

var _ Consumer = Router(nil)

// Submit forwards u to the consumer for u.Mode.
func (r Router) Submit(ctx context.Context, u types.Utterance) (types.Response, error) {
	c, ok := r[u.Mode]
	if !ok || c == nil {
		return types.Response{}, fmt.Errorf("%w %q", ErrNoConsumer, u.Mode)
	}
	return c.Submit(ctx, u)
}

// SessionEnder is implemented by consumers that keep state per capture
// session. The orchestrator calls EndSession once a session is torn down.
type SessionEnder interface {
	EndSession(sessionID string)
}

// EndSession forwards to every registered consumer that implements
// [SessionEnder].
func (r Router) EndSession(sessionID string) {
	for _, c := range r {
		if se, ok := c.(SessionEnder); ok {
			se.EndSession(sessionID)
		}
	}
}

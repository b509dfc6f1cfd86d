package resilience

import (
	"context"

	"github.com/voicefront/voicefront/internal/consumer"
	"github.com/voicefront/voicefront/pkg/types"
)

// ConsumerFallback implements [consumer.Consumer] with a circuit breaker per
// backend and failover to the next backend in registration order. With a
// single backend it is a plain circuit breaker: once open, Submit fails fast
// with an error wrapping [ErrCircuitOpen].
type ConsumerFallback struct {
	group *FallbackGroup[consumer.Consumer]
}

var (
	_ consumer.Consumer     = (*ConsumerFallback)(nil)
	_ consumer.SessionEnder = (*ConsumerFallback)(nil)
)

// NewConsumerFallback creates a [ConsumerFallback] with primary as the
// preferred backend.
func NewConsumerFallback(primary consumer.Consumer, primaryName string, cfg FallbackConfig) *ConsumerFallback {
	return &ConsumerFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *ConsumerFallback) AddFallback(name string, c consumer.Consumer) {
	f.group.AddFallback(name, c)
}

// Group exposes the underlying group for health reporting.
func (f *ConsumerFallback) Group() *FallbackGroup[consumer.Consumer] { return f.group }

// Submit sends u to the first healthy backend.
func (f *ConsumerFallback) Submit(ctx context.Context, u types.Utterance) (types.Response, error) {
	return ExecuteWithResult(f.group, func(c consumer.Consumer) (types.Response, error) {
		if err := ctx.Err(); err != nil {
			return types.Response{}, err
		}
		return c.Submit(ctx, u)
	})
}

// EndSession forwards to every backend that keeps per-session state.
func (f *ConsumerFallback) EndSession(sessionID string) {
	for _, e := range f.group.entries {
		if se, ok := e.value.(consumer.SessionEnder); ok {
			se.EndSession(sessionID)
		}
	}
}

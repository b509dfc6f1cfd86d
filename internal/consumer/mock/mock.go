// Package mock provides a test double for consumer.Consumer.
package mock

import (
	"context"
	"sync"

	"github.com/voicefront/voicefront/internal/consumer"
	"github.com/voicefront/voicefront/pkg/types"
)

// Consumer is a mock implementation of consumer.Consumer.
type Consumer struct {
	mu sync.Mutex

	// Response is returned by Submit.
	Response types.Response

	// Err, if non-nil, is returned by Submit.
	Err error

	// SubmitFunc, if set, overrides Response and Err.
	SubmitFunc func(ctx context.Context, u types.Utterance) (types.Response, error)

	// Block, if non-nil, makes Submit wait until it is closed or ctx is done.
	Block chan struct{}

	// Utterances records every submitted utterance.
	Utterances []types.Utterance

	// Submitted, if non-nil, receives every utterance as it is submitted
	// (non-blocking send).
	Submitted chan types.Utterance
}

var _ consumer.Consumer = (*Consumer)(nil)

// Submit records the call and returns the scripted result.
func (c *Consumer) Submit(ctx context.Context, u types.Utterance) (types.Response, error) {
	c.mu.Lock()
	c.Utterances = append(c.Utterances, u)
	block, fn, notify := c.Block, c.SubmitFunc, c.Submitted
	resp, err := c.Response, c.Err
	c.mu.Unlock()

	if notify != nil {
		select {
		case notify <- u:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return types.Response{}, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, u)
	}
	return resp, err
}

// Calls returns a copy of the submitted utterances. Thread-safe.
func (c *Consumer) Calls() []types.Utterance {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Utterance, len(c.Utterances))
	copy(out, c.Utterances)
	return out
}

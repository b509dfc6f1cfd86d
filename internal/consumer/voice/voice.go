// Package voice submits utterances to the spoken-response backend, which
// answers with synthesized audio rather than text.
package voice

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/voicefront/voicefront/internal/consumer"
	"github.com/voicefront/voicefront/pkg/types"
)

// maxAudioBytes caps the response body; one minute of 16-bit 48 kHz stereo.
const maxAudioBytes = 60 * 48000 * 2 * 2

var _ consumer.Consumer = (*Consumer)(nil)

// Consumer implements [consumer.Consumer] against the voice backend. It is
// safe for concurrent use.
type Consumer struct {
	client *consumer.Client
}

// New returns a voice consumer using client.
func New(client *consumer.Client) (*Consumer, error) {
	if client == nil {
		return nil, fmt.Errorf("voice: client must not be nil")
	}
	return &Consumer{client: client}, nil
}

type samRequest struct {
	NewMessage string `json:"newMessage"`
}

// Submit posts u to {base}/sam and returns the response body as audio.
func (c *Consumer) Submit(ctx context.Context, u types.Utterance) (types.Response, error) {
	resp, err := c.client.Do(ctx, http.MethodPost, "/sam", samRequest{NewMessage: u.Text})
	if err != nil {
		return types.Response{}, fmt.Errorf("voice: submit: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return types.Response{}, ctx.Err()
		}
		return types.Response{}, fmt.Errorf("voice: read audio: %w", err)
	}
	if len(audio) > maxAudioBytes {
		return types.Response{}, fmt.Errorf("voice: response audio exceeds %d bytes", maxAudioBytes)
	}
	return types.Response{Audio: audio}, nil
}

// Package moments records captured speech as "moments" on the moments
// backend.
//
// The first utterance of a capture session creates a moment; later
// utterances of the same session update it with the transcript accumulated
// so far. Moments produce no spoken response.
package moments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/voicefront/voicefront/internal/consumer"
	"github.com/voicefront/voicefront/pkg/types"
)

// ErrMissingMomentID is returned when the backend did not return an ID for
// a newly created moment.
var ErrMissingMomentID = errors.New("moments: backend returned no moment id")

var _ consumer.Consumer = (*Consumer)(nil)

// Consumer implements [consumer.Consumer] against the moments backend. It is
// safe for concurrent use.
type Consumer struct {
	client *consumer.Client
	now    func() time.Time

	mu     sync.Mutex
	active map[string]*moment
}

type moment struct {
	id         string
	transcript string
}

// New returns a moments consumer using client.
func New(client *consumer.Client) (*Consumer, error) {
	if client == nil {
		return nil, fmt.Errorf("moments: client must not be nil")
	}
	return &Consumer{
		client: client,
		now:    time.Now,
		active: make(map[string]*moment),
	}, nil
}

type newMoment struct {
	Transcript string    `json:"transcript"`
	Date       time.Time `json:"date"`
}

type createRequest struct {
	NewMoment newMoment `json:"newMoment"`
}

type createResponse struct {
	MomentID string `json:"momentId"`
}

type momentUpdate struct {
	MomentID   string    `json:"momentId"`
	Transcript string    `json:"transcript"`
	Date       time.Time `json:"date"`
}

type updateRequest struct {
	Moment momentUpdate `json:"moment"`
}

// Submit creates or extends the moment for u.SessionID. The returned
// response carries the moment transcript so far and no audio.
func (c *Consumer) Submit(ctx context.Context, u types.Utterance) (types.Response, error) {
	c.mu.Lock()
	m := c.active[u.SessionID]
	c.mu.Unlock()

	date := c.now().UTC()
	if m == nil {
		var out createResponse
		err := c.client.DoJSON(ctx, http.MethodPost, "/moments", createRequest{
			NewMoment: newMoment{Transcript: u.Text, Date: date},
		}, &out)
		if err != nil {
			return types.Response{}, fmt.Errorf("moments: create: %w", err)
		}
		if out.MomentID == "" {
			return types.Response{}, ErrMissingMomentID
		}
		m = &moment{id: out.MomentID, transcript: u.Text}
		c.mu.Lock()
		c.active[u.SessionID] = m
		c.mu.Unlock()
		return types.Response{Text: m.transcript}, nil
	}

	transcript := strings.TrimSpace(m.transcript + " " + u.Text)
	err := c.client.DoJSON(ctx, http.MethodPut, "/moments", updateRequest{
		Moment: momentUpdate{MomentID: m.id, Transcript: transcript, Date: date},
	}, nil)
	if err != nil {
		return types.Response{}, fmt.Errorf("moments: update %s: %w", m.id, err)
	}
	c.mu.Lock()
	m.transcript = transcript
	c.mu.Unlock()
	return types.Response{Text: transcript}, nil
}

// MomentID returns the moment recorded for sessionID, if any.
func (c *Consumer) MomentID(sessionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.active[sessionID]
	if !ok {
		return "", false
	}
	return m.id, true
}

// EndSession forgets the moment of sessionID. A later utterance with the same
// session ID starts a new moment.
func (c *Consumer) EndSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, sessionID)
}

// Package chat submits utterances to the conversational chat backend.
//
// Each utterance is posted to {base}/messages together with the recent
// conversation. The backend streams its answer as newline-delimited JSON
// objects whose content fields are concatenated into the response text.
package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voicefront/voicefront/internal/consumer"
	"github.com/voicefront/voicefront/pkg/types"
)

// Defaults for the retained conversation.
const (
	DefaultHistorySize = 20
	DefaultHistoryAge  = 30 * time.Minute
)

// messageType tags messages so the backend persists them.
const messageType = "database"

// ErrEmptyReply is returned when the backend stream carried no content.
var ErrEmptyReply = errors.New("chat: empty reply")

var _ consumer.Consumer = (*Consumer)(nil)

// Consumer implements [consumer.Consumer] against the chat backend. It is
// safe for concurrent use.
type Consumer struct {
	client  *consumer.Client
	chatID  string
	history *History
	now     func() time.Time
}

// Option configures a [Consumer].
type Option func(*Consumer)

// WithChatID sets the conversation identifier sent with every message.
func WithChatID(id string) Option {
	return func(c *Consumer) { c.chatID = id }
}

// WithHistory replaces the conversation buffer.
func WithHistory(h *History) Option {
	return func(c *Consumer) {
		if h != nil {
			c.history = h
		}
	}
}

// New returns a chat consumer using client.
func New(client *consumer.Client, opts ...Option) (*Consumer, error) {
	if client == nil {
		return nil, fmt.Errorf("chat: client must not be nil")
	}
	c := &Consumer{
		client:  client,
		history: NewHistory(DefaultHistorySize, DefaultHistoryAge),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// History returns the retained conversation.
func (c *Consumer) History() *History { return c.history }

type messageRequest struct {
	ChatID      string    `json:"chatId"`
	UserMessage Message   `json:"userMessage"`
	ChatHistory []Message `json:"chatHistory"`
}

type streamChunk struct {
	Content string `json:"content"`
}

// Submit posts u and collects the streamed reply.
func (c *Consumer) Submit(ctx context.Context, u types.Utterance) (types.Response, error) {
	userMsg := Message{
		Content:   u.Text,
		From:      FromUser,
		Timestamp: c.now().UTC(),
		Type:      messageType,
	}
	resp, err := c.client.Do(ctx, http.MethodPost, "/messages", messageRequest{
		ChatID:      c.chatID,
		UserMessage: userMsg,
		ChatHistory: c.history.Messages(),
	})
	if err != nil {
		return types.Response{}, fmt.Errorf("chat: submit: %w", err)
	}
	defer resp.Body.Close()

	reply, err := readStream(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return types.Response{}, ctx.Err()
		}
		return types.Response{}, fmt.Errorf("chat: read reply: %w", err)
	}
	if reply == "" {
		return types.Response{}, ErrEmptyReply
	}

	c.history.Add(userMsg)
	c.history.Add(Message{
		Content:   reply,
		From:      FromAgent,
		Timestamp: c.now().UTC(),
		Type:      messageType,
	})
	return types.Response{Text: reply}, nil
}

// readStream concatenates the content of every JSON line in r. Blank lines
// are skipped; a line that is not JSON is an error.
func readStream(r io.Reader) (string, error) {
	var b strings.Builder
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return "", fmt.Errorf("decode chunk: %w", err)
		}
		b.WriteString(chunk.Content)
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voicefront/voicefront/pkg/provider/stt"
	"github.com/voicefront/voicefront/pkg/types"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-2"
	defaultLanguage   = "en-US"
	defaultEncoding   = "linear16"
	defaultSampleRate = 8000

	sendQueue       = 256
	transcriptQueue = 64
	closeGrace      = 2 * time.Second
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-2", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en-US").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithEncoding sets the audio encoding name sent to Deepgram.
func WithEncoding(encoding string) Option {
	return func(p *Provider) {
		p.encoding = encoding
	}
}

// WithInterimResults requests interim (partial) results. Off by default;
// Deepgram interims are cumulative revisions of the words in flight.
func WithInterimResults(on bool) Option {
	return func(p *Provider) {
		p.interim = on
	}
}

// WithEndpoint overrides the streaming endpoint (e.g., for a self-hosted
// deployment or tests).
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	encoding   string
	sampleRate int
	interim    bool
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   deepgramEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		encoding:   defaultEncoding,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
// ctx bounds the dial only.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	sess := &session{
		conn:        conn,
		transcripts: make(chan types.Transcript, transcriptQueue),
		audio:       make(chan []byte, sendQueue),
		done:        make(chan struct{}),
		readDone:    make(chan struct{}),
		writeDone:   make(chan struct{}),
		cancel:      cancel,
	}

	sess.wg.Add(2)
	go sess.readLoop(loopCtx)
	go sess.writeLoop(loopCtx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("smart_format", "true")
	q.Set("encoding", p.encoding)
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("interim_results", strconv.FormatBool(p.interim))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	for _, kw := range cfg.Keywords {
		q.Add("keywords", kw)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results
// event. Older deployments omit the type field.
type deepgramResponse struct {
	Type    string  `json:"type"`
	IsFinal bool    `json:"is_final"`
	Start   float64 `json:"start"`
	Channel *struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	conn        *websocket.Conn
	transcripts chan types.Transcript
	audio       chan []byte

	done      chan struct{}
	readDone  chan struct{}
	writeDone chan struct{}
	once      sync.Once
	wg        sync.WaitGroup
	cancel    context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram without
// blocking.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrSessionClosed
	}
	select {
	case <-s.readDone:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	default:
		return stt.ErrBackpressure
	}
}

// Transcripts returns the ordered channel of interim and final transcripts.
func (s *session) Transcripts() <-chan types.Transcript { return s.transcripts }

// Close flushes queued audio, asks Deepgram to finalise the stream, and
// releases the connection.
func (s *session) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.done)
		s.mu.Unlock()

		// Queued audio goes out before the close message.
		select {
		case <-s.writeDone:
		case <-time.After(closeGrace):
		}

		// Ask Deepgram to flush pending audio, then give the server a moment
		// to close its side.
		wctx, cancel := context.WithTimeout(context.Background(), closeGrace)
		_ = s.conn.Write(wctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		cancel()

		select {
		case <-s.readDone:
		case <-time.After(closeGrace):
		}
		s.cancel()
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to Deepgram.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.writeDone)
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain the audio channel before exiting.
			for {
				select {
				case chunk := <-s.audio:
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// readLoop receives JSON messages from Deepgram and forwards tokens in
// arrival order.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.transcripts)
	defer close(s.readDone)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
			default:
				slog.Warn("deepgram: connection lost", "err", err)
			}
			return
		}

		t, ok, err := parseDeepgramResponse(msg)
		if err != nil {
			slog.Warn("deepgram: skipping message", "err", err)
			continue
		}
		if !ok {
			continue
		}
		t.ReceivedAt = time.Now()

		select {
		case s.transcripts <- t:
		case <-s.done:
		}
	}
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a
// Transcript. It returns ok=false for well-formed messages that carry no
// transcript text, and an error wrapping [stt.ErrMalformedMessage] for
// messages that cannot be decoded.
func parseDeepgramResponse(data []byte) (types.Transcript, bool, error) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return types.Transcript{}, false, fmt.Errorf("%w: %v", stt.ErrMalformedMessage, err)
	}
	if resp.Type != "" && resp.Type != "Results" {
		return types.Transcript{}, false, nil
	}
	if resp.Channel == nil || len(resp.Channel.Alternatives) == 0 {
		return types.Transcript{}, false, nil
	}

	alt := resp.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return types.Transcript{}, false, nil
	}
	return types.Transcript{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
		Timestamp:  time.Duration(resp.Start * float64(time.Second)),
	}, true, nil
}

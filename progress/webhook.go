package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/justapithecus/forge/iox"
)

// WebhookConfig configures WebhookSink.
type WebhookConfig struct {
	// URL is the HTTP endpoint to POST each event to (required).
	URL string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Timeout is the per-request timeout (default DefaultTimeout).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure; zero means a
	// single attempt with no retry.
	Retries int
}

// WebhookSink POSTs node events to an HTTP endpoint from a background
// goroutine. Directly adapted from adapter/webhook/webhook.go's retry
// loop and its 4xx-is-terminal/5xx-is-retriable distinction; made
// asynchronous for the same reason RedisSink is.
type WebhookSink struct {
	cfg    WebhookConfig
	client *http.Client
	events chan Event
	done   chan struct{}
}

// NewWebhookSink validates cfg and starts the background publish loop.
func NewWebhookSink(cfg WebhookConfig) (*WebhookSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("progress: webhook sink requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("progress: retries must be >= 0, got %d", cfg.Retries)
	}

	s := &WebhookSink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		events: make(chan Event, defaultQueueDepth),
		done:   make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

// Publish enqueues e, dropping it if the queue is full.
func (s *WebhookSink) Publish(e Event) {
	select {
	case s.events <- e:
	default:
	}
}

func (s *WebhookSink) loop() {
	for e := range s.events {
		s.publishOne(e)
	}
	close(s.done)
}

// webhookStatusError is returned for non-2xx HTTP responses, so 4xx
// failures can be distinguished from retriable 5xx/network failures.
type webhookStatusError struct{ Code int }

func (e *webhookStatusError) Error() string { return fmt.Sprintf("unexpected status %d", e.Code) }

func (s *WebhookSink) publishOne(e Event) {
	body, err := json.Marshal(payloadFor(e))
	if err != nil {
		return
	}

	attempts := 1 + s.cfg.Retries
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(time.Duration(1<<uint(i-1)) * 500 * time.Millisecond)
		}
		err := s.doRequest(body)
		if err == nil {
			return
		}
		var statusErr *webhookStatusError
		if errors.As(err, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 {
			return
		}
	}
}

func (s *WebhookSink) doRequest(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("progress: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("progress: request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &webhookStatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close drains the queue, waits for the background loop to exit, and
// releases idle connections.
func (s *WebhookSink) Close() error {
	close(s.events)
	<-s.done
	s.client.CloseIdleConnections()
	return nil
}

var _ Sink = (*WebhookSink)(nil)

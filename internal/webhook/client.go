package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/mockupflow/internal/id"
)

const (
	HeaderSignature = "X-Mockupflow-Signature"
	HeaderTimestamp = "X-Mockupflow-Timestamp"
	HeaderEvent     = "X-Mockupflow-Event"
	HeaderDelivery  = "X-Mockupflow-Delivery"
)

// Job lifecycle events delivered to a job's webhook_url.
const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
	EventJobEnhanced  = "job.enhanced"
)

var (
	ErrBadSignature = errors.New("webhook signature mismatch")
	// ErrRejected means the receiver answered with a 4xx that retrying
	// will not change.
	ErrRejected = errors.New("webhook rejected by receiver")
)

// Envelope is the signed JSON body of every delivery.
type Envelope struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	CreatedAt time.Time `json:"created_at"`
	Data      any       `json:"data"`
}

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	httpClient     *http.Client
	signingSecret  string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = time.Second
	}

	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		signingSecret:  cfg.SigningSecret,
		maxAttempts:    max(cfg.MaxAttempts, 1),
		initialBackoff: initialBackoff,
		maxBackoff:     max(cfg.MaxBackoff, initialBackoff),
		now:            time.Now,
	}
}

// Send delivers event with data wrapped in an Envelope. An empty endpoint is
// a no-op. Server errors, 408 and 429 are retried with exponential backoff;
// any other 4xx stops immediately with ErrRejected.
func (c *Client) Send(ctx context.Context, endpoint, event string, data any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	now := c.now().UTC()
	envelope := Envelope{ID: id.New(), Event: event, CreatedAt: now, Data: data}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal %s webhook: %w", event, err)
	}
	timestamp := strconv.FormatInt(now.Unix(), 10)
	signature := sign(c.signingSecret, timestamp, body)

	backoff := c.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderTimestamp, timestamp)
		req.Header.Set(HeaderSignature, signature)
		req.Header.Set(HeaderEvent, event)
		req.Header.Set(HeaderDelivery, envelope.ID)

		lastErr = c.deliver(req)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrRejected) || attempt == c.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}

	return fmt.Errorf("deliver %s webhook %s: %w", event, envelope.ID, lastErr)
}

func (c *Client) deliver(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		return fmt.Errorf("receiver returned status=%d", code)
	case code >= 400 && code < 500:
		return fmt.Errorf("status=%d: %w", code, ErrRejected)
	default:
		return fmt.Errorf("receiver returned status=%d", code)
	}
}

// Verify checks a received delivery against the shared secret. Receivers
// should also reject timestamps outside their replay window.
func Verify(secret, timestamp, signature string, body []byte) error {
	if !hmac.Equal([]byte(sign(secret, timestamp, body)), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// sign is HMAC-SHA256 over "<timestamp>.<body>".
func sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

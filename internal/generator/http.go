package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Default configuration values.
const (
	DefaultTimeout     = 90 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// errPermanent marks responses that must not be retried.
var errPermanent = errors.New("permanent provider error")

// HTTPGenerator posts the generation context to a research endpoint and
// parses the model text it returns.
type HTTPGenerator struct {
	name        string
	endpoint    string
	apiKey      string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	logger      *zap.Logger
}

// HTTPOption configures HTTPGenerator.
type HTTPOption func(*HTTPGenerator)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(g *HTTPGenerator) {
		g.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) HTTPOption {
	return func(g *HTTPGenerator) {
		g.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) HTTPOption {
	return func(g *HTTPGenerator) {
		g.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) HTTPOption {
	return func(g *HTTPGenerator) {
		g.maxDelay = d
	}
}

// WithAPIKey sets the bearer token sent with each request.
func WithAPIKey(key string) HTTPOption {
	return func(g *HTTPGenerator) {
		g.apiKey = key
	}
}

// WithName overrides the provider name used in logs and metrics.
func WithName(name string) HTTPOption {
	return func(g *HTTPGenerator) {
		g.name = name
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) HTTPOption {
	return func(g *HTTPGenerator) {
		g.logger = l
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(g *HTTPGenerator) {
		g.client = client
	}
}

// NewHTTPGenerator creates a generator for endpoint.
func NewHTTPGenerator(endpoint string, opts ...HTTPOption) *HTTPGenerator {
	g := &HTTPGenerator{
		name:        "http",
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("generator." + g.name)
	return g
}

// Name returns the provider name.
func (g *HTTPGenerator) Name() string { return g.name }

// envelope is the optional response wrapper; when absent the whole body is
// treated as model text.
type envelope struct {
	Output *string `json:"output"`
}

// Generate requests candidates. Unparseable output yields zero drafts, not an error.
func (g *HTTPGenerator) Generate(ctx context.Context, gc Context) (Result, error) {
	body, err := g.post(ctx, gc)
	if err != nil {
		return Result{}, err
	}

	text := body
	var env envelope
	if json.Unmarshal(body, &env) == nil && env.Output != nil {
		text = []byte(*env.Output)
	}

	pr := Parse(text)
	if pr.Kind != KindOK {
		g.logger.Warn("discarding generator output",
			zap.String("trace_id", gc.TraceID),
			zap.String("kind", string(pr.Kind)),
			zap.Error(pr.Err),
		)
	} else if pr.Dropped > 0 {
		g.logger.Info("dropped invalid drafts",
			zap.String("trace_id", gc.TraceID),
			zap.Int("dropped", pr.Dropped),
		)
	}
	return Result{Provider: g.name, Drafts: pr.Drafts, Parse: pr.Kind, Repair: pr.Repair}, nil
}

// post sends the request with retries and exponential backoff.
func (g *HTTPGenerator) post(ctx context.Context, gc Context) ([]byte, error) {
	payload, err := json.Marshal(gc)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	delay := g.retryDelay
	var lastErr error

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * g.backoffMult)
			if delay > g.maxDelay {
				delay = g.maxDelay
			}
		}

		body, err := g.do(ctx, payload)
		if err == nil {
			return body, nil
		}
		if errors.Is(err, errPermanent) {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		lastErr = err
		g.logger.Debug("request failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}

	return nil, fmt.Errorf("%w: max retries exceeded: %v", ErrProviderUnavailable, lastErr)
}

func (g *HTTPGenerator) do(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d: %s", errPermanent, resp.StatusCode, truncate(body, 200))
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

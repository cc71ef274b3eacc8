package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrNotFound meldet eine 404-Antwort; sie wird nie wiederholt.
var ErrNotFound = eris.New("resource not found")

// CustomTransport fügt jeder Anfrage einen User-Agent-Header hinzu.
type CustomTransport struct {
	Transport http.RoundTripper
	UserAgent string
}

func (t *CustomTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.UserAgent)
	return t.Transport.RoundTrip(req)
}

// ClientOptions konfiguriert den gemeinsamen HTTP-Client der Provider.
type ClientOptions struct {
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	UserAgent  string
	Retry      RetryConfig
	Logger     *zap.Logger
}

// Client kapselt Rate-Limit, Timeout und Wiederholungen für externe APIs.
type Client struct {
	http     *http.Client
	limiter  *rate.Limiter
	retry    RetryConfig
	logger   *zap.Logger
	requests atomic.Int64
}

// NewClient erstellt einen Client. Ohne Rate wird nicht gedrosselt.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "trial-atlas/1.0"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	burst := max(opts.Burst, 1)
	c := &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: &CustomTransport{Transport: http.DefaultTransport, UserAgent: opts.UserAgent},
		},
		limiter: rate.NewLimiter(limit, burst),
		retry:   opts.Retry,
		logger:  opts.Logger,
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = func(attempt int, err error) {
			c.logger.Warn("Wiederhole Anfrage", zap.Int("attempt", attempt), zap.Error(err))
		}
	}
	return c
}

// Requests liefert die Anzahl tatsächlich gesendeter HTTP-Anfragen.
func (c *Client) Requests() int64 {
	return c.requests.Load()
}

// Get lädt den Body einer URL mit Rate-Limit und Wiederholungen.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	return DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limiter")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, eris.Wrap(err, "build request")
		}
		c.requests.Add(1)
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &TransientError{Err: eris.Wrap(err, "http get")}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &TransientError{Err: eris.Wrap(err, "read body")}
		}
		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound
		case IsTransientHTTPStatus(resp.StatusCode):
			return nil, &TransientError{Err: fmt.Errorf("status %d", resp.StatusCode), StatusCode: resp.StatusCode}
		default:
			return nil, eris.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
		}
	})
}

// GetJSON lädt eine URL und dekodiert die JSON-Antwort nach dest.
func (c *Client) GetJSON(ctx context.Context, url string, dest any) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return eris.Wrap(err, "decode json response")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

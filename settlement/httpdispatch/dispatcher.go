// Package httpdispatch is a settlement.Dispatcher that submits transfers to a
// payout service over HTTP.
package httpdispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/xraph/paystream/settlement"
	"github.com/xraph/paystream/types"
)

// DefaultPath is the endpoint transfers are POSTed to.
const DefaultPath = "/v1/transfers"

// ErrEmptyTxRef is returned when the payout service accepts a transfer
// without a reference.
var ErrEmptyTxRef = errors.New("httpdispatch: empty tx reference")

var _ settlement.Dispatcher = (*Dispatcher)(nil)

// Dispatcher POSTs transfer requests as JSON.
type Dispatcher struct {
	endpoint   *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	apiKey     string
	apiSecret  []byte
	newKey     func() string
	now        func() time.Time
}

// Option mutates the dispatcher during construction.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(d *Dispatcher) {
		if httpClient != nil {
			d.httpClient = httpClient
		}
	}
}

// WithRateLimit caps outgoing transfers at r per second with the given burst.
func WithRateLimit(r float64, burst int) Option {
	return func(d *Dispatcher) {
		if r > 0 && burst > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(r), burst)
		}
	}
}

// WithCredentials signs each request with an HMAC over the body.
func WithCredentials(apiKey, apiSecret string) Option {
	return func(d *Dispatcher) {
		d.apiKey = strings.TrimSpace(apiKey)
		d.apiSecret = []byte(strings.TrimSpace(apiSecret))
	}
}

// WithIdempotencyKeys overrides the idempotency key generator.
func WithIdempotencyKeys(fn func() string) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.newKey = fn
		}
	}
}

// WithClock overrides the time source used when signing requests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// New builds a dispatcher for the payout service at baseURL.
func New(baseURL string, opts ...Option) (*Dispatcher, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("httpdispatch: base url required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("httpdispatch: invalid base url: %w", err)
	}
	d := &Dispatcher{
		endpoint:   parsed.ResolveReference(&url.URL{Path: DefaultPath}),
		httpClient: http.DefaultClient,
		newKey:     uuid.NewString,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// transferRequest is the payload sent to the payout service.
type transferRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type transferResponse struct {
	TxRef string `json:"tx_ref"`
}

// Transfer implements settlement.Dispatcher. It makes exactly one request.
func (d *Dispatcher) Transfer(ctx context.Context, from, to string, amount types.Money) (string, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("httpdispatch: rate limit: %w", err)
		}
	}

	body, err := json.Marshal(transferRequest{
		From:     from,
		To:       to,
		Amount:   amount.Amount,
		Currency: amount.Currency,
	})
	if err != nil {
		return "", fmt.Errorf("httpdispatch: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("httpdispatch: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", d.newKey())
	if d.apiKey != "" {
		timestamp := strconv.FormatInt(d.now().Unix(), 10)
		req.Header.Set("X-API-Key", d.apiKey)
		req.Header.Set("X-API-Timestamp", timestamp)
		req.Header.Set("X-API-Signature", d.sign(body, timestamp))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("httpdispatch: do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("httpdispatch: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out transferResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("httpdispatch: decode response: %w", err)
	}
	if strings.TrimSpace(out.TxRef) == "" {
		return "", ErrEmptyTxRef
	}
	return out.TxRef, nil
}

func (d *Dispatcher) sign(body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, d.apiSecret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("\n"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// StatusError is returned when the payout service rejects a transfer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpdispatch: payout service %d: %s", e.Code, e.Body)
}

// Temporary reports whether the rejection may succeed on retry.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Package ner extracts symptom mentions from free text.
package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// DefaultEntityGroup is the label biomedical token-classification models
// use for signs and symptoms.
const DefaultEntityGroup = "Sign_symptom"

// Entity is one span returned by a token-classification endpoint with
// aggregation enabled.
type Entity struct {
	EntityGroup string  `json:"entity_group"`
	Word        string  `json:"word"`
	Score       float64 `json:"score"`
	Start       int     `json:"start"`
	End         int     `json:"end"`
}

// HTTPError is a non-2xx response from the endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("ner endpoint status %d: %s", e.StatusCode, e.Body)
}

// HTTPClient calls a token-classification inference endpoint that accepts
// {"inputs": "<text>"} and answers with a JSON array of entities.
type HTTPClient struct {
	endpoint    string
	token       string
	entityGroup string
	httpClient  *http.Client
	retries     uint64
	backoff     time.Duration
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithToken sends a bearer token with every request.
func WithToken(token string) Option {
	return func(c *HTTPClient) { c.token = token }
}

// WithEntityGroup keeps entities of a group other than Sign_symptom.
func WithEntityGroup(group string) Option {
	return func(c *HTTPClient) { c.entityGroup = group }
}

// WithRetries retries transport errors, 429 and 5xx responses up to n
// times with Fibonacci backoff starting at base.
func WithRetries(n int, base time.Duration) Option {
	return func(c *HTTPClient) {
		if n > 0 {
			c.retries = uint64(n)
		}
		if base > 0 {
			c.backoff = base
		}
	}
}

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// NewHTTPClient returns a client for endpoint. A zero timeout means 30s.
func NewHTTPClient(endpoint string, timeout time.Duration, opts ...Option) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &HTTPClient{
		endpoint:    endpoint,
		entityGroup: DefaultEntityGroup,
		httpClient:  &http.Client{Timeout: timeout},
		backoff:     time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Extract returns the symptom mentions found in text, in the order the
// endpoint reported them. Blank text is not sent.
func (c *HTTPClient) Extract(ctx context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	body, err := json.Marshal(map[string]string{"inputs": text})
	if err != nil {
		return nil, err
	}

	var raw []byte
	b := retry.WithMaxRetries(c.retries, retry.NewFibonacci(c.backoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		var err error
		raw, err = c.post(ctx, body)
		if retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	var entities []Entity
	if err := json.Unmarshal(raw, &entities); err != nil {
		return nil, fmt.Errorf("decode ner response: %w", err)
	}

	var words []string
	for _, e := range entities {
		if e.EntityGroup == c.entityGroup {
			words = append(words, e.Word)
		}
	}
	return MergeSubwords(words), nil
}

func (c *HTTPClient) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

// retryable reports whether err is worth another attempt: transport
// failures, rate limiting and server errors. Cancellation is not.
func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == http.StatusTooManyRequests || he.StatusCode >= 500
	}
	return true
}

// MergeSubwords glues WordPiece continuations ("##") onto the preceding
// word: ["head", "##ache", "fever"] → ["headache", "fever"].
func MergeSubwords(tokens []string) []string {
	var merged []string
	current := ""
	for _, tok := range tokens {
		if rest, ok := strings.CutPrefix(tok, "##"); ok {
			current += rest
			continue
		}
		if current != "" {
			merged = append(merged, current)
		}
		current = tok
	}
	if current != "" {
		merged = append(merged, current)
	}
	return merged
}

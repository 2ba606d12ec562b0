package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "ollama-gate/0.1"

	generatePath = "/api/generate"

	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second

	// maxLineBytes caps a single backend line. Final generate records carry
	// the full context array, which overflows the scanner default and can
	// reach megabytes on big context windows.
	maxLineBytes = 1 << 22
)

// GenerateRequest is the backend generate payload built for ask-mode
// requests. Generate-mode requests forward the caller's own payload instead.
type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// Chunk carries one raw line of a generate stream. Err is set at most once,
// on the final chunk, when the stream ends for any reason other than end of
// input.
type Chunk struct {
	Line []byte
	Err  error
}

// Client issues streaming generate calls against a single backend. One
// long-lived client is shared by all requests so backend connections pool.
type Client struct {
	httpClient *http.Client
	endpoint   string
	timeout    time.Duration
}

// NewClient constructs a client for the backend at address (host:port).
func NewClient(address string, timeout time.Duration) *Client {
	return &Client{
		httpClient: newHTTPClient(),
		endpoint:   "http://" + address + generatePath,
		timeout:    timeout,
	}
}

// Generate POSTs the payload to the backend generate endpoint and returns an
// unbuffered channel carrying the response body line by line, in arrival
// order. The whole call, dial through last byte, is bounded by the
// configured timeout and by ctx. The reader goroutine closes the channel and
// the response body on every exit path; cancelling ctx releases both.
func (c *Client) Generate(ctx context.Context, payload any) (<-chan Chunk, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal generate payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("construct backend request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("backend request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// The backend's error body still streams through to the caller.
		slog.Warn("backend returned non-200 status", "status", resp.StatusCode)
	}

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		defer cancel()
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())

			select {
			case ch <- Chunk{Line: line}:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case ch <- Chunk{Err: fmt.Errorf("read backend stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

func newHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	// No client-level timeout: it counts body reads and would cap streams.
	// The per-request context carries the call budget.
	return &http.Client{Transport: transport}
}

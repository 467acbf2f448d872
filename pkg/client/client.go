// Package client talks to the voice usage API on behalf of the CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"mercator-hq/voicequota/pkg/api/types"
	"mercator-hq/voicequota/pkg/telemetry/tracing"
)

// API paths.
const (
	UsagePath      = "/api/ai-usage"
	TranscribePath = "/api/transcribe"
)

// DefaultTimeout bounds one request. Transcription uploads get the longer
// TranscribeTimeout.
const (
	DefaultTimeout    = 10 * time.Second
	TranscribeTimeout = 60 * time.Second

	maxResponseBytes = 4 << 20
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string

	// RetryAfter is parsed from the Retry-After header when present.
	RetryAfter time.Duration

	// Decision is the admission decision attached to a quota denial.
	Decision *types.Decision
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Client calls the usage and transcription endpoints.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the server at baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("invalid server URL %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Usage fetches the caller's current usage snapshot.
func (c *Client) Usage(ctx context.Context) (*types.UsageResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+UsagePath, nil)
	if err != nil {
		return nil, err
	}

	var out types.UsageResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transcribe uploads a WAV clip. claimed is the client-measured duration
// sent as an advisory hint; zero omits it.
func (c *Client) Transcribe(ctx context.Context, wav []byte, language string, claimed time.Duration) (*types.TranscribeResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, TranscribeTimeout)
	defer cancel()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("audio", "clip.wav")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(wav); err != nil {
		return nil, err
	}
	if language != "" {
		w.WriteField("language", language)
	}
	if claimed > 0 {
		w.WriteField("duration", strconv.FormatFloat(claimed.Seconds(), 'f', 2, 64))
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+TranscribePath, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var out types.TranscribeResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	tracing.Inject(req.Context(), req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response, raw []byte) *APIError {
	e := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	if gjson.ValidBytes(raw) {
		if msg := gjson.GetBytes(raw, "error"); msg.Exists() {
			e.Message = msg.String()
		}
		e.Code = gjson.GetBytes(raw, "code").String()
		if d := gjson.GetBytes(raw, "decision"); d.IsObject() {
			var dec types.Decision
			if json.Unmarshal([]byte(d.Raw), &dec) == nil {
				e.Decision = &dec
			}
		}
	} else if s := strings.TrimSpace(string(raw)); s != "" {
		e.Message = s
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}

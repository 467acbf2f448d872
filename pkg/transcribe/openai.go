package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Defaults for Config.
const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "whisper-1"
	DefaultTimeout = 30 * time.Second

	maxErrorBody = 64 << 10
)

// Config configures an HTTP transcription client.
type Config struct {
	// Name identifies the provider in errors and metrics.
	Name string

	// BaseURL is the API root; "/audio/transcriptions" is appended.
	BaseURL string

	APIKey string
	Model  string

	// Timeout bounds one transcription call including upload.
	Timeout time.Duration

	// Filename is sent as the multipart file name; the extension tells the
	// provider how to decode the clip.
	Filename string
}

// Client calls an OpenAI-compatible transcription endpoint.
type Client struct {
	cfg    Config
	url    string
	client *http.Client
}

// NewClient creates a client, filling unset fields with defaults.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Filename == "" {
		cfg.Filename = "audio.wav"
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("invalid transcription base URL %q", cfg.BaseURL)
	}

	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		cfg:    cfg,
		url:    strings.TrimRight(cfg.BaseURL, "/") + "/audio/transcriptions",
		client: &http.Client{Transport: transport},
	}, nil
}

// Name returns the configured provider name.
func (c *Client) Name() string { return c.cfg.Name }

// Timeout returns the per-call timeout.
func (c *Client) Timeout() time.Duration { return c.cfg.Timeout }

// Transcribe uploads audio and returns the transcript.
func (c *Client) Transcribe(ctx context.Context, audio []byte, language string) (*Result, error) {
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", c.cfg.Filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}
	writer.WriteField("model", c.cfg.Model)
	writer.WriteField("response_format", "verbose_json")
	if language != "" {
		writer.WriteField("language", language)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{
			Provider:   c.cfg.Name,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw, resp.Status),
			Retryable:  retryableStatus(resp.StatusCode),
		}
	}

	return c.parse(raw, language)
}

func (c *Client) parse(raw []byte, language string) (*Result, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &ServiceError{
			Provider:   c.cfg.Name,
			StatusCode: http.StatusOK,
			Message:    "malformed response",
			Retryable:  true,
		}
	}

	text := gjson.GetBytes(raw, "text")
	if !text.Exists() {
		return nil, &ServiceError{
			Provider:   c.cfg.Name,
			StatusCode: http.StatusOK,
			Message:    "response has no text",
			Retryable:  true,
		}
	}

	result := &Result{
		Text:     strings.TrimSpace(text.String()),
		Language: language,
		Provider: c.cfg.Name,
	}
	if result.Language == "" {
		result.Language = gjson.GetBytes(raw, "language").String()
	}

	if d := gjson.GetBytes(raw, "duration"); d.Exists() && d.Float() > 0 {
		result.Duration = time.Duration(d.Float() * float64(time.Second))
	} else if segs := gjson.GetBytes(raw, "segments.#.end"); segs.IsArray() {
		var end float64
		for _, v := range segs.Array() {
			if v.Float() > end {
				end = v.Float()
			}
		}
		result.Duration = time.Duration(end * float64(time.Second))
	}

	return result, nil
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w: %v", ctxErr, err)
	}
	return &ServiceError{
		Provider:  c.cfg.Name,
		Retryable: !errors.Is(err, context.Canceled),
		Err:       err,
	}
}

// errorMessage extracts a provider error message from an OpenAI-style body.
func errorMessage(raw []byte, fallback string) string {
	if len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}
	for _, path := range []string{"error.message", "error", "message", "detail"} {
		if v := gjson.GetBytes(raw, path); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" && len(s) < 200 {
		return s
	}
	return fallback
}

package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"inkscribe-server/internal/apperr"
)

const (
	jsonResponseType      = "json_object"
	defaultBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultModel          = "google/gemini-2.5-flash"
	defaultHTTPTimeout    = 120 * time.Second
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	maxInlineImageBytes   = 20 << 20
)

// Transcriber is the contract the upload flow depends on.
type Transcriber interface {
	Transcribe(ctx context.Context, imageURL, noteID string) (Transcription, error)
}

type Transcription struct {
	Title           string `json:"title"`
	MarkdownContent string `json:"markdownContent"`
}

// Config captures the runtime settings required to talk to the model.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
	// InlineImages downloads the image and sends it as a data URI, for
	// endpoints that cannot fetch URLs themselves.
	InlineImages bool
}

// Client wraps a chat completions API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	validate   *validator.Validate

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the attempt count. The default is a single
// attempt: a failed transcription is terminal for its note.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed.
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{
		cfg: Config{
			APIKey:         strings.TrimSpace(cfg.APIKey),
			BaseURL:        strings.TrimSpace(cfg.BaseURL),
			Model:          strings.TrimSpace(cfg.Model),
			Referer:        strings.TrimSpace(cfg.Referer),
			Title:          strings.TrimSpace(cfg.Title),
			TimeoutSeconds: cfg.TimeoutSeconds,
			InlineImages:   cfg.InlineImages,
		},
		httpClient:       &http.Client{Timeout: timeout},
		validate:         validator.New(),
		retryMaxAttempts: 1,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.BaseURL == "" {
		c.cfg.BaseURL = defaultBaseURL
	}
	if c.cfg.Model == "" {
		c.cfg.Model = defaultModel
	}
	return c
}

// wireTranscription mirrors the only accepted response shape. Pointers tell
// a missing key apart from an empty string.
type wireTranscription struct {
	Title           *string `json:"title" validate:"required"`
	MarkdownContent *string `json:"markdownContent" validate:"required"`
}

// Transcribe sends one photo to the model and validates the answer.
func (c *Client) Transcribe(ctx context.Context, imageURL, noteID string) (Transcription, error) {
	var empty Transcription
	if err := CheckDurableURL(imageURL); err != nil {
		return empty, apperr.Wrap(apperr.ErrGatewayFailed, "gateway", "transcribe", "", err)
	}
	if c.cfg.APIKey == "" {
		return empty, apperr.Wrap(apperr.ErrGatewayFailed, "gateway", "transcribe", "api key required", nil)
	}

	imagePart := imageURL
	if c.cfg.InlineImages {
		dataURI, err := c.fetchDataURI(ctx, imageURL)
		if err != nil {
			return empty, apperr.Wrap(apperr.ErrGatewayFailed, "gateway", "fetch image", "", err)
		}
		imagePart = dataURI
	}

	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: userPrompt(imageURL, noteID)},
				{Type: "image_url", ImageURL: &imageURLPart{URL: imagePart}},
			}},
		},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}

	content, err := c.completionContentWithRetry(ctx, payload)
	if err != nil {
		return empty, apperr.Wrap(apperr.ErrGatewayFailed, "gateway", "transcribe", "", err)
	}
	return c.parseTranscription(content)
}

func (c *Client) parseTranscription(content string) (Transcription, error) {
	var empty Transcription

	var keys map[string]json.RawMessage
	if err := DecodeJSON(content, &keys); err != nil {
		return empty, apperr.Wrap(apperr.ErrInvalidResponse, "gateway", "decode", "", err)
	}
	for k := range keys {
		if k != "title" && k != "markdownContent" {
			return empty, apperr.Wrap(apperr.ErrInvalidResponse, "gateway", "decode", fmt.Sprintf("unexpected key %q", k), nil)
		}
	}

	var wire wireTranscription
	if err := DecodeJSON(content, &wire); err != nil {
		return empty, apperr.Wrap(apperr.ErrInvalidResponse, "gateway", "decode", "", err)
	}
	if err := c.validate.Struct(wire); err != nil {
		return empty, apperr.Wrap(apperr.ErrInvalidResponse, "gateway", "validate", "", err)
	}
	if strings.TrimSpace(*wire.Title) == "" {
		return empty, apperr.Wrap(apperr.ErrInvalidResponse, "gateway", "validate", "empty title", nil)
	}

	return Transcription{
		Title:           *wire.Title,
		MarkdownContent: *wire.MarkdownContent,
	}, nil
}

// HealthCheck issues a fast ping to verify the API key and model are usable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return errors.New("gateway health: api key required")
	}
	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You must respond with JSON only."},
			{Role: "user", Content: `Respond with {"ok":true}`},
		},
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}
	content, err := c.completionContentWithRetry(ctx, payload)
	if err != nil {
		return fmt.Errorf("gateway health: %w", err)
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := DecodeJSON(content, &parsed); err != nil {
		return fmt.Errorf("gateway health: parse payload: %w", err)
	}
	if !parsed.OK {
		return errors.New("gateway health: unexpected response")
	}
	return nil
}

// CheckDurableURL rejects session-local references the model cannot resolve.
func CheckDurableURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid image url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("image url %q is not publicly resolvable", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("image url %q has no host", raw)
	}
	return nil
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

// Content is a string or a []contentPart.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *imageURLPart `json:"image_url,omitempty"`
}

type imageURLPart struct {
	URL string `json:"url"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("model request: http %d: %s", e.StatusCode, snippet(e.Body))
}

func (c *Client) completionContentWithRetry(ctx context.Context, payload chatCompletionRequest) (string, error) {
	attempts := c.retryMaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		content, err := c.completionContentOnce(ctx, payload)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if attempt == attempts || !retryable(ctx, err) {
			break
		}
		if err := c.sleep(ctx, c.backoffDelay(attempt)); err != nil {
			return "", err
		}
	}
	if attempts > 1 {
		return "", fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
	}
	return "", lastErr
}

func (c *Client) completionContentOnce(ctx context.Context, payload chatCompletionRequest) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("model request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("model request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("model request: http error (timeout=%s): %w", c.httpClient.Timeout, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("model request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", &httpStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("model request: decode response: %w", err)
	}
	if completion.Error != nil {
		return "", fmt.Errorf("model request: api error: %s", strings.TrimSpace(completion.Error.Message))
	}
	for _, choice := range completion.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
		if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
			return "", fmt.Errorf("model refused: %s", refusal)
		}
	}
	return "", fmt.Errorf("model request: empty content (response_snippet=%s)", snippet(string(body)))
}

func (c *Client) fetchDataURI(ctx context.Context, imageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image fetch: http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxInlineImageBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxInlineImageBytes {
		return "", fmt.Errorf("image exceeds %d bytes", maxInlineImageBytes)
	}
	mt := mimetype.Detect(data).String()
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusRequestTimeout ||
			statusErr.StatusCode == http.StatusTooManyRequests ||
			statusErr.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > c.retryMaxDelay/2 {
			return c.retryMaxDelay
		}
		delay *= 2
	}
	if delay > c.retryMaxDelay {
		return c.retryMaxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package nanobanana is the HTTP client for the nanoBanana image-generation
// API. Failures are surfaced as *domain.ProviderError so the resilience
// classifiers can decide retry and circuit-breaker treatment.
package nanobanana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genqueue/internal/domain"
	"genqueue/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("nanobanana: api key is required")

// Options configures the nanoBanana client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the nanoBanana generation endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

// GenerateRequest captures the required inputs for one generation call.
type GenerateRequest struct {
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	Seed           int64
	RequestID      string
}

// Generation is the normalized result of a successful call.
type Generation struct {
	ID       string
	ImageURL string
	Width    int
	Height   int
	Format   string
	FileSize int64
	Seed     int64
	Model    string
}

type generationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
}

type generationResponse struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Data  []struct {
		URL      string `json:"url"`
		Width    int    `json:"width"`
		Height   int    `json:"height"`
		Format   string `json:"format"`
		FileSize int64  `json:"file_size"`
		Seed     int64  `json:"seed"`
	} `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.nanobanana.ai"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "nano-banana-v2"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Generate invokes the API once and returns a single generated image.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("nanobanana: %w: prompt is required", domain.ErrInvalidPayload)
	}
	payload := generationRequest{
		Model:          c.model,
		Prompt:         prompt,
		NegativePrompt: strings.TrimSpace(req.NegativePrompt),
		AspectRatio:    strings.TrimSpace(req.AspectRatio),
	}
	if req.Seed > 0 {
		payload.Seed = &req.Seed
	}

	endpoint := c.baseURL + "/v1/images/generations"
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("nanobanana: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("nanobanana: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ProviderError{
			Code:    "NETWORK_ERROR",
			Message: "read response body",
			Err:     err,
		}
	}

	if resp.StatusCode >= 300 {
		return nil, apiError(resp.StatusCode, raw)
	}

	var decoded generationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("nanobanana: decode response: %w", err)
	}
	if len(decoded.Data) == 0 || strings.TrimSpace(decoded.Data[0].URL) == "" {
		return nil, &domain.ProviderError{
			Code:    "TEMPORARY_FAILURE",
			Message: "empty generation result",
		}
	}
	first := decoded.Data[0]
	if _, err := url.ParseRequestURI(first.URL); err != nil {
		return nil, fmt.Errorf("nanobanana: invalid image url %q: %w", first.URL, err)
	}
	c.logger.Debug().
		Str("model", decoded.Model).
		Str("generation_id", decoded.ID).
		Str("request_id", req.RequestID).
		Msg("nanobanana: generated image")
	model := decoded.Model
	if model == "" {
		model = c.model
	}
	return &Generation{
		ID:       decoded.ID,
		ImageURL: first.URL,
		Width:    first.Width,
		Height:   first.Height,
		Format:   first.Format,
		FileSize: first.FileSize,
		Seed:     first.Seed,
		Model:    model,
	}, nil
}

func apiError(status int, raw []byte) error {
	pe := &domain.ProviderError{StatusCode: status}
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Error.Message != "" {
		pe.Code = detail.Error.Code
		pe.Message = detail.Error.Message
		return pe
	}
	pe.Message = strings.TrimSpace(string(raw))
	return pe
}

func transportError(err error) error {
	code := "NETWORK_ERROR"
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		code = "ETIMEDOUT"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		code = "ETIMEDOUT"
	}
	return &domain.ProviderError{
		Code:    code,
		Message: "request failed",
		Err:     err,
	}
}

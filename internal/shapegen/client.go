package shapegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ClientConfig configures the generation service client
type ClientConfig struct {
	ServerURL string        // e.g., "http://localhost:9400"
	Model     string        // model identifier passed through to the service
	Timeout   time.Duration // HTTP request timeout
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ServerURL: "http://localhost:9400",
		Model:     "default",
		Timeout:   10 * time.Second,
	}
}

// Client talks to the blendshape generation service
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a new generation service client
func NewClient(cfg *ClientConfig, logger zerolog.Logger) *Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With().Str("component", "shapegen-client").Logger(),
	}
}

// Generate submits canonical 16 kHz mono PCM16 audio and returns the timed
// blendshape frames covering it.
func (c *Client) Generate(ctx context.Context, pcm []byte, sampleRate int) (*GenerateResponse, error) {
	reqBody := GenerateRequest{
		AudioBase64: base64.StdEncoding.EncodeToString(pcm),
		SampleRate:  sampleRate,
		Model:       c.config.Model,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.config.ServerURL + "/v1/blendshapes"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("generation request failed: %d - %s", resp.StatusCode, string(body))
	}

	var result GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	c.logger.Debug().
		Int("audio_bytes", len(pcm)).
		Int("frames", len(result.Frames)).
		Dur("latency", time.Since(start)).
		Msg("Generation request completed")

	return &result, nil
}

// Health checks the generation service's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.ServerURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("generation service unhealthy: %d", resp.StatusCode)
	}
	return nil
}

package detector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// SidecarClient talks to an emotion detection sidecar over HTTP
type SidecarClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]Detection]
	logger     zerolog.Logger
}

// SidecarConfig contains configuration for the detection sidecar client
type SidecarConfig struct {
	BaseURL          string        `json:"base_url"`
	Timeout          time.Duration `json:"timeout"`
	RatePerSecond    float64       `json:"rate_per_second"` // <= 0 disables limiting
	Burst            int           `json:"burst"`
	FailureThreshold uint32        `json:"failure_threshold"`
	OpenTimeout      time.Duration `json:"open_timeout"`
}

// DetectResponse is the JSON body returned by POST /api/detect
type DetectResponse struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message,omitempty"`
	Detections []Detection `json:"detections"`
	ErrorCode  string      `json:"error_code,omitempty"`
}

// DefaultSidecarConfig returns default configuration for the sidecar client
func DefaultSidecarConfig() SidecarConfig {
	return SidecarConfig{
		BaseURL:          "http://localhost:8081",
		Timeout:          30 * time.Second,
		RatePerSecond:    20,
		Burst:            5,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// NewSidecarClient creates a new detection sidecar client
func NewSidecarClient(config SidecarConfig, logger zerolog.Logger) *SidecarClient {
	limit := rate.Inf
	if config.RatePerSecond > 0 {
		limit = rate.Limit(config.RatePerSecond)
	}
	burst := config.Burst
	if burst <= 0 {
		burst = 1
	}
	threshold := config.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	c := &SidecarClient{
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker[[]Detection](gobreaker.Settings{
		Name:    "detector-sidecar",
		Timeout: config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("detector circuit breaker state change")
		},
	})

	return c
}

// Detect encodes img as PNG and posts it to the sidecar
func (c *SidecarClient) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var body bytes.Buffer
	if err := png.Encode(&body, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	detections, err := c.breaker.Execute(func() ([]Detection, error) {
		return c.post(ctx, body.Bytes())
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("detector unavailable: %w", err)
	}
	return detections, err
}

func (c *SidecarClient) post(ctx context.Context, payload []byte) ([]Detection, error) {
	url := fmt.Sprintf("%s/api/detect", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "image/png")
	req.Header.Set("User-Agent", "go-emom")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var detectResp DetectResponse
	if err := json.Unmarshal(respBody, &detectResp); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP request failed with status %d: %s", resp.StatusCode, detectResp.Message)
	}
	if !detectResp.Success {
		return nil, fmt.Errorf("detection failed: %s", detectResp.Message)
	}

	return detectResp.Detections, nil
}

// Health checks if the sidecar is available
func (c *SidecarClient) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// BreakerState returns the circuit breaker state for monitoring
func (c *SidecarClient) BreakerState() string {
	return c.breaker.State().String()
}

package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.uber.org/zap"

	"github.com/xpadev-net/watchlist-supervisor/internal/log"
)

// IngestConfig configures chunk delivery retries.
type IngestConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Timeout    time.Duration
}

// DefaultIngestConfig returns the retry settings used in production.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Timeout:    30 * time.Second,
	}
}

// HTTPIngestor forwards chunks to the downstream ingestion pipeline.
type HTTPIngestor struct {
	baseURL    string
	httpClient *http.Client
	executor   failsafe.Executor[int]
}

// NewHTTPIngestor creates a new ingestion client.
func NewHTTPIngestor(baseURL string, cfg IngestConfig) *HTTPIngestor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}

	policy := retrypolicy.NewBuilder[int]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(status int, err error) bool {
			return err != nil || shouldRetryStatus(status)
		}).
		Build()

	return &HTTPIngestor{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		executor:   failsafe.With[int](policy),
	}
}

func shouldRetryStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// Ingest posts one chunk as application/octet-stream.
func (i *HTTPIngestor) Ingest(ctx context.Context, streamID string, chunkNumber int, data []byte) error {
	endpoint := fmt.Sprintf("%s/streams/%s/chunks/%d", i.baseURL, streamID, chunkNumber)

	status, err := i.executor.WithContext(ctx).Get(func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
		if err != nil {
			return 0, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := i.httpClient.Do(req)
		if err != nil {
			return 0, fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		return resp.StatusCode, nil
	})
	if err != nil {
		return fmt.Errorf("ingest chunk %d: %w", chunkNumber, err)
	}
	if status >= 300 {
		return fmt.Errorf("ingest chunk %d: pipeline returned status %d", chunkNumber, status)
	}
	return nil
}

// NopIngestor only logs chunks. It is used when no pipeline is configured.
type NopIngestor struct{}

// Ingest logs the chunk and returns nil.
func (NopIngestor) Ingest(_ context.Context, streamID string, chunkNumber int, data []byte) error {
	log.Debug("chunk ingestion disabled, dropping chunk",
		zap.String("stream_id", streamID),
		zap.Int("chunk", chunkNumber),
		zap.Int("bytes", len(data)),
	)
	return nil
}

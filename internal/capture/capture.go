package capture

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/xpadev-net/watchlist-supervisor/internal/config"
	"github.com/xpadev-net/watchlist-supervisor/internal/ffmpeg"
	"github.com/xpadev-net/watchlist-supervisor/internal/log"
	"github.com/xpadev-net/watchlist-supervisor/internal/metrics"
)

// VideoSource opens the live byte stream of an account.
type VideoSource interface {
	StartRecording(ctx context.Context, username string) (io.ReadCloser, error)
}

// Ingestor forwards chunks to the downstream pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, streamID string, chunkNumber int, data []byte) error
}

// ChunkProber stores chunks locally and extracts their metadata.
type ChunkProber interface {
	SaveChunk(streamID string, chunkNumber int, data []byte) (string, error)
	ProbeChunk(ctx context.Context, chunkPath string) (*ffmpeg.ProbeResult, error)
	CleanupChunk(chunkPath string) error
	CleanupStream(streamID string) error
}

// Store persists the capture cursor and the final video url.
type Store interface {
	LastChunkNumber(ctx context.Context, streamID string) (int, error)
	AdvanceChunkCursor(ctx context.Context, streamID string, chunkNumber int) error
	SetFullVideoURL(ctx context.Context, streamID, url string) (bool, error)
}

// Deps are the collaborators shared by every capture task.
type Deps struct {
	Source    VideoSource
	Ingestor  Ingestor
	Prober    ChunkProber
	Store     Store
	Metrics   *metrics.Metrics
	ChunkSize int
}

// Task captures the live stream of one session in fixed-size chunks.
type Task struct {
	deps     Deps
	username string
	streamID string
	logger   *zap.Logger
}

// NewTask creates a capture task for one stream session.
func NewTask(deps Deps, username, streamID string) *Task {
	if deps.ChunkSize <= 0 {
		deps.ChunkSize = config.DefaultChunkSize
	}
	return &Task{
		deps:     deps,
		username: username,
		streamID: streamID,
		logger:   log.Stream(username, streamID),
	}
}

// Run reads the stream until it ends or ctx is cancelled. Expected
// termination returns nil; only a failure before capture starts is an error.
func (t *Task) Run(ctx context.Context) error {
	defer func() {
		if err := t.deps.Prober.CleanupStream(t.streamID); err != nil {
			t.logger.Warn("failed to remove chunk directory", zap.Error(err))
		}
	}()

	last, err := t.deps.Store.LastChunkNumber(ctx, t.streamID)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("read chunk cursor: %w", err)
	}
	chunkNumber := last + 1

	body, err := t.deps.Source.StartRecording(ctx, t.username)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		t.logger.Warn("failed to open live stream", zap.Error(err))
		return nil
	}
	defer body.Close()

	t.logger.Info("capture started", zap.Int("chunk", chunkNumber))

	buf := make([]byte, t.deps.ChunkSize)
	for {
		n, readErr := io.ReadFull(body, buf)
		if n > 0 {
			// Copy so ingestion retries never observe the next read.
			data := make([]byte, n)
			copy(data, buf[:n])
			t.processChunk(ctx, chunkNumber, data)
			chunkNumber++
		}

		if ctx.Err() != nil {
			t.logger.Info("capture cancelled", zap.Int("next_chunk", chunkNumber))
			return nil
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				t.logger.Info("live stream ended", zap.Int("next_chunk", chunkNumber))
			} else {
				t.logger.Warn("live stream read failed", zap.Int("next_chunk", chunkNumber), zap.Error(readErr))
			}
			return nil
		}
	}
}

// processChunk saves, ingests, probes and removes one chunk, then advances
// the cursor. A failing stage is logged and counted; ingestion does not
// depend on the local copy.
func (t *Task) processChunk(ctx context.Context, chunkNumber int, data []byte) {
	logger := t.logger.With(zap.Int("chunk", chunkNumber))
	defer t.advanceCursor(ctx, logger, chunkNumber)

	path, saveErr := t.deps.Prober.SaveChunk(t.streamID, chunkNumber, data)
	if saveErr != nil {
		logger.Warn("failed to save chunk", zap.Error(saveErr))
		t.deps.Metrics.IncChunkFailures(metrics.StageSave)
	}

	if err := t.deps.Ingestor.Ingest(ctx, t.streamID, chunkNumber, data); err != nil {
		logger.Warn("chunk ingestion failed", zap.Error(err))
		t.deps.Metrics.IncChunkFailures(metrics.StageIngest)
	}

	if saveErr != nil {
		return
	}
	defer func() {
		if err := t.deps.Prober.CleanupChunk(path); err != nil {
			logger.Warn("failed to remove chunk file", zap.Error(err))
		}
	}()

	result, err := t.deps.Prober.ProbeChunk(ctx, path)
	if err != nil {
		logger.Debug("chunk probe failed", zap.Error(err))
		t.deps.Metrics.IncChunkFailures(metrics.StageProbe)
		return
	}
	if result.FullVideoURL == "" {
		return
	}

	updated, err := t.deps.Store.SetFullVideoURL(ctx, t.streamID, result.FullVideoURL)
	if err != nil {
		logger.Warn("failed to persist full video url", zap.Error(err))
		return
	}
	if updated {
		logger.Info("full video url discovered", zap.String("full_video_url", result.FullVideoURL))
	}
}

func (t *Task) advanceCursor(ctx context.Context, logger *zap.Logger, chunkNumber int) {
	if err := t.deps.Store.AdvanceChunkCursor(ctx, t.streamID, chunkNumber); err != nil {
		if ctx.Err() == nil {
			logger.Warn("failed to advance chunk cursor", zap.Error(err))
			t.deps.Metrics.IncChunkFailures(metrics.StageCursor)
		}
		return
	}
	t.deps.Metrics.IncChunksProcessed()
}

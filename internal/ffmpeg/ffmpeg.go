package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// fullVideoURLKey is the metadata key carrying the final recording location.
const fullVideoURLKey = "full_video_url"

// ProbeResult contains the metadata extracted from one chunk.
type ProbeResult struct {
	FullVideoURL string
	FormatName   string
	Duration     float64
}

// Prober handles local chunk files and ffprobe metadata extraction.
type Prober struct {
	ffprobePath string
	chunkDir    string
}

// NewProber creates a new chunk prober.
func NewProber(ffprobePath, chunkDir string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{
		ffprobePath: ffprobePath,
		chunkDir:    chunkDir,
	}
}

// EnsureChunkDir creates the chunk directory if it doesn't exist.
func (p *Prober) EnsureChunkDir() error {
	return os.MkdirAll(p.chunkDir, 0755)
}

// StreamDir returns the directory holding the chunks of one stream.
func (p *Prober) StreamDir(streamID string) (string, error) {
	name := filepath.Base(streamID)
	if name != streamID || name == "." || name == ".." || name == "" {
		return "", fmt.Errorf("invalid stream id for chunk path: %q", streamID)
	}
	return filepath.Join(p.chunkDir, name), nil
}

// SaveChunk writes chunk data to <chunkDir>/<streamID>/chunk_<n> and
// returns the path.
func (p *Prober) SaveChunk(streamID string, chunkNumber int, data []byte) (string, error) {
	dir, err := p.StreamDir(streamID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create chunk dir: %w", err)
	}

	chunkPath := filepath.Join(dir, fmt.Sprintf("chunk_%d", chunkNumber))
	if err := os.WriteFile(chunkPath, data, 0644); err != nil {
		return "", fmt.Errorf("write chunk: %w", err)
	}

	return chunkPath, nil
}

// ProbeChunk runs ffprobe on a chunk file and extracts its metadata.
func (p *Prober) ProbeChunk(ctx context.Context, chunkPath string) (*ProbeResult, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		chunkPath,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w (stderr: %s)", err, stderr.String())
	}

	return ParseProbeOutput(stdout.Bytes())
}

// ParseProbeOutput parses ffprobe JSON output. The final video url is read
// from the top level first, then from the format tags; key matching is
// case-insensitive.
func ParseProbeOutput(data []byte) (*ProbeResult, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	result := &ProbeResult{}
	if v, ok := lookupString(raw, fullVideoURLKey); ok {
		result.FullVideoURL = v
	}

	formatRaw, ok := lookupRaw(raw, "format")
	if !ok {
		return result, nil
	}

	var format struct {
		FormatName string                     `json:"format_name"`
		Duration   string                     `json:"duration"`
		Tags       map[string]json.RawMessage `json:"tags"`
	}
	if err := json.Unmarshal(formatRaw, &format); err != nil {
		return nil, fmt.Errorf("parse ffprobe format: %w", err)
	}

	result.FormatName = format.FormatName
	if format.Duration != "" {
		if d, err := strconv.ParseFloat(format.Duration, 64); err == nil {
			result.Duration = d
		}
	}
	if result.FullVideoURL == "" {
		if v, ok := lookupString(format.Tags, fullVideoURLKey); ok {
			result.FullVideoURL = v
		}
	}

	return result, nil
}

func lookupRaw(m map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func lookupString(m map[string]json.RawMessage, key string) (string, bool) {
	v, ok := lookupRaw(m, key)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// CleanupChunk removes a chunk file.
func (p *Prober) CleanupChunk(chunkPath string) error {
	return os.Remove(chunkPath)
}

// CleanupStream removes all chunk files for a stream.
func (p *Prober) CleanupStream(streamID string) error {
	dir, err := p.StreamDir(streamID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

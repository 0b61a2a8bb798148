// Package transcoder converts WhatsApp voice notes (OGG/Opus) to MP3 with ffmpeg.
package transcoder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/lewisedginton/whatsapp_session_gateway/pkg/logger"
)

// maxStderr caps how much ffmpeg output ends up in an error message.
const maxStderr = 512

// FFmpeg runs an ffmpeg binary per conversion.
type FFmpeg struct {
	path    string
	timeout time.Duration
	log     logger.Logger
}

// New creates an FFmpeg transcoder. path may be a bare name resolved through PATH.
func New(path string, timeout time.Duration, log logger.Logger) (*FFmpeg, error) {
	if path == "" {
		return nil, fmt.Errorf("ffmpeg path is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &FFmpeg{
		path:    path,
		timeout: timeout,
		log:     log.WithFields(logger.ComponentField("transcoder")),
	}, nil
}

// Check verifies that the binary can be found.
func (f *FFmpeg) Check() error {
	if _, err := exec.LookPath(f.path); err != nil {
		return fmt.Errorf("ffmpeg not available: %w", err)
	}
	return nil
}

// Convert writes an MP3 rendition of src to dst, overwriting dst.
func (f *FFmpeg) Convert(ctx context.Context, src, dst string) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.path, args(src, dst)...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, tail(stderr.String(), maxStderr))
	}
	f.log.Debug("Converted audio",
		logger.StringField("src", src),
		logger.DurationField("took", time.Since(start)))
	return nil
}

func args(src, dst string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", src,
		"-vn",
		"-ar", "16000",
		"-ac", "1",
		"-codec:a", "libmp3lame",
		"-q:a", "4",
		dst,
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

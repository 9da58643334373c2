// Package ffmpeg provides FFmpeg/FFprobe binary detection and a command
// builder for the decode, encode, and remux legs of the pipeline. The
// binaries implement the out-of-scope container and codec collaborators; the
// core only talks to them through the adapter interfaces.
package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BinaryInfo contains information about the FFmpeg/FFprobe installation.
type BinaryInfo struct {
	FFmpegPath   string `json:"ffmpeg_path"`
	FFprobePath  string `json:"ffprobe_path"`
	Version      string `json:"version"`
	MajorVersion int    `json:"major_version"`
	MinorVersion int    `json:"minor_version"`
}

// versionPattern extracts the version from `ffmpeg -version` output.
var versionPattern = regexp.MustCompile(`ffmpeg version (\S+)`)

// BinaryDetector handles detection and caching of FFmpeg binaries.
type BinaryDetector struct {
	mu           sync.RWMutex
	info         *BinaryInfo
	lastDetected time.Time
	cacheTTL     time.Duration

	// explicit paths from configuration; empty means search PATH
	ffmpegPath  string
	ffprobePath string
}

// NewBinaryDetector creates a new binary detector. Explicit paths override
// PATH lookup.
func NewBinaryDetector(ffmpegPath, ffprobePath string) *BinaryDetector {
	return &BinaryDetector{
		cacheTTL:    5 * time.Minute,
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// Detect locates ffmpeg and ffprobe and returns their version info.
func (d *BinaryDetector) Detect(ctx context.Context) (*BinaryInfo, error) {
	d.mu.RLock()
	if d.info != nil && time.Since(d.lastDetected) < d.cacheTTL {
		info := d.info
		d.mu.RUnlock()
		return info, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	ffmpegPath := d.ffmpegPath
	if ffmpegPath == "" {
		p, err := exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
		}
		ffmpegPath = p
	}

	ffprobePath := d.ffprobePath
	if ffprobePath == "" {
		p, err := exec.LookPath("ffprobe")
		if err != nil {
			return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
		}
		ffprobePath = p
	}

	info := &BinaryInfo{
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
	}

	out, err := exec.CommandContext(ctx, ffmpegPath, "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("running ffmpeg -version: %w", err)
	}
	if m := versionPattern.FindSubmatch(out); m != nil {
		info.Version = string(m[1])
		info.MajorVersion, info.MinorVersion = parseVersion(info.Version)
	}

	d.info = info
	d.lastDetected = time.Now()
	return info, nil
}

// parseVersion extracts major.minor from a version string like "6.1.1" or
// "n7.0-12-gabc".
func parseVersion(v string) (major, minor int) {
	v = strings.TrimPrefix(v, "n")
	parts := strings.FieldsFunc(v, func(r rune) bool { return r == '.' || r == '-' })
	if len(parts) > 0 {
		major, _ = strconv.Atoi(parts[0])
	}
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}
	return major, minor
}

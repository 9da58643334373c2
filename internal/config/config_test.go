package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 1200, cfg.Cut.MaxGOPFrames)
	assert.Equal(t, 256, cfg.Cut.QueueDepth)
	assert.Equal(t, "near_lossless", cfg.Cut.Quality)
	assert.False(t, cfg.Cut.PreserveTimestamps)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "framecut.yaml")
	content := []byte(`
logging:
  level: debug
  format: json
cut:
  max_gop_frames: 600
  quality: lossless
  preserve_timestamps: true
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 600, cfg.Cut.MaxGOPFrames)
	assert.Equal(t, "lossless", cfg.Cut.Quality)
	assert.True(t, cfg.Cut.PreserveTimestamps)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"zero gop cap", func(c *Config) { c.Cut.MaxGOPFrames = 0 }, "max_gop_frames"},
		{"bad quality", func(c *Config) { c.Cut.Quality = "ultra" }, "quality"},
		{"negative pre-roll", func(c *Config) { c.Cut.AudioPreRollMS = -1 }, "audio_pre_roll_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Logging: LoggingConfig{Level: "info", Format: "text"},
				Cut: CutConfig{
					MaxGOPFrames: 1200,
					Quality:      "normal",
					QueueDepth:   256,
				},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// CommandBuilder builds FFmpeg commands with a fluent API.
type CommandBuilder struct {
	binary     string
	globalArgs []string
	inputArgs  []string
	inputs     []string
	outputArgs []string
	output     string
	logLevel   string
	overwrite  bool
}

// NewCommandBuilder creates a new FFmpeg command builder.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the FFmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the FFmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// InputArgs adds arguments that precede the next input.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// Input adds an input path (or "pipe:0" / "-" for stdin). Preceding
// InputArgs apply to it.
func (b *CommandBuilder) Input(path string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, "-i", path)
	b.inputs = append(b.inputs, path)
	return b
}

// OutputArgs adds output-side arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output path ("-" for stdout).
func (b *CommandBuilder) Output(path string) *CommandBuilder {
	b.output = path
	return b
}

// Args assembles the final argument list.
func (b *CommandBuilder) Args() []string {
	args := []string{"-loglevel", b.logLevel}
	args = append(args, b.globalArgs...)
	if b.overwrite {
		args = append(args, "-y")
	}
	args = append(args, b.inputArgs...)
	args = append(args, b.outputArgs...)
	if b.output != "" {
		args = append(args, b.output)
	}
	return args
}

// Command materializes an exec.Cmd bound to ctx.
func (b *CommandBuilder) Command(ctx context.Context) *exec.Cmd {
	return exec.CommandContext(ctx, b.binary, b.Args()...)
}

// String renders the full command line for logging.
func (b *CommandBuilder) String() string {
	return b.binary + " " + strings.Join(b.Args(), " ")
}

// Run executes the command, returning stderr in the error on failure.
func (b *CommandBuilder) Run(ctx context.Context, logger *slog.Logger) error {
	cmd := b.Command(ctx)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if logger != nil {
		logger.Debug("running ffmpeg", slog.String("cmd", b.String()))
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, tail(stderr.String(), 512))
	}
	return nil
}

// StartPipe starts the command with stdout piped; the caller consumes the
// reader and then calls the returned wait function.
func (b *CommandBuilder) StartPipe(ctx context.Context, logger *slog.Logger) (io.ReadCloser, func() error, error) {
	cmd := b.Command(ctx)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("opening ffmpeg stdout: %w", err)
	}

	if logger != nil {
		logger.Debug("running ffmpeg", slog.String("cmd", b.String()))
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	wait := func() error {
		if err := cmd.Wait(); err != nil {
			return fmt.Errorf("ffmpeg failed: %w: %s", err, tail(stderr.String(), 512))
		}
		return nil
	}
	return stdout, wait, nil
}

// StartStdinPipe starts the command with stdin piped; the caller writes the
// stream and closes the writer, then calls wait.
func (b *CommandBuilder) StartStdinPipe(ctx context.Context, logger *slog.Logger) (io.WriteCloser, func() error, error) {
	cmd := b.Command(ctx)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("opening ffmpeg stdin: %w", err)
	}

	if logger != nil {
		logger.Debug("running ffmpeg", slog.String("cmd", b.String()))
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	wait := func() error {
		if err := cmd.Wait(); err != nil {
			return fmt.Errorf("ffmpeg failed: %w: %s", err, tail(stderr.String(), 512))
		}
		return nil
	}
	return stdin, wait, nil
}

// tail returns the last n bytes of s, trimmed.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

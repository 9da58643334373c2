// Package cut orchestrates a smart-cut job: interval resolution, GOP
// indexing, splice planning, boundary re-encoding, and muxing, tied together
// by a single-threaded pull loop with cooperative cancellation.
package cut

import (
	"errors"

	"github.com/jmylchreest/framecut/internal/nal"
	"github.com/jmylchreest/framecut/internal/plan"
	"github.com/jmylchreest/framecut/internal/reencode"
	"github.com/jmylchreest/framecut/internal/timespec"
)

// Error kinds surfaced by a job, each mapped to a CLI exit code.
var (
	// ErrArgs covers invalid time tokens, interval ordering, and other
	// argument failures (exit 2).
	ErrArgs = errors.New("argument error")
	// ErrInputUnreadable covers I/O and container open failures (exit 3).
	ErrInputUnreadable = errors.New("input unreadable")
	// ErrBitstream covers NAL parse failures and unmet decoder
	// preconditions (exit 4).
	ErrBitstream = errors.New("malformed bitstream")
	// ErrEncoder covers codec-internal encoder failures (exit 5).
	ErrEncoder = errors.New("encoder failure")
	// ErrOutputWrite covers output I/O failures (exit 6).
	ErrOutputWrite = errors.New("output write error")
	// ErrCancelled reports cooperative cancellation (exit 130).
	ErrCancelled = errors.New("cancelled")
)

// Exit codes of the CLI surface.
const (
	ExitOK          = 0
	ExitArgs        = 2
	ExitInput       = 3
	ExitBitstream   = 4
	ExitEncoder     = 5
	ExitOutputWrite = 6
	ExitCancelled   = 130
)

// ExitCode maps an error to the CLI exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrCancelled):
		return ExitCancelled
	case errors.Is(err, ErrArgs),
		errors.Is(err, timespec.ErrInvalidToken),
		errors.Is(err, timespec.ErrIntervalOrder),
		errors.Is(err, timespec.ErrOutOfRange),
		errors.Is(err, timespec.ErrEmptyIntervals):
		return ExitArgs
	case errors.Is(err, ErrInputUnreadable):
		return ExitInput
	case errors.Is(err, ErrBitstream),
		errors.Is(err, nal.ErrMalformed),
		errors.Is(err, plan.ErrGopTooLarge),
		errors.Is(err, reencode.ErrDecoderRefMissing):
		return ExitBitstream
	case errors.Is(err, ErrEncoder),
		errors.Is(err, reencode.ErrEncoderExhausted):
		return ExitEncoder
	case errors.Is(err, ErrOutputWrite):
		return ExitOutputWrite
	default:
		return ExitInput
	}
}

// Package timespec resolves user-supplied time tokens into absolute
// presentation-time intervals in the reference video stream's time base.
//
// Token grammar (case-insensitive):
//   - integer or decimal seconds: "90", "12.5"
//   - clock times: "HH:MM:SS", "MM:SS", optionally with ".fff"
//   - frame indices, marked with an "f" suffix: "300f"
//   - "s"/"start" and "e"/"end"
//   - a seconds, clock, or frame token prefixed with "-" meaning "from end
//     of file" (the start/end keywords take no prefix)
package timespec

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jmylchreest/framecut/internal/media"
)

// Sentinel errors surfaced as argument errors by the CLI.
var (
	// ErrInvalidToken reports an unparseable time token.
	ErrInvalidToken = errors.New("invalid time token")
	// ErrIntervalOrder reports an interval whose end precedes its start.
	ErrIntervalOrder = errors.New("interval end before start")
	// ErrOutOfRange reports a value beyond the input duration.
	ErrOutOfRange = errors.New("time out of range")
	// ErrEmptyIntervals reports an empty or odd-length token list.
	ErrEmptyIntervals = errors.New("no intervals given")
)

// Resolver maps tokens to PTS values for one input file.
type Resolver struct {
	// TimeBase of the reference video stream.
	TimeBase media.Rational
	// Duration of the input in TimeBase ticks.
	Duration int64
	// FrameRate of the reference video stream; required only for frame tokens.
	FrameRate media.Rational
}

// oneFrame returns the duration of a single frame in ticks, or 0 when the
// frame rate is unknown.
func (r *Resolver) oneFrame() int64 {
	if !r.FrameRate.IsValid() {
		return 0
	}
	return media.Rescale(1, r.FrameRate.Invert(), r.TimeBase)
}

// ResolveToken converts a single token to an absolute PTS in ticks.
func (r *Resolver) ResolveToken(token string) (int64, error) {
	tok := strings.ToLower(strings.TrimSpace(token))
	if tok == "" {
		return 0, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	switch tok {
	case "s", "start":
		return 0, nil
	case "e", "end":
		return r.Duration, nil
	}

	negative := false
	if strings.HasPrefix(tok, "-") {
		negative = true
		tok = tok[1:]
		if tok == "" {
			return 0, fmt.Errorf("%w: %q", ErrInvalidToken, token)
		}
	}

	var pts int64
	switch {
	case strings.HasSuffix(tok, "f"):
		n, err := strconv.ParseInt(strings.TrimSuffix(tok, "f"), 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidToken, token)
		}
		if !r.FrameRate.IsValid() {
			return 0, fmt.Errorf("%w: %q needs a known frame rate", ErrInvalidToken, token)
		}
		// n / frame_rate, rounded to the nearest PTS unit.
		pts = media.Rescale(n, r.FrameRate.Invert(), r.TimeBase)

	case strings.Contains(tok, ":"):
		seconds, err := parseClock(tok)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidToken, token)
		}
		pts = media.RescaleSeconds(seconds, r.TimeBase)

	default:
		seconds, err := strconv.ParseFloat(tok, 64)
		if err != nil || seconds < 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidToken, token)
		}
		pts = media.RescaleSeconds(seconds, r.TimeBase)
	}

	if negative {
		pts = r.Duration - pts
		if pts < 0 {
			pts = 0
		}
	}

	// Allow one frame of slack past the end before rejecting.
	if pts > r.Duration+r.oneFrame() {
		return 0, fmt.Errorf("%w: %q exceeds input duration", ErrOutOfRange, token)
	}
	if pts > r.Duration {
		pts = r.Duration
	}

	return pts, nil
}

// parseClock parses HH:MM:SS[.fff] or MM:SS[.fff] into seconds.
func parseClock(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("bad clock time")
	}

	var total float64
	for i, part := range parts {
		if part == "" {
			return 0, fmt.Errorf("bad clock time")
		}
		// Only the final (seconds) field may carry a fraction.
		if i < len(parts)-1 {
			v, err := strconv.ParseInt(part, 10, 64)
			if err != nil || v < 0 {
				return 0, fmt.Errorf("bad clock time")
			}
			total = total*60 + float64(v)
		} else {
			v, err := strconv.ParseFloat(part, 64)
			if err != nil || v < 0 || v >= 60 {
				return 0, fmt.Errorf("bad clock time")
			}
			total = total*60 + v
		}
	}
	return total, nil
}

// ResolveKeep converts a token list into sorted, merged keep intervals.
// Consecutive token pairs form intervals; the list length must be even and
// non-zero.
func (r *Resolver) ResolveKeep(tokens []string) ([]media.TimeInterval, error) {
	if len(tokens) == 0 {
		return nil, ErrEmptyIntervals
	}
	if len(tokens)%2 != 0 {
		return nil, fmt.Errorf("%w: odd token count %d", ErrEmptyIntervals, len(tokens))
	}

	intervals := make([]media.TimeInterval, 0, len(tokens)/2)
	for i := 0; i < len(tokens); i += 2 {
		start, err := r.ResolveToken(tokens[i])
		if err != nil {
			return nil, err
		}
		end, err := r.ResolveToken(tokens[i+1])
		if err != nil {
			return nil, err
		}
		if end < start {
			return nil, fmt.Errorf("%w: %q,%q", ErrIntervalOrder, tokens[i], tokens[i+1])
		}
		if end == start {
			continue
		}
		intervals = append(intervals, media.TimeInterval{StartPTS: start, EndPTS: end})
	}

	merged := Merge(intervals)
	if len(merged) == 0 {
		return nil, ErrEmptyIntervals
	}
	return merged, nil
}

// ResolveCut converts cut tokens into their complementary keep intervals over
// [0, duration].
func (r *Resolver) ResolveCut(tokens []string) ([]media.TimeInterval, error) {
	cuts, err := r.ResolveKeep(tokens)
	if err != nil {
		return nil, err
	}

	keeps := Complement(cuts, r.Duration)
	if len(keeps) == 0 {
		return nil, fmt.Errorf("%w: cut list removes the whole input", ErrEmptyIntervals)
	}
	return keeps, nil
}

// Merge sorts intervals and coalesces overlapping or touching ones.
func Merge(intervals []media.TimeInterval) []media.TimeInterval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := make([]media.TimeInterval, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartPTS < sorted[j].StartPTS })

	out := sorted[:1]
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if iv.StartPTS <= last.EndPTS {
			if iv.EndPTS > last.EndPTS {
				last.EndPTS = iv.EndPTS
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Complement returns the keep intervals left over when cuts are removed from
// [0, total]. cuts must be sorted and non-overlapping.
func Complement(cuts []media.TimeInterval, total int64) []media.TimeInterval {
	var out []media.TimeInterval
	cursor := int64(0)
	for _, c := range cuts {
		if c.StartPTS > cursor {
			out = append(out, media.TimeInterval{StartPTS: cursor, EndPTS: c.StartPTS})
		}
		if c.EndPTS > cursor {
			cursor = c.EndPTS
		}
	}
	if cursor < total {
		out = append(out, media.TimeInterval{StartPTS: cursor, EndPTS: total})
	}
	return out
}

// SplitTokens splits a comma-separated CLI argument into trimmed tokens.
func SplitTokens(arg string) []string {
	if strings.TrimSpace(arg) == "" {
		return nil
	}
	parts := strings.Split(arg, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

package container

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmylchreest/framecut/internal/media"
)

// renderSubtitleSidecar writes the buffered packets of one subtitle stream
// as an SRT file for the merge pass. Returns "" when the stream produced no
// cues.
func (r *RemuxWriter) renderSubtitleSidecar(desc media.StreamDescriptor) (string, error) {
	packets := r.subPackets[desc.Index]
	if len(packets) == 0 {
		return "", nil
	}

	var sb strings.Builder
	n := 0
	for _, pkt := range packets {
		text := strings.TrimSpace(string(pkt.Data))
		if text == "" || pkt.PTS == media.NoTimestamp {
			continue
		}
		startMS := media.Rescale(pkt.PTS, desc.TimeBase, media.Rational{Num: 1, Den: 1000})
		durMS := media.Rescale(pkt.Duration, desc.TimeBase, media.Rational{Num: 1, Den: 1000})
		if durMS <= 0 {
			durMS = 2000
		}

		n++
		fmt.Fprintf(&sb, "%d\n%s --> %s\n%s\n\n", n, srtTime(startMS), srtTime(startMS+durMS), text)
	}
	if n == 0 {
		return "", nil
	}

	path := filepath.Join(r.tempDir, fmt.Sprintf("sub%d.srt", desc.Index))
	if err := os.WriteFile(path, []byte(sb.String()), 0o600); err != nil {
		return "", fmt.Errorf("writing subtitle sidecar: %w", err)
	}
	return path, nil
}

// srtTime formats milliseconds as HH:MM:SS,mmm.
func srtTime(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	h := ms / 3_600_000
	m := ms % 3_600_000 / 60_000
	s := ms % 60_000 / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}

// renderChapterMetadata writes the kept chapters in ffmetadata format.
func (r *RemuxWriter) renderChapterMetadata() (string, error) {
	var sb strings.Builder
	sb.WriteString(";FFMETADATA1\n")
	for _, c := range r.chapters {
		fmt.Fprintf(&sb, "[CHAPTER]\nTIMEBASE=%d/%d\nSTART=%d\nEND=%d\n", c.TimeBase.Num, c.TimeBase.Den, c.Start, c.End)
		if c.Title != "" {
			fmt.Fprintf(&sb, "title=%s\n", escapeFFMetadata(c.Title))
		}
	}

	path := filepath.Join(r.tempDir, "chapters.ffmeta")
	if err := os.WriteFile(path, []byte(sb.String()), 0o600); err != nil {
		return "", fmt.Errorf("writing chapter metadata: %w", err)
	}
	return path, nil
}

// escapeFFMetadata escapes the characters the ffmetadata parser treats
// specially.
func escapeFFMetadata(s string) string {
	repl := strings.NewReplacer("\\", "\\\\", "=", "\\=", ";", "\\;", "#", "\\#", "\n", "\\\n")
	return repl.Replace(s)
}

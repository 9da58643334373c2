package cut

import "github.com/jmylchreest/framecut/internal/media"

// remapChapters clips chapter markers to the kept intervals and shifts them
// into the output timeline. Intervals are in refTB; chapters carry their own
// time base.
func remapChapters(chapters []media.Chapter, intervals []media.TimeInterval, refTB media.Rational) []media.Chapter {
	var out []media.Chapter

	for _, ch := range chapters {
		chStart := media.Rescale(ch.Start, ch.TimeBase, refTB)
		chEnd := media.Rescale(ch.End, ch.TimeBase, refTB)

		outPos := int64(0)
		for _, iv := range intervals {
			s := max64(chStart, iv.StartPTS)
			e := min64(chEnd, iv.EndPTS)
			if s < e {
				start := outPos + (s - iv.StartPTS)
				end := outPos + (e - iv.StartPTS)
				out = append(out, media.Chapter{
					ID:       int64(len(out) + 1),
					TimeBase: refTB,
					Start:    start,
					End:      end,
					Title:    ch.Title,
				})
				break
			}
			outPos += iv.Duration()
		}
	}

	return out
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Package container adapts real demuxers and muxers to the interfaces the
// smart-cut core consumes: ffprobe for stream metadata and packet indexes,
// an ffmpeg elementary-stream pipe read by mediacommon for packet payloads,
// go-mp4 for ISO-BMFF sample tables, go-astits for MPEG-TS subtitle PES, and
// a TS-pipe remux for writing every non-TS output container.
package container

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/framecut/internal/media"
)

// ProbeResult contains the parsed ffprobe output.
type ProbeResult struct {
	Format   ProbeFormat    `json:"format"`
	Streams  []ProbeStream  `json:"streams"`
	Chapters []ProbeChapter `json:"chapters"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename   string            `json:"filename"`
	NumStreams int               `json:"nb_streams"`
	FormatName string            `json:"format_name"`
	StartTime  string            `json:"start_time"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

// ProbeStream contains stream information.
type ProbeStream struct {
	Index         int               `json:"index"`
	CodecName     string            `json:"codec_name"`
	Profile       string            `json:"profile"`
	CodecType     string            `json:"codec_type"`
	CodecTag      string            `json:"codec_tag_string"`
	Width         int               `json:"width,omitempty"`
	Height        int               `json:"height,omitempty"`
	HasBFrames    int               `json:"has_b_frames,omitempty"`
	SampleAspect  string            `json:"sample_aspect_ratio,omitempty"`
	PixFmt        string            `json:"pix_fmt,omitempty"`
	Level         int               `json:"level,omitempty"`
	ColorRange    string            `json:"color_range,omitempty"`
	ColorSpace    string            `json:"color_space,omitempty"`
	SampleRate    string            `json:"sample_rate,omitempty"`
	Channels      int               `json:"channels,omitempty"`
	ChannelLayout string            `json:"channel_layout,omitempty"`
	RFrameRate    string            `json:"r_frame_rate,omitempty"`
	AvgFrameRate  string            `json:"avg_frame_rate,omitempty"`
	TimeBase      string            `json:"time_base,omitempty"`
	StartPts      int64             `json:"start_pts,omitempty"`
	Duration      string            `json:"duration,omitempty"`
	DurationTs    int64             `json:"duration_ts,omitempty"`
	BitRate       string            `json:"bit_rate,omitempty"`
	NumFrames     string            `json:"nb_frames,omitempty"`
	Extradata     string            `json:"extradata,omitempty"`
	Disposition   ProbeDisposition  `json:"disposition,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// ProbeDisposition contains stream disposition flags.
type ProbeDisposition struct {
	Default         int `json:"default"`
	Forced          int `json:"forced"`
	HearingImpaired int `json:"hearing_impaired"`
	VisualImpaired  int `json:"visual_impaired"`
	AttachedPic     int `json:"attached_pic"`
}

// ProbeChapter contains chapter markers.
type ProbeChapter struct {
	ID       int64             `json:"id"`
	TimeBase string            `json:"time_base"`
	Start    int64             `json:"start"`
	End      int64             `json:"end"`
	Tags     map[string]string `json:"tags"`
}

// Prober handles ffprobe operations.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
	runner      commandRunner
}

// NewProber creates a new file prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
		runner:      execRunner{},
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe probes an input file and returns detailed information.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-show_chapters",
		"-show_data",
		path,
	}

	output, err := p.runner.run(ctx, p.ffprobePath, args...)
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	return &result, nil
}

// Source is the resolved view of one input file consumed by the core.
type Source struct {
	Path        string
	Format      string
	Duration    float64 // seconds
	StartTime   float64 // seconds
	Streams     []media.StreamDescriptor
	Chapters    []media.Chapter
	Attachments []attachmentRef
	Metadata    map[string]string
}

// attachmentRef points at an attachment stream to copy at finalize.
type attachmentRef struct {
	StreamIndex int
	Filename    string
	MimeType    string
}

// ReferenceVideo returns the first video stream that is not an attached
// picture (cover art), or nil.
func (s *Source) ReferenceVideo() *media.StreamDescriptor {
	for i := range s.Streams {
		if s.Streams[i].Kind == media.StreamVideo && !s.Streams[i].Disposition.AttachedPic {
			return &s.Streams[i]
		}
	}
	return nil
}

// StreamsOfKind returns all streams of a kind.
func (s *Source) StreamsOfKind(kind media.StreamKind) []media.StreamDescriptor {
	var out []media.StreamDescriptor
	for _, d := range s.Streams {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// Resolve converts a probe result into the core's Source view.
func (p *Prober) Resolve(result *ProbeResult, path string) (*Source, error) {
	src := &Source{
		Path:     path,
		Format:   result.Format.FormatName,
		Metadata: result.Format.Tags,
	}

	if result.Format.Duration != "" {
		d, err := strconv.ParseFloat(result.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing duration %q: %w", result.Format.Duration, err)
		}
		src.Duration = d
	}
	if result.Format.StartTime != "" {
		if st, err := strconv.ParseFloat(result.Format.StartTime, 64); err == nil {
			src.StartTime = st
		}
	}

	for _, s := range result.Streams {
		desc, err := resolveStream(s)
		if err != nil {
			return nil, err
		}
		if desc.Kind == media.StreamAttachment {
			src.Attachments = append(src.Attachments, attachmentRef{
				StreamIndex: s.Index,
				Filename:    s.Tags["filename"],
				MimeType:    s.Tags["mimetype"],
			})
		}
		src.Streams = append(src.Streams, desc)
	}

	for _, c := range result.Chapters {
		tb, err := media.ParseRational(c.TimeBase)
		if err != nil {
			continue
		}
		src.Chapters = append(src.Chapters, media.Chapter{
			ID:       c.ID,
			TimeBase: tb,
			Start:    c.Start,
			End:      c.End,
			Title:    c.Tags["title"],
		})
	}

	return src, nil
}

// resolveStream converts one ffprobe stream into a descriptor.
func resolveStream(s ProbeStream) (media.StreamDescriptor, error) {
	desc := media.StreamDescriptor{
		Index:   s.Index,
		CodecID: s.CodecName,
		Profile: s.Profile,
		Level:   s.Level,
		PixFmt:  s.PixFmt,
		Width:   s.Width,
		Height:  s.Height,
		Disposition: media.Disposition{
			Default:         s.Disposition.Default == 1,
			Forced:          s.Disposition.Forced == 1,
			HearingImpaired: s.Disposition.HearingImpaired == 1,
			VisualImpaired:  s.Disposition.VisualImpaired == 1,
			AttachedPic:     s.Disposition.AttachedPic == 1,
		},
		ColorSpace: s.ColorSpace,
		ColorRange: s.ColorRange,
		Language:   s.Tags["language"],
		Title:      s.Tags["title"],
	}

	switch s.CodecType {
	case "video":
		desc.Kind = media.StreamVideo
	case "audio":
		desc.Kind = media.StreamAudio
	case "subtitle":
		desc.Kind = media.StreamSubtitle
	case "attachment":
		desc.Kind = media.StreamAttachment
	default:
		desc.Kind = media.StreamData
	}

	if s.TimeBase != "" {
		tb, err := media.ParseRational(s.TimeBase)
		if err != nil {
			return desc, fmt.Errorf("stream %d: %w", s.Index, err)
		}
		desc.TimeBase = tb
	}

	if s.AvgFrameRate != "" && s.AvgFrameRate != "0/0" {
		if fr, err := media.ParseRational(s.AvgFrameRate); err == nil && fr.IsValid() {
			desc.FrameRate = fr
		}
	}
	if !desc.FrameRate.IsValid() && s.RFrameRate != "" && s.RFrameRate != "0/0" {
		if fr, err := media.ParseRational(s.RFrameRate); err == nil && fr.IsValid() {
			desc.FrameRate = fr
		}
	}

	if s.SampleAspect != "" {
		if sar, err := media.ParseRational(strings.ReplaceAll(s.SampleAspect, ":", "/")); err == nil {
			desc.SAR = sar
		}
	}

	if s.SampleRate != "" {
		if sr, err := strconv.Atoi(s.SampleRate); err == nil {
			desc.SampleRate = sr
		}
	}
	desc.Channels = s.Channels

	if s.BitRate != "" {
		if br, err := strconv.ParseInt(s.BitRate, 10, 64); err == nil {
			desc.BitRate = br
		}
	}

	if s.Extradata != "" {
		desc.Extradata = parseHexDump(s.Extradata)
	}

	return desc, nil
}

// parseHexDump decodes ffprobe's -show_data hex dump format:
//
//	00000000: 0164 001f ffe1 001b 6764 001f acd9 40a0  .d....'gd..@.
func parseHexDump(dump string) []byte {
	var out []byte
	for _, line := range strings.Split(dump, "\n") {
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		rest := line[colon+1:]
		// Hex words run until the double-space before the ASCII gutter.
		if gutter := strings.Index(rest, "  "); gutter > 0 {
			// The first field separator is a single space; find the gutter
			// after the hex words (ffprobe pads hex to a fixed width).
			rest = rest[:gutter+1]
		}
		for _, word := range strings.Fields(rest) {
			b, err := hex.DecodeString(word)
			if err != nil {
				break
			}
			out = append(out, b...)
		}
	}
	return out
}

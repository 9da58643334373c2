// Package reencode implements the boundary re-encode engine: it decodes the
// minimal window around a cut-in (or cut-out) point and re-encodes exactly
// the frames the splice plan names, producing packets that splice cleanly
// against the copied stream.
package reencode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/framecut/internal/codec"
	"github.com/jmylchreest/framecut/internal/ffmpeg"
	"github.com/jmylchreest/framecut/internal/media"
	"github.com/jmylchreest/framecut/internal/nal"
)

// Failure sentinels, mapped to exit codes by the job layer.
var (
	// ErrDecoderRefMissing reports that the decode window did not produce
	// every planned frame; the caller widens the window and retries once.
	ErrDecoderRefMissing = errors.New("decoder reference missing")
	// ErrEncoderExhausted reports a codec-internal encoder failure.
	ErrEncoderExhausted = errors.New("encoder exhausted")
)

// crfByQuality maps the preset names to x264/x265 CRF values.
var crfByQuality = map[string]int{
	"low":               23,
	"normal":            18,
	"high":              14,
	"indistinguishable": 8,
	"near_lossless":     3,
	"lossless":          0,
}

// CRFForQuality returns the CRF for a preset and codec. Newer codecs get a
// +4 adjustment for their better efficiency at equal CRF.
func CRFForQuality(quality string, v codec.Video) int {
	crf, ok := crfByQuality[quality]
	if !ok {
		crf = crfByQuality["near_lossless"]
	}
	if quality == "lossless" {
		return 0
	}
	if v == codec.VideoH265 || v == codec.VideoVP9 || v == codec.VideoAV1 {
		crf += 4
	}
	return crf
}

// Segment is the product of one boundary re-encode.
type Segment struct {
	// Packets in decode order, Annex B payloads, 90 kHz timestamps.
	Packets []*media.Packet
	// ParameterSets produced by the encoder, to be emitted ahead of the
	// first packet.
	ParameterSets *nal.ParameterSets
}

// Request describes one re-encode segment.
type Request struct {
	// InputPath is the source file.
	InputPath string
	// StreamIndex selects the video stream.
	StreamIndex int
	// Stream carries codec parameters to replicate.
	Stream media.StreamDescriptor
	// SeekSeconds positions the decoder at or before the previous keyframe.
	SeekSeconds float64
	// StartSeconds/EndSeconds bound the display range to re-encode
	// (half-open, input clock).
	StartSeconds float64
	EndSeconds   float64
	// ExpectedFrames is the planned frame count; a shortfall signals a
	// missing decoder reference.
	ExpectedFrames int
	// Widened marks the retry pass after ErrDecoderRefMissing.
	Widened bool
}

// Engine drives the external codec library (ffmpeg) for segment re-encodes.
type Engine struct {
	ffmpegPath string
	quality    string
	logger     *slog.Logger
}

// NewEngine builds an engine with the given quality preset.
func NewEngine(ffmpegPath, quality string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{ffmpegPath: ffmpegPath, quality: quality, logger: logger}
}

// Encode decodes the window and re-encodes the planned display range,
// returning the packets in decode order.
func (e *Engine) Encode(ctx context.Context, req Request) (*Segment, error) {
	v, ok := codec.ParseVideo(req.Stream.CodecID)
	if !ok || v.Encoder() == "" {
		return nil, fmt.Errorf("%w: no encoder for codec %q", ErrEncoderExhausted, req.Stream.CodecID)
	}
	if v != codec.VideoH264 && v != codec.VideoH265 {
		// Other codecs re-encode through the segment engine, which splices
		// at the file level.
		return nil, fmt.Errorf("%w: packet-level re-encode serves H.264/H.265 only, got %q",
			ErrEncoderExhausted, req.Stream.CodecID)
	}

	builder, err := e.buildCommand(req, v)
	if err != nil {
		return nil, err
	}

	stdout, wait, err := builder.StartPipe(ctx, e.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoderExhausted, err)
	}

	seg, demuxErr := e.collect(stdout, v, req.StreamIndex)
	stdout.Close()
	if err := wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoderExhausted, err)
	}
	if demuxErr != nil {
		return nil, demuxErr
	}

	if len(seg.Packets) < req.ExpectedFrames {
		e.logger.Warn("re-encode produced fewer frames than planned",
			slog.Int("expected", req.ExpectedFrames),
			slog.Int("got", len(seg.Packets)),
			slog.Bool("widened", req.Widened))
		return seg, fmt.Errorf("%w: wanted %d frames, decoded %d",
			ErrDecoderRefMissing, req.ExpectedFrames, len(seg.Packets))
	}

	return seg, nil
}

// buildCommand assembles the decode+encode invocation. The encoder is
// configured to match the copied stream (codec, profile, pixel format, SAR,
// frame rate) and to emit a closed GOP starting at the first frame.
func (e *Engine) buildCommand(req Request, v codec.Video) (*ffmpeg.CommandBuilder, error) {
	b := ffmpeg.NewCommandBuilder(e.ffmpegPath).HideBanner()

	if req.SeekSeconds > 0 {
		b.InputArgs("-ss", fmt.Sprintf("%.6f", req.SeekSeconds))
	}
	b.InputArgs("-copyts")
	b.Input(req.InputPath)

	b.OutputArgs("-map", fmt.Sprintf("0:%d", req.StreamIndex), "-an", "-sn")

	// Frame-exact selection of the display range after decode.
	vf := fmt.Sprintf("trim=start=%.6f:end=%.6f", req.StartSeconds, req.EndSeconds)
	if req.Stream.SAR.IsValid() {
		vf += fmt.Sprintf(",setsar=%d/%d", req.Stream.SAR.Num, req.Stream.SAR.Den)
	}
	b.OutputArgs("-vf", vf)

	b.OutputArgs("-c:v", v.Encoder())

	crf := CRFForQuality(e.quality, v)

	switch v {
	case codec.VideoH264:
		b.OutputArgs("-crf", fmt.Sprintf("%d", crf))
		if p := mapH264Profile(req.Stream.Profile); p != "" {
			b.OutputArgs("-profile:v", p)
		}
		// Offset SPS ids so the spliced parameter sets do not collide with
		// the input's (id 0 is near-universal).
		b.OutputArgs("-x264-params", "sps-id=3")
	case codec.VideoH265:
		params := []string{"repeat-headers=1", "info=0"}
		if e.quality == "lossless" {
			params = append(params, "lossless=1")
		}
		b.OutputArgs("-crf", fmt.Sprintf("%d", crf))
		b.OutputArgs("-x265-params", strings.Join(params, ":"))
	case codec.VideoVP9:
		b.OutputArgs("-crf", fmt.Sprintf("%d", crf), "-b:v", "0")
		if e.quality == "lossless" {
			b.OutputArgs("-lossless", "1")
		}
	case codec.VideoAV1:
		b.OutputArgs("-crf", fmt.Sprintf("%d", crf))
	case codec.VideoMPEG2:
		if req.Stream.BitRate > 0 {
			b.OutputArgs("-b:v", fmt.Sprintf("%d", req.Stream.BitRate))
		} else {
			b.OutputArgs("-qscale:v", "2")
		}
	}

	if req.Stream.PixFmt != "" {
		b.OutputArgs("-pix_fmt", req.Stream.PixFmt)
	}
	if req.Stream.FrameRate.IsValid() {
		b.OutputArgs("-fps_mode", "passthrough")
	}

	// Closed GOP from the first frame so the next copied packet starts at a
	// clean random-access point.
	b.OutputArgs("-force_key_frames", "expr:eq(n,0)", "-flags", "+cgop")
	b.OutputArgs("-copyts")
	b.OutputArgs("-f", "mpegts")
	b.Output("-")

	return b, nil
}

// mapH264Profile converts ffprobe profile names to x264 option values.
func mapH264Profile(profile string) string {
	switch strings.ToLower(strings.ReplaceAll(profile, " ", "")) {
	case "baseline", "constrainedbaseline":
		return "baseline"
	case "main":
		return "main"
	case "high":
		return "high"
	case "high10":
		return "high10"
	case "high4:2:2", "high422":
		return "high422"
	case "high4:4:4", "high4:4:4predictive", "high444":
		return "high444"
	default:
		// Unknown profile: let the encoder pick and warn upstream via the
		// parameter-mismatch path.
		return ""
	}
}

// collect demuxes the encoder's TS output back into packets.
func (e *Engine) collect(r io.Reader, v codec.Video, streamIndex int) (*Segment, error) {
	seg := &Segment{}

	reader := &mpegts.Reader{R: r}
	if err := reader.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: reading encoder output: %v", ErrEncoderExhausted, err)
	}
	reader.OnDecodeError(func(err error) {
		e.logger.Debug("encoder output decode error", slog.String("error", err.Error()))
	})

	onAU := func(pts, dts int64, au [][]byte) error {
		if len(au) == 0 {
			return nil
		}

		if seg.ParameterSets == nil {
			ps := &nal.ParameterSets{NALLengthSize: 4}
			if v == codec.VideoH265 {
				ps.VPS, ps.SPS, ps.PPS = nal.ExtractH265ParameterSets(au)
			} else {
				ps.SPS, ps.PPS = nal.ExtractH264ParameterSets(au)
			}
			if !ps.Empty() {
				seg.ParameterSets = ps
			}
		}

		data, err := h264.AnnexB(au).Marshal()
		if err != nil || len(data) == 0 {
			return nil
		}

		keyframe := false
		switch v {
		case codec.VideoH265:
			keyframe = h265.IsRandomAccess(au)
		default:
			keyframe = h264.IsRandomAccess(au)
		}

		var flags media.PacketFlags
		if keyframe {
			flags = media.FlagKeyframe
		}
		seg.Packets = append(seg.Packets, &media.Packet{
			StreamIndex: streamIndex,
			PTS:         pts,
			DTS:         dts,
			Flags:       flags,
			Data:        data,
		})
		return nil
	}

	for _, track := range reader.Tracks() {
		switch track.Codec.(type) {
		case *mpegts.CodecH264:
			reader.OnDataH264(track, onAU)
		case *mpegts.CodecH265:
			reader.OnDataH265(track, onAU)
		}
	}

	for {
		if err := reader.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("%w: demuxing encoder output: %v", ErrEncoderExhausted, err)
		}
	}

	return seg, nil
}

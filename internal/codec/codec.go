// Package codec provides a unified codec registry for the smart-cut engine.
// It consolidates codec aliases, encoder mappings, and per-codec splice
// capability used for planning, bitstream surgery, and muxing.
package codec

import "strings"

// Video represents a video codec.
type Video string

// Video codec constants.
const (
	VideoH264  Video = "h264"  // H.264/AVC
	VideoH265  Video = "h265"  // H.265/HEVC
	VideoVP9   Video = "vp9"   // VP9
	VideoAV1   Video = "av1"   // AV1
	VideoMPEG2 Video = "mpeg2" // MPEG-2 Video
	VideoMPEG4 Video = "mpeg4" // MPEG-4 Part 2 (detection only)
	VideoVC1   Video = "vc1"   // VC-1 (detection only)
)

// Audio represents an audio codec. Audio is always passthrough; the registry
// only needs identification and transport knowledge.
type Audio string

// Audio codec constants.
const (
	AudioAAC    Audio = "aac"
	AudioMP3    Audio = "mp3"
	AudioAC3    Audio = "ac3"
	AudioEAC3   Audio = "eac3"
	AudioOpus   Audio = "opus"
	AudioVorbis Audio = "vorbis"
	AudioFLAC   Audio = "flac"
	AudioDTS    Audio = "dts"
	AudioPCM    Audio = "pcm"
)

// Container represents an output container format.
type Container string

// Container format constants.
const (
	ContainerMP4     Container = "mp4"
	ContainerMOV     Container = "mov"
	ContainerMKV     Container = "matroska"
	ContainerWebM    Container = "webm"
	ContainerAVI     Container = "avi"
	ContainerFLV     Container = "flv"
	ContainerWMV     Container = "asf"
	ContainerMPEGTS  Container = "mpegts"
	ContainerMPEGPS  Container = "mpeg"
	ContainerUnknown Container = ""
)

// SpliceSupport describes how far the smart-cut path can go for a codec.
type SpliceSupport int

const (
	// SpliceNone means keyframe-only cutting with a warning.
	SpliceNone SpliceSupport = iota
	// SpliceKeyframeFlags means the packet keyframe flag is authoritative and
	// every keyframe is a clean splice point (VP9, AV1, MPEG-2).
	SpliceKeyframeFlags
	// SpliceNALAware means full NAL-level GOP analysis (H.264, H.265).
	SpliceNALAware
)

// MPEG-TS stream type constants.
const (
	StreamTypeMPEG1Video uint8 = 0x01
	StreamTypeMPEG2Video uint8 = 0x02
	StreamTypeMP3        uint8 = 0x03
	StreamTypeAAC        uint8 = 0x0F
	StreamTypeH264       uint8 = 0x1B
	StreamTypeH265       uint8 = 0x24
	StreamTypeAC3        uint8 = 0x81
	StreamTypeEAC3       uint8 = 0x87
)

// videoInfo contains metadata about a video codec.
type videoInfo struct {
	// Canonical name (h264, h265, etc.)
	Name Video
	// All known aliases and encoder names that map to this codec
	Aliases []string
	// FFmpeg software encoder used for boundary re-encode segments
	Encoder string
	// Splice capability of the smart-cut path
	Splice SpliceSupport
	// Whether the codec travels through the MPEG-TS elementary-stream pipe
	TSDemuxable bool
	// MPEG-TS stream type identifier (0 if not supported)
	MPEGTSStreamType uint8
}

// audioInfo contains metadata about an audio codec.
type audioInfo struct {
	Name             Audio
	Aliases          []string
	TSDemuxable      bool
	MPEGTSStreamType uint8
	// PrimingSamples is the decoder priming length in samples covered by
	// pre-roll discard flagging at splice points.
	PrimingSamples int
}

// videoRegistry contains all video codec definitions.
var videoRegistry = map[Video]*videoInfo{
	VideoH264: {
		Name: VideoH264,
		Aliases: []string{
			"h264", "avc", "avc1", "avc3", "h.264",
			"libx264", "h264_nvenc", "h264_qsv", "h264_vaapi", "h264_videotoolbox",
		},
		Encoder:          "libx264",
		Splice:           SpliceNALAware,
		TSDemuxable:      true,
		MPEGTSStreamType: StreamTypeH264,
	},
	VideoH265: {
		Name: VideoH265,
		Aliases: []string{
			"h265", "hevc", "hev1", "hvc1", "h.265",
			"libx265", "hevc_nvenc", "hevc_qsv", "hevc_vaapi", "hevc_videotoolbox",
		},
		Encoder:          "libx265",
		Splice:           SpliceNALAware,
		TSDemuxable:      true,
		MPEGTSStreamType: StreamTypeH265,
	},
	VideoVP9: {
		Name:             VideoVP9,
		Aliases:          []string{"vp9", "vp09", "libvpx-vp9"},
		Encoder:          "libvpx-vp9",
		Splice:           SpliceKeyframeFlags,
		TSDemuxable:      false,
		MPEGTSStreamType: 0,
	},
	VideoAV1: {
		Name:             VideoAV1,
		Aliases:          []string{"av1", "av01", "libaom-av1", "libsvtav1", "libdav1d"},
		Encoder:          "libaom-av1",
		Splice:           SpliceKeyframeFlags,
		TSDemuxable:      false,
		MPEGTSStreamType: 0,
	},
	VideoMPEG2: {
		Name:             VideoMPEG2,
		Aliases:          []string{"mpeg2", "mpeg2video"},
		Encoder:          "mpeg2video",
		Splice:           SpliceKeyframeFlags,
		TSDemuxable:      true,
		MPEGTSStreamType: StreamTypeMPEG2Video,
	},
	VideoMPEG4: {
		Name:             VideoMPEG4,
		Aliases:          []string{"mpeg4", "msmpeg4v1", "msmpeg4v2", "msmpeg4v3"},
		Encoder:          "mpeg4",
		Splice:           SpliceNone,
		TSDemuxable:      false,
		MPEGTSStreamType: 0x10,
	},
	VideoVC1: {
		Name:             VideoVC1,
		Aliases:          []string{"vc1", "wmv3", "wmv2", "wmv1"},
		Encoder:          "", // decode only
		Splice:           SpliceNone,
		TSDemuxable:      false,
		MPEGTSStreamType: 0,
	},
}

// audioRegistry contains all audio codec definitions.
var audioRegistry = map[Audio]*audioInfo{
	AudioAAC: {
		Name:             AudioAAC,
		Aliases:          []string{"aac", "mp4a", "aac_latm"},
		TSDemuxable:      true,
		MPEGTSStreamType: StreamTypeAAC,
		PrimingSamples:   1024,
	},
	AudioMP3: {
		Name:             AudioMP3,
		Aliases:          []string{"mp3", "mp3float", "mp2"},
		TSDemuxable:      true,
		MPEGTSStreamType: StreamTypeMP3,
		PrimingSamples:   529,
	},
	AudioAC3: {
		Name:             AudioAC3,
		Aliases:          []string{"ac3", "ac-3", "a52"},
		TSDemuxable:      true,
		MPEGTSStreamType: StreamTypeAC3,
	},
	AudioEAC3: {
		Name:             AudioEAC3,
		Aliases:          []string{"eac3", "ec-3"},
		TSDemuxable:      false,
		MPEGTSStreamType: StreamTypeEAC3,
	},
	AudioOpus: {
		Name:           AudioOpus,
		Aliases:        []string{"opus", "libopus"},
		TSDemuxable:    true,
		PrimingSamples: 312,
	},
	AudioVorbis: {
		Name:        AudioVorbis,
		Aliases:     []string{"vorbis", "libvorbis"},
		TSDemuxable: false,
	},
	AudioFLAC: {
		Name:        AudioFLAC,
		Aliases:     []string{"flac"},
		TSDemuxable: false,
	},
	AudioDTS: {
		Name:             AudioDTS,
		Aliases:          []string{"dts", "dca"},
		TSDemuxable:      false,
		MPEGTSStreamType: 0x82,
	},
	AudioPCM: {
		Name:        AudioPCM,
		Aliases:     []string{"pcm", "pcm_s16le", "pcm_s24le", "pcm_s32le", "pcm_f32le"},
		TSDemuxable: false,
	},
}

// videoAliasIndex maps all aliases to their canonical codec.
var videoAliasIndex map[string]Video

// audioAliasIndex maps all aliases to their canonical codec.
var audioAliasIndex map[string]Audio

func init() {
	videoAliasIndex = make(map[string]Video)
	for codec, info := range videoRegistry {
		for _, alias := range info.Aliases {
			videoAliasIndex[strings.ToLower(alias)] = codec
		}
	}

	audioAliasIndex = make(map[string]Audio)
	for codec, info := range audioRegistry {
		for _, alias := range info.Aliases {
			audioAliasIndex[strings.ToLower(alias)] = codec
		}
	}
}

// ParseVideo parses a string (codec name, alias, or encoder) to a Video codec.
// Returns the canonical codec and whether the parse was successful.
func ParseVideo(s string) (Video, bool) {
	if s == "" {
		return "", false
	}
	codec, ok := videoAliasIndex[strings.ToLower(strings.TrimSpace(s))]
	return codec, ok
}

// ParseAudio parses a string (codec name or alias) to an Audio codec.
func ParseAudio(s string) (Audio, bool) {
	if s == "" {
		return "", false
	}
	codec, ok := audioAliasIndex[strings.ToLower(strings.TrimSpace(s))]
	return codec, ok
}

// String returns the string representation of the video codec.
func (v Video) String() string { return string(v) }

// String returns the string representation of the audio codec.
func (a Audio) String() string { return string(a) }

// Splice returns the splice capability of the video codec.
func (v Video) Splice() SpliceSupport {
	if info, ok := videoRegistry[v]; ok {
		return info.Splice
	}
	return SpliceNone
}

// Encoder returns the FFmpeg software encoder used for boundary segments,
// or "" for decode-only codecs.
func (v Video) Encoder() string {
	if info, ok := videoRegistry[v]; ok {
		return info.Encoder
	}
	return ""
}

// IsTSDemuxable reports whether the codec travels through the MPEG-TS
// elementary-stream pipe.
func (v Video) IsTSDemuxable() bool {
	if info, ok := videoRegistry[v]; ok {
		return info.TSDemuxable
	}
	return false
}

// IsTSDemuxable reports whether the audio codec travels through the MPEG-TS
// elementary-stream pipe.
func (a Audio) IsTSDemuxable() bool {
	if info, ok := audioRegistry[a]; ok {
		return info.TSDemuxable
	}
	return false
}

// MPEGTSStreamType returns the MPEG-TS stream type for the video codec.
func (v Video) MPEGTSStreamType() uint8 {
	if info, ok := videoRegistry[v]; ok {
		return info.MPEGTSStreamType
	}
	return 0
}

// MPEGTSStreamType returns the MPEG-TS stream type for the audio codec.
func (a Audio) MPEGTSStreamType() uint8 {
	if info, ok := audioRegistry[a]; ok {
		return info.MPEGTSStreamType
	}
	return 0
}

// PrimingSamples returns the decoder priming length for the audio codec.
func (a Audio) PrimingSamples() int {
	if info, ok := audioRegistry[a]; ok {
		return info.PrimingSamples
	}
	return 0
}

// ParseContainer maps a file extension or format name to a Container.
func ParseContainer(s string) Container {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "mp4", "m4v":
		return ContainerMP4
	case "mov", "qt":
		return ContainerMOV
	case "mkv", "matroska":
		return ContainerMKV
	case "webm":
		return ContainerWebM
	case "avi":
		return ContainerAVI
	case "flv":
		return ContainerFLV
	case "wmv", "asf":
		return ContainerWMV
	case "ts", "m2ts", "mts", "mpegts":
		return ContainerMPEGTS
	case "mpg", "mpeg", "vob":
		return ContainerMPEGPS
	default:
		return ContainerUnknown
	}
}

// FFmpegMuxer returns the ffmpeg muxer name for the container.
func (c Container) FFmpegMuxer() string {
	switch c {
	case ContainerMP4:
		return "mp4"
	case ContainerMOV:
		return "mov"
	case ContainerMKV:
		return "matroska"
	case ContainerWebM:
		return "webm"
	case ContainerAVI:
		return "avi"
	case ContainerFLV:
		return "flv"
	case ContainerWMV:
		return "asf"
	case ContainerMPEGTS:
		return "mpegts"
	case ContainerMPEGPS:
		return "mpeg"
	default:
		return ""
	}
}

// RequiresAnnexB reports whether the container stores H.26x NALs with Annex B
// start codes rather than length prefixes.
func (c Container) RequiresAnnexB() bool {
	switch c {
	case ContainerMPEGTS, ContainerMPEGPS:
		return true
	default:
		return false
	}
}

// Writable reports whether the container can be produced as output. MPEG-TS
// (including .m2ts/.mts names) is writable; MPEG program stream (.mpg,
// .mpeg, .vob) is input-only.
func (c Container) Writable() bool {
	switch c {
	case ContainerMP4, ContainerMOV, ContainerMKV, ContainerWebM,
		ContainerAVI, ContainerFLV, ContainerWMV, ContainerMPEGTS:
		return true
	default:
		return false
	}
}

// videoContainerCompat lists the video codecs each writable container accepts.
var videoContainerCompat = map[Container][]Video{
	ContainerMP4:    {VideoH264, VideoH265, VideoVP9, VideoAV1, VideoMPEG2, VideoMPEG4},
	ContainerMOV:    {VideoH264, VideoH265, VideoMPEG2, VideoMPEG4},
	ContainerMKV:    {VideoH264, VideoH265, VideoVP9, VideoAV1, VideoMPEG2, VideoMPEG4, VideoVC1},
	ContainerWebM:   {VideoVP9, VideoAV1},
	ContainerAVI:    {VideoH264, VideoMPEG4, VideoMPEG2},
	ContainerFLV:    {VideoH264},
	ContainerWMV:    {VideoVC1, VideoH264, VideoMPEG4},
	ContainerMPEGTS: {VideoH264, VideoH265, VideoMPEG2},
}

// SupportsVideo reports whether the container accepts the video codec.
func (c Container) SupportsVideo(v Video) bool {
	for _, ok := range videoContainerCompat[c] {
		if ok == v {
			return true
		}
	}
	return false
}

// HEVCTag returns the codec tag forced for H.265 in MP4/MOV output. hev1
// keeps parameter sets inline, which broadens playback compatibility for
// spliced streams.
func (c Container) HEVCTag() string {
	switch c {
	case ContainerMP4, ContainerMOV:
		return "hev1"
	default:
		return ""
	}
}

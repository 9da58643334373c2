package container

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/framecut/internal/media"
)

// packetIndexEntry mirrors one entry of `ffprobe -show_packets` output.
type packetIndexEntry struct {
	CodecType string `json:"codec_type"`
	PTS       *int64 `json:"pts"`
	DTS       *int64 `json:"dts"`
	Duration  int64  `json:"duration"`
	Size      string `json:"size"`
	Flags     string `json:"flags"`
	Data      string `json:"data,omitempty"`
}

type packetIndexResult struct {
	Packets []packetIndexEntry `json:"packets"`
}

// PacketIndexer lists per-packet timing via ffprobe. It serves two roles:
// the GOP scan source for codecs the elementary-stream pipe cannot carry
// (VP9, AV1 and other non-TS codecs), and — with payloads enabled — the
// packet source for sparse streams like text subtitles.
type PacketIndexer struct {
	ffprobePath string
	timeout     time.Duration
	runner      commandRunner
}

// NewPacketIndexer creates a packet indexer.
func NewPacketIndexer(ffprobePath string) *PacketIndexer {
	return &PacketIndexer{
		ffprobePath: ffprobePath,
		timeout:     10 * time.Minute,
		runner:      execRunner{},
	}
}

// Index lists the packets of one stream in decode order. withData loads
// payloads (expensive; only for sparse streams).
func (x *PacketIndexer) Index(ctx context.Context, path string, streamIndex int, withData bool) ([]*media.Packet, error) {
	ctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-select_streams", strconv.Itoa(streamIndex),
		"-show_packets",
	}
	if withData {
		args = append(args, "-show_data")
	}
	args = append(args, path)

	output, err := x.runner.run(ctx, x.ffprobePath, args...)
	if err != nil {
		return nil, fmt.Errorf("indexing packets of stream %d: %w", streamIndex, err)
	}

	var result packetIndexResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing packet index: %w", err)
	}

	packets := make([]*media.Packet, 0, len(result.Packets))
	for _, e := range result.Packets {
		pkt := &media.Packet{
			StreamIndex: streamIndex,
			PTS:         media.NoTimestamp,
			DTS:         media.NoTimestamp,
			Duration:    e.Duration,
		}
		if e.PTS != nil {
			pkt.PTS = *e.PTS
		}
		if e.DTS != nil {
			pkt.DTS = *e.DTS
		}
		if strings.ContainsRune(e.Flags, 'K') {
			pkt.Flags |= media.FlagKeyframe
		}
		if strings.ContainsRune(e.Flags, 'D') {
			pkt.Flags |= media.FlagDiscard
		}
		if strings.ContainsRune(e.Flags, 'C') {
			pkt.Flags |= media.FlagCorrupt
		}
		if e.Data != "" {
			pkt.Data = parseHexDump(e.Data)
		}
		packets = append(packets, pkt)
	}

	return packets, nil
}

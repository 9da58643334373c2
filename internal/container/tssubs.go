package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/asticode/go-astits"

	"github.com/jmylchreest/framecut/internal/media"
)

// TSSubtitleReader pulls subtitle and teletext PES packets straight out of
// MPEG-TS inputs. The elementary-stream pipe only carries audio and video,
// so DVB subtitle streams of .ts/.m2ts sources are read here with go-astits
// and routed through the passthrough router like any other stream.
type TSSubtitleReader struct {
	path   string
	logger *slog.Logger
}

// DVB stream types carried as private PES data.
const (
	streamTypeDVBSubtitle uint8 = 0x06 // private data, refined by descriptors
	streamTypeTeletext    uint8 = 0x56
)

// NewTSSubtitleReader builds a reader for one TS-family file.
func NewTSSubtitleReader(path string, logger *slog.Logger) *TSSubtitleReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &TSSubtitleReader{path: path, logger: logger}
}

// Read extracts all PES packets of the given PIDs. The result maps PID to
// packets in stream order, timestamps in 90 kHz.
func (r *TSSubtitleReader) Read(ctx context.Context, pids map[uint16]int) (map[int][]*media.Packet, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", r.path, err)
	}
	defer f.Close()

	dmx := astits.NewDemuxer(ctx, f)
	out := make(map[int][]*media.Packet)

	for {
		data, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) || errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			// TS streams routinely carry stuffing and scrambled PIDs the
			// demuxer trips on; skip and continue.
			r.logger.Debug("ts demux error", slog.String("error", err.Error()))
			continue
		}

		if data.PES == nil {
			continue
		}
		streamIndex, wanted := pids[data.PID]
		if !wanted {
			continue
		}

		pkt := &media.Packet{
			StreamIndex: streamIndex,
			PTS:         media.NoTimestamp,
			DTS:         media.NoTimestamp,
			Data:        data.PES.Data,
		}
		if h := data.PES.Header; h != nil && h.OptionalHeader != nil {
			if h.OptionalHeader.PTS != nil {
				pkt.PTS = h.OptionalHeader.PTS.Base
			}
			if h.OptionalHeader.DTS != nil {
				pkt.DTS = h.OptionalHeader.DTS.Base
			}
		}
		if pkt.DTS == media.NoTimestamp {
			pkt.DTS = pkt.PTS
		}
		out[streamIndex] = append(out[streamIndex], pkt)
	}

	return out, nil
}

// SubtitlePIDs resolves the TS PIDs of the given subtitle stream indexes by
// reading the PMT. ffprobe stream indexes follow PMT order, letting the two
// views line up.
func (r *TSSubtitleReader) SubtitlePIDs(ctx context.Context, streams []media.StreamDescriptor) (map[uint16]int, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", r.path, err)
	}
	defer f.Close()

	dmx := astits.NewDemuxer(ctx, f)
	pids := make(map[uint16]int)

	for {
		data, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) || errors.Is(err, io.EOF) {
				break
			}
			continue
		}
		if data.PMT == nil {
			continue
		}

		// Collect private-data elementary streams in PMT order and pair
		// them with the subtitle descriptors by position.
		var subtitlePIDs []uint16
		for _, es := range data.PMT.ElementaryStreams {
			if es.StreamType == astits.StreamTypePrivateData ||
				uint8(es.StreamType) == streamTypeTeletext {
				subtitlePIDs = append(subtitlePIDs, es.ElementaryPID)
			}
		}
		for i, desc := range streams {
			if i < len(subtitlePIDs) {
				pids[subtitlePIDs[i]] = desc.Index
			}
		}
		return pids, nil
	}

	return pids, nil
}

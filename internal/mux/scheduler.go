// Package mux implements the muxing scheduler: it merges re-encoded video,
// copied video, and passthrough audio/subtitle packets in DTS order, enforces
// strict per-stream monotonicity, and hands the interleaved stream to a
// container writer.
package mux

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/framecut/internal/media"
)

// Writer is the container-writer seam the scheduler drives. Implementations
// live in the container adapter layer.
type Writer interface {
	// AddStream declares an output stream before any packet is written.
	AddStream(desc media.StreamDescriptor) error
	// WritePacket writes one packet; packets arrive DTS-ascending across
	// streams and strictly DTS-monotonic per stream.
	WritePacket(pkt *media.Packet) error
	// Finalize flushes and closes the container, attaching trailing
	// metadata (chapters, attachments).
	Finalize(chapters []media.Chapter, attachments []media.Attachment) error
}

// DefaultQueueDepth bounds the per-stream pending queue.
const DefaultQueueDepth = 256

// Scheduler interleaves per-stream packet feeds into a Writer.
type Scheduler struct {
	writer Writer
	logger *slog.Logger

	// preserveTimestamps keeps the input epoch instead of rebasing the
	// job's first DTS to zero.
	preserveTimestamps bool
	queueDepth         int

	streams map[int]*streamState
	// pending orders stream heads by DTS in the 90 kHz comparison base.
	pending packetHeap

	started     bool
	epochOffset int64 // 90 kHz ticks subtracted from every timestamp
}

type streamState struct {
	desc    media.StreamDescriptor
	queue   []*media.Packet
	lastDTS int64
	hasLast bool
	done    bool
	// queued in pending heap
	inFlight bool
}

type heapItem struct {
	dts90k int64
	stream *streamState
}

type packetHeap []heapItem

func (h packetHeap) Len() int           { return len(h) }
func (h packetHeap) Less(i, j int) bool { return h[i].dts90k < h[j].dts90k }
func (h packetHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *packetHeap) Push(x any)        { *h = append(*h, x.(heapItem)) }

func (h *packetHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// NewScheduler builds a scheduler over a Writer.
func NewScheduler(writer Writer, logger *slog.Logger, preserveTimestamps bool, queueDepth int) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	return &Scheduler{
		writer:             writer,
		logger:             logger,
		preserveTimestamps: preserveTimestamps,
		queueDepth:         queueDepth,
		streams:            make(map[int]*streamState),
	}
}

// AddStream declares an output stream. Must be called for every stream
// before the first Push.
func (s *Scheduler) AddStream(desc media.StreamDescriptor) error {
	if s.started {
		return fmt.Errorf("mux: stream %d added after first packet", desc.Index)
	}
	if _, exists := s.streams[desc.Index]; exists {
		return fmt.Errorf("mux: duplicate stream %d", desc.Index)
	}
	if err := s.writer.AddStream(desc); err != nil {
		return err
	}
	s.streams[desc.Index] = &streamState{desc: desc}
	return nil
}

// Push enqueues one packet for interleaving. Packets of one stream must
// arrive in decode order.
func (s *Scheduler) Push(pkt *media.Packet) error {
	st, ok := s.streams[pkt.StreamIndex]
	if !ok {
		return fmt.Errorf("mux: packet for undeclared stream %d", pkt.StreamIndex)
	}
	if st.done {
		return fmt.Errorf("mux: packet for finished stream %d", pkt.StreamIndex)
	}

	st.queue = append(st.queue, pkt)
	s.scheduleHead(st)
	return s.drain(false)
}

// StreamDone marks a stream as exhausted so interleaving stops waiting on it.
func (s *Scheduler) StreamDone(index int) error {
	st, ok := s.streams[index]
	if !ok {
		return fmt.Errorf("mux: unknown stream %d", index)
	}
	st.done = true
	return s.drain(false)
}

// Close drains every queue and finalizes the container.
func (s *Scheduler) Close(chapters []media.Chapter, attachments []media.Attachment) error {
	for _, st := range s.streams {
		st.done = true
	}
	if err := s.drain(true); err != nil {
		return err
	}
	return s.writer.Finalize(chapters, attachments)
}

// scheduleHead puts a stream's queue head on the heap if it is not there yet.
func (s *Scheduler) scheduleHead(st *streamState) {
	if st.inFlight || len(st.queue) == 0 {
		return
	}
	st.inFlight = true
	heap.Push(&s.pending, heapItem{dts90k: s.dts90k(st, st.queue[0]), stream: st})
}

// dts90k converts a packet's DTS into the common comparison base.
func (s *Scheduler) dts90k(st *streamState, pkt *media.Packet) int64 {
	dts := pkt.DTS
	if dts == media.NoTimestamp {
		dts = pkt.PTS
	}
	return media.Rescale(dts, st.desc.TimeBase, media.TimeBase90k)
}

// ready reports whether the earliest pending packet may be emitted: every
// stream that is not done must have a packet queued, or some queue must have
// grown past the depth bound.
func (s *Scheduler) ready() bool {
	if len(s.pending) == 0 {
		return false
	}
	overflow := false
	for _, st := range s.streams {
		if st.done {
			continue
		}
		if len(st.queue) == 0 {
			// Still waiting on this stream, unless another queue overflows.
			for _, other := range s.streams {
				if len(other.queue) > s.queueDepth {
					overflow = true
					break
				}
			}
			return overflow
		}
	}
	return true
}

// drain emits packets while the merge condition holds (or unconditionally
// when force is set).
func (s *Scheduler) drain(force bool) error {
	for len(s.pending) > 0 && (force || s.ready()) {
		item := heap.Pop(&s.pending).(heapItem)
		st := item.stream
		st.inFlight = false

		pkt := st.queue[0]
		st.queue = st.queue[1:]

		if err := s.emit(st, pkt); err != nil {
			return err
		}
		s.scheduleHead(st)
	}
	return nil
}

// emit applies the job epoch offset and per-stream monotonic rewrite, then
// writes the packet.
func (s *Scheduler) emit(st *streamState, pkt *media.Packet) error {
	if !s.started {
		s.started = true
		if !s.preserveTimestamps {
			// Rebase the job so its first emitted DTS is zero.
			s.epochOffset = s.dts90k(st, pkt)
		}
	}

	out := *pkt
	offset := media.Rescale(s.epochOffset, media.TimeBase90k, st.desc.TimeBase)
	if out.DTS != media.NoTimestamp {
		out.DTS -= offset
	} else {
		out.DTS = out.PTS - offset
	}
	if out.PTS != media.NoTimestamp {
		out.PTS -= offset
	}

	// Duplicate or out-of-order DTS from the re-encoder gets rebased onto
	// the running counter.
	if st.hasLast && out.DTS <= st.lastDTS {
		rebased := st.lastDTS + 1
		s.logger.Log(context.Background(), slog.Level(-8), "rebasing non-monotonic dts",
			slog.Int("stream", st.desc.Index),
			slog.Int64("dts", out.DTS),
			slog.Int64("rebased", rebased))
		out.DTS = rebased
	}
	if out.PTS != media.NoTimestamp && out.PTS < out.DTS {
		out.PTS = out.DTS
	}
	st.lastDTS = out.DTS
	st.hasLast = true

	return s.writer.WritePacket(&out)
}

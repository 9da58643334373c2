package nal

import (
	"crypto/sha256"
	"encoding/binary"
)

// EpochTracker assigns monotonically increasing epoch numbers to distinct
// parameter-set configurations within one stream. Packets sharing an epoch
// decode under the same extradata, which turns the muxer's correctness
// condition into an equality check.
type EpochTracker struct {
	current    int
	lastDigest [32]byte
	extradata  map[int]*ParameterSets
}

// NewEpochTracker returns a tracker with no epoch observed yet.
func NewEpochTracker() *EpochTracker {
	return &EpochTracker{extradata: make(map[int]*ParameterSets)}
}

// digest hashes the parameter-set payloads in order.
func digest(ps *ParameterSets) [32]byte {
	h := sha256.New()
	var lenBuf [4]byte
	for _, nalu := range ps.InOrder() {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(nalu)))
		h.Write(lenBuf[:])
		h.Write(nalu)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Observe records the parameter sets seen at a point in the stream and
// returns the epoch in effect. The epoch increments whenever the
// configuration content changes; observing an empty set keeps the current
// epoch.
func (t *EpochTracker) Observe(ps *ParameterSets) int {
	if ps == nil || ps.Empty() {
		return t.current
	}
	d := digest(ps)
	if t.current == 0 || d != t.lastDigest {
		t.current++
		t.lastDigest = d
		t.extradata[t.current] = ps
	}
	return t.current
}

// Current returns the epoch in effect (0 before any observation).
func (t *EpochTracker) Current() int { return t.current }

// ExtradataForEpoch returns the parameter sets recorded for an epoch, or nil.
func (t *EpochTracker) ExtradataForEpoch(epoch int) *ParameterSets {
	return t.extradata[epoch]
}

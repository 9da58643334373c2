// Package nal implements the bitstream surgeon: codec-aware parsing and
// rewriting of H.264/H.265 access units at splice boundaries. It converts
// between Annex B and length-prefixed NAL framing, tracks parameter-set
// epochs, rewrites H.265 CRA pictures to BLA at splices, discards RASL
// pictures, and validates NAL sequencing.
package nal

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// ErrMalformed reports an access unit the surgeon cannot parse or that
// violates NAL sequencing rules.
var ErrMalformed = errors.New("malformed bitstream")

var (
	startCode3 = []byte{0, 0, 1}
	startCode4 = []byte{0, 0, 0, 1}
)

// IsAnnexB reports whether data begins with an Annex B start code.
func IsAnnexB(data []byte) bool {
	return bytes.HasPrefix(data, startCode3) || bytes.HasPrefix(data, startCode4)
}

// SplitAnnexB splits Annex B data into NAL units (start codes stripped).
func SplitAnnexB(data []byte) ([][]byte, error) {
	var au h264.AnnexB
	if err := au.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return au, nil
}

// MarshalAnnexB joins NAL units with 4-byte start codes.
func MarshalAnnexB(nalus [][]byte) ([]byte, error) {
	buf, err := h264.AnnexB(nalus).Marshal()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return buf, nil
}

// SplitLengthPrefixed splits length-prefixed (AVCC/HVCC) data into NAL units.
// lengthSize is the prefix width in bytes (1..4); MP4 avcC/hvcC almost always
// declare 4.
func SplitLengthPrefixed(data []byte, lengthSize int) ([][]byte, error) {
	if lengthSize == 4 {
		var au h264.AVCC
		if err := au.Unmarshal(data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return au, nil
	}
	if lengthSize < 1 || lengthSize > 4 {
		return nil, fmt.Errorf("%w: NAL length size %d", ErrMalformed, lengthSize)
	}

	var nalus [][]byte
	for pos := 0; pos < len(data); {
		if pos+lengthSize > len(data) {
			return nil, fmt.Errorf("%w: truncated NAL length at %d", ErrMalformed, pos)
		}
		var size int
		for i := 0; i < lengthSize; i++ {
			size = size<<8 | int(data[pos+i])
		}
		pos += lengthSize
		if size == 0 || pos+size > len(data) {
			return nil, fmt.Errorf("%w: NAL length %d at %d exceeds payload", ErrMalformed, size, pos)
		}
		nalus = append(nalus, data[pos:pos+size])
		pos += size
	}
	if len(nalus) == 0 {
		return nil, fmt.Errorf("%w: empty access unit", ErrMalformed)
	}
	return nalus, nil
}

// MarshalLengthPrefixed joins NAL units with 4-byte big-endian length prefixes.
func MarshalLengthPrefixed(nalus [][]byte) ([]byte, error) {
	buf, err := h264.AVCC(nalus).Marshal()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return buf, nil
}

// Split detects the framing of an access unit and returns its NAL units.
// Detection mirrors the usual container convention: a leading start code
// means Annex B, anything else is length-prefixed.
func Split(data []byte, lengthSize int) ([][]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: access unit of %d bytes", ErrMalformed, len(data))
	}
	if IsAnnexB(data) {
		return SplitAnnexB(data)
	}
	return SplitLengthPrefixed(data, lengthSize)
}

// EmulationPreventionRemove converts an EBSP NAL payload to its raw RBSP form
// by stripping emulation-prevention bytes (00 00 03 -> 00 00).
func EmulationPreventionRemove(ebsp []byte) []byte {
	out := make([]byte, 0, len(ebsp))
	zeros := 0
	for i := 0; i < len(ebsp); i++ {
		b := ebsp[i]
		if zeros >= 2 && b == 3 && i+1 < len(ebsp) && ebsp[i+1] <= 3 {
			zeros = 0
			continue
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, b)
	}
	return out
}

// EmulationPreventionAdd converts raw RBSP to EBSP by inserting
// emulation-prevention bytes before any 00 00 0x pattern with x <= 3.
func EmulationPreventionAdd(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp)+len(rbsp)/64)
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, b)
	}
	return out
}

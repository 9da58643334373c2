package nal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAnnexB(t *testing.T) {
	assert.True(t, IsAnnexB([]byte{0, 0, 1, 0x65}))
	assert.True(t, IsAnnexB([]byte{0, 0, 0, 1, 0x65}))
	assert.False(t, IsAnnexB([]byte{0, 0, 0, 9, 0x65}))
	assert.False(t, IsAnnexB(nil))
}

func TestSplitRoundTrip_AnnexB(t *testing.T) {
	nalus := [][]byte{
		{0x67, 0x42, 0x00, 0x28},
		{0x68, 0xCE, 0x38, 0x80},
		{0x65, 0x88, 0x84, 0x00},
	}

	buf, err := MarshalAnnexB(nalus)
	require.NoError(t, err)
	require.True(t, IsAnnexB(buf))

	got, err := Split(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, nalus, got)
}

func TestSplitRoundTrip_LengthPrefixed(t *testing.T) {
	nalus := [][]byte{
		{0x65, 0x88, 0x84, 0x00, 0x01, 0x02},
	}

	buf, err := MarshalLengthPrefixed(nalus)
	require.NoError(t, err)
	require.False(t, IsAnnexB(buf))

	got, err := Split(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, nalus, got)
}

func TestSplitLengthPrefixed_ShortPrefix(t *testing.T) {
	// 2-byte length prefixes.
	data := []byte{0x00, 0x03, 0x65, 0x01, 0x02, 0x00, 0x02, 0x41, 0x9A}
	got, err := SplitLengthPrefixed(data, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []byte{0x65, 0x01, 0x02}, got[0])
	assert.Equal(t, []byte{0x41, 0x9A}, got[1])
}

func TestSplitLengthPrefixed_Truncated(t *testing.T) {
	_, err := SplitLengthPrefixed([]byte{0x00, 0x00, 0x00, 0xFF, 0x65}, 4)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSplit_TooShort(t *testing.T) {
	_, err := Split([]byte{0, 1}, 4)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEmulationPrevention(t *testing.T) {
	tests := []struct {
		name string
		rbsp []byte
		ebsp []byte
	}{
		{"no escaping needed", []byte{1, 2, 3, 4}, []byte{1, 2, 3, 4}},
		{"two zeros then zero", []byte{0, 0, 0}, []byte{0, 0, 3, 0}},
		{"two zeros then one", []byte{0, 0, 1}, []byte{0, 0, 3, 1}},
		{"two zeros then three", []byte{0, 0, 3}, []byte{0, 0, 3, 3}},
		{"two zeros then large", []byte{0, 0, 0x80}, []byte{0, 0, 0x80}},
		{"repeated pattern", []byte{0, 0, 0, 0, 1}, []byte{0, 0, 3, 0, 0, 3, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EmulationPreventionAdd(tt.rbsp)
			assert.Equal(t, tt.ebsp, got, "add")
			assert.Equal(t, tt.rbsp, EmulationPreventionRemove(got), "remove round-trip")
		})
	}
}

func TestBitReaderUE(t *testing.T) {
	// Exp-Golomb: 1 -> 0, 010 -> 1, 011 -> 2, 00100 -> 3
	br := newBitReader([]byte{0b10100110, 0b01000000})
	v, err := br.readUE()
	require.NoError(t, err)
	assert.Equal(t, uint(0), v)

	v, err = br.readUE()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	v, err = br.readUE()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)

	v, err = br.readUE()
	require.NoError(t, err)
	assert.Equal(t, uint(3), v)
}

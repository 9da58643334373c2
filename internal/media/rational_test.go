package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRational(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Rational
		wantErr bool
	}{
		{"timebase", "1/90000", Rational{1, 90000}, false},
		{"ntsc rate", "30000/1001", Rational{30000, 1001}, false},
		{"integer", "25", Rational{25, 1}, false},
		{"reduced", "2/4", Rational{1, 2}, false},
		{"empty", "", Rational{}, true},
		{"zero den", "1/0", Rational{}, true},
		{"garbage", "abc/def", Rational{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRational(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRescale(t *testing.T) {
	tests := []struct {
		name  string
		ticks int64
		from  Rational
		to    Rational
		want  int64
	}{
		{"identity", 12345, TimeBase90k, TimeBase90k, 12345},
		{"90k to 1/1000", 90000, TimeBase90k, Rational{1, 1000}, 1000},
		{"1/1000 to 90k", 1000, Rational{1, 1000}, TimeBase90k, 90000},
		{"mp4 track base", 48048, Rational{1, 24000}, TimeBase90k, 180180},
		{"rounds to nearest", 1, Rational{1, 3}, Rational{1, 1}, 0},
		{"negative", -90000, TimeBase90k, Rational{1, 1000}, -1000},
		{"large pts no overflow", 8589934592, TimeBase90k, Rational{1, 1000000}, 95443717689},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Rescale(tt.ticks, tt.from, tt.to))
		})
	}
}

func TestRescaleSeconds(t *testing.T) {
	assert.Equal(t, int64(90000), RescaleSeconds(1.0, TimeBase90k))
	assert.Equal(t, int64(45000), RescaleSeconds(0.5, TimeBase90k))
	assert.Equal(t, int64(1001), RescaleSeconds(1.001, Rational{1, 1000}))
	assert.Equal(t, int64(-90000), RescaleSeconds(-1.0, TimeBase90k))
}

func TestIntervalOps(t *testing.T) {
	i := TimeInterval{StartPTS: 100, EndPTS: 200}

	assert.True(t, i.Contains(100))
	assert.True(t, i.Contains(199))
	assert.False(t, i.Contains(200), "end is exclusive")
	assert.False(t, i.Contains(99))
	assert.Equal(t, int64(100), i.Duration())

	assert.True(t, i.Overlaps(TimeInterval{150, 250}))
	assert.False(t, i.Overlaps(TimeInterval{200, 300}), "touching is not overlapping")
}

func TestPacketClone(t *testing.T) {
	p := &Packet{StreamIndex: 1, PTS: 10, DTS: 9, Flags: FlagKeyframe, Data: []byte{1, 2, 3}}
	c := p.Clone()
	c.Data[0] = 9

	assert.Equal(t, byte(1), p.Data[0], "clone must not alias payload")
	assert.True(t, c.Keyframe())
}

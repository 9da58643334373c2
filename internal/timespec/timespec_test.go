package timespec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/framecut/internal/media"
)

// testResolver covers a 60 s input at 30 fps with a 90 kHz time base.
func testResolver() *Resolver {
	return &Resolver{
		TimeBase:  media.TimeBase90k,
		Duration:  60 * 90000,
		FrameRate: media.Rational{Num: 30, Den: 1},
	}
}

func TestResolveToken(t *testing.T) {
	r := testResolver()

	tests := []struct {
		name    string
		token   string
		want    int64
		wantErr error
	}{
		{"integer seconds", "10", 10 * 90000, nil},
		{"decimal seconds", "1.5", 135000, nil},
		{"start short", "s", 0, nil},
		{"start long", "start", 0, nil},
		{"end short", "e", 60 * 90000, nil},
		{"end long", "end", 60 * 90000, nil},
		{"mm:ss", "01:30", 90 * 90000, ErrOutOfRange},
		{"mm:ss in range", "00:45", 45 * 90000, nil},
		{"hh:mm:ss", "00:00:30", 30 * 90000, nil},
		{"clock with millis", "00:10.500", 945000, nil},
		{"frame index", "300f", 300 * 3000, nil},
		{"frame zero", "0f", 0, nil},
		{"negative seconds", "-10", 50 * 90000, nil},
		{"negative clock", "-00:30", 30 * 90000, nil},
		{"negative clamps at zero", "-90", 0, nil},
		{"negative frame", "-30f", 59 * 90000, nil},
		{"past end", "61", 0, ErrOutOfRange},
		{"just past end clamps", "60.01", 60 * 90000, nil},
		{"empty", "", 0, ErrInvalidToken},
		{"garbage", "abc", 0, ErrInvalidToken},
		{"bad clock seconds", "00:99", 0, ErrInvalidToken},
		{"too many fields", "1:2:3:4", 0, ErrInvalidToken},
		{"bare minus", "-", 0, ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ResolveToken(tt.token)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveKeep(t *testing.T) {
	r := testResolver()

	ivs, err := r.ResolveKeep([]string{"10", "20", "40", "50"})
	require.NoError(t, err)
	require.Len(t, ivs, 2)
	assert.Equal(t, media.TimeInterval{StartPTS: 10 * 90000, EndPTS: 20 * 90000}, ivs[0])
	assert.Equal(t, media.TimeInterval{StartPTS: 40 * 90000, EndPTS: 50 * 90000}, ivs[1])
}

func TestResolveKeep_MergesOverlaps(t *testing.T) {
	r := testResolver()

	ivs, err := r.ResolveKeep([]string{"10", "30", "20", "40"})
	require.NoError(t, err)
	require.Len(t, ivs, 1)
	assert.Equal(t, media.TimeInterval{StartPTS: 10 * 90000, EndPTS: 40 * 90000}, ivs[0])
}

func TestResolveKeep_Errors(t *testing.T) {
	r := testResolver()

	_, err := r.ResolveKeep(nil)
	assert.ErrorIs(t, err, ErrEmptyIntervals)

	_, err = r.ResolveKeep([]string{"10"})
	assert.ErrorIs(t, err, ErrEmptyIntervals)

	_, err = r.ResolveKeep([]string{"20", "10"})
	assert.ErrorIs(t, err, ErrIntervalOrder)

	_, err = r.ResolveKeep([]string{"10", "10"})
	assert.ErrorIs(t, err, ErrEmptyIntervals, "zero-width pairs resolve to nothing")
}

func TestResolveCut(t *testing.T) {
	r := testResolver()

	// --cut 0,5,15,20 over a 60 s file keeps [5,15) and [20,60).
	ivs, err := r.ResolveCut([]string{"0", "5", "15", "20"})
	require.NoError(t, err)
	require.Len(t, ivs, 2)
	assert.Equal(t, media.TimeInterval{StartPTS: 5 * 90000, EndPTS: 15 * 90000}, ivs[0])
	assert.Equal(t, media.TimeInterval{StartPTS: 20 * 90000, EndPTS: 60 * 90000}, ivs[1])
}

func TestResolveCut_WholeFile(t *testing.T) {
	r := testResolver()

	_, err := r.ResolveCut([]string{"s", "e"})
	assert.ErrorIs(t, err, ErrEmptyIntervals)
}

func TestComplement(t *testing.T) {
	cuts := []media.TimeInterval{{StartPTS: 0, EndPTS: 10}, {StartPTS: 50, EndPTS: 100}}
	keeps := Complement(cuts, 100)
	require.Len(t, keeps, 1)
	assert.Equal(t, media.TimeInterval{StartPTS: 10, EndPTS: 50}, keeps[0])
}

func TestSplitTokens(t *testing.T) {
	assert.Equal(t, []string{"10", "20"}, SplitTokens("10,20"))
	assert.Equal(t, []string{"0", "-1:30"}, SplitTokens("0, -1:30"))
	assert.Nil(t, SplitTokens("  "))
}

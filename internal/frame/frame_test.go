package frame

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTag = strings.Repeat("0123456789abcdef", 4)

// tenths renders i/10 the way BuildDataPart must, without floats.
func tenths(i int) string {
	sign := ""
	if i < 0 {
		sign = "-"
		i = -i
	}
	return fmt.Sprintf("%s%d.%d", sign, i/10, i%10)
}

func TestBuildDataPart(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		t, h      float32
		expect    string
		expectErr error
	}{
		{"nominal", 25.3, 60.5, "T:25.3,H:60.5", nil},
		{"min", -40, 0, "T:-40.0,H:0.0", nil},
		{"max", 85, 100, "T:85.0,H:100.0", nil},
		{"negative-zero", float32(math.Copysign(0, -1)), 0, "T:0.0,H:0.0", nil},
		{"round-to-negative-zero", -0.04, 0, "T:0.0,H:0.0", nil},
		{"round-half-even-down", 0.25, 1.25, "T:0.2,H:1.2", nil},
		{"round-half-even-up", 0.75, 1.75, "T:0.8,H:1.8", nil},
		{"round-binary-below-half", 0.35, 20.04, "T:0.3,H:20.0", nil},
		{"longest-fits", 1 << 40, 1 << 27, "T:1099511627776.0,H:134217728.0", nil},
		{"overflow", 1 << 40, 1 << 30, "", ErrFormatOverflow},
		{"nan", float32(math.NaN()), 1, "", ErrNotFinite},
		{"inf", 1, float32(math.Inf(-1)), "", ErrNotFinite},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			d, err := BuildDataPart(c.t, c.h)
			if c.expectErr != nil {
				require.Error(t, err)
				assert.Equal(t, c.expectErr, errors.Cause(err))
				assert.Equal(t, DataPart(""), d)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DataPart(c.expect), d)
			assert.True(t, len(d) < DataPartCap)
		})
	}
}

func TestDataPartRoundTripTemperature(t *testing.T) {
	t.Parallel()

	for i := -400; i <= 850; i++ {
		temp := float32(i) / 10
		d, err := BuildDataPart(temp, 50)
		require.NoError(t, err)
		require.Equal(t, DataPart("T:"+tenths(i)+",H:50.0"), d)
		pt, ph, err := ParseDataPart(string(d))
		require.NoError(t, err)
		require.Equal(t, temp, pt, "i=%d", i)
		require.Equal(t, float32(50), ph)
	}
}

func TestDataPartRoundTripHumidity(t *testing.T) {
	t.Parallel()

	for i := 0; i <= 1000; i++ {
		hum := float32(i) / 10
		d, err := BuildDataPart(-12.5, hum)
		require.NoError(t, err)
		require.Equal(t, DataPart("T:-12.5,H:"+tenths(i)), d)
		pt, ph, err := ParseDataPart(string(d))
		require.NoError(t, err)
		require.Equal(t, float32(-12.5), pt)
		require.Equal(t, hum, ph, "i=%d", i)
	}
}

func TestBuildFrame(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		data      DataPart
		tag       string
		expectErr error
	}{
		{"nominal", "T:25.3,H:60.5", testTag, nil},
		{"empty-data", "", testTag, nil},
		{"max-visible", DataPart(strings.Repeat("x", 62)), testTag, nil},
		{"overflow", DataPart(strings.Repeat("x", 63)), testTag, ErrFormatOverflow},
		{"hex-short", "T:1.0,H:2.0", testTag[:63], ErrBadHexLength},
		{"hex-long", "T:1.0,H:2.0", testTag + "0", ErrBadHexLength},
		{"hex-empty", "T:1.0,H:2.0", "", ErrBadHexLength},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			f, err := BuildFrame(c.data, c.tag)
			if c.expectErr != nil {
				require.Error(t, err)
				assert.Equal(t, c.expectErr, errors.Cause(err))
				assert.Equal(t, Frame(""), f)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, Frame(string(c.data)+"#"+c.tag), f)
			assert.True(t, len(f) < FrameCap)
			assert.Equal(t, 1, strings.Count(string(f), "#"))
		})
	}
}

func TestParseFrame(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		input     string
		expectErr error
	}{
		{"nominal", "T:25.3,H:60.5#" + testTag, nil},
		{"negative", "T:-40.0,H:0.0#" + testTag, nil},
		{"negative-humidity", "T:25.3,H:-1.0#" + testTag, ErrSyntax},
		{"no-separator", "T:25.3,H:60.5" + testTag, ErrSyntax},
		{"two-separators", "T:25.3,H:60.5##" + testTag[1:], ErrSyntax},
		{"uppercase-hex", "T:25.3,H:60.5#" + strings.ToUpper(testTag), ErrBadHex},
		{"short-hex", "T:25.3,H:60.5#" + testTag[2:], ErrBadHexLength},
		{"two-decimals", "T:25.30,H:60.5#" + testTag, ErrSyntax},
		{"no-decimals", "T:25,H:60.5#" + testTag, ErrSyntax},
		{"swapped", "H:60.5,T:25.3#" + testTag, ErrSyntax},
		{"spaces", "T: 25.3,H:60.5#" + testTag, ErrSyntax},
		{"too-long", strings.Repeat("T", 64) + "#" + testTag, ErrFormatOverflow},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			d, tag, err := ParseFrame(c.input)
			if c.expectErr != nil {
				require.Error(t, err)
				assert.Equal(t, c.expectErr, errors.Cause(err), "err=%v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.input, string(d)+"#"+tag)
		})
	}
}

package uplink

import (
	"math"
	"regexp"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/lorasense/internal/auth"
	"github.com/temoto/lorasense/internal/frame"
	"github.com/temoto/lorasense/internal/types"
)

var reFrame = regexp.MustCompile(`^T:-?[0-9]+\.[0-9],H:[0-9]+\.[0-9]#[0-9a-f]{64}$`)

func TestMakeNominal(t *testing.T) {
	t.Parallel()

	a := auth.New(auth.DefaultKey)
	p := NewPipeline(a)
	f, err := p.Make(types.Reading{Temperature: 25.3, Humidity: 60.5})
	require.NoError(t, err)
	expectTag := a.Authenticate([]byte("T:25.3,H:60.5")).Hex()
	assert.Equal(t, frame.Frame("T:25.3,H:60.5#"+expectTag), f)

	r, err := p.Verify(string(f))
	require.NoError(t, err)
	assert.Equal(t, types.Reading{Temperature: 25.3, Humidity: 60.5}, r)
}

func TestMakeGrammar(t *testing.T) {
	t.Parallel()

	p := NewPipeline(auth.New(auth.DefaultKey))
	for i := -400; i <= 850; i += 3 {
		for j := 0; j <= 1000; j += 97 {
			r := types.Reading{Temperature: float32(i) / 10, Humidity: float32(j) / 10}
			f, err := p.Make(r)
			require.NoError(t, err)
			require.True(t, len(f) <= 127, "len=%d", len(f))
			require.True(t, reFrame.MatchString(string(f)), "frame=%s", f)
			back, err := p.Verify(string(f))
			require.NoError(t, err)
			require.Equal(t, r, back)
		}
	}
}

func TestMakeFailureNoPartial(t *testing.T) {
	t.Parallel()

	p := NewPipeline(auth.New(auth.DefaultKey))
	cases := []struct {
		name   string
		r      types.Reading
		expect error
	}{
		{"overflow", types.Reading{Temperature: 1 << 40, Humidity: 1 << 30}, frame.ErrFormatOverflow},
		{"nan", types.Reading{Temperature: float32(math.NaN()), Humidity: 1}, frame.ErrNotFinite},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			f, err := p.Make(c.r)
			assert.Equal(t, c.expect, errors.Cause(err))
			assert.Equal(t, frame.Frame(""), f)
		})
	}
}

func TestVerifyWrongKey(t *testing.T) {
	t.Parallel()

	f, err := NewPipeline(auth.New(auth.DefaultKey)).Make(types.Reading{Temperature: 1, Humidity: 2})
	require.NoError(t, err)
	_, err = NewPipeline(auth.New(auth.KeyFromString("other"))).Verify(string(f))
	assert.Equal(t, auth.ErrMismatch, errors.Cause(err))
}

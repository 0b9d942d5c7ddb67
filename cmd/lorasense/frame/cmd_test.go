package frame

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/lorasense/internal/state"
)

func TestBuildVerify(t *testing.T) {
	t.Parallel()

	_, g := state.NewTestContext(t, "test", "")
	var out bytes.Buffer
	require.NoError(t, build(g, []string{"25.3", "60.5"}, &out))
	f := strings.TrimSpace(out.String())
	assert.Regexp(t, `^T:25\.3,H:60\.5#[0-9a-f]{64}$`, f)

	out.Reset()
	require.NoError(t, verify(g, []string{f}, &out))
	assert.Equal(t, "ok temperature=25.3 humidity=60.5\n", out.String())

	tampered := strings.Replace(f, "T:25.3", "T:25.4", 1)
	assert.Error(t, verify(g, []string{tampered}, &out))
}

func TestBuildErrors(t *testing.T) {
	t.Parallel()

	_, g := state.NewTestContext(t, "test", "")
	cases := []struct {
		name string
		args []string
	}{
		{"no-args", nil},
		{"one-arg", []string{"1"}},
		{"not-number", []string{"warm", "50"}},
		{"overflow", []string{"1e30", "1e30"}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Error(t, build(g, c.args, &out))
			assert.Equal(t, 0, out.Len())
		})
	}
}

func TestKeyFromConfig(t *testing.T) {
	t.Parallel()

	_, g1 := state.NewTestContext(t, "test", "")
	_, g2 := state.NewTestContext(t, "test", `auth { key_hex = "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff" }`)
	var out bytes.Buffer
	require.NoError(t, build(g1, []string{"0", "0"}, &out))
	f := strings.TrimSpace(out.String())
	assert.Error(t, verify(g2, []string{f}, &out))
}

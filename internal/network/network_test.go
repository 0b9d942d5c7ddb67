package network

import (
	"context"
	"math/rand"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/lorasense/log2"
)

func TestCodeOf(t *testing.T) {
	t.Parallel()

	err := errors.Annotate(SendError(CodeNoAck, nil), "attempt=3")
	assert.Equal(t, CodeNoAck, CodeOf(err))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("other")))
	assert.Equal(t, CodeUnknown, CodeOf(nil))
	assert.Equal(t, "network send no-ack", SendError(CodeNoAck, nil).Error())
	assert.Equal(t, "network join timeout: rx1", JoinError(CodeTimeout, errors.New("rx1")).Error())
	assert.Equal(t, "Code(200)", Code(200).String())
}

func TestSimScript(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sim := NewSim(log2.NewTest(t, log2.LDebug), rand.New(rand.NewSource(1)))
	sim.JoinFailures = 2
	sim.SendFailures = 1

	err := sim.Send(ctx, 1, []byte("early"), true)
	assert.Equal(t, CodeNotJoined, CodeOf(err))

	assert.Equal(t, CodeTimeout, CodeOf(sim.Join(ctx)))
	assert.Equal(t, CodeTimeout, CodeOf(sim.Join(ctx)))
	require.NoError(t, sim.Join(ctx))

	assert.Equal(t, CodeNoAck, CodeOf(sim.Send(ctx, 1, []byte("lost"), true)))
	require.NoError(t, sim.Send(ctx, 1, []byte("T:1.0,H:2.0#x"), true))
	stat := sim.Stat()
	assert.True(t, stat.Joined)
	assert.Equal(t, 3, stat.JoinCalls)
	assert.Equal(t, 3, stat.SendCalls)
	assert.Equal(t, [][]byte{[]byte("T:1.0,H:2.0#x")}, stat.Sent)
}

func TestSimFailRate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sim := NewSim(nil, rand.New(rand.NewSource(1)))
	require.NoError(t, sim.Join(ctx))
	sim.FailRate = 1
	assert.Equal(t, CodeTransport, CodeOf(sim.Send(ctx, 1, nil, false)))
	assert.Equal(t, CodeNoAck, CodeOf(sim.Send(ctx, 1, nil, true)))
}

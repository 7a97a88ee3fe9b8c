package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPauseGate(t *testing.T) {
	t.Parallel()

	g := newPauseGate()
	assert.False(t, g.IsClosed())
	assert.NoError(t, g.Wait(context.Background()))
	assert.False(t, g.Open(), "opening an open gate is a no-op")

	assert.True(t, g.Close())
	assert.False(t, g.Close())
	assert.False(t, g.runIfOpen(func() { t.Error("must not run while closed") }))

	released := make(chan error, 1)
	go func() { released <- g.Wait(context.Background()) }()

	select {
	case <-released:
		t.Fatal("Wait returned while gate was closed")
	case <-time.After(20 * time.Millisecond):
	}

	assert.True(t, g.Open())
	select {
	case err := <-released:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Open")
	}

	ran := false
	assert.True(t, g.runIfOpen(func() { ran = true }))
	assert.True(t, ran)
}

func TestPauseGateWaitHonoursContext(t *testing.T) {
	t.Parallel()

	g := newPauseGate()
	g.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Wait(ctx), context.DeadlineExceeded)
}

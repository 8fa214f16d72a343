package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptionsLeaveCallsUnbounded(t *testing.T) {
	c, err := New("localhost:9400", nil)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := c.bound(context.Background())
	defer cancel()
	_, ok := ctx.Deadline()
	assert.False(t, ok)
}

func TestCallTimeoutBoundsCallsWithoutDeadline(t *testing.T) {
	c, err := New("localhost:9400", &Options{Insecure: true, CallTimeout: time.Second})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := c.bound(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 200*time.Millisecond)

	// A caller's own deadline wins.
	parent, cancelParent := context.WithTimeout(context.Background(), time.Hour)
	defer cancelParent()
	ctx, cancel = c.bound(parent)
	defer cancel()
	deadline, _ = ctx.Deadline()
	want, _ := parent.Deadline()
	assert.Equal(t, want, deadline)
}

package startup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectRedisWithRetry(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := ConnectRedisWithRetry(context.Background(), "redis://"+mr.Addr(), "ns", time.Second)
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestConnectRedisGivesUp(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	start := time.Now()
	_, err := ConnectRedisWithRetry(context.Background(), "redis://"+addr, "ns", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gave up")
	assert.Less(t, time.Since(start), 2*time.Second)
}

package dnscache

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_Resolve_GuardRejects(t *testing.T) {
	c, err := New(10, func(ip net.IP) error {
		if ip.IsLoopback() {
			return assert.AnError
		}
		return nil
	})
	require.NoError(t, err)

	_, err = c.Resolve(context.Background(), "localhost")
	assert.Error(t, err)
}

func TestCache_Resolve_CachesResult(t *testing.T) {
	c, err := New(10, nil)
	require.NoError(t, err)

	ips, err := c.Resolve(context.Background(), "localhost")
	require.NoError(t, err)
	require.NotEmpty(t, ips)

	// Second call should hit the cache path without error.
	ips2, err := c.Resolve(context.Background(), "localhost")
	require.NoError(t, err)
	assert.Equal(t, ips, ips2)
}

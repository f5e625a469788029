package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory(t *testing.T) {
	tests := []struct {
		cfgType  string
		wantType string
	}{
		{"", "memory"},
		{"memory", "memory"},
		{"redis", "redis"},
		{"memcached", "memcached"},
	}
	for _, tt := range tests {
		c, err := Factory(Config{Type: tt.cfgType, Name: "test"})
		require.NoError(t, err)
		assert.Equal(t, tt.wantType, c.Type())
	}

	_, err := Factory(Config{Type: "punch-cards"})
	assert.Error(t, err)
}

func TestMemoryMarkSeen(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(Config{Name: "test"})
	require.NoError(t, c.Connect())
	defer c.Close()

	prev, err := c.MarkSeen(ctx, "dev/msgid-1", "item-a", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, prev, "first mark must report not-seen")

	// The same item re-marking gets its own token back.
	prev, err = c.MarkSeen(ctx, "dev/msgid-1", "item-a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "item-a", prev)

	// A different item marking the same identity sees the original owner.
	prev, err = c.MarkSeen(ctx, "dev/msgid-1", "item-b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "item-a", prev)

	seen, err := c.Seen(ctx, "dev/msgid-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = c.Seen(ctx, "dev/other")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(Config{Name: "test"})
	require.NoError(t, c.Connect())
	defer c.Close()

	_, err := c.MarkSeen(ctx, "k", "item-a", 10*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	prev, err := c.MarkSeen(ctx, "k", "item-b", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, prev, "expired entry must count as not-seen")
}

func TestMemoryForget(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(Config{Name: "test"})
	require.NoError(t, c.Connect())
	defer c.Close()

	_, err := c.MarkSeen(ctx, "k", "item-a", time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.Forget(ctx, "k"))
	seen, err := c.Seen(ctx, "k")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestNotConnectedErrors(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(Config{Name: "test"})
	_, err := c.MarkSeen(ctx, "k", "item-a", time.Minute)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.Seen(ctx, "k")
	assert.ErrorIs(t, err, ErrNotConnected)
}

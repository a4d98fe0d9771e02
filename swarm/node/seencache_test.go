package node

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSeenCacheEvictsLeastRecent(t *testing.T) {
	c := newSeenCache(3, 0, nil)
	for i := 0; i < 3; i++ {
		require.True(t, c.add(fmt.Sprint(i)))
	}
	require.False(t, c.add("0"))

	require.True(t, c.add("3"))
	require.Equal(t, 3, c.len())

	// "1" was least recent and is gone; re-adding it evicts "2"
	require.True(t, c.add("1"))
	require.False(t, c.add("0"))
	require.False(t, c.add("3"))
	require.Equal(t, 3, c.len())
}

func TestSeenCacheExpires(t *testing.T) {
	now := time.Unix(0, 0)
	c := newSeenCache(0, time.Minute, func() time.Time { return now })

	require.True(t, c.add("a"))
	now = now.Add(30 * time.Second)
	require.True(t, c.add("b"))
	require.Equal(t, 2, c.len())

	now = now.Add(31 * time.Second)
	require.True(t, c.add("a"))
	require.False(t, c.add("b"))
	require.Equal(t, 2, c.len())
}

func TestEventLogRing(t *testing.T) {
	l := newEventLog(3)
	require.Empty(t, l.newestFirst())

	for i := 0; i < 5; i++ {
		l.append(Event{Content: fmt.Sprint(i)})
	}
	got := l.newestFirst()
	require.Len(t, got, 3)
	require.Equal(t, "4", got[0].Content)
	require.Equal(t, "3", got[1].Content)
	require.Equal(t, "2", got[2].Content)
}

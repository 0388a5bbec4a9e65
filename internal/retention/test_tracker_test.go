package retention

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTouchEvictsLeastRecentlyUsed(t *testing.T) {
	tr := New(3)
	for _, id := range []string{"a", "b", "c"} {
		require.Empty(t, tr.Touch(id, ""))
	}
	tr.Touch("a", "")
	evicted := tr.Touch("d", "")
	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, []string{"c", "a", "d"}, tr.IDs())
}

func TestActiveSurfaceIsCycledNotEvicted(t *testing.T) {
	tr := New(2)
	tr.Touch("main", "main")
	tr.Touch("side", "main")
	evicted := tr.Touch("extra", "main")
	assert.Equal(t, []string{"side"}, evicted)
	assert.ElementsMatch(t, []string{"main", "extra"}, tr.IDs())
}

func TestDefaultCap(t *testing.T) {
	tr := New(0)
	require.Equal(t, DefaultMaxSurfaces, tr.Max())
	var evicted []string
	for i := 0; i < 30; i++ {
		evicted = append(evicted, tr.Touch(fmt.Sprintf("s%02d", i), "s00")...)
	}
	assert.Equal(t, DefaultMaxSurfaces, tr.Len())
	assert.NotContains(t, evicted, "s00")
	assert.Len(t, evicted, 30-DefaultMaxSurfaces)
}

func TestForget(t *testing.T) {
	tr := New(2)
	tr.Touch("a", "")
	tr.Touch("b", "")
	tr.Forget("a")
	assert.Empty(t, tr.Touch("c", ""))
	assert.Equal(t, []string{"b", "c"}, tr.IDs())
}

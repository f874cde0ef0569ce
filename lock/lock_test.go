package lock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qtesting "github.com/quarrylabs/quarry/internal/testing"
)

func TestAcquireIsExclusive(t *testing.T) {
	m := NewManager(qtesting.CreateTestDB(t), nil)

	ok, err := m.Acquire("feed:1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second acquire without release fails.
	ok, err = m.Acquire("feed:1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseThenAcquireSucceeds(t *testing.T) {
	m := NewManager(qtesting.CreateTestDB(t), nil)

	ok, err := m.Acquire("feed:1", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.Release("feed:1"))

	ok, err = m.Acquire("feed:1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := NewManager(qtesting.CreateTestDB(t), nil)

	require.NoError(t, m.Release("feed:never-acquired"))
	require.NoError(t, m.Release("feed:never-acquired"))
}

func TestExpiredLockIsTreatedAsAbsent(t *testing.T) {
	m := NewManager(qtesting.CreateTestDB(t), nil)

	ok, err := m.Acquire("feed:1", -time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	available, err := m.IsAvailable("feed:1")
	require.NoError(t, err)
	assert.True(t, available)

	ok, err = m.Acquire("feed:1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsAvailable(t *testing.T) {
	m := NewManager(qtesting.CreateTestDB(t), nil)

	available, err := m.IsAvailable("feed:1")
	require.NoError(t, err)
	assert.True(t, available)

	ok, err := m.Acquire("feed:1", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	available, err = m.IsAvailable("feed:1")
	require.NoError(t, err)
	assert.False(t, available)
}

type countingNotifier struct{ calls int }

func (n *countingNotifier) LocksChanged() { n.calls++ }

func TestNotifierFiresOnAcquireAndRelease(t *testing.T) {
	notifier := &countingNotifier{}
	m := NewManager(qtesting.CreateTestDB(t), notifier)

	ok, err := m.Acquire("feed:1", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, m.Release("feed:1"))

	assert.Equal(t, 2, notifier.calls)
}

package locktable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/formicaio/formicaiod/internal/types"
)

func TestLockAndRemove(t *testing.T) {
	lt := New()
	id := types.NewNodeID()

	assert.False(t, lt.IsStillLocked(id))

	lt.Lock(id, time.Minute)
	assert.True(t, lt.IsStillLocked(id))
	assert.Equal(t, 1, lt.Len())

	lt.Remove(id)
	assert.False(t, lt.IsStillLocked(id))
	assert.Equal(t, 0, lt.Len())
}

func TestExpiryReleasesWithoutExplicitUnlock(t *testing.T) {
	lt := New()
	id := types.NewNodeID()

	current := time.Now()
	lt.now = func() time.Time { return current }

	// upgrade-style lock of 8 minutes
	lt.Lock(id, 8*time.Minute)
	assert.True(t, lt.IsStillLocked(id))

	current = current.Add(8*time.Minute - time.Second)
	assert.True(t, lt.IsStillLocked(id))

	current = current.Add(time.Second)
	assert.False(t, lt.IsStillLocked(id))
	// the expired entry is gone, not just reported unlocked
	assert.Equal(t, 0, lt.Len())
}

func TestRelockReplacesTTL(t *testing.T) {
	lt := New()
	id := types.NewNodeID()

	current := time.Now()
	lt.now = func() time.Time { return current }

	lt.Lock(id, time.Second)
	current = current.Add(500 * time.Millisecond)
	lt.Lock(id, time.Minute)

	current = current.Add(2 * time.Second)
	assert.True(t, lt.IsStillLocked(id))
}

func TestConcurrentAccess(t *testing.T) {
	lt := New()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			id := types.NewNodeID()
			for j := 0; j < 100; j++ {
				lt.Lock(id, time.Millisecond)
				lt.IsStillLocked(id)
				lt.Remove(id)
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}

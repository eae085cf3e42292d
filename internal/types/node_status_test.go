package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeStatusDisplay(t *testing.T) {
	cases := []struct {
		status NodeStatus
		want   string
	}{
		{Creating(), "Creating"},
		{Active(), "Active"},
		{Restarting(), "Restarting"},
		{Stopping(), "Stopping"},
		{Removing(), "Removing"},
		{Upgrading(), "Upgrading"},
		{Recycling(), "Recycling"},
		{Inactive(InactiveCreated), "Created"},
		{Inactive(InactiveStopped), "Stopped"},
		{StartFailed("port in use"), "Start failed (port in use)"},
		{Exited("signal 9"), "Exited (signal 9)"},
		{Inactive(InactiveExited), "Exited (unknown reason)"},
		{Inactive(InactiveUnknown), "Unknown"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.status.String())
	}
}

func TestNodeStatusPredicates(t *testing.T) {
	assert.True(t, Active().IsActive())
	assert.False(t, Active().IsTransitioning())
	assert.True(t, Restarting().IsTransitioning())
	assert.True(t, Upgrading().IsTransitioning())
	assert.True(t, Inactive(InactiveStopped).IsInactive())
	assert.True(t, Inactive(InactiveStopped).IsStopped())
	assert.True(t, StartFailed("x").IsStartFailed())
	assert.True(t, Exited("x").IsExited())
	assert.True(t, Inactive(InactiveUnknown).IsInactiveUnknown())
	assert.False(t, Inactive(InactiveUnknown).IsExited())
}

func TestStatusSummary(t *testing.T) {
	info := NewNodeInstanceInfo(NewNodeID())
	info.Status = Active()
	assert.Equal(t, "Active", info.StatusSummary())

	info.IsStatusLocked = true
	assert.Equal(t, "Active (batched)", info.StatusSummary())

	info.IsStatusLocked = false
	info.IsStatusUnknown = true
	assert.Equal(t, "Unknown (it was Active)", info.StatusSummary())
}

func TestSetStatusToUnknownClearsObservations(t *testing.T) {
	info := NewNodeInstanceInfo(NewNodeID())
	info.ConnectedPeers = 7
	info.KBucketsPeers = 5
	info.Records = 100
	info.RelevantRecords = 80
	info.ShunnedCount = 2
	info.NetSize = 10000

	info.SetStatusToUnknown()

	assert.True(t, info.IsStatusUnknown)
	assert.Zero(t, info.ConnectedPeers)
	assert.Zero(t, info.KBucketsPeers)
	assert.Zero(t, info.Records)
	assert.Zero(t, info.RelevantRecords)
	assert.Zero(t, info.ShunnedCount)
	assert.Zero(t, info.NetSize)
}

func TestNodeIDGenerationAndParsing(t *testing.T) {
	id := NewNodeID()
	assert.Len(t, string(id), NodeIDLength)
	parsed, err := ParseNodeID(string(id))
	assert.NoError(t, err)
	assert.Equal(t, id, parsed)

	// container-style 64-char ids are accepted
	long := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	parsed, err = ParseNodeID(long)
	assert.NoError(t, err)
	assert.Equal(t, NodeIDLength, len(parsed.Short()))

	_, err = ParseNodeID("short")
	assert.Error(t, err)
	_, err = ParseNodeID("zzzzzzzzzzzz")
	assert.Error(t, err)
}

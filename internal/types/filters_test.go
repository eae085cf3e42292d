package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNodeID(t *testing.T, seed string) NodeID {
	t.Helper()
	encoded := ""
	for _, c := range []byte(seed) {
		encoded += string("0123456789abcdef"[c>>4]) + string("0123456789abcdef"[c&0xf])
	}
	if len(encoded) > NodeIDLength {
		encoded = encoded[:NodeIDLength]
	}
	for len(encoded) < NodeIDLength {
		encoded += "0"
	}
	id, err := ParseNodeID(encoded)
	require.NoError(t, err)
	return id
}

func TestNodeFilterDefaultAndMatches(t *testing.T) {
	filter := &NodeFilter{}
	info := NewNodeInstanceInfo(testNodeID(t, "node1"))
	info.Status = Active()

	assert.True(t, filter.Passes(info))
	assert.False(t, filter.Matches(info))
}

func TestNodeFilterWithNodeIDs(t *testing.T) {
	filter := &NodeFilter{NodeIDs: []NodeID{testNodeID(t, "node1"), testNodeID(t, "node2")}}
	info1 := NewNodeInstanceInfo(testNodeID(t, "node1"))
	info2 := NewNodeInstanceInfo(testNodeID(t, "node2"))
	info3 := NewNodeInstanceInfo(testNodeID(t, "node3"))

	assert.True(t, filter.Passes(info1))
	assert.True(t, filter.Passes(info2))
	assert.False(t, filter.Passes(info3))
	assert.True(t, filter.Matches(info1))
	assert.True(t, filter.Matches(info2))
	assert.False(t, filter.Matches(info3))
}

func TestNodeFilterWithStatusFilters(t *testing.T) {
	filter := &NodeFilter{Status: []NodeStatusFilter{FilterActive, FilterRestarting}}

	active := NewNodeInstanceInfo(testNodeID(t, "active1"))
	active.Status = Active()
	restarting := NewNodeInstanceInfo(testNodeID(t, "restart1"))
	restarting.Status = Restarting()
	inactive := NewNodeInstanceInfo(testNodeID(t, "inactive"))
	inactive.Status = Inactive(InactiveStopped)

	assert.True(t, filter.Passes(active))
	assert.True(t, filter.Passes(restarting))
	assert.False(t, filter.Passes(inactive))
	assert.True(t, filter.Matches(active))
	assert.False(t, filter.Matches(inactive))
}

func TestNodeFilterWithBothIDsAndStatus(t *testing.T) {
	filter := &NodeFilter{
		NodeIDs: []NodeID{testNodeID(t, "node1")},
		Status:  []NodeStatusFilter{FilterActive},
	}

	matching := NewNodeInstanceInfo(testNodeID(t, "node1"))
	matching.Status = Active()
	wrongStatus := NewNodeInstanceInfo(testNodeID(t, "node1"))
	wrongStatus.Status = Inactive(InactiveStopped)
	wrongID := NewNodeInstanceInfo(testNodeID(t, "node2"))
	wrongID.Status = Active()

	// either the id or the status matching is enough
	assert.True(t, filter.Passes(matching))
	assert.True(t, filter.Passes(wrongStatus))
	assert.True(t, filter.Passes(wrongID))
	assert.True(t, filter.Matches(matching))
	assert.True(t, filter.Matches(wrongStatus))
	assert.True(t, filter.Matches(wrongID))
}

func TestNodeFilterWithInactiveReasons(t *testing.T) {
	filter := &NodeFilter{Status: []NodeStatusFilter{
		FilterCreated, FilterStopped, FilterStartFailed, FilterExited, FilterUnknown,
	}}

	for _, status := range []NodeStatus{
		Inactive(InactiveCreated),
		Inactive(InactiveStopped),
		StartFailed("error"),
		Exited("bye"),
		Inactive(InactiveUnknown),
	} {
		info := NewNodeInstanceInfo(testNodeID(t, "node"))
		info.Status = status
		assert.True(t, filter.Passes(info), "status %s", status)
	}
}

func TestNodeFilterWithBatchedStatus(t *testing.T) {
	filter := &NodeFilter{Status: []NodeStatusFilter{FilterBatched}}

	locked := NewNodeInstanceInfo(testNodeID(t, "locked1"))
	locked.IsStatusLocked = true
	unlocked := NewNodeInstanceInfo(testNodeID(t, "unlockd1"))

	assert.True(t, filter.Passes(locked))
	assert.False(t, filter.Passes(unlocked))
}

func TestNodeFilterEmptyVectorsBehaveAsAbsent(t *testing.T) {
	info := NewNodeInstanceInfo(testNodeID(t, "anynode"))

	emptyIDs := &NodeFilter{NodeIDs: []NodeID{}}
	emptyStatus := &NodeFilter{Status: []NodeStatusFilter{}}

	assert.True(t, emptyIDs.Passes(info))
	assert.False(t, emptyIDs.Matches(info))
	assert.True(t, emptyStatus.Passes(info))
	assert.False(t, emptyStatus.Matches(info))

	var nilFilter *NodeFilter
	assert.True(t, nilFilter.Passes(info))
	assert.False(t, nilFilter.Matches(info))
}

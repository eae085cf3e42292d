package types

// NodeStatusFilter selects nodes by their current state.
type NodeStatusFilter string

const (
	FilterActive      NodeStatusFilter = "active"
	FilterRestarting  NodeStatusFilter = "restarting"
	FilterStopping    NodeStatusFilter = "stopping"
	FilterRemoving    NodeStatusFilter = "removing"
	FilterUpgrading   NodeStatusFilter = "upgrading"
	FilterRecycling   NodeStatusFilter = "recycling"
	FilterBatched     NodeStatusFilter = "batched"
	FilterInactive    NodeStatusFilter = "inactive"
	FilterCreated     NodeStatusFilter = "created"
	FilterStopped     NodeStatusFilter = "stopped"
	FilterStartFailed NodeStatusFilter = "start_failed"
	FilterExited      NodeStatusFilter = "exited"
	FilterUnknown     NodeStatusFilter = "unknown"
)

// MatchesStatus reports whether the filter selects the given node.
func (f NodeStatusFilter) MatchesStatus(info *NodeInstanceInfo) bool {
	switch f {
	case FilterActive:
		return info.Status.IsActive()
	case FilterRestarting:
		return info.Status.IsRestarting()
	case FilterStopping:
		return info.Status.IsStopping()
	case FilterRemoving:
		return info.Status.IsRemoving()
	case FilterUpgrading:
		return info.Status.IsUpgrading()
	case FilterRecycling:
		return info.Status.IsRecycling()
	case FilterBatched:
		return info.IsStatusLocked
	case FilterInactive:
		return info.Status.IsInactive()
	case FilterCreated:
		return info.Status.IsCreated()
	case FilterStopped:
		return info.Status.IsStopped()
	case FilterStartFailed:
		return info.Status.IsStartFailed()
	case FilterExited:
		return info.Status.IsExited() || info.Status.IsInactiveUnknown()
	case FilterUnknown:
		return info.Status.IsInactiveUnknown()
	default:
		return false
	}
}

// NodeFilter narrows a node listing by id and/or status. Nil or empty
// slices behave as "no constraint".
type NodeFilter struct {
	NodeIDs []NodeID           `json:"node_ids,omitempty"`
	Status  []NodeStatusFilter `json:"status,omitempty"`
}

func (f *NodeFilter) statusFilterApply(info *NodeInstanceInfo, fallback bool) bool {
	if len(f.Status) == 0 {
		return fallback
	}
	for _, sf := range f.Status {
		if sf.MatchesStatus(info) {
			return true
		}
	}
	return false
}

func (f *NodeFilter) containsID(id NodeID) bool {
	for _, fid := range f.NodeIDs {
		if fid == id {
			return true
		}
	}
	return false
}

// Passes reports whether the node survives the filter when listing:
// an unconstrained filter passes everything.
func (f *NodeFilter) Passes(info *NodeInstanceInfo) bool {
	if f == nil {
		return true
	}
	if len(f.NodeIDs) == 0 {
		return f.statusFilterApply(info, true)
	}
	return f.containsID(info.NodeID) || f.statusFilterApply(info, false)
}

// Matches reports whether the node positively matches the filter: an
// unconstrained filter matches nothing. Used for batch-on-match.
func (f *NodeFilter) Matches(info *NodeInstanceInfo) bool {
	if f == nil {
		return false
	}
	return f.containsID(info.NodeID) || f.statusFilterApply(info, false)
}

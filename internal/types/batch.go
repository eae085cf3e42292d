package types

// BatchKind enumerates the actions a batch can drive.
type BatchKind string

const (
	BatchCreate  BatchKind = "create"
	BatchStart   BatchKind = "start"
	BatchStop    BatchKind = "stop"
	BatchUpgrade BatchKind = "upgrade"
	BatchRecycle BatchKind = "recycle"
	BatchRemove  BatchKind = "remove"
)

// BatchType describes what a batch does. For BatchCreate, NodeOpts and
// Count are set; for every other kind, NodeIDs lists the targets.
type BatchType struct {
	Kind     BatchKind `json:"kind"`
	NodeOpts *NodeOpts `json:"node_opts,omitempty"`
	Count    uint16    `json:"count,omitempty"`
	NodeIDs  []NodeID  `json:"node_ids,omitempty"`
}

// Targets returns the listed node ids (empty for create batches).
func (t BatchType) Targets() []NodeID { return t.NodeIDs }

// Len returns the number of steps the batch will run.
func (t BatchType) Len() int {
	if t.Kind == BatchCreate {
		return int(t.Count)
	}
	return len(t.NodeIDs)
}

func (t BatchType) String() string { return string(t.Kind) }

// BatchStatusKind enumerates the lifecycle of a scheduled batch.
type BatchStatusKind string

const (
	BatchScheduled              BatchStatusKind = "scheduled"
	BatchInProgress             BatchStatusKind = "in_progress"
	BatchInProgressWithFailures BatchStatusKind = "in_progress_with_failures"
	BatchFailed                 BatchStatusKind = "failed"
)

// BatchStatus is the current state of a batch, with failure details when
// steps have gone wrong.
type BatchStatus struct {
	Kind      BatchStatusKind `json:"kind"`
	Failures  uint16          `json:"failures,omitempty"`
	LastError string          `json:"last_error,omitempty"`
}

func (s BatchStatus) IsFailed() bool { return s.Kind == BatchFailed }

// NodesActionsBatch is one queued multi-node operation.
type NodesActionsBatch struct {
	ID           uint16      `json:"id"`
	Type         BatchType   `json:"batch_type"`
	IntervalSecs uint64      `json:"interval_secs"`
	Complete     uint16      `json:"complete"`
	Status       BatchStatus `json:"status"`
}

// BatchOnMatchKind enumerates filter-driven batch requests.
type BatchOnMatchKind string

const (
	StartOnMatch   BatchOnMatchKind = "start_on_match"
	StopOnMatch    BatchOnMatchKind = "stop_on_match"
	UpgradeOnMatch BatchOnMatchKind = "upgrade_on_match"
	RecycleOnMatch BatchOnMatchKind = "recycle_on_match"
	RemoveOnMatch  BatchOnMatchKind = "remove_on_match"
)

// BatchOnMatch schedules an action over every node matching a filter.
type BatchOnMatch struct {
	Kind   BatchOnMatchKind `json:"kind"`
	Filter NodeFilter       `json:"filter"`
}

// BatchKind maps the on-match request to the concrete batch action.
func (b BatchOnMatch) BatchKind() (BatchKind, bool) {
	switch b.Kind {
	case StartOnMatch:
		return BatchStart, true
	case StopOnMatch:
		return BatchStop, true
	case UpgradeOnMatch:
		return BatchUpgrade, true
	case RecycleOnMatch:
		return BatchRecycle, true
	case RemoveOnMatch:
		return BatchRemove, true
	default:
		return "", false
	}
}

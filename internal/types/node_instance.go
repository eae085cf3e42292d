package types

import (
	"fmt"
	"math/big"
)

// NodeOpts carries the user-provided configuration for creating a node
// instance.
type NodeOpts struct {
	NodeIP            string `json:"node_ip,omitempty"`
	Port              uint16 `json:"port"`
	MetricsPort       uint16 `json:"metrics_port"`
	RewardsAddr       string `json:"rewards_addr"`
	UPnP              bool   `json:"upnp"`
	ReachabilityCheck bool   `json:"reachability_check"`
	NodeLogs          bool   `json:"node_logs"`
	AutoStart         bool   `json:"auto_start"`
	DataDirPath       string `json:"data_dir_path,omitempty"`
}

// NodeInstanceInfo is the full record of one supervised node: durable
// configuration, current status, network identity and the latest scraped
// measurements. Optional numeric fields use their zero value as "unset";
// the store's merge semantics rely on this.
type NodeInstanceInfo struct {
	NodeID          NodeID     `json:"node_id"`
	Created         uint64     `json:"created"`        // unix seconds
	StatusChanged   uint64     `json:"status_changed"` // unix seconds
	Status          NodeStatus `json:"status"`
	StatusInfo      string     `json:"status_info"`
	IsStatusLocked  bool       `json:"is_status_locked"`
	IsStatusUnknown bool       `json:"is_status_unknown"`

	// Configuration
	PID               uint32 `json:"pid,omitempty"`
	NodeIP            string `json:"node_ip,omitempty"`
	Port              uint16 `json:"port"`
	MetricsPort       uint16 `json:"metrics_port"`
	RewardsAddr       string `json:"rewards_addr,omitempty"`
	UPnP              bool   `json:"upnp"`
	ReachabilityCheck bool   `json:"reachability_check"`
	NodeLogs          bool   `json:"node_logs"`
	AutoStart         bool   `json:"auto_start"`
	DataDirPath       string `json:"data_dir_path,omitempty"`

	// Identity
	PeerID     string `json:"peer_id,omitempty"`
	BinVersion string `json:"bin_version,omitempty"`
	IPs        string `json:"ips,omitempty"`

	// Live metrics
	Balance         *big.Int `json:"balance,omitempty"`
	Rewards         *big.Int `json:"rewards,omitempty"`
	MemUsedMB       float64  `json:"mem_used_mb,omitempty"`
	CPUUsagePct     float64  `json:"cpu_usage_pct,omitempty"`
	Records         uint64   `json:"records,omitempty"`
	RelevantRecords uint64   `json:"relevant_records,omitempty"`
	ConnectedPeers  uint64   `json:"connected_peers,omitempty"`
	KBucketsPeers   uint64   `json:"kbuckets_peers,omitempty"`
	ShunnedCount    uint64   `json:"shunned_count,omitempty"`
	NetSize         uint64   `json:"net_size,omitempty"`
	DiskUsage       uint64   `json:"disk_usage,omitempty"`
}

// NewNodeInstanceInfo returns a record in the freshly-created state.
func NewNodeInstanceInfo(id NodeID) *NodeInstanceInfo {
	return &NodeInstanceInfo{
		NodeID: id,
		Status: Inactive(InactiveCreated),
	}
}

// ShortNodeID returns the display form of the node id.
func (n *NodeInstanceInfo) ShortNodeID() string { return n.NodeID.Short() }

// StatusSummary renders the status for display, flagging batched nodes
// and nodes whose last known state could not be re-observed.
func (n *NodeInstanceInfo) StatusSummary() string {
	if n.IsStatusLocked {
		return fmt.Sprintf("%s (batched)", n.Status)
	}
	if n.IsStatusUnknown {
		return fmt.Sprintf("Unknown (it was %s)", n.Status)
	}
	return n.Status.String()
}

// SetStatusToUnknown clears the measurements that are only meaningful
// while the node is observable, and flags the record.
func (n *NodeInstanceInfo) SetStatusToUnknown() {
	n.IsStatusUnknown = true
	n.ConnectedPeers = 0
	n.KBucketsPeers = 0
	n.Records = 0
	n.RelevantRecords = 0
	n.ShunnedCount = 0
	n.NetSize = 0
}

// UpgradeAvailable reports whether the node runs an older binary than
// the given latest published version.
func (n *NodeInstanceInfo) UpgradeAvailable(latest string) bool {
	return latest != "" && n.BinVersion != "" && n.BinVersion != latest
}

// NodesInstancesInfo is the response payload of the node-list API.
type NodesInstancesInfo struct {
	LatestBinVersion string                       `json:"latest_bin_version,omitempty"`
	Nodes            map[NodeID]*NodeInstanceInfo `json:"nodes"`
	Stats            Stats                        `json:"stats"`
	ScheduledBatches []*NodesActionsBatch         `json:"scheduled_batches"`
}

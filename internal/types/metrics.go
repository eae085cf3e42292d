package types

// Prometheus metric keys scraped from a node's exposition endpoint.
const (
	MetricKeyBalance         = "ant_node_current_reward_wallet_balance"
	MetricKeyMemUsedMB       = "ant_networking_process_memory_used_mb"
	MetricKeyCPUUsage        = "ant_networking_process_cpu_usage_percentage"
	MetricKeyRecords         = "ant_networking_records_stored"
	MetricKeyRelevantRecords = "ant_networking_relevant_records"
	MetricKeyConnectedPeers  = "ant_networking_connected_peers"
	MetricKeyPeersInRT       = "ant_networking_peers_in_routing_table"
	MetricKeyShunnedCount    = "ant_networking_shunned_count_total"
	MetricKeyNetSize         = "ant_networking_estimated_network_size"
	MetricKeyReachability    = "ant_networking_reachability_status"
)

// NodeMetric is one scraped sample. Values stay as strings until a
// consumer parses them; a malformed value for one key must not poison
// the rest of the sample set.
type NodeMetric struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// Metrics maps a metric key to its time-ordered samples.
type Metrics map[string][]NodeMetric

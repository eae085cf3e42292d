package types

import "time"

// AppSettings holds the operator-tunable configuration persisted in the
// store and applied live to the background tasks.
type AppSettings struct {
	NodesAutoUpgrade           bool          `json:"nodes_auto_upgrade"`
	NodesAutoUpgradeDelay      time.Duration `json:"nodes_auto_upgrade_delay"`
	NodeBinVersionPollingFreq  time.Duration `json:"node_bin_version_polling_freq"`
	NodesMetricsPollingFreq    time.Duration `json:"nodes_metrics_polling_freq"`
	RewardsBalancesRetrievalFreq time.Duration `json:"rewards_balances_retrieval_freq"`
	RewardsMonitoringEnabled   bool          `json:"rewards_monitoring_enabled"`
	L2NetworkRPCURL            string        `json:"l2_network_rpc_url"`
	TokenContractAddress       string        `json:"token_contract_address"`
	NodeListPageSize           uint64        `json:"node_list_page_size"`
	NodeListMode               uint64        `json:"node_list_mode"`

	// External LCD stats display (driven by an external collaborator;
	// the values are only persisted here).
	LCDDisplayEnabled bool   `json:"lcd_display_enabled"`
	LCDDevice         string `json:"lcd_device"`
	LCDAddr           string `json:"lcd_addr"`

	// AI assistant backend (driven by an external collaborator; the
	// values are only persisted here).
	LLMBaseURL          string `json:"llm_base_url"`
	LLMModel            string `json:"llm_model"`
	LLMAPIKey           string `json:"llm_api_key"`
	SystemPrompt        string `json:"system_prompt"`
	MaxContextMessages  uint64 `json:"max_context_messages"`
	AutonomousEnabled   bool   `json:"autonomous_enabled"`
	AutonomousCheckSecs uint64 `json:"autonomous_check_interval_secs"`
	AutonomousMaxActions uint64 `json:"autonomous_max_actions_per_cycle"`
}

// DefaultAppSettings returns the settings applied on first boot.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		NodesAutoUpgrade: false,
		// Delay between each node being auto-upgraded.
		NodesAutoUpgradeDelay: 10 * time.Second,
		// Check the latest published node binary version every six hours.
		NodeBinVersionPollingFreq: 6 * time.Hour,
		// How often to fetch metrics and node info from active nodes.
		NodesMetricsPollingFreq: 5 * time.Second,
		// Retrieve balances every 15 minutes.
		RewardsBalancesRetrievalFreq: 15 * time.Minute,
		RewardsMonitoringEnabled:     true,
		// Arbitrum One network.
		L2NetworkRPCURL: "https://arb1.arbitrum.io/rpc",
		// ANT token contract on Arbitrum One.
		TokenContractAddress: "0xa78d8321B20c4Ef90eCd72f2588AA985A4BDb684",
		NodeListPageSize:     30,
		NodeListMode:         0,
		LCDDisplayEnabled:    false,
		LCDDevice:            "1",
		LCDAddr:              "0x27",
		LLMBaseURL:           "http://localhost:11434",
		LLMModel:             "llama3.2:3b",
		MaxContextMessages:   20,
		AutonomousEnabled:    false,
		AutonomousCheckSecs:  60,
		AutonomousMaxActions: 3,
	}
}

package types

import "math/big"

// AddressBalance pairs a rewards address with its current token balance.
type AddressBalance struct {
	Address string   `json:"address"`
	Balance *big.Int `json:"balance"`
}

// AddressEarnings pairs a rewards address with its earnings breakdown.
type AddressEarnings struct {
	Address  string        `json:"address"`
	Earnings EarningsStats `json:"earnings"`
}

// Stats is the fleet-wide aggregate published by the background loop and
// retrievable through the public API.
type Stats struct {
	TotalBalance       *big.Int          `json:"total_balance"`
	Balances           []AddressBalance  `json:"balances"`
	Earnings           []AddressEarnings `json:"earnings"`
	EarningsSyncing    bool              `json:"earnings_syncing,omitempty"`
	TotalNodes         uint64            `json:"total_nodes"`
	ActiveNodes        uint64            `json:"active_nodes"`
	InactiveNodes      uint64            `json:"inactive_nodes"`
	ConnectedPeers     uint64            `json:"connected_peers"`
	ShunnedCount       uint64            `json:"shunned_count"`
	EstimatedNetSize   uint64            `json:"estimated_net_size"`
	StoredRecords      uint64            `json:"stored_records"`
	RelevantRecords    uint64            `json:"relevant_records"`
	TotalDiskSpace     uint64            `json:"total_disk_space"`
	AvailableDiskSpace uint64            `json:"available_disk_space"`
	UsedDiskSpace      uint64            `json:"used_disk_space"`
}

// NewStats returns a zeroed aggregate with allocated balance fields.
func NewStats() Stats {
	return Stats{
		TotalBalance: new(big.Int),
		Balances:     []AddressBalance{},
		Earnings:     []AddressEarnings{},
	}
}

// PeriodStats breaks down the payments received within one time window
// and its change relative to the preceding window of the same length.
// Amounts stay as unbounded integers in the token's smallest unit.
type PeriodStats struct {
	Label           string   `json:"label"`
	LengthHours     uint32   `json:"length_hours"`
	TotalEarned     *big.Int `json:"total_earned"`
	TotalEarnedPrev *big.Int `json:"total_earned_prev"`
	ChangeAmount    *big.Int `json:"change_amount"`
	ChangePercent   *big.Int `json:"change_percent,omitempty"` // nil when the previous window earned nothing
	NumPayments     uint64   `json:"num_payments"`
	AveragePayment  *big.Int `json:"average_payment"`
	MedianPayment   *big.Int `json:"median_payment"`
	LargestPayment  *big.Int `json:"largest_payment"`
}

// EarningsStats holds the four standard reporting windows.
type EarningsStats struct {
	Period1 PeriodStats `json:"period_1"`
	Period2 PeriodStats `json:"period_2"`
	Period3 PeriodStats `json:"period_3"`
	Period4 PeriodStats `json:"period_4"`
}

func newPeriodStats(label string, hours uint32) PeriodStats {
	return PeriodStats{
		Label:           label,
		LengthHours:     hours,
		TotalEarned:     new(big.Int),
		TotalEarnedPrev: new(big.Int),
		ChangeAmount:    new(big.Int),
		AveragePayment:  new(big.Int),
		MedianPayment:   new(big.Int),
		LargestPayment:  new(big.Int),
	}
}

// NewEarningsStats returns the default four-window breakdown.
func NewEarningsStats() EarningsStats {
	return EarningsStats{
		Period1: newPeriodStats("Last 48 Hours", 48),
		Period2: newPeriodStats("Last Week", 168),
		Period3: newPeriodStats("Last Month", 720),
		Period4: newPeriodStats("Last 3 Months", 2160),
	}
}

// Payment is one token transfer credited to a rewards address.
type Payment struct {
	Address   string   `json:"address"`
	Amount    *big.Int `json:"amount"`
	Timestamp int64    `json:"timestamp"` // unix seconds
}

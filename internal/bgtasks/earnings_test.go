package bgtasks

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formicaio/formicaiod/internal/types"
)

func pay(amount int64, ago time.Duration, now time.Time) types.Payment {
	return types.Payment{
		Address:   "0xabc",
		Amount:    big.NewInt(amount),
		Timestamp: now.Add(-ago).Unix(),
	}
}

func TestEarningsPeriodLabels(t *testing.T) {
	stats := ComputeEarnings(nil, time.Now())
	assert.Equal(t, "Last 48 Hours", stats.Period1.Label)
	assert.Equal(t, uint32(48), stats.Period1.LengthHours)
	assert.Equal(t, "Last Week", stats.Period2.Label)
	assert.Equal(t, uint32(168), stats.Period2.LengthHours)
	assert.Equal(t, "Last Month", stats.Period3.Label)
	assert.Equal(t, uint32(720), stats.Period3.LengthHours)
	assert.Equal(t, "Last 3 Months", stats.Period4.Label)
	assert.Equal(t, uint32(2160), stats.Period4.LengthHours)
}

func TestEarningsCurrentAndPreviousWindow(t *testing.T) {
	now := time.Unix(1_750_000_000, 0)
	payments := []types.Payment{
		pay(100, 1*time.Hour, now),
		pay(300, 40*time.Hour, now),
		// previous 48h window
		pay(200, 50*time.Hour, now),
		pay(600, 90*time.Hour, now),
		// outside both windows
		pay(999, 100*time.Hour, now),
	}

	p := ComputeEarnings(payments, now).Period1
	assert.Equal(t, int64(400), p.TotalEarned.Int64())
	assert.Equal(t, int64(800), p.TotalEarnedPrev.Int64())
	assert.Equal(t, uint64(2), p.NumPayments)
	assert.Equal(t, int64(200), p.AveragePayment.Int64())
	assert.Equal(t, int64(300), p.LargestPayment.Int64())
	assert.Equal(t, int64(-400), p.ChangeAmount.Int64())
	require.NotNil(t, p.ChangePercent)
	assert.Equal(t, int64(-50), p.ChangePercent.Int64())
}

func TestEarningsChangePercentNilWhenPreviousEmpty(t *testing.T) {
	now := time.Unix(1_750_000_000, 0)
	payments := []types.Payment{pay(500, time.Hour, now)}

	p := ComputeEarnings(payments, now).Period1
	assert.Equal(t, int64(500), p.TotalEarned.Int64())
	assert.Zero(t, p.TotalEarnedPrev.Sign())
	assert.Equal(t, int64(500), p.ChangeAmount.Int64())
	assert.Nil(t, p.ChangePercent)
}

func TestEarningsWindowBoundary(t *testing.T) {
	now := time.Unix(1_750_000_000, 0)
	windowLen := int64(48 * 3600)
	start := now.Unix() - windowLen + 1

	payments := []types.Payment{
		{Address: "0xabc", Amount: big.NewInt(5), Timestamp: start + 1},  // first counted second
		{Address: "0xabc", Amount: big.NewInt(10), Timestamp: start},     // left boundary: excluded
		{Address: "0xabc", Amount: big.NewInt(20), Timestamp: start - 1}, // last second of previous
	}
	p := ComputeEarnings(payments, now).Period1
	assert.Equal(t, int64(5), p.TotalEarned.Int64())
	assert.Equal(t, uint64(1), p.NumPayments)
	assert.Equal(t, int64(20), p.TotalEarnedPrev.Int64())
}

func TestEarningsIgnoreZeroAmountPayments(t *testing.T) {
	now := time.Unix(1_750_000_000, 0)
	payments := []types.Payment{
		pay(10, time.Hour, now),
		pay(0, 2*time.Hour, now),
		{Address: "0xabc", Amount: nil, Timestamp: now.Add(-3 * time.Hour).Unix()},
		pay(0, 50*time.Hour, now),
	}

	p := ComputeEarnings(payments, now).Period1
	assert.Equal(t, uint64(1), p.NumPayments)
	assert.Equal(t, int64(10), p.TotalEarned.Int64())
	assert.Equal(t, int64(10), p.AveragePayment.Int64())
	assert.Equal(t, int64(10), p.MedianPayment.Int64())
	assert.Zero(t, p.TotalEarnedPrev.Sign())
}

func TestMedianPayment(t *testing.T) {
	odd := []*big.Int{big.NewInt(5), big.NewInt(1), big.NewInt(9)}
	assert.Equal(t, int64(5), median(odd).Int64())

	even := []*big.Int{big.NewInt(4), big.NewInt(1), big.NewInt(10), big.NewInt(6)}
	assert.Equal(t, int64(5), median(even).Int64())

	// input order must survive
	assert.Equal(t, int64(4), even[0].Int64())
}

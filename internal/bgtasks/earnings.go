package bgtasks

import (
	"math/big"
	"sort"
	"time"

	"github.com/formicaio/formicaiod/internal/types"
)

// ComputeEarnings breaks the payment history down into the four
// standard reporting windows, each compared against the window of the
// same length immediately preceding it.
func ComputeEarnings(payments []types.Payment, now time.Time) types.EarningsStats {
	stats := types.NewEarningsStats()
	stats.Period1 = computePeriod(payments, now, stats.Period1)
	stats.Period2 = computePeriod(payments, now, stats.Period2)
	stats.Period3 = computePeriod(payments, now, stats.Period3)
	stats.Period4 = computePeriod(payments, now, stats.Period4)
	return stats
}

func computePeriod(payments []types.Payment, now time.Time, p types.PeriodStats) types.PeriodStats {
	lengthSecs := int64(p.LengthHours) * 3600
	// both windows are left-exclusive: (start, now] and
	// (prevStart, prevEnd]
	start := now.Unix() - lengthSecs + 1
	prevEnd := start - 1
	prevStart := prevEnd - lengthSecs + 1

	var amounts []*big.Int
	for _, pay := range payments {
		if pay.Amount == nil || pay.Amount.Sign() <= 0 {
			continue
		}
		switch {
		case pay.Timestamp > start && pay.Timestamp <= now.Unix():
			amounts = append(amounts, pay.Amount)
			p.TotalEarned.Add(p.TotalEarned, pay.Amount)
			if pay.Amount.Cmp(p.LargestPayment) > 0 {
				p.LargestPayment.Set(pay.Amount)
			}
		case pay.Timestamp > prevStart && pay.Timestamp <= prevEnd:
			p.TotalEarnedPrev.Add(p.TotalEarnedPrev, pay.Amount)
		}
	}

	p.NumPayments = uint64(len(amounts))
	if len(amounts) > 0 {
		p.AveragePayment.Div(p.TotalEarned, big.NewInt(int64(len(amounts))))
		p.MedianPayment.Set(median(amounts))
	}

	p.ChangeAmount.Sub(p.TotalEarned, p.TotalEarnedPrev)
	if p.TotalEarnedPrev.Sign() > 0 {
		p.ChangePercent = new(big.Int).Div(
			new(big.Int).Mul(p.ChangeAmount, big.NewInt(100)),
			p.TotalEarnedPrev)
	}
	return p
}

func median(amounts []*big.Int) *big.Int {
	sorted := make([]*big.Int, len(amounts))
	copy(sorted, amounts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })

	h := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[h]
	}
	return new(big.Int).Div(new(big.Int).Add(sorted[h-1], sorted[h]), big.NewInt(2))
}

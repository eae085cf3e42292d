package sqlite

import (
	"context"
	"fmt"
	"math/big"

	"github.com/formicaio/formicaiod/internal/types"
)

// InsertPayment appends one observed token transfer. Re-observing the
// same transfer is a no-op.
func (s *Store) InsertPayment(ctx context.Context, p types.Payment) error {
	amount := "0"
	if p.Amount != nil {
		amount = p.Amount.String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO payments (address, amount, timestamp)
		VALUES (?, ?, ?)`, p.Address, amount, p.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert payment for %s: %w", p.Address, err)
	}
	return nil
}

// GetPayments returns the full payment history, timestamp-ascending.
func (s *Store) GetPayments(ctx context.Context) ([]types.Payment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT address, amount, timestamp FROM payments ORDER BY timestamp`)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []types.Payment
	for rows.Next() {
		var (
			p      types.Payment
			amount string
		)
		if err := rows.Scan(&p.Address, &amount, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		v, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("failed to parse payment amount %q", amount)
		}
		p.Amount = v
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}
	return out, nil
}

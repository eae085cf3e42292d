package sqlite

import (
	"context"
	"fmt"
	"sort"

	"github.com/formicaio/formicaiod/internal/types"
)

// StoreNodeMetrics bulk-appends samples for the node.
func (s *Store) StoreNodeMetrics(ctx context.Context, id types.NodeID, metrics []types.NodeMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin metrics tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO nodes_metrics (node_id, key, value, timestamp) VALUES (?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare metrics insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range metrics {
		if _, err := stmt.ExecContext(ctx, id, m.Key, m.Value, m.Timestamp); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert metric %s for node %s: %w", m.Key, id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit metrics for node %s: %w", id, err)
	}
	return nil
}

// GetNodeMetrics returns the node's samples grouped per key, ordered by
// timestamp ascending. sinceMs > 0 restricts to newer samples.
func (s *Store) GetNodeMetrics(ctx context.Context, id types.NodeID, sinceMs int64) (types.Metrics, error) {
	query := `SELECT key, value, timestamp FROM nodes_metrics WHERE node_id = ?`
	args := []any{id}
	if sinceMs > 0 {
		query += ` AND timestamp > ?`
		args = append(args, sinceMs)
	}
	query += ` ORDER BY timestamp`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics for node %s: %w", id, err)
	}
	defer rows.Close()

	metrics := make(types.Metrics)
	for rows.Next() {
		var m types.NodeMetric
		if err := rows.Scan(&m.Key, &m.Value, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan metric row: %w", err)
		}
		metrics[m.Key] = append(metrics[m.Key], m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate metrics: %w", err)
	}
	return metrics, nil
}

// RemoveOldestMetrics deletes every sample of the node whose timestamp
// is at or before the keepN-th most recent distinct timestamp, keeping
// the series bounded.
func (s *Store) RemoveOldestMetrics(ctx context.Context, id types.NodeID, keepN uint64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM nodes_metrics
		WHERE node_id = ? AND timestamp <= (
			SELECT DISTINCT timestamp FROM nodes_metrics
			WHERE node_id = ?
			ORDER BY timestamp DESC
			LIMIT 1 OFFSET ?
		)`, id, id, keepN)
	if err != nil {
		return fmt.Errorf("failed to prune metrics for node %s: %w", id, err)
	}
	return nil
}

// DeleteNodeMetrics drops the node's whole series.
func (s *Store) DeleteNodeMetrics(ctx context.Context, id types.NodeID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM nodes_metrics WHERE node_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete metrics for node %s: %w", id, err)
	}
	return nil
}

// DistinctMetricTimestamps returns the node's distinct sample
// timestamps, ascending. Used by pruning tests and diagnostics.
func (s *Store) DistinctMetricTimestamps(ctx context.Context, id types.NodeID) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT timestamp FROM nodes_metrics WHERE node_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query metric timestamps: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("failed to scan timestamp: %w", err)
		}
		out = append(out, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate timestamps: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

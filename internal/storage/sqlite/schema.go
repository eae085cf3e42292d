package sqlite

import (
	"context"
	"fmt"
)

// Schema migrations, applied in order on open. The schema_migrations
// table records the highest applied version; never edit an entry in
// place, append a new one.
var migrations = []string{
	// 001: initial schema
	`
	CREATE TABLE IF NOT EXISTS nodes (
		node_id            TEXT PRIMARY KEY,
		created            INTEGER NOT NULL DEFAULT 0,
		status_changed     INTEGER NOT NULL DEFAULT 0,
		status             TEXT NOT NULL DEFAULT '',
		is_status_locked   INTEGER NOT NULL DEFAULT 0,
		pid                INTEGER NOT NULL DEFAULT 0,
		node_ip            TEXT NOT NULL DEFAULT '',
		port               INTEGER NOT NULL DEFAULT 0,
		metrics_port       INTEGER NOT NULL DEFAULT 0,
		rewards_addr       TEXT NOT NULL DEFAULT '',
		upnp               INTEGER NOT NULL DEFAULT 0,
		reachability_check INTEGER NOT NULL DEFAULT 0,
		node_logs          INTEGER NOT NULL DEFAULT 0,
		auto_start         INTEGER NOT NULL DEFAULT 0,
		data_dir_path      TEXT NOT NULL DEFAULT '',
		peer_id            TEXT NOT NULL DEFAULT '',
		bin_version        TEXT NOT NULL DEFAULT '',
		ips                TEXT NOT NULL DEFAULT '',
		balance            TEXT NOT NULL DEFAULT '',
		rewards            TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS nodes_metrics (
		node_id   TEXT NOT NULL,
		key       TEXT NOT NULL,
		value     TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_nodes_metrics_node_ts
		ON nodes_metrics (node_id, timestamp);

	CREATE TABLE IF NOT EXISTS settings (
		id   INTEGER PRIMARY KEY CHECK (id = 1),
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS payments (
		address   TEXT NOT NULL,
		amount    TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		UNIQUE (address, amount, timestamp)
	);
	CREATE INDEX IF NOT EXISTS idx_payments_ts ON payments (timestamp);
	`,
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration tx: %w", err)
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to apply migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version) VALUES (?)`, i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", i+1, err)
		}
	}
	return nil
}

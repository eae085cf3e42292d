package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/formicaio/formicaiod/internal/types"
)

// GetSettings loads the persisted settings, falling back to defaults on
// first boot. Unknown persisted fields are ignored so older databases
// keep working after an upgrade.
func (s *Store) GetSettings(ctx context.Context) (types.AppSettings, error) {
	settings := types.DefaultAppSettings()

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM settings WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return settings, nil
	}
	if err != nil {
		return settings, fmt.Errorf("failed to load settings: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return types.DefaultAppSettings(), fmt.Errorf("failed to decode settings: %w", err)
	}
	return settings, nil
}

// UpdateSettings persists the full settings record.
func (s *Store) UpdateSettings(ctx context.Context, settings *types.AppSettings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (id, data) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET data = excluded.data`, string(raw))
	if err != nil {
		return fmt.Errorf("failed to store settings: %w", err)
	}
	return nil
}

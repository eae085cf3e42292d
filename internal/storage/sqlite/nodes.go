package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/formicaio/formicaiod/internal/storage"
	"github.com/formicaio/formicaiod/internal/types"
)

const nodeColumns = `node_id, created, status_changed, status, is_status_locked, pid,
	node_ip, port, metrics_port, rewards_addr, upnp, reachability_check,
	node_logs, auto_start, data_dir_path, peer_id, bin_version, ips, balance, rewards`

func scanNode(scanner interface{ Scan(...any) error }) (*types.NodeInstanceInfo, error) {
	var (
		info       types.NodeInstanceInfo
		statusJSON string
		balance    string
		rewards    string
	)
	err := scanner.Scan(
		&info.NodeID, &info.Created, &info.StatusChanged, &statusJSON, &info.IsStatusLocked, &info.PID,
		&info.NodeIP, &info.Port, &info.MetricsPort, &info.RewardsAddr, &info.UPnP, &info.ReachabilityCheck,
		&info.NodeLogs, &info.AutoStart, &info.DataDirPath, &info.PeerID, &info.BinVersion, &info.IPs,
		&balance, &rewards,
	)
	if err != nil {
		return nil, err
	}
	if statusJSON != "" {
		if err := json.Unmarshal([]byte(statusJSON), &info.Status); err != nil {
			return nil, fmt.Errorf("failed to decode status for node %s: %w", info.NodeID, err)
		}
	}
	if balance != "" {
		if v, ok := new(big.Int).SetString(balance, 10); ok {
			info.Balance = v
		}
	}
	if rewards != "" {
		if v, ok := new(big.Int).SetString(rewards, 10); ok {
			info.Rewards = v
		}
	}
	return &info, nil
}

func encodeStatus(status types.NodeStatus) (string, error) {
	raw, err := json.Marshal(status)
	if err != nil {
		return "", fmt.Errorf("failed to encode status: %w", err)
	}
	return string(raw), nil
}

// GetNodesList returns an atomic snapshot of every persisted node.
func (s *Store) GetNodesList(ctx context.Context) (map[types.NodeID]*types.NodeInstanceInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+nodeColumns+` FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	nodes := make(map[types.NodeID]*types.NodeInstanceInfo)
	for rows.Next() {
		info, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node row: %w", err)
		}
		nodes[info.NodeID] = info
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate nodes: %w", err)
	}
	return nodes, nil
}

func (s *Store) getNode(ctx context.Context, id types.NodeID) (*types.NodeInstanceInfo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE node_id = ?`, id)
	info, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load node %s: %w", id, err)
	}
	return info, nil
}

// GetNodeMetadata merges the persisted record onto info: persisted
// non-empty/non-zero fields win, absent ones leave the argument alone.
func (s *Store) GetNodeMetadata(ctx context.Context, info *types.NodeInstanceInfo) error {
	stored, err := s.getNode(ctx, info.NodeID)
	if err != nil {
		return err
	}
	mergeOnto(stored, info)
	return nil
}

func mergeOnto(stored, info *types.NodeInstanceInfo) {
	if stored.Created > 0 {
		info.Created = stored.Created
	}
	if stored.StatusChanged > 0 {
		info.StatusChanged = stored.StatusChanged
	}
	if stored.Status.Kind != "" {
		info.Status = stored.Status
	}
	info.IsStatusLocked = stored.IsStatusLocked
	if stored.PID > 0 {
		info.PID = stored.PID
	}
	if stored.NodeIP != "" {
		info.NodeIP = stored.NodeIP
	}
	if stored.Port > 0 {
		info.Port = stored.Port
	}
	if stored.MetricsPort > 0 {
		info.MetricsPort = stored.MetricsPort
	}
	if stored.RewardsAddr != "" {
		info.RewardsAddr = stored.RewardsAddr
	}
	info.UPnP = stored.UPnP
	info.ReachabilityCheck = stored.ReachabilityCheck
	info.NodeLogs = stored.NodeLogs
	info.AutoStart = stored.AutoStart
	if stored.DataDirPath != "" {
		info.DataDirPath = stored.DataDirPath
	}
	if stored.PeerID != "" {
		info.PeerID = stored.PeerID
	}
	if stored.BinVersion != "" {
		info.BinVersion = stored.BinVersion
	}
	if stored.IPs != "" {
		info.IPs = stored.IPs
	}
	if stored.Balance != nil {
		info.Balance = stored.Balance
	}
	if stored.Rewards != nil {
		info.Rewards = stored.Rewards
	}
}

// InsertNodeMetadata persists a freshly created node record.
func (s *Store) InsertNodeMetadata(ctx context.Context, info *types.NodeInstanceInfo) error {
	statusJSON, err := encodeStatus(info.Status)
	if err != nil {
		return err
	}
	balance, rewards := "", ""
	if info.Balance != nil {
		balance = info.Balance.String()
	}
	if info.Rewards != nil {
		rewards = info.Rewards.String()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (`+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.NodeID, info.Created, info.StatusChanged, statusJSON, info.IsStatusLocked, info.PID,
		info.NodeIP, info.Port, info.MetricsPort, info.RewardsAddr, info.UPnP, info.ReachabilityCheck,
		info.NodeLogs, info.AutoStart, info.DataDirPath, info.PeerID, info.BinVersion, info.IPs,
		balance, rewards,
	)
	if err != nil {
		return fmt.Errorf("failed to insert node %s: %w", info.NodeID, err)
	}
	return nil
}

// UpdateNodeMetadata updates the fields of info that carry a value,
// leaving other columns untouched. If no row existed the record is
// inserted instead.
func (s *Store) UpdateNodeMetadata(ctx context.Context, info *types.NodeInstanceInfo) error {
	set := []string{}
	args := []any{}
	add := func(col string, val any) {
		set = append(set, col+" = ?")
		args = append(args, val)
	}

	if info.Created > 0 {
		add("created", info.Created)
	}
	if info.StatusChanged > 0 {
		add("status_changed", info.StatusChanged)
	}
	if info.Status.Kind != "" {
		statusJSON, err := encodeStatus(info.Status)
		if err != nil {
			return err
		}
		add("status", statusJSON)
	}
	if info.PID > 0 {
		add("pid", info.PID)
	}
	if info.NodeIP != "" {
		add("node_ip", info.NodeIP)
	}
	if info.Port > 0 {
		add("port", info.Port)
	}
	if info.MetricsPort > 0 {
		add("metrics_port", info.MetricsPort)
	}
	if info.RewardsAddr != "" {
		add("rewards_addr", info.RewardsAddr)
	}
	if info.DataDirPath != "" {
		add("data_dir_path", info.DataDirPath)
	}
	if info.PeerID != "" {
		add("peer_id", info.PeerID)
	}
	if info.BinVersion != "" {
		add("bin_version", info.BinVersion)
	}
	if info.IPs != "" {
		add("ips", info.IPs)
	}
	if info.Balance != nil {
		add("balance", info.Balance.String())
	}
	if info.Rewards != nil {
		add("rewards", info.Rewards.String())
	}

	if len(set) == 0 {
		return nil
	}

	query := "UPDATE nodes SET "
	for i, clause := range set {
		if i > 0 {
			query += ", "
		}
		query += clause
	}
	query += " WHERE node_id = ?"
	args = append(args, info.NodeID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update node %s: %w", info.NodeID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return s.InsertNodeMetadata(ctx, info)
	}
	return nil
}

// DeleteNodeMetadata purges the node record.
func (s *Store) DeleteNodeMetadata(ctx context.Context, id types.NodeID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE node_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete node %s: %w", id, err)
	}
	return nil
}

// UpdateNodeStatus persists the status and stamps status_changed with
// the current time.
func (s *Store) UpdateNodeStatus(ctx context.Context, id types.NodeID, status types.NodeStatus) error {
	statusJSON, err := encodeStatus(status)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE nodes SET status = ?, status_changed = ? WHERE node_id = ?`,
		statusJSON, uint64(time.Now().Unix()), id)
	if err != nil {
		return fmt.Errorf("failed to update status of node %s: %w", id, err)
	}
	return nil
}

// UpdateNodePID records the OS process id of a running node.
func (s *Store) UpdateNodePID(ctx context.Context, id types.NodeID, pid uint32) error {
	_, err := s.db.ExecContext(ctx, `UPDATE nodes SET pid = ? WHERE node_id = ?`, pid, id)
	if err != nil {
		return fmt.Errorf("failed to update pid of node %s: %w", id, err)
	}
	return nil
}

// ClearNodeRuntime zeroes the process-scoped fields of the record.
func (s *Store) ClearNodeRuntime(ctx context.Context, id types.NodeID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE nodes SET pid = 0, ips = '' WHERE node_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to clear runtime fields of node %s: %w", id, err)
	}
	return nil
}

// UpdateNodeBalance records the rewards-address token balance observed
// for the node.
func (s *Store) UpdateNodeBalance(ctx context.Context, id types.NodeID, balance *big.Int) error {
	val := ""
	if balance != nil {
		val = balance.String()
	}
	_, err := s.db.ExecContext(ctx, `UPDATE nodes SET balance = ? WHERE node_id = ?`, val, id)
	if err != nil {
		return fmt.Errorf("failed to update balance of node %s: %w", id, err)
	}
	return nil
}

// CheckNodeIsNotBatched loads the node and fails with ErrAlreadyBatched
// when its persistent lock bit is set. Precondition for every unbatched
// action.
func (s *Store) CheckNodeIsNotBatched(ctx context.Context, id types.NodeID) (*types.NodeInstanceInfo, error) {
	info, err := s.getNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if info.IsStatusLocked {
		return nil, storage.ErrAlreadyBatched
	}
	return info, nil
}

// SetNodeStatusToLocked flips the persistent lock bit on.
func (s *Store) SetNodeStatusToLocked(ctx context.Context, id types.NodeID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE nodes SET is_status_locked = 1 WHERE node_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to lock status of node %s: %w", id, err)
	}
	return nil
}

// UnlockNodeStatus flips the persistent lock bit off.
func (s *Store) UnlockNodeStatus(ctx context.Context, id types.NodeID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE nodes SET is_status_locked = 0 WHERE node_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to unlock status of node %s: %w", id, err)
	}
	return nil
}

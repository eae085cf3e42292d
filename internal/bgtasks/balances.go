package bgtasks

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/formicaio/formicaiod/internal/ledger"
	"github.com/formicaio/formicaiod/internal/types"
)

// balanceBook memoises the last observed token balance per rewards
// address, so a fleet sharing one address costs one RPC query.
type balanceBook struct {
	mu     sync.Mutex
	byAddr map[string]*big.Int
}

func newBalanceBook() *balanceBook {
	return &balanceBook{byAddr: make(map[string]*big.Int)}
}

func (b *balanceBook) set(addr string, balance *big.Int) {
	b.mu.Lock()
	b.byAddr[addr] = balance
	b.mu.Unlock()
}

func (b *balanceBook) get(addr string) (*big.Int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.byAddr[addr]
	return v, ok
}

func (b *balanceBook) remove(addr string) {
	b.mu.Lock()
	delete(b.byAddr, addr)
	b.mu.Unlock()
}

func (b *balanceBook) snapshot() []types.AddressBalance {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.AddressBalance, 0, len(b.byAddr))
	for addr, bal := range b.byAddr {
		out = append(out, types.AddressBalance{Address: addr, Balance: bal})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// CheckBalanceFor schedules a balance query for the node's rewards
// address without blocking the caller.
func (r *Runner) CheckBalanceFor(info *types.NodeInstanceInfo) {
	r.queue.push(command{kind: cmdCheckBalanceFor, info: info})
}

// DeleteBalanceFor drops the memoised balance for the node's rewards
// address when no other node uses it.
func (r *Runner) DeleteBalanceFor(info *types.NodeInstanceInfo) {
	r.queue.push(command{kind: cmdDeleteBalanceFor, info: info})
}

// checkBalanceFor resolves the balance of one node's rewards address
// and persists it on the node record.
func (r *Runner) checkBalanceFor(ctx context.Context, info *types.NodeInstanceInfo) {
	settings := r.currentSettings()
	if !settings.RewardsMonitoringEnabled || info.RewardsAddr == "" {
		return
	}

	client, err := ledger.Dial(ctx, settings.L2NetworkRPCURL, settings.TokenContractAddress)
	if err != nil {
		r.logger.Warn("failed to connect to ledger RPC", "err", err)
		return
	}
	defer client.Close()

	balance, err := client.BalanceOf(ctx, info.RewardsAddr)
	if err != nil {
		r.logger.Warn("failed to query rewards balance", "address", info.RewardsAddr, "err", err)
		return
	}
	r.balances.set(info.RewardsAddr, balance)
	if err := r.store.UpdateNodeBalance(ctx, info.NodeID, balance); err != nil {
		r.logger.Warn("failed to persist node balance", "node", info.ShortNodeID(), "err", err)
	}
}

// deleteBalanceFor removes the address from the book unless another
// node still pays to it.
func (r *Runner) deleteBalanceFor(ctx context.Context, info *types.NodeInstanceInfo) {
	if info.RewardsAddr == "" {
		return
	}
	nodes, err := r.store.GetNodesList(ctx)
	if err != nil {
		r.logger.Warn("failed to list nodes while pruning balances", "err", err)
		return
	}
	for _, other := range nodes {
		if other.NodeID != info.NodeID && other.RewardsAddr == info.RewardsAddr {
			return
		}
	}
	r.balances.remove(info.RewardsAddr)
}

// checkAllBalances queries the balance of every distinct rewards
// address in the fleet, persists per-node balances and records any new
// payments found in the recent transfer history.
func (r *Runner) checkAllBalances(ctx context.Context) {
	settings := r.currentSettings()
	if !settings.RewardsMonitoringEnabled {
		return
	}

	nodes, err := r.store.GetNodesList(ctx)
	if err != nil {
		r.logger.Warn("failed to list nodes for balance check", "err", err)
		return
	}
	if len(nodes) == 0 {
		return
	}

	r.earningsSyncing.Store(true)
	defer r.earningsSyncing.Store(false)

	client, err := ledger.Dial(ctx, settings.L2NetworkRPCURL, settings.TokenContractAddress)
	if err != nil {
		r.logger.Warn("failed to connect to ledger RPC", "err", err)
		return
	}
	defer client.Close()

	// one query per distinct address, however many nodes share it
	resolved := make(map[string]*big.Int)
	for id, info := range nodes {
		if info.RewardsAddr == "" {
			continue
		}
		balance, ok := resolved[info.RewardsAddr]
		if !ok {
			balance, err = client.BalanceOf(ctx, info.RewardsAddr)
			if err != nil {
				r.logger.Warn("failed to query rewards balance", "address", info.RewardsAddr, "err", err)
				continue
			}
			resolved[info.RewardsAddr] = balance
			r.balances.set(info.RewardsAddr, balance)

			payments, err := client.RecentPayments(ctx, info.RewardsAddr)
			if err != nil {
				r.logger.Warn("failed to query payment history", "address", info.RewardsAddr, "err", err)
			}
			for _, p := range payments {
				if err := r.store.InsertPayment(ctx, p); err != nil {
					r.logger.Warn("failed to record payment", "address", p.Address, "err", err)
				}
			}
		}
		if err := r.store.UpdateNodeBalance(ctx, id, balance); err != nil {
			r.logger.Warn("failed to persist node balance", "node", id.Short(), "err", err)
		}
	}
	r.logger.Debug("balance check complete", "addresses", len(resolved))
}

// addressEarnings computes the earnings breakdown per rewards address
// from the recorded payment history.
func (r *Runner) addressEarnings(ctx context.Context, now time.Time) []types.AddressEarnings {
	payments, err := r.store.GetPayments(ctx)
	if err != nil {
		r.logger.Warn("failed to load payment history", "err", err)
		return nil
	}

	byAddr := make(map[string][]types.Payment)
	for _, p := range payments {
		byAddr[p.Address] = append(byAddr[p.Address], p)
	}

	out := make([]types.AddressEarnings, 0, len(byAddr))
	for addr, ps := range byAddr {
		out = append(out, types.AddressEarnings{
			Address:  addr,
			Earnings: ComputeEarnings(ps, now),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

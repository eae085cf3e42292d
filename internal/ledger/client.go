// Package ledger reads ERC-20 balances and payment history for reward
// addresses from an L2 chain RPC endpoint.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	ftypes "github.com/formicaio/formicaiod/internal/types"
)

// queryTimeout bounds one balance or log query.
const queryTimeout = 10 * time.Second

// transferLogsBlockSpan is how far back one payments scan looks. L2
// blocks are sub-second, so this covers several hours; the scan runs on
// every balances pass and history accumulates in the store.
const transferLogsBlockSpan = 50_000

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Client queries the configured token contract over an L2 RPC.
type Client struct {
	rpcURL string
	token  common.Address
	eth    *ethclient.Client
}

// Dial connects to the L2 RPC endpoint, retrying transient failures.
func Dial(ctx context.Context, rpcURL, tokenAddress string) (*Client, error) {
	if !common.IsHexAddress(tokenAddress) {
		return nil, fmt.Errorf("invalid token contract address %q", tokenAddress)
	}

	var eth *ethclient.Client
	op := func() error {
		var err error
		eth, err = ethclient.DialContext(ctx, rpcURL)
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("failed to connect to ledger RPC %s: %w", rpcURL, err)
	}

	return &Client{
		rpcURL: rpcURL,
		token:  common.HexToAddress(tokenAddress),
		eth:    eth,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
}

// BalanceOf returns the token balance of the given rewards address, in
// the token's smallest unit.
func (c *Client) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid rewards address %q", address)
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// balanceOf(address) selector + padded argument
	data := make([]byte, 0, 36)
	data = append(data, crypto.Keccak256([]byte("balanceOf(address)"))[:4]...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(address).Bytes(), 32)...)

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance of %s: %w", address, err)
	}
	return new(big.Int).SetBytes(out), nil
}

// RecentPayments scans recent Transfer logs crediting the given rewards
// address and returns them as payments with block timestamps.
func (c *Client) RecentPayments(ctx context.Context, address string) ([]ftypes.Payment, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid rewards address %q", address)
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain head: %w", err)
	}
	from := uint64(0)
	if head > transferLogsBlockSpan {
		from = head - transferLogsBlockSpan
	}

	recipient := common.HexToAddress(address)
	logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		Addresses: []common.Address{c.token},
		Topics: [][]common.Hash{
			{transferTopic},
			nil, // any sender
			{common.BytesToHash(common.LeftPadBytes(recipient.Bytes(), 32))},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query transfer logs for %s: %w", address, err)
	}

	// block timestamps are fetched once per block across all logs
	blockTimes := make(map[uint64]int64)
	var payments []ftypes.Payment
	for _, lg := range logs {
		ts, ok := blockTimes[lg.BlockNumber]
		if !ok {
			header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(lg.BlockNumber))
			if err != nil {
				return nil, fmt.Errorf("failed to query block %d header: %w", lg.BlockNumber, err)
			}
			ts = int64(header.Time)
			blockTimes[lg.BlockNumber] = ts
		}
		payments = append(payments, ftypes.Payment{
			Address:   address,
			Amount:    amountFromLog(lg),
			Timestamp: ts,
		})
	}
	return payments, nil
}

func amountFromLog(lg types.Log) *big.Int {
	return new(big.Int).SetBytes(lg.Data)
}

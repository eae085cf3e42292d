package bgtasks

import (
	"log/slog"

	"github.com/formicaio/formicaiod/internal/types"
)

type cmdKind int

const (
	cmdCheckBalanceFor cmdKind = iota
	cmdDeleteBalanceFor
	cmdCheckAllBalances
	cmdApplySettings
)

type command struct {
	kind     cmdKind
	info     *types.NodeInstanceInfo
	settings *types.AppSettings
}

// cmdQueueCapacity bounds the pending background commands. The queue
// drops the oldest entry when full so the action path never blocks on
// background work.
const cmdQueueCapacity = 1000

type cmdQueue struct {
	ch     chan command
	logger *slog.Logger
}

func newCmdQueue(logger *slog.Logger) *cmdQueue {
	return &cmdQueue{ch: make(chan command, cmdQueueCapacity), logger: logger}
}

func (q *cmdQueue) push(c command) {
	for {
		select {
		case q.ch <- c:
			return
		default:
		}
		select {
		case dropped := <-q.ch:
			q.logger.Warn("background command queue full, dropping oldest command",
				"dropped_kind", int(dropped.kind))
		default:
		}
	}
}

package launcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/formicaio/formicaiod/internal/types"
)

const logsChunkSize = 1024

// LogsStream returns a follow-style reader over the node's log file:
// it serves the existing content in chunks and then waits for more,
// until the caller closes it or the context ends.
func (n *Native) LogsStream(ctx context.Context, id types.NodeID) (io.ReadCloser, error) {
	path := filepath.Join(n.nodeDataDir(id), logsFolder, "antnode.log")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open logs of node %s: %w", id, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	return &followReader{ctx: ctx, cancel: cancel, f: f}, nil
}

type followReader struct {
	ctx    context.Context
	cancel context.CancelFunc
	f      *os.File
}

func (r *followReader) Read(p []byte) (int, error) {
	if len(p) > logsChunkSize {
		p = p[:logsChunkSize]
	}
	for {
		n, err := r.f.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}
		// at end of file: wait for the node to write more
		select {
		case <-r.ctx.Done():
			return 0, io.EOF
		case <-time.After(time.Second):
		}
	}
}

func (r *followReader) Close() error {
	r.cancel()
	return r.f.Close()
}

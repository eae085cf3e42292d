package launcher

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/formicaio/formicaiod/internal/types"
)

const (
	nodeBinName          = "antnode"
	nodeDataFolder       = "node_data"
	logsFolder           = "logs"
	bootstrapCacheFolder = "bootstrap_cache"
	secretKeyFile        = "secret-key"

	defaultEVMNetwork = "evm-arbitrum-one"

	// RootDirEnv overrides the launcher's root data directory.
	RootDirEnv        = "NODE_MGR_ROOT_DIR"
	defaultRootFolder = "formicaio_data"

	antnodeS3BaseURL = "https://antnode.s3.eu-west-2.amazonaws.com"
)

// Native runs nodes as child processes, each with its own data dir and
// a private copy of the master node binary.
type Native struct {
	rootDir string
	logger  *slog.Logger

	mu    sync.Mutex
	procs map[types.NodeID]*os.Process
}

// NewNative builds the child-process launcher rooted at rootDir. An
// empty rootDir falls back to the env override, then to
// ./formicaio_data.
func NewNative(rootDir string, logger *slog.Logger) (*Native, error) {
	if rootDir == "" {
		rootDir = os.Getenv(RootDirEnv)
	}
	if rootDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		rootDir = filepath.Join(cwd, defaultRootFolder)
	}
	if err := os.MkdirAll(rootDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create root dir %s: %w", rootDir, err)
	}
	return &Native{
		rootDir: rootDir,
		logger:  logger,
		procs:   make(map[types.NodeID]*os.Process),
	}, nil
}

func (n *Native) masterBinPath() string { return filepath.Join(n.rootDir, nodeBinName) }

// RootDir returns the resolved launcher root data directory.
func (n *Native) RootDir() string { return n.rootDir }

func (n *Native) nodeDataDir(id types.NodeID) string {
	return filepath.Join(n.rootDir, nodeDataFolder, string(id))
}

// NewNode prepares the node's data dir and installs a private copy of
// the master binary, so an upgrade of the master never disturbs running
// nodes.
func (n *Native) NewNode(ctx context.Context, info *types.NodeInstanceInfo) error {
	dataDir := n.nodeDataDir(info.NodeID)
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return fmt.Errorf("failed to create node data dir: %w", err)
	}

	src, err := os.Open(n.masterBinPath())
	if err != nil {
		return fmt.Errorf("failed to open master node binary: %w", err)
	}
	defer src.Close()

	dstPath := filepath.Join(dataDir, nodeBinName)
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create node binary copy: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy node binary: %w", err)
	}
	return nil
}

// SpawnNode starts the node process with its configured ports, rewards
// address and log destination.
func (n *Native) SpawnNode(ctx context.Context, info *types.NodeInstanceInfo) (SpawnResult, error) {
	if info.Port == 0 {
		return SpawnResult{}, fmt.Errorf("missing port number to spawn node %s", info.NodeID)
	}
	if info.MetricsPort == 0 {
		return SpawnResult{}, fmt.Errorf("missing metrics port number to spawn node %s", info.NodeID)
	}
	if info.RewardsAddr == "" {
		return SpawnResult{}, fmt.Errorf("missing rewards address to spawn node %s", info.NodeID)
	}

	dataDir := n.nodeDataDir(info.NodeID)
	binPath := filepath.Join(dataDir, nodeBinName)

	var args []string
	if info.UPnP {
		args = append(args, "--upnp")
	}
	args = append(args,
		"--port", strconv.Itoa(int(info.Port)),
		"--metrics-server-port", strconv.Itoa(int(info.MetricsPort)),
		"--root-dir", dataDir,
		"--bootstrap-cache-dir", filepath.Join(n.rootDir, bootstrapCacheFolder),
		"--rewards-address", info.RewardsAddr,
	)
	if info.NodeLogs {
		args = append(args, "--log-output-dest", filepath.Join(dataDir, logsFolder))
	} else {
		args = append(args, "--log-output-dest", "stdout")
	}
	args = append(args, defaultEVMNetwork)

	cmd := exec.Command(binPath, args...)
	cmd.Dir = n.rootDir
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	n.logger.Info("spawning node process", "node_id", info.NodeID, "bin", binPath, "port", info.Port)
	if err := cmd.Start(); err != nil {
		return SpawnResult{}, fmt.Errorf("failed to spawn node %s: %w", info.NodeID, err)
	}

	proc := cmd.Process
	n.mu.Lock()
	n.procs[info.NodeID] = proc
	n.mu.Unlock()

	// reap in the background so the child never zombifies
	go func() { _, _ = cmd.Process.Wait() }()

	// give the process a moment to write its key material
	time.Sleep(2 * time.Second)

	res := SpawnResult{PID: uint32(proc.Pid)}
	if v, err := n.readNodeVersion(ctx, binPath); err == nil {
		res.BinVersion = v
	} else {
		n.logger.Warn("failed to read node binary version", "node_id", info.NodeID, "error", err)
	}
	if peerID, err := n.readPeerID(info.NodeID); err == nil {
		res.PeerID = peerID
	} else {
		n.logger.Warn("failed to read node peer id", "node_id", info.NodeID, "error", err)
	}
	res.IPs = hostIPs()

	return res, nil
}

// KillNode terminates the node's process group.
func (n *Native) KillNode(ctx context.Context, id types.NodeID) error {
	n.mu.Lock()
	proc, ok := n.procs[id]
	delete(n.procs, id)
	n.mu.Unlock()

	if !ok {
		// process not started by us; try the recorded pid on disk
		if pid := n.readPIDFile(id); pid > 0 {
			proc, _ = os.FindProcess(pid)
		}
	}
	if proc == nil {
		return fmt.Errorf("no running process found for node %s", id)
	}

	// ask nicely first, then force the whole group
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		n.logger.Warn("failed to signal node process", "node_id", id, "error", err)
	}
	done := make(chan struct{})
	go func() {
		_, _ = proc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = syscall.Kill(-proc.Pid, syscall.SIGKILL)
	case <-ctx.Done():
		return ctx.Err()
	}
	n.logger.Info("node process stopped", "node_id", id)
	return nil
}

// UpgradeNode restarts the node on the current master binary.
func (n *Native) UpgradeNode(ctx context.Context, info *types.NodeInstanceInfo) (SpawnResult, error) {
	n.logger.Info("upgrading node", "node_id", info.NodeID)
	// best-effort kill; the node may already be down
	if err := n.KillNode(ctx, info.NodeID); err != nil {
		n.logger.Warn("failed to kill node before upgrade", "node_id", info.NodeID, "error", err)
	}
	if err := n.NewNode(ctx, info); err != nil {
		return SpawnResult{}, err
	}
	// let the old process release its file descriptors
	select {
	case <-time.After(4 * time.Second):
	case <-ctx.Done():
		return SpawnResult{}, ctx.Err()
	}
	return n.SpawnNode(ctx, info)
}

// RegeneratePeerID removes the node's key material and restarts it, so
// it comes back with a fresh network identity.
func (n *Native) RegeneratePeerID(ctx context.Context, info *types.NodeInstanceInfo) (SpawnResult, error) {
	keyPath := filepath.Join(n.nodeDataDir(info.NodeID), secretKeyFile)
	if err := os.Remove(keyPath); err != nil && !os.IsNotExist(err) {
		return SpawnResult{}, fmt.Errorf("failed to remove node key material: %w", err)
	}
	if err := n.KillNode(ctx, info.NodeID); err != nil {
		n.logger.Warn("failed to kill node before recycling", "node_id", info.NodeID, "error", err)
	}
	return n.SpawnNode(ctx, info)
}

// RemoveNodeDir deletes the node's data directory.
func (n *Native) RemoveNodeDir(info *types.NodeInstanceInfo) error {
	if err := os.RemoveAll(n.nodeDataDir(info.NodeID)); err != nil {
		return fmt.Errorf("failed to remove node data dir: %w", err)
	}
	return nil
}

// GetNodesList reports the node instances discoverable on disk, with
// liveness derived from the launcher's process table.
func (n *Native) GetNodesList(ctx context.Context) ([]*types.NodeInstanceInfo, error) {
	entries, err := os.ReadDir(filepath.Join(n.rootDir, nodeDataFolder))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read node data dir: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	var out []*types.NodeInstanceInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := types.ParseNodeID(e.Name())
		if err != nil {
			continue
		}
		info := types.NewNodeInstanceInfo(id)
		info.DataDirPath = filepath.Join(n.rootDir, nodeDataFolder, e.Name())
		if proc, ok := n.procs[id]; ok && proc.Signal(syscall.Signal(0)) == nil {
			info.Status = types.Active()
			info.PID = uint32(proc.Pid)
		} else {
			info.Status = types.Inactive(types.InactiveStopped)
		}
		out = append(out, info)
	}
	return out, nil
}

// NodeIdentity re-reads the node's peer id and binary version from its
// data directory, picking up identity changes made outside an action
// (a recycle finishing late, an operator swapping the binary).
func (n *Native) NodeIdentity(ctx context.Context, id types.NodeID) (SpawnResult, error) {
	var res SpawnResult
	peerID, err := n.readPeerID(id)
	if err != nil {
		return res, err
	}
	res.PeerID = peerID
	binPath := filepath.Join(n.nodeDataDir(id), nodeBinName)
	if v, err := n.readNodeVersion(ctx, binPath); err == nil {
		res.BinVersion = v
	}
	return res, nil
}

// UpgradeMasterBinary downloads the given (or latest) node binary
// release and installs it as the master copy for future nodes.
func (n *Native) UpgradeMasterBinary(ctx context.Context, version string) (string, error) {
	if version == "" {
		latest, err := LatestNodeBinVersion(ctx)
		if err != nil {
			return "", err
		}
		if current, err := n.readNodeVersion(ctx, n.masterBinPath()); err == nil && current == latest {
			n.logger.Info("master node binary already at latest version", "version", current)
			return current, nil
		}
		version = latest
	}

	url := fmt.Sprintf("%s/antnode-%s-%s-%s.tar.gz",
		antnodeS3BaseURL, runtime.GOARCH, runtime.GOOS, version)
	n.logger.Info("downloading node binary", "version", version, "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download node binary: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("node binary download returned status %d", resp.StatusCode)
	}

	if err := n.extractBinary(resp.Body); err != nil {
		return "", err
	}
	n.logger.Info("node binary installed", "version", version, "path", n.masterBinPath())
	return version, nil
}

// extractBinary unpacks the antnode entry of a tar.gz archive over the
// master binary path, atomically.
func (n *Native) extractBinary(r io.Reader) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to open release archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return fmt.Errorf("release archive does not contain %s", nodeBinName)
		}
		if err != nil {
			return fmt.Errorf("failed to read release archive: %w", err)
		}
		if filepath.Base(hdr.Name) != nodeBinName {
			continue
		}

		tmp, err := os.CreateTemp(n.rootDir, nodeBinName+".*")
		if err != nil {
			return fmt.Errorf("failed to create temp binary: %w", err)
		}
		if _, err := io.Copy(tmp, tr); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
			return fmt.Errorf("failed to unpack node binary: %w", err)
		}
		if err := tmp.Chmod(0o755); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
			return fmt.Errorf("failed to set binary permissions: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("failed to close temp binary: %w", err)
		}
		if err := os.Rename(tmp.Name(), n.masterBinPath()); err != nil {
			return fmt.Errorf("failed to install node binary: %w", err)
		}
		return nil
	}
}

// MasterBinVersion reads the version of the installed master binary.
func (n *Native) MasterBinVersion(ctx context.Context) (string, error) {
	return n.readNodeVersion(ctx, n.masterBinPath())
}

// MasterBinPath exposes the master binary location, used by the binary
// watcher to refresh the cached version when the file is replaced.
func (n *Native) MasterBinPath() string { return n.masterBinPath() }

func (n *Native) readNodeVersion(ctx context.Context, binPath string) (string, error) {
	out, err := exec.CommandContext(ctx, binPath, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to run %s --version: %w", binPath, err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	version := strings.TrimPrefix(line, "Autonomi Node v")
	if version == "" {
		return "", fmt.Errorf("no version reported by %s", binPath)
	}
	return strings.TrimSpace(version), nil
}

// readPeerID derives the display peer id from the node's key file. The
// node writes the file on first start.
func (n *Native) readPeerID(id types.NodeID) (string, error) {
	keyPath := filepath.Join(n.nodeDataDir(id), secretKeyFile)
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return "", fmt.Errorf("failed to read node key material: %w", err)
	}
	return peerIDFromKey(raw), nil
}

func (n *Native) readPIDFile(id types.NodeID) int {
	raw, err := os.ReadFile(filepath.Join(n.nodeDataDir(id), "pid"))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0
	}
	return pid
}

func hostIPs() string {
	out, err := exec.Command("hostname", "-I").Output()
	if err != nil {
		return ""
	}
	return strings.ReplaceAll(strings.TrimSpace(string(out)), " ", ", ")
}

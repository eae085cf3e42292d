// Package mcp exposes the supervisor to AI assistants over the Model
// Context Protocol: fleet stats, node listings and the lifecycle
// actions, as tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/formicaio/formicaiod/internal/batcher"
	"github.com/formicaio/formicaiod/internal/bgtasks"
	"github.com/formicaio/formicaiod/internal/nodemgr"
	"github.com/formicaio/formicaiod/internal/types"
)

// heartbeatInterval keeps idle streaming connections from being culled
// by intermediaries.
const heartbeatInterval = 5 * time.Second

// Server wires the supervisor's operations into an MCP tool server.
type Server struct {
	mgr     *nodemgr.NodeManager
	batcher *batcher.Batcher
	stats   *bgtasks.StatsCell
	logger  *slog.Logger

	mcp     *server.MCPServer
	serving atomic.Bool
}

// NewServer builds the MCP server and registers the tool set.
func NewServer(mgr *nodemgr.NodeManager, b *batcher.Batcher, stats *bgtasks.StatsCell,
	version string, logger *slog.Logger,
) *Server {
	s := &Server{
		mgr:     mgr,
		batcher: b,
		stats:   stats,
		logger:  logger,
	}
	s.mcp = server.NewMCPServer("formicaio", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.registerTools()
	return s
}

// Serving reports whether a transport is currently listening.
func (s *Server) Serving() bool { return s.serving.Load() }

// ListenAndServe serves the streamable HTTP transport on addr until ctx
// is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.mcp,
		server.WithHeartbeatInterval(heartbeatInterval),
	)
	s.serving.Store(true)
	defer s.serving.Store(false)

	errc := make(chan error, 1)
	go func() { errc <- httpServer.Start(addr) }()
	s.logger.Info("mcp server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}

// SSEServer returns the legacy SSE transport for clients that do not
// speak streamable HTTP yet.
func (s *Server) SSEServer() *server.SSEServer {
	return server.NewSSEServer(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("fetch_stats",
		mcp.WithDescription("Fetch aggregated stats of the fleet of nodes: balances, earnings, node counts and network figures."),
	), s.handleFetchStats)

	s.mcp.AddTool(mcp.NewTool("nodes_instances",
		mcp.WithDescription("List the node instances with their current status, configuration and latest metrics."),
	), s.handleNodesInstances)

	s.mcp.AddTool(mcp.NewTool("create_node_instance",
		mcp.WithDescription("Create a new node instance with the given configuration. Choose port and metrics_port values not already in use by any other node."),
		mcp.WithString("node_ip", mcp.Description("Listening IP address for the node (IPv4 or IPv6, including 0.0.0.0 or ::).")),
		mcp.WithNumber("port", mcp.Required(), mcp.Description("TCP port the node listens on.")),
		mcp.WithNumber("metrics_port", mcp.Required(), mcp.Description("Port for the node's metrics endpoint.")),
		mcp.WithString("rewards_addr", mcp.Required(), mcp.Description("Rewards address the node earns to (hex, 0x-prefixed).")),
		mcp.WithBoolean("auto_start", mcp.Description("Start the node immediately after creation.")),
		mcp.WithBoolean("upnp", mcp.Description("Try to open the listening port with UPnP.")),
		mcp.WithBoolean("reachability_check", mcp.Description("Enable the node's reachability check.")),
		mcp.WithBoolean("node_logs", mcp.Description("Write node logs to its data directory.")),
		mcp.WithString("data_dir_path", mcp.Description("Custom data directory path for this node instance.")),
	), s.handleCreateNode)

	s.mcp.AddTool(s.nodeActionTool("start_node_instance",
		"Start an existing node instance."), s.nodeAction(s.mgr.StartNode))
	s.mcp.AddTool(s.nodeActionTool("stop_node_instance",
		"Stop a running node instance."), s.nodeAction(s.mgr.StopNode))
	s.mcp.AddTool(s.nodeActionTool("delete_node_instance",
		"Delete a node instance, its data directory and its metrics history."), s.nodeAction(s.mgr.DeleteNode))
	s.mcp.AddTool(s.nodeActionTool("upgrade_node_instance",
		"Upgrade a node instance to the current master node binary."), s.nodeAction(s.mgr.UpgradeNode))
	s.mcp.AddTool(s.nodeActionTool("recycle_node_instance",
		"Restart a node instance with a freshly generated peer id."), s.nodeAction(s.mgr.RecycleNode))
}

func (s *Server) nodeActionTool(name, description string) mcp.Tool {
	return mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Id of the target node instance.")),
	)
}

func (s *Server) handleFetchStats(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.stats.Get())
}

func (s *Server) handleNodesInstances(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodes, err := s.mgr.ListNodes(ctx, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp := types.NodesInstancesInfo{
		LatestBinVersion: s.mgr.BinVersions().Latest(),
		Nodes:            nodes,
		Stats:            s.stats.Get(),
		ScheduledBatches: s.batcher.ScheduledBatches(),
	}
	return jsonResult(resp)
}

func (s *Server) handleCreateNode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	port, err := req.RequireInt("port")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	metricsPort, err := req.RequireInt("metrics_port")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rewardsAddr, err := req.RequireString("rewards_addr")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if port < 1 || port > 65535 || metricsPort < 1 || metricsPort > 65535 {
		return mcp.NewToolResultError("port numbers must be between 1 and 65535"), nil
	}

	info, err := s.mgr.CreateNode(ctx, types.NodeOpts{
		NodeIP:            req.GetString("node_ip", ""),
		Port:              uint16(port),
		MetricsPort:       uint16(metricsPort),
		RewardsAddr:       rewardsAddr,
		AutoStart:         req.GetBool("auto_start", false),
		UPnP:              req.GetBool("upnp", false),
		ReachabilityCheck: req.GetBool("reachability_check", false),
		NodeLogs:          req.GetBool("node_logs", true),
		DataDirPath:       req.GetString("data_dir_path", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.logger.Info("node created via mcp", "node", info.ShortNodeID())
	return jsonResult(info)
}

func (s *Server) nodeAction(action func(context.Context, types.NodeID) error) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("node_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		id, err := types.ParseNodeID(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := action(ctx, id); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("done: node %s", id.Short())), nil
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/formicaio/formicaiod/internal/config"
)

// version is stamped at build time via -ldflags.
var version = "dev"

type rootFlags struct {
	configPath string
	listenAddr string
	mcpAddr    string
	dbPath     string
	dataDir    string
	logLevel   string
	jsonLogs   bool
}

func rootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "formicaiod",
		Short:         "Node fleet supervisor daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default: formicaiod.yaml in cwd or user config dir)")
	pf.StringVar(&flags.listenAddr, "listen-addr", "", "HTTP API bind address")
	pf.StringVar(&flags.mcpAddr, "mcp-addr", "", "MCP server bind address (empty string in config disables it)")
	pf.StringVar(&flags.dbPath, "db-path", "", "sqlite database file")
	pf.StringVar(&flags.dataDir, "data-dir", "", "root directory for node data and the master binary")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&flags.jsonLogs, "json-logs", false, "emit JSON logs even on a TTY")

	cmd.AddCommand(serveCmd(flags))
	cmd.AddCommand(versionCmd())
	cmd.AddCommand(configCmd(flags))
	return cmd
}

// loadConfig reads the config file and folds in any flags the user set
// explicitly. Flags win over file and environment.
func loadConfig(cmd *cobra.Command, flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	set := cmd.Flags()
	if set.Changed("listen-addr") {
		cfg.ListenAddr = flags.listenAddr
	}
	if set.Changed("mcp-addr") {
		cfg.MCPListenAddr = flags.mcpAddr
	}
	if set.Changed("db-path") {
		cfg.DBPath = flags.dbPath
	}
	if set.Changed("data-dir") {
		cfg.DataDir = flags.dataDir
	}
	if set.Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if set.Changed("json-logs") {
		cfg.JSONLogs = flags.jsonLogs
	}
	return cfg, nil
}

// newLogger picks a text handler on interactive terminals and JSON
// otherwise, so service managers capture structured output.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if !cfg.JSONLogs && term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "formicaiod %s\n", version)
		},
	}
}

func configCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file with the current effective settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			path := "formicaiod.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	})
	return cmd
}

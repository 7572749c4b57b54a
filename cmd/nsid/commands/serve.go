// Package commands holds the nsid cobra subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nsicore/nsi/internal/changeset"
	"github.com/nsicore/nsi/internal/conflict"
	"github.com/nsicore/nsi/internal/config"
	"github.com/nsicore/nsi/internal/eventbus"
	"github.com/nsicore/nsi/internal/gitlib"
	"github.com/nsicore/nsi/internal/index"
	mcp "github.com/nsicore/nsi/internal/mcpserver"
	"github.com/nsicore/nsi/internal/merge"
	"github.com/nsicore/nsi/internal/observability"
	"github.com/nsicore/nsi/internal/parser"
	"github.com/nsicore/nsi/internal/sessiongraph"
	"github.com/nsicore/nsi/internal/toolops"
	"github.com/nsicore/nsi/internal/version"
	"github.com/nsicore/nsi/internal/workspacemgr"
)

// NewServeCommand creates the "serve" subcommand: it wires one repository's
// workspace manager, index, changeset store, merge engine, and event bus
// into a toolops.Service, then exposes it over an MCP stdio server and a
// diagnostics HTTP server, until the context is canceled.
func NewServeCommand(verbose, quiet *bool) *cobra.Command {
	var (
		configPath string
		repoPath   string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP stdio server for AI agent integration",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport.

The server exposes native session isolation as tools that coding agents can
discover and invoke:
  - nsi_connect, nsi_context, nsi_read_file, nsi_write_file, nsi_list_files
  - nsi_submit, nsi_session_status
  - nsi_verify_prepare, nsi_verify_finalize
  - nsi_merge

A diagnostics HTTP server (/healthz, /readyz, /metrics) runs alongside it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			return runServe(cobraCmd.Context(), serveOptions{
				configPath: configPath,
				repoPath:   repoPath,
				debug:      debug,
				verbose:    *verbose,
				quiet:      *quiet,
			})
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to nsid.yaml (defaults to ./nsid.yaml, ./config/nsid.yaml, /etc/nsid/nsid.yaml)")
	cmd.Flags().StringVar(&repoPath, "repo", "", "path to the git repository to serve (overrides config)")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging and 100% trace sampling")

	return cmd
}

type serveOptions struct {
	configPath string
	repoPath   string
	debug      bool
	verbose    bool
	quiet      bool
}

func runServe(ctx context.Context, opts serveOptions) error {
	cfg, err := config.LoadConfig(opts.configPath, opts.repoPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	providers, err := initObservability(cfg, opts.debug)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	defer func() {
		if shutdownErr := providers.Shutdown(context.Background()); shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}()

	diagAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.DiagnosticsPort)

	diag, err := observability.NewDiagnosticsServer(diagAddr, providers.Meter)
	if err != nil {
		return fmt.Errorf("start diagnostics server: %w", err)
	}
	defer diag.Close()

	svc, err := wireService(ctx, cfg)
	if err != nil {
		return fmt.Errorf("wire repository service: %w", err)
	}

	red, err := observability.NewREDMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("build RED metrics: %w", err)
	}

	if opts.verbose && !opts.quiet {
		printStartupBanner(cfg, svc, diag.Addr())
	}

	deps := mcp.ServerDeps{Logger: providers.Logger, Metrics: red, Tracer: providers.Tracer}

	srv := mcp.NewServer(svc, deps)

	providers.Logger.Info("nsid serving", "repo", svc.RepoName, "tools", srv.ListToolNames(), "diagnostics", diag.Addr())

	return srv.Run(ctx)
}

// wireService constructs one repository's toolops.Service from config:
// opens the git repository, the symbol/search index, and the changeset
// store, then assembles the workspace manager, merge engine, event bus, and
// parser registry around them.
func wireService(ctx context.Context, cfg *config.Config) (*toolops.Service, error) {
	repo, err := gitlib.OpenRepository(cfg.Repository.Path)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	idx, err := index.Open(ctx, cfg.Index.Path, cfg.Index.BusyTimeoutMs, cfg.Index.FTSEnabled)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	repoName := filepath.Base(cfg.Repository.Path)

	repoID, err := idx.RepoIDByPath(ctx, repoName, cfg.Repository.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve repository id: %w", err)
	}

	changesets, err := changeset.Open(ctx, cfg.Changeset.Path, cfg.Changeset.LockDir, cfg.Changeset.BusyTimeoutMs)
	if err != nil {
		return nil, fmt.Errorf("open changeset store: %w", err)
	}

	parsers := parser.NewRegistry()
	analyzer := conflict.New(parsers)
	merger := merge.New(repo, analyzer)
	bus := eventbus.New(cfg.EventBus.BufferSize)
	baseMap := sessiongraph.NewBaseMap()

	existing, err := idx.SymbolsByRepo(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("load base symbol snapshot: %w", err)
	}

	baseMap.Publish(sessiongraph.SnapshotFrom(existing))

	workspaces := workspacemgr.New(repo, repoID, cfg.Workspace.StateDir, cfg.Workspace.IdleExpiry, baseMap)

	restored, err := workspaces.Restore()
	if err != nil {
		return nil, fmt.Errorf("restore workspace checkpoint: %w", err)
	}

	if restored > 0 {
		slog.Info("restored workspaces from checkpoint", "count", restored)
	}

	return toolops.New(repoName, repoID, repo, workspaces, idx, changesets, baseMap, merger, bus, parsers), nil
}

func initObservability(cfg *config.Config, debug bool) (observability.Providers, error) {
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	obsCfg.OTLPInsecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
	obsCfg.Mode = observability.ModeMCP
	obsCfg.LogJSON = cfg.Logging.Format == "json"

	if debug {
		obsCfg.LogLevel = slog.LevelDebug
		obsCfg.DebugTrace = true
	}

	return observability.Init(obsCfg)
}

// printStartupBanner renders a one-shot summary of what nsid is about to
// serve. It is purely cosmetic — skipped entirely under --quiet or without
// --verbose — so it is never on the critical path for a tool call.
func printStartupBanner(cfg *config.Config, svc *toolops.Service, diagAddr string) {
	bold := color.New(color.Bold)
	bold.Println("nsid — native session isolation daemon")

	tbl := table.NewWriter()
	tbl.SetOutputMirror(os.Stdout)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"setting", "value"})
	tbl.AppendRow(table.Row{"repository", cfg.Repository.Path})
	tbl.AppendRow(table.Row{"repo id", svc.RepoID.String()})
	tbl.AppendRow(table.Row{"workspace state dir", cfg.Workspace.StateDir})
	tbl.AppendRow(table.Row{"index db", cfg.Index.Path})
	tbl.AppendRow(table.Row{"changeset db", cfg.Changeset.Path})
	tbl.AppendRow(table.Row{"max sessions", cfg.Server.MaxSessions})
	tbl.AppendRow(table.Row{"diagnostics", diagAddr})
	tbl.Render()
}

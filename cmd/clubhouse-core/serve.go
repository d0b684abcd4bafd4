package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/adapter"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/adapter/claude"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/adapter/shellcli"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/binlocator"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/config"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/internal/supervisor"
	"github.com/Agent-Clubhouse/Clubhouse-sub001/pkg/logger"
)

// newServeCmd builds the "serve" subcommand: it loads configuration,
// registers the shipped orchestrator adapters, wires a supervisor.Supervisor,
// and blocks until interrupted.
func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Agent Supervision Substrate (hook ingress, lifecycle sweep)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Close() }()

	registerAdapters()

	logsDir, err := config.AgentLogsDir()
	if err != nil {
		return fmt.Errorf("resolve agent logs dir: %w", err)
	}

	sup, err := supervisor.New(supervisor.Options{
		Config:  cfg,
		LogsDir: logsDir,
		// No rendering host is attached when run standalone; a desktop
		// shell embedding this module supplies its own
		// windowbridge.Transport (e.g. a wails-backed one) and builds its
		// own Supervisor with that Transport set instead of calling serve.
	})
	if err != nil {
		return fmt.Errorf("wire supervisor: %w", err)
	}

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}
	defer sup.Stop()

	logger.Info().Msg("clubhouse-core: serving; Ctrl-C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
	return nil
}

// registerAdapters registers the two orchestrator adapters this module
// ships. A desktop shell embedding the substrate is free to register
// additional adapter.Adapter implementations before calling serve's
// wiring; this registration is the standalone binary's own default set.
func registerAdapters() {
	locator := binlocator.New()

	if path, err := locator.Resolve([]string{"claude"}, nil); err == nil {
		adapter.Register(claude.New(claude.Options{
			BinaryPath: path,
			APIKey:     os.Getenv("ANTHROPIC_API_KEY"),
			ModelID:    os.Getenv("CLUBHOUSE_CLAUDE_MODEL"),
		}))
	} else {
		logger.Warn().Err(err).Msg("clubhouse-core: claude CLI not found, adapter not registered")
	}

	if path, err := locator.Resolve([]string{"codex"}, nil); err == nil {
		adapter.Register(shellcli.New("codex", path))
	} else {
		logger.Warn().Err(err).Msg("clubhouse-core: codex CLI not found, shellcli adapter not registered")
	}
}

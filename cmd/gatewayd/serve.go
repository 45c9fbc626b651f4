package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aira-gateway/gatewayd/internal/agent"
	"github.com/aira-gateway/gatewayd/internal/audit"
	"github.com/aira-gateway/gatewayd/internal/config"
	"github.com/aira-gateway/gatewayd/internal/gateway"
	"github.com/aira-gateway/gatewayd/internal/memory"
	"github.com/aira-gateway/gatewayd/internal/provider"
	"github.com/aira-gateway/gatewayd/internal/scheduler"
	"github.com/aira-gateway/gatewayd/internal/session"
	"github.com/aira-gateway/gatewayd/internal/store/sqlite"
	"github.com/aira-gateway/gatewayd/internal/tools"
	"github.com/aira-gateway/gatewayd/internal/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gatewayd daemon",
	RunE:  func(cmd *cobra.Command, args []string) error { return runServe() },
}

func runServe() error {
	setupLogging()

	dataDir, err := resolveDataDir()
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	cfg, err := config.Load(filepath.Join(dataDir, "config.json"))
	if err != nil {
		return err
	}

	workspaceDir := cfg.Agents.WorkspacePath
	if workspaceDir == "" {
		workspaceDir = filepath.Join(dataDir, "workspace")
	}
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}
	ws := workspace.New(workspaceDir)

	sessions, err := session.New(filepath.Join(dataDir, "sessions"))
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}

	store, err := sqlite.Open(filepath.Join(dataDir, "memory.db"))
	if err != nil {
		return fmt.Errorf("sqlite store: %w", err)
	}
	defer store.Close()

	auditLog, err := audit.Open(filepath.Join(dataDir, "audit.jsonl"), cfg.Security.AuditLog)
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	defer auditLog.Close()

	providers := provider.NewRegistry([]string{"openai", "anthropic"})
	registerProviders(providers)

	toolRegistry := agent.NewToolRegistry()
	shellTool := tools.NewShellTool(time.Duration(cfg.Tools.TimeoutMS) * time.Millisecond)
	shellTool.MaxBytes = cfg.Tools.MaxOutputBytes
	toolRegistry.Register(shellTool)
	toolRegistry.Register(tools.NewBrowserTool())
	toolRegistry.Register(tools.NewScheduleTool(store, cfg.Agents.Default))

	token := config.GatewayToken()
	if token == "" {
		log.Warn().Msg("gatewayd: GATEWAYD_AUTH_TOKEN is unset; every connection will be refused")
	}

	gw := gateway.New(cfg, token)

	approvals := agent.NewApprovalCoordinator(gw.BroadcastApproval)
	runner := agent.NewRunner(providers, toolRegistry, approvals)
	sched := scheduler.NewEngine(store, gw.ExecuteScheduledJob)
	toolRegistry.Register(tools.NewScheduleTool(sched, cfg.Agents.Default))

	var mem memory.Searcher = memory.NullSearcher{}

	gw.Configure(sessions, ws, providers, toolRegistry, approvals, runner, sched, auditLog, mem)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	srv := &http.Server{Addr: addr, Handler: gw.Router()}

	go func() {
		log.Info().Str("addr", addr).Msg("gatewayd: listening")
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			log.Error().Err(serveErr).Msg("gatewayd: server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("gatewayd: shutting down")

	gw.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	log.Info().Msg("gatewayd: stopped")
	return nil
}

// setupLogging configures zerolog from GATEWAYD_LOG_LEVEL / GATEWAYD_LOG_FORMAT.
func setupLogging() {
	level, err := zerolog.ParseLevel(os.Getenv("GATEWAYD_LOG_LEVEL"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if os.Getenv("GATEWAYD_LOG_FORMAT") == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

// registerProviders registers whichever of anthropic/openai have an API key
// present in the environment. A gateway with neither key registered still
// starts; every chat.send then ends in a chat.error saying no provider in the
// fallback order is registered, until one is configured.
func registerProviders(providers *provider.Registry) {
	if key := config.ProviderAPIKey("anthropic"); key != "" {
		providers.Register(provider.NewAnthropicProvider(key))
	}
	if key := config.ProviderAPIKey("openai"); key != "" {
		providers.Register(provider.NewOpenAIProvider(key))
	}
}

// resolveDataDir returns GATEWAYD_DATA_DIR when set, else ~/.gatewayd.
func resolveDataDir() (string, error) {
	if dir := os.Getenv("GATEWAYD_DATA_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".gatewayd"), nil
}

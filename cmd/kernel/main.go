// Package main provides the CLI entry point for the agent kernel.
//
// The kernel composes the Memory Manager, Tool Registry, Planner, Graph
// Executor, Priority Task Queue, Scheduled Task Manager, Background
// Pollers, Notification Center, Semantic Integrity Checker, and Session
// Store (see internal/kernel) behind a single process that either
// serves chat turns over stdin/stdout for local exercising, or runs its
// background scheduler/worker pool standalone.
//
// # Basic Usage
//
//	kernel serve --config kernel.yaml
//	kernel chat --config kernel.yaml
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - KERNEL_LLM_PROVIDER: "anthropic" (default) or "openai"
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nexus-kernel/agentkernel/internal/config"
	"github.com/nexus-kernel/agentkernel/internal/kernel"
	"github.com/nexus-kernel/agentkernel/internal/llm"
	"github.com/nexus-kernel/agentkernel/internal/llm/anthropic"
	"github.com/nexus-kernel/agentkernel/internal/llm/openai"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kernel",
		Short: "Agent orchestration kernel",
		Long: `Runs the agent orchestration kernel: a request pipeline that answers chat
turns through a planner/tool-loop/main-agent graph, and a background
flow that turns scheduled polling into user notifications.

LLM providers: Anthropic (Claude), OpenAI (GPT)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildChatCmd())
	return root
}

// buildServeCmd starts the kernel's background flow (scheduler + worker
// pool) and blocks until interrupted. It does not attach a transport;
// that is an external collaborator (§9).
func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and background worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := buildKernel(configPath)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := k.Start(ctx); err != nil {
				return fmt.Errorf("start kernel: %w", err)
			}
			defer k.Stop()

			slog.Info("kernel running", "pid", os.Getpid())
			<-ctx.Done()
			slog.Info("shutting down")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "kernel.yaml", "Path to YAML configuration file")
	return cmd
}

// buildChatCmd runs an interactive REPL against the request pipeline
// for local exercising of a single session, without the background
// flow.
func buildChatCmd() *cobra.Command {
	var (
		configPath string
		tenantID   string
		userID     string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the kernel over stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := buildKernel(configPath)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			out := cmd.OutOrStdout()
			scanner := bufio.NewScanner(cmd.InOrStdin())
			sessionID := ""
			fmt.Fprintln(out, "Connected. Ctrl-D to exit.")
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				resp, err := k.HandleMessage(ctx, tenantID, userID, sessionID, line)
				if err != nil {
					fmt.Fprintf(out, "error: %v\n", err)
					continue
				}
				sessionID = resp.SessionID
				fmt.Fprintf(out, "> %s\n", resp.Message.Content)
				if resp.NotificationCount > 0 {
					fmt.Fprintf(out, "(%d notification(s) pending, %d high priority)\n",
						resp.NotificationCount, len(resp.HighPriorityNotifications))
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "kernel.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVar(&tenantID, "tenant", "local", "Tenant ID for this session")
	cmd.Flags().StringVar(&userID, "user", "local-user", "User ID for this session")
	return cmd
}

// buildKernel loads configuration, selects and constructs an
// llm.Provider from the environment, and assembles a kernel.Kernel.
// Provider construction happens here rather than inside internal/kernel
// so that API keys never need to flow through the YAML config loader
// (§9: "constructed services passed in, not looked up globally").
func buildKernel(configPath string) (*kernel.Kernel, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("failed to load config, using defaults", "path", configPath, "error", err)
		cfg = config.Default()
	}

	provider, err := buildProvider()
	if err != nil {
		return nil, err
	}

	k, err := kernel.New(cfg, kernel.Dependencies{
		Provider:       provider,
		PlannerModel:   envOr("KERNEL_PLANNER_MODEL", ""),
		AgentModel:     envOr("KERNEL_AGENT_MODEL", ""),
		IntegrityModel: envOr("KERNEL_INTEGRITY_MODEL", ""),
	})
	if err != nil {
		return nil, fmt.Errorf("construct kernel: %w", err)
	}
	return k, nil
}

// buildProvider selects an llm.Provider based on KERNEL_LLM_PROVIDER
// (defaulting to Anthropic), constructing it from the matching API-key
// environment variable.
func buildProvider() (llm.Provider, error) {
	switch strings.ToLower(envOr("KERNEL_LLM_PROVIDER", "anthropic")) {
	case "openai":
		p, err := openai.New(openai.Config{
			APIKey:       os.Getenv("OPENAI_API_KEY"),
			BaseURL:      os.Getenv("OPENAI_BASE_URL"),
			DefaultModel: os.Getenv("OPENAI_DEFAULT_MODEL"),
		})
		if err != nil {
			return nil, fmt.Errorf("construct openai provider: %w", err)
		}
		return p, nil
	default:
		p, err := anthropic.New(anthropic.Config{
			APIKey:       os.Getenv("ANTHROPIC_API_KEY"),
			BaseURL:      os.Getenv("ANTHROPIC_BASE_URL"),
			DefaultModel: os.Getenv("ANTHROPIC_DEFAULT_MODEL"),
		})
		if err != nil {
			return nil, fmt.Errorf("construct anthropic provider: %w", err)
		}
		return p, nil
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

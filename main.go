package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

// serverVersion can be overridden at build time with
// -ldflags "-X main.serverVersion=x.y.z".
var serverVersion = "dev"

// serverStartup is stamped once, at process start, and never mutated.
var serverStartup = time.Now()

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	root := newRootCommand()
	root.SetArgs(args)
	return root.Execute()
}

func newRootCommand() *cobra.Command {
	var (
		configPath   string
		debug        bool
		orchestrator bool
	)

	root := &cobra.Command{
		Use:           "sessionbridge",
		Short:         "RPC server exposing an external CLI assistant as a structured tool",
		Version:       serverVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if debug {
				cfg.Debug = true
			}
			if orchestrator {
				cfg.OrchestratorMode = true
			}

			log := newDiagLogger(cfg)
			return serve(cmd.Context(), cfg, log)
		},
	}
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	root.Flags().StringVar(&configPath, "config", "", "Path to a .json/.jsonc config file")
	root.Flags().BoolVar(&debug, "debug", false, "Enable verbose diagnostics on stderr")
	root.Flags().BoolVar(&orchestrator, "orchestrator", false, "Enable orchestrator mode")

	return root
}

// serve implements the RPC Loop (C8): builds the MCP stdio server,
// registers the five tools, arms the periodic sweep timer, installs
// the shutdown signal handler, and blocks on server.ServeStdio.
func serve(ctx context.Context, cfg *Config, log *diagLogger) error {
	log.Infof("sessionbridge %s starting (orchestrator=%t debug=%t)", serverVersion, cfg.OrchestratorMode, cfg.Debug)

	manager := newSessionManager(cfg, log)
	deps := &toolDeps{manager: manager, cfg: cfg, log: log}

	s := server.NewMCPServer(
		"sessionbridge",
		serverVersion,
		server.WithToolCapabilities(false),
	)
	registerTools(s, deps)

	sweepTicker := time.NewTicker(cfg.SweepInterval())
	defer sweepTicker.Stop()
	sweepDone := make(chan struct{})
	go func() {
		for {
			select {
			case <-sweepTicker.C:
				manager.sweep()
			case <-sweepDone:
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Infof("shutdown signal received, sweeping and exiting")
		close(sweepDone)
		manager.sweep()
		os.Exit(0)
	}()

	if err := server.ServeStdio(s); err != nil {
		return fmt.Errorf("serve stdio: %w", err)
	}
	return nil
}

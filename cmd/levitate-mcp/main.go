// Package main provides the levitate-mcp binary — an MCP server
// exposing the installer engine to agent front ends. The agent supplies
// its own language model and submits structured actions; the engine
// still validates everything and demands confirmation for anything
// destructive.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mark3labs/mcp-go/server"

	"github.com/LevitateOS/installer/pkg/config"
	"github.com/LevitateOS/installer/pkg/exec"
	lmcp "github.com/LevitateOS/installer/pkg/mcp"
	"github.com/LevitateOS/installer/pkg/probe"
	"github.com/LevitateOS/installer/pkg/run"
	"github.com/LevitateOS/installer/pkg/session"
)

var version = "dev"

var (
	flagConfig string
	flagDryRun bool
)

var rootCmd = &cobra.Command{
	Use:   "levitate-mcp",
	Short: "MCP server for the LevitateOS installer engine",
	Args:  cobra.NoArgs,
	RunE:  runServer,
}

func init() {
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "path to installer config YAML")
	rootCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "log commands without running them")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if flagConfig != "" {
		var err error
		if cfg, err = config.Load(flagConfig); err != nil {
			return err
		}
	}
	if flagDryRun {
		cfg.DryRun = true
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(cfg.StateDir, "mcp.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	l := logrus.New()
	l.SetOutput(logFile)
	l.SetFormatter(&logrus.JSONFormatter{})
	log := logrus.NewEntry(l)

	pol, err := cfg.Policy()
	if err != nil {
		return err
	}

	runner := run.RealRunner{}
	prober := probe.New(runner)
	executor := exec.New(runner, prober, pol, log)
	executor.TargetRoot = cfg.TargetRoot
	executor.DryRun = cfg.DryRun
	for _, p := range cfg.Presets {
		executor.Presets = append(executor.Presets, p.Describe())
	}

	sess, err := session.New(context.Background(), session.Config{
		StateDir: cfg.StateDir,
		// MCP clients submit structured actions; no translator runs.
		Translator: nil,
		Executor:   executor,
		Prober:     prober,
		Log:        log,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	return server.ServeStdio(lmcp.NewServer(version, sess))
}

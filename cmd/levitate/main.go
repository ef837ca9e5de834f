// Package main provides the levitate binary — the LevitateOS installer.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/LevitateOS/installer/pkg/config"
	"github.com/LevitateOS/installer/pkg/exec"
	"github.com/LevitateOS/installer/pkg/llm"
	"github.com/LevitateOS/installer/pkg/probe"
	"github.com/LevitateOS/installer/pkg/run"
	"github.com/LevitateOS/installer/pkg/session"
	"github.com/LevitateOS/installer/pkg/tui"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var (
	flagConfig string
	flagPlain  bool
	flagDryRun bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "levitate",
	Short: "LevitateOS installer",
	Long:  "levitate — conversational installer for LevitateOS. Say what you want; it plans, asks before anything destructive, and does it.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to installer config YAML")

	installCmd.Flags().BoolVar(&flagPlain, "plain", false, "line-mode conversation instead of the full-screen TUI")
	installCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "log commands without running them")

	rootCmd.AddCommand(installCmd, probeCmd, logCmd, versionCmd)
}

func loadConfig() (config.Config, error) {
	if flagConfig == "" {
		return config.Default(), nil
	}
	return config.Load(flagConfig)
}

// newLogger writes JSON logs to a file under the state dir. The TUI
// owns the terminal; nothing may log to it.
func newLogger(cfg config.Config) (*logrus.Entry, error) {
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(cfg.StateDir, "installer.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l := logrus.New()
	l.SetOutput(f)
	l.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		l.SetLevel(level)
	}
	return logrus.NewEntry(l), nil
}

// --- install ---

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Run the interactive installation",
	Args:  cobra.NoArgs,
	RunE:  runInstall,
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagDryRun {
		cfg.DryRun = true
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

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

	translator, err := llm.NewClient(cfg.ModelEndpoint, cfg.ModelName, log)
	if err != nil {
		return err
	}
	translator.SourceRoot = cfg.SourceRoot

	checkpoint, err := session.OpenCheckpoint(filepath.Join(cfg.StateDir, "checkpoint.db"))
	if err != nil {
		// Checkpointing is optional; install without resume support.
		log.WithError(err).Warn("checkpoint store unavailable")
		checkpoint = nil
	} else {
		defer checkpoint.Close()
	}

	ctx := context.Background()
	sess, err := session.New(ctx, session.Config{
		StateDir:   cfg.StateDir,
		Translator: translator,
		Executor:   executor,
		Prober:     prober,
		Log:        log,
		Checkpoint: checkpoint,
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	if flagPlain {
		return tui.RunPlain(ctx, sess)
	}
	return tui.Run(sess)
}

// --- probe ---

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Print the current system snapshot and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := probe.New(run.RealRunner{}).Probe(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Print(probe.RenderContext(snap))
		return nil
	},
}

// --- log ---

var logCmd = &cobra.Command{
	Use:   "log [session-id]",
	Short: "Print a session's action log (latest session by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLog,
}

func runLog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	id := ""
	if len(args) == 1 {
		id = args[0]
	} else {
		// ULIDs sort lexicographically by creation time.
		entries, err := os.ReadDir(filepath.Join(cfg.StateDir, "sessions"))
		if err != nil {
			return fmt.Errorf("no sessions under %s: %w", cfg.StateDir, err)
		}
		var ids []string
		for _, e := range entries {
			if e.IsDir() {
				ids = append(ids, e.Name())
			}
		}
		if len(ids) == 0 {
			return fmt.Errorf("no sessions under %s", cfg.StateDir)
		}
		sort.Strings(ids)
		id = ids[len(ids)-1]
	}

	f, err := os.Open(filepath.Join(cfg.StateDir, "sessions", id, "actions.jsonl"))
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fmt.Println(sc.Text())
	}
	return sc.Err()
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("levitate %s (%s)\n", version, commit)
	},
}

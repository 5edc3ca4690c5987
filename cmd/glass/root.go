package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/anatolykoptev/go-glass/internal/settings"
)

var version = "dev"

// flags shared by every collection command.
type flags struct {
	config     string
	verbose    bool
	output     string
	runFor     string
	maxResults int
	queue      int
	languages  []string
	track      []string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "glass",
		Short:         "glass collects accounts, tweets and their relations into CSV, JSON lines or SQL.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogger(stderr, f.verbose)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&f.config, "config", "", "settings file (default ~/.config/openglass/config.json5)")
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "log at debug level")

	for _, m := range modeCommands {
		root.AddCommand(newModeCmd(m, f))
	}
	root.AddCommand(newSettingsCmd(f), newVersionCmd())
	return root
}

func execute(ctx context.Context) int {
	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func setupLogger(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func loadSettings(f *flags) (settings.Settings, error) {
	s, err := settings.Load(f.config)
	if err != nil {
		return s, err
	}
	if f.output != "" {
		s.Output = f.output
	}
	return s, nil
}

var runForPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// parseRunFor reads durations like 90s, 30m, 6h or 2d. Empty is unbounded.
func parseRunFor(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	m := runForPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("run-for %q: want a number followed by s, m, h or d", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("run-for %q: %w", s, err)
	}
	unit := map[string]time.Duration{
		"s": time.Second,
		"m": time.Minute,
		"h": time.Hour,
		"d": 24 * time.Hour,
	}[m[2]]
	return time.Duration(n) * unit, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the version.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "glass", version)
		},
	}
}

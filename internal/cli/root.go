// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/bodaay/formerhub/internal/assets"
	"github.com/bodaay/formerhub/internal/tui"
	"github.com/bodaay/formerhub/pkg/formers"
	"github.com/bodaay/formerhub/pkg/zoo"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	CacheDir    string
	ProjectDir  string
	Endpoint    string
	Token       string
	LockTimeout time.Duration
	JSONOut     bool
	Quiet       bool
	Verbose     bool
	Config      string
	LogFile     string
	LogLevel    string
	LogFormat   string

	// BareOnly is set by commands serving remote clients.
	BareOnly bool
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := NewRootCmd(version)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

// NewRootCmd assembles the command tree.
func NewRootCmd(version string) *cobra.Command {
	ro := &RootOpts{}

	root := &cobra.Command{
		Use:           "formerhub",
		Short:         "Resolve, cache and build pretrained transformer configurations",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return applySettingsDefaults(cmd, ro)
		},
	}

	// Global flags
	pf := root.PersistentFlags()
	pf.StringVar(&ro.CacheDir, "cache-dir", formers.DefaultSettings().CacheDir, "Cache root for configs and checkpoints")
	pf.StringVar(&ro.ProjectDir, "project-dir", "", "Read default templates from <dir>/configs instead of the built-in set")
	pf.StringVar(&ro.Endpoint, "endpoint", "", "Base URL checkpoints are fetched from (also reads HF_ENDPOINT env)")
	pf.StringVarP(&ro.Token, "token", "t", "", "Bearer token for checkpoint fetches (also reads FORMERHUB_TOKEN env)")
	pf.DurationVar(&ro.LockTimeout, "lock-timeout", time.Minute, "How long to wait for the cache lock of a family")
	pf.BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON (events and results)")
	pf.BoolVarP(&ro.Quiet, "quiet", "q", false, "Quiet mode (no progress output)")
	pf.BoolVarP(&ro.Verbose, "verbose", "v", false, "Verbose progress (cache hits, resolution)")
	pf.StringVar(&ro.Config, "config", "", "Path to config file (JSON or YAML)")
	pf.StringVar(&ro.LogFile, "log-file", "", "Write logs to file (in addition to stderr)")
	pf.StringVar(&ro.LogLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	pf.StringVar(&ro.LogFormat, "log-format", "text", "Log format: text, json")

	root.AddCommand(newSupportListCmd(ro))
	root.AddCommand(newResolveCmd(ro))
	root.AddCommand(newShowCmd(ro))
	root.AddCommand(newBuildCmd(ro))
	root.AddCommand(newFetchCmd(ro))
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newServeCmd(ro, version))
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	return root
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// defaultConfigPath returns the first existing ~/.config/formerhub.{json,yaml,yml}.
func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		p := filepath.Join(home, ".config", "formerhub"+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// applySettingsDefaults fills flags the user did not set from the config
// file, then from the environment.
func applySettingsDefaults(cmd *cobra.Command, ro *RootOpts) error {
	path := ro.Config
	if path == "" {
		path = defaultConfigPath()
	}
	cfg := map[string]any{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		// Parse based on file extension
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return errors.Wrapf(err, "invalid YAML config file %s", path)
			}
		default: // .json or unknown
			if err := json.Unmarshal(b, &cfg); err != nil {
				return errors.Wrapf(err, "invalid JSON config file %s", path)
			}
		}
	}

	setStr := func(flagName, env string, set func(string)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if env != "" {
			if v := strings.TrimSpace(os.Getenv(env)); v != "" {
				set(v)
				return
			}
		}
		if v, ok := cfg[flagName]; ok && v != nil {
			set(fmt.Sprint(v))
		}
	}

	setStr("cache-dir", "", func(v string) { ro.CacheDir = v })
	setStr("project-dir", "", func(v string) { ro.ProjectDir = v })
	setStr("endpoint", "HF_ENDPOINT", func(v string) { ro.Endpoint = v })
	setStr("token", "FORMERHUB_TOKEN", func(v string) { ro.Token = v })
	setStr("log-level", "", func(v string) { ro.LogLevel = v })
	setStr("log-format", "", func(v string) { ro.LogFormat = v })

	var lockErr error
	setStr("lock-timeout", "", func(v string) {
		d, err := time.ParseDuration(v)
		if err != nil {
			lockErr = errors.Wrapf(formers.ErrInvalidArgument, "lock-timeout %q in %s", v, path)
			return
		}
		ro.LockTimeout = d
	})
	return lockErr
}

// newLogger builds the slog logger described by the log flags. The returned
// closer releases the log file, if any.
func newLogger(ro *RootOpts, stderr io.Writer) (*slog.Logger, func(), error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(ro.LogLevel)); err != nil {
		return nil, nil, errors.Wrapf(formers.ErrInvalidArgument, "log level %q", ro.LogLevel)
	}

	out := stderr
	closer := func() {}
	if ro.LogFile != "" {
		f, err := os.OpenFile(ro.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open log file")
		}
		out = io.MultiWriter(stderr, f)
		closer = func() { f.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(ro.LogFormat) {
	case "json":
		return slog.New(slog.NewJSONHandler(out, opts)), closer, nil
	case "text", "":
		return slog.New(slog.NewTextHandler(out, opts)), closer, nil
	}
	closer()
	return nil, nil, errors.Wrapf(formers.ErrInvalidArgument, "log format %q", ro.LogFormat)
}

// session is a hub opened for one command, with its progress output.
type session struct {
	hub    *formers.Hub
	logger *slog.Logger
	close  func()
}

// openSession builds the hub from the global options. Progress goes to
// stdout as JSON lines with --json, nowhere with --quiet, and to a live
// renderer on stderr otherwise.
func openSession(cmd *cobra.Command, ro *RootOpts) (*session, error) {
	logger, closeLog, err := newLogger(ro, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	s := formers.DefaultSettings()
	s.CacheDir = ro.CacheDir
	s.Endpoint = ro.Endpoint
	s.Token = ro.Token
	s.LockTimeout = ro.LockTimeout
	s.BareOnly = ro.BareOnly
	s.Logger = logger
	if ro.ProjectDir != "" {
		s.ProjectDir = ro.ProjectDir
	} else {
		s.Templates = assets.Templates()
	}

	closeUI := func() {}
	switch {
	case ro.JSONOut:
		s.Progress = jsonProgress(cmd.OutOrStdout())
	case ro.Quiet:
	default:
		ui := tui.NewLiveRenderer(cmd.ErrOrStderr(), ro.Verbose)
		s.Progress = ui.Handler()
		closeUI = ui.Close
	}

	hub, err := formers.New(formers.NewRegistry(zoo.Module{}), s)
	if err != nil {
		closeUI()
		closeLog()
		return nil, err
	}
	return &session{
		hub:    hub,
		logger: logger,
		close: func() {
			closeUI()
			closeLog()
		},
	}, nil
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) formers.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev formers.ProgressEvent) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}

// writeResult prints v as one JSON document.
func writeResult(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

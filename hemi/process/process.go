// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Process is the command line front end of a program using the Hemi Engine.

package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mdaniel/svn-caucho-com-resin-sub019/hemi"
	"github.com/mdaniel/svn-caucho-com-resin-sub019/hemi/library/system"
)

// Opts describes the program.
type Opts struct {
	ProgramName  string // hemi, myapp, ...
	ProgramTitle string // Hemi, MyApp, ...
	Version      string // 0.1.0, ...
}

// Main runs the program and exits the process.
func Main(opts *Opts) {
	state := newGlobalState(context.Background(), opts)
	if err := newRootCommand(state).Execute(); err != nil {
		state.logger.WithError(err).Error("exiting")
		os.Exit(1)
	}
}

// globalState holds everything commands touch outside of their flags.
type globalState struct {
	ctx       context.Context
	opts      *Opts
	fs        afero.Fs
	lookupEnv func(key string) (value string, ok bool)
	stdout    *consoleWriter
	stderr    *consoleWriter
	logger    *logrus.Logger

	configFile string // --config
	verbose    bool   // --verbose
	noColor    bool   // --no-color
	quiet      bool   // --quiet
	logFormat  string // --log-format
}

func newGlobalState(ctx context.Context, opts *Opts) *globalState {
	stdout, stderr := newConsoleWriters()
	configFile, _ := os.LookupEnv("HEMI_CONFIG")
	return &globalState{
		ctx:        ctx,
		opts:       opts,
		fs:         afero.NewOsFs(),
		lookupEnv:  os.LookupEnv,
		stdout:     stdout,
		stderr:     stderr,
		logger:     newLogger(stderr),
		configFile: configFile,
	}
}

func newRootCommand(state *globalState) *cobra.Command {
	serveCmd := newServeCommand(state)
	rootCmd := &cobra.Command{
		Use:           state.opts.ProgramName,
		Short:         state.opts.ProgramTitle + " is an HTTP/1.x server",
		Long:          "\n" + banner(state.opts),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serveCmd.RunE, // serve by default
	}
	rootCmd.PersistentFlags().AddFlagSet(rootFlagSet(state))
	rootCmd.PersistentFlags().AddFlagSet(configFlagSet())
	rootCmd.SetOut(state.stdout)
	rootCmd.SetErr(state.stderr)
	rootCmd.AddCommand(serveCmd, newVersionCommand(state), newConfigCommand(state))
	return rootCmd
}

func newServeCommand(state *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve HTTP/1.x requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(state, cmd.Flags())
			if err != nil {
				return err
			}
			if err := setupLogger(state, conf); err != nil {
				return err
			}
			if !state.quiet {
				printBanner(state)
			}
			server, err := hemi.NewServer(conf, nil, hemi.WithLogger(state.logger))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(state.ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.ListenAndServe(ctx)
		},
	}
}

func newVersionCommand(state *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fprintf(state.stdout, "%s\n", versionString(state.opts))
		},
	}
}

func newConfigCommand(state *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(state, cmd.Flags())
			if err != nil {
				return err
			}
			data, err := hemi.MarshalConfig(conf)
			if err != nil {
				return err
			}
			_, err = state.stdout.Write(data)
			return err
		},
	}
}

func versionString(opts *Opts) string {
	return fmt.Sprintf("%s %s (%s, %s/%s)", opts.ProgramTitle, opts.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// loadConfig consolidates defaults, the config file, the environment, and the command line.
func loadConfig(state *globalState, flags *pflag.FlagSet) (hemi.Config, error) {
	cliConf := getConfig(flags)
	path := state.configFile
	if path == "" { // the default one is optional
		defaultPath := system.DefaultConfigPath(state.opts.ProgramName)
		if exists, _ := afero.Exists(state.fs, defaultPath); exists {
			path = defaultPath
		}
	}
	conf, err := hemi.LoadConfig(state.fs, path, state.lookupEnv, cliConf)
	if err != nil {
		return conf, fmt.Errorf("cannot load config: %w", err)
	}
	return conf, nil
}

func fprintf(w io.Writer, format string, a ...any) (n int) {
	n, err := fmt.Fprintf(w, format, a...)
	if err != nil {
		panic(err.Error())
	}
	return n
}

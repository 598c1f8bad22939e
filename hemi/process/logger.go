// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Console output and logging.

package process

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/mdaniel/svn-caucho-com-resin-sub019/hemi"
)

// consoleWriter serializes writes to stdout and stderr.
type consoleWriter struct {
	io.Writer
	IsTTY bool
	Mutex *sync.Mutex
}

func (w *consoleWriter) Write(p []byte) (n int, err error) {
	w.Mutex.Lock()
	n, err = w.Writer.Write(p)
	w.Mutex.Unlock()
	return
}

func newConsoleWriters() (stdout *consoleWriter, stderr *consoleWriter) {
	mutex := new(sync.Mutex)
	stdoutTTY := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	stderrTTY := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	stdout = &consoleWriter{colorable.NewColorableStdout(), stdoutTTY, mutex}
	stderr = &consoleWriter{colorable.NewColorableStderr(), stderrTTY, mutex}
	return
}

// noColorWriters drops ANSI escapes from console output.
func (s *globalState) noColorWriters() {
	s.stdout.Writer = colorable.NewNonColorable(s.stdout.Writer)
	s.stderr.Writer = colorable.NewNonColorable(s.stderr.Writer)
	s.stdout.IsTTY, s.stderr.IsTTY = false, false
}

func newLogger(stderr io.Writer) *logrus.Logger {
	return &logrus.Logger{
		Out:       stderr,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}
}

// RawFormatter prints only the message.
type RawFormatter struct{}

func (f RawFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return append([]byte(entry.Message), '\n'), nil
}

// setupLogger applies level and format. Flags win over conf.
func setupLogger(state *globalState, conf hemi.Config) error {
	if state.noColor {
		state.noColorWriters()
	}
	level, err := logrus.ParseLevel(conf.LogLevel.String)
	if err != nil {
		return fmt.Errorf("bad log level %q: %w", conf.LogLevel.String, err)
	}
	if state.verbose {
		level = logrus.DebugLevel
	}
	state.logger.SetLevel(level)

	format := conf.LogFormat.String
	if state.logFormat != "" {
		format = state.logFormat
	}
	switch strings.ToLower(format) {
	case "raw":
		state.logger.SetFormatter(&RawFormatter{})
	case "json":
		state.logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		state.logger.SetFormatter(&logrus.TextFormatter{ForceColors: state.stderr.IsTTY, DisableColors: state.noColor})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	state.logger.Debugf("logger is set up: level=%s format=%s", level, format)
	return nil
}

// BannerColor is the color of the banner printed at startup.
var BannerColor = color.New(color.FgCyan)

func banner(opts *Opts) string {
	title := opts.ProgramTitle
	rule := strings.Repeat("-", len(title)+4)
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s\n  %s\n%s\n", rule, title, rule)
	fmt.Fprintf(&b, "  version %s\n", opts.Version)
	return b.String()
}

func printBanner(state *globalState) {
	text := banner(state.opts)
	if state.stdout.IsTTY && !state.noColor {
		text = BannerColor.Sprint(text)
	}
	fprintf(state.stdout, "\n%s\n", text)
}

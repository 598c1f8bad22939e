// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package process

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"

	"github.com/mdaniel/svn-caucho-com-resin-sub019/hemi"
)

// Panic if the given error is not nil.
func must(err error) {
	if err != nil {
		panic(err)
	}
}

func rootFlagSet(state *globalState) *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.StringVarP(&state.configFile, "config", "c", state.configFile, "YAML config file")
	flags.Lookup("config").DefValue = "conf/<program>.yaml next to the executable, if it exists"
	must(cobra.MarkFlagFilename(flags, "config", "yaml", "yml"))
	flags.BoolVarP(&state.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVarP(&state.quiet, "quiet", "q", false, "don't print the banner")
	flags.BoolVar(&state.noColor, "no-color", false, "disable colored output")
	flags.StringVar(&state.logFormat, "log-format", "", "log output format: text, json, or raw")
	return flags
}

// configFlagSet has a flag for every config key. Only flags set on the command line override other layers.
func configFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.StringP("address", "a", ":8080", "address to listen on")
	flags.String("handler", "hello", "sign of the handler serving requests")
	flags.Duration("read-timeout", 0, "read timeout once a request has started")
	flags.Duration("write-timeout", 0, "write timeout")
	flags.Duration("idle-timeout", 0, "how long a kept-alive connection may wait for its next request")
	flags.Int64("max-input-size", 0, "max size of a request head: 4096, 16384, or 65535")
	flags.Int64("max-header-fields", 0, "max number of header fields in a request")
	flags.Int64("max-requests-per-conn", 0, "max number of requests on one connection, 0 means unlimited")
	flags.Int64("max-drain-size", 0, "max size of an unread request body dropped to keep the connection")
	flags.Int64("max-conns", 0, "max number of concurrent connections, 0 means unlimited")
	flags.Float64("accept-rate", 0, "max number of accepted connections per second, 0 means unlimited")
	flags.Int64("accept-burst", 0, "burst size of accepted connections")
	flags.String("server-name", "hemi", "value of the server header field")
	flags.String("default-charset", "utf-8", "charset added to content-type when a handler sets none")
	flags.Duration("stat-interval", 0, "interval of the stat job, 0 disables it")
	flags.Duration("shutdown-timeout", 0, "how long shutdown waits for connections")
	flags.String("log-level", "info", "log level: trace, debug, info, warn, error")
	return flags
}

func getConfig(flags *pflag.FlagSet) hemi.Config {
	return hemi.Config{
		Address:            getNullString(flags, "address"),
		Handler:            getNullString(flags, "handler"),
		ReadTimeout:        getNullDuration(flags, "read-timeout"),
		WriteTimeout:       getNullDuration(flags, "write-timeout"),
		IdleTimeout:        getNullDuration(flags, "idle-timeout"),
		MaxInputSize:       getNullInt64(flags, "max-input-size"),
		MaxHeaderFields:    getNullInt64(flags, "max-header-fields"),
		MaxRequestsPerConn: getNullInt64(flags, "max-requests-per-conn"),
		MaxDrainSize:       getNullInt64(flags, "max-drain-size"),
		MaxConns:           getNullInt64(flags, "max-conns"),
		AcceptRate:         getNullFloat64(flags, "accept-rate"),
		AcceptBurst:        getNullInt64(flags, "accept-burst"),
		ServerName:         getNullString(flags, "server-name"),
		DefaultCharset:     getNullString(flags, "default-charset"),
		StatInterval:       getNullDuration(flags, "stat-interval"),
		ShutdownTimeout:    getNullDuration(flags, "shutdown-timeout"),
		LogLevel:           getNullString(flags, "log-level"),
		LogFormat:          getNullString(flags, "log-format"),
	}
}

// TODO: generate the flags from the json tags of hemi.Config so a new key can't be forgotten here.
func getNullInt64(flags *pflag.FlagSet, key string) null.Int {
	v, err := flags.GetInt64(key)
	if err != nil {
		panic(err)
	}
	return null.NewInt(v, flags.Changed(key))
}

func getNullFloat64(flags *pflag.FlagSet, key string) null.Float {
	v, err := flags.GetFloat64(key)
	if err != nil {
		panic(err)
	}
	return null.NewFloat(v, flags.Changed(key))
}

func getNullDuration(flags *pflag.FlagSet, key string) hemi.NullDuration {
	v, err := flags.GetDuration(key)
	if err != nil {
		panic(err)
	}
	return hemi.NewNullDuration(v, flags.Changed(key))
}

func getNullString(flags *pflag.FlagSet, key string) null.String {
	v, err := flags.GetString(key)
	if err != nil {
		panic(err)
	}
	return null.NewString(v, flags.Changed(key))
}

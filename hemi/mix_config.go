// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Server configuration. Defaults, a YAML file, the environment and CLI flags are layered in that order.

package hemi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mstoykov/envconfig"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"
)

// NullDuration is a nullable time.Duration that unmarshals from "30s"-like text or a number of milliseconds.
type NullDuration struct {
	Duration time.Duration
	Valid    bool
}

// NewNullDuration returns a NullDuration with the given validity.
func NewNullDuration(d time.Duration, valid bool) NullDuration { return NullDuration{d, valid} }

// NullDurationFrom returns a valid NullDuration.
func NullDurationFrom(d time.Duration) NullDuration { return NullDuration{d, true} }

func (d *NullDuration) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*d = NullDuration{}
		return nil
	}
	v, err := time.ParseDuration(string(data))
	if err != nil {
		return err
	}
	*d = NullDuration{v, true}
	return nil
}
func (d *NullDuration) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte(`null`)) {
		*d = NullDuration{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return d.UnmarshalText([]byte(s))
	}
	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		return err
	}
	*d = NullDuration{time.Duration(ms * float64(time.Millisecond)), true}
	return nil
}
func (d NullDuration) MarshalText() ([]byte, error) {
	if !d.Valid {
		return []byte{}, nil
	}
	return []byte(d.Duration.String()), nil
}
func (d NullDuration) MarshalJSON() ([]byte, error) {
	if !d.Valid {
		return []byte(`null`), nil
	}
	return json.Marshal(d.Duration.String())
}

// TimeDuration returns the duration, or 0 when the value is not set.
func (d NullDuration) TimeDuration() time.Duration { return d.Duration }

// Config holds every tunable of a Server.
type Config struct {
	Address            null.String  `json:"address" yaml:"address" envconfig:"HEMI_ADDRESS"`
	Handler            null.String  `json:"handler" yaml:"handler" envconfig:"HEMI_HANDLER"`
	ReadTimeout        NullDuration `json:"readTimeout" yaml:"readTimeout" envconfig:"HEMI_READ_TIMEOUT"`
	WriteTimeout       NullDuration `json:"writeTimeout" yaml:"writeTimeout" envconfig:"HEMI_WRITE_TIMEOUT"`
	IdleTimeout        NullDuration `json:"idleTimeout" yaml:"idleTimeout" envconfig:"HEMI_IDLE_TIMEOUT"`
	MaxInputSize       null.Int     `json:"maxInputSize" yaml:"maxInputSize" envconfig:"HEMI_MAX_INPUT_SIZE"`
	MaxHeaderFields    null.Int     `json:"maxHeaderFields" yaml:"maxHeaderFields" envconfig:"HEMI_MAX_HEADER_FIELDS"`
	MaxRequestsPerConn null.Int     `json:"maxRequestsPerConn" yaml:"maxRequestsPerConn" envconfig:"HEMI_MAX_REQUESTS_PER_CONN"`
	MaxDrainSize       null.Int     `json:"maxDrainSize" yaml:"maxDrainSize" envconfig:"HEMI_MAX_DRAIN_SIZE"`
	MaxConns           null.Int     `json:"maxConns" yaml:"maxConns" envconfig:"HEMI_MAX_CONNS"`
	AcceptRate         null.Float   `json:"acceptRate" yaml:"acceptRate" envconfig:"HEMI_ACCEPT_RATE"`
	AcceptBurst        null.Int     `json:"acceptBurst" yaml:"acceptBurst" envconfig:"HEMI_ACCEPT_BURST"`
	ServerName         null.String  `json:"serverName" yaml:"serverName" envconfig:"HEMI_SERVER_NAME"`
	DefaultCharset     null.String  `json:"defaultCharset" yaml:"defaultCharset" envconfig:"HEMI_DEFAULT_CHARSET"`
	StatInterval       NullDuration `json:"statInterval" yaml:"statInterval" envconfig:"HEMI_STAT_INTERVAL"`
	ShutdownTimeout    NullDuration `json:"shutdownTimeout" yaml:"shutdownTimeout" envconfig:"HEMI_SHUTDOWN_TIMEOUT"`
	LogLevel           null.String  `json:"logLevel" yaml:"logLevel" envconfig:"HEMI_LOG_LEVEL"`
	LogFormat          null.String  `json:"logFormat" yaml:"logFormat" envconfig:"HEMI_LOG_FORMAT"`
}

// NewConfig returns a Config with every field set to its default.
func NewConfig() Config {
	return Config{
		Address:            null.NewString(":8080", false),
		Handler:            null.NewString("hello", false),
		ReadTimeout:        NewNullDuration(60*time.Second, false),
		WriteTimeout:       NewNullDuration(60*time.Second, false),
		IdleTimeout:        NewNullDuration(30*time.Second, false),
		MaxInputSize:       null.NewInt(_16K, false),
		MaxHeaderFields:    null.NewInt(128, false),
		MaxRequestsPerConn: null.NewInt(1000, false),
		MaxDrainSize:       null.NewInt(_1M, false),
		MaxConns:           null.NewInt(10000, false),
		AcceptRate:         null.NewFloat(0, false), // unlimited
		AcceptBurst:        null.NewInt(100, false),
		ServerName:         null.NewString("hemi", false),
		DefaultCharset:     null.NewString("utf-8", false),
		StatInterval:       NewNullDuration(time.Minute, false),
		ShutdownTimeout:    NewNullDuration(10*time.Second, false),
		LogLevel:           null.NewString("info", false),
		LogFormat:          null.NewString("text", false),
	}
}

// Apply returns c with every valid field of cfg copied over it.
func (c Config) Apply(cfg Config) Config {
	if cfg.Address.Valid && cfg.Address.String != "" {
		c.Address = cfg.Address
	}
	if cfg.Handler.Valid && cfg.Handler.String != "" {
		c.Handler = cfg.Handler
	}
	if cfg.ReadTimeout.Valid {
		c.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout.Valid {
		c.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.IdleTimeout.Valid {
		c.IdleTimeout = cfg.IdleTimeout
	}
	if cfg.MaxInputSize.Valid {
		c.MaxInputSize = cfg.MaxInputSize
	}
	if cfg.MaxHeaderFields.Valid {
		c.MaxHeaderFields = cfg.MaxHeaderFields
	}
	if cfg.MaxRequestsPerConn.Valid {
		c.MaxRequestsPerConn = cfg.MaxRequestsPerConn
	}
	if cfg.MaxDrainSize.Valid {
		c.MaxDrainSize = cfg.MaxDrainSize
	}
	if cfg.MaxConns.Valid {
		c.MaxConns = cfg.MaxConns
	}
	if cfg.AcceptRate.Valid {
		c.AcceptRate = cfg.AcceptRate
	}
	if cfg.AcceptBurst.Valid {
		c.AcceptBurst = cfg.AcceptBurst
	}
	if cfg.ServerName.Valid && cfg.ServerName.String != "" {
		c.ServerName = cfg.ServerName
	}
	if cfg.DefaultCharset.Valid && cfg.DefaultCharset.String != "" {
		c.DefaultCharset = cfg.DefaultCharset
	}
	if cfg.StatInterval.Valid {
		c.StatInterval = cfg.StatInterval
	}
	if cfg.ShutdownTimeout.Valid {
		c.ShutdownTimeout = cfg.ShutdownTimeout
	}
	if cfg.LogLevel.Valid && cfg.LogLevel.String != "" {
		c.LogLevel = cfg.LogLevel
	}
	if cfg.LogFormat.Valid && cfg.LogFormat.String != "" {
		c.LogFormat = cfg.LogFormat
	}
	return c
}

var errInvalidConfig = errors.New("invalid config")

// Validate reports every bad value of c at once.
func (c Config) Validate() error {
	var problems []string
	bad := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if c.Address.String == "" {
		bad("address is empty")
	}
	if c.Handler.String == "" {
		bad("handler is empty")
	}
	if c.ReadTimeout.Duration <= 0 {
		bad("readTimeout must be positive, got %s", c.ReadTimeout.Duration)
	}
	if c.WriteTimeout.Duration <= 0 {
		bad("writeTimeout must be positive, got %s", c.WriteTimeout.Duration)
	}
	if c.IdleTimeout.Duration <= 0 {
		bad("idleTimeout must be positive, got %s", c.IdleTimeout.Duration)
	}
	switch c.MaxInputSize.Int64 {
	case _4K, _16K, _64K1:
	default:
		bad("maxInputSize must be one of %d, %d, %d, got %d", _4K, _16K, _64K1, c.MaxInputSize.Int64)
	}
	if n := c.MaxHeaderFields.Int64; n < 1 || n > 1024 {
		bad("maxHeaderFields must be in [1, 1024], got %d", n)
	}
	if c.MaxRequestsPerConn.Int64 < 0 {
		bad("maxRequestsPerConn must not be negative")
	}
	if c.MaxDrainSize.Int64 < 0 {
		bad("maxDrainSize must not be negative")
	}
	if c.MaxConns.Int64 < 0 {
		bad("maxConns must not be negative")
	}
	if c.AcceptRate.Float64 < 0 {
		bad("acceptRate must not be negative")
	}
	if c.AcceptRate.Float64 > 0 && c.AcceptBurst.Int64 < 1 {
		bad("acceptBurst must be at least 1 when acceptRate is set")
	}
	if c.ServerName.String == "" || strings.ContainsAny(c.ServerName.String, "\r\n") {
		bad("serverName %q is not usable in a header", c.ServerName.String)
	}
	if c.DefaultCharset.String == "" || strings.ContainsAny(c.DefaultCharset.String, "\r\n;") {
		bad("defaultCharset %q is not usable in a header", c.DefaultCharset.String)
	}
	if c.StatInterval.Duration < 0 {
		bad("statInterval must not be negative")
	}
	if c.ShutdownTimeout.Duration < 0 {
		bad("shutdownTimeout must not be negative")
	}
	if _, err := logrus.ParseLevel(c.LogLevel.String); err != nil {
		bad("logLevel: %v", err)
	}
	switch c.LogFormat.String {
	case "text", "json", "raw":
	default:
		bad("logFormat must be text, json, or raw, got %q", c.LogFormat.String)
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", errInvalidConfig, strings.Join(problems, "; "))
}

// LoadConfig layers defaults, the YAML file at path (skipped when path is empty),
// the environment seen through lookupEnv, and finally cliConf. The result is validated.
func LoadConfig(fs afero.Fs, path string, lookupEnv func(string) (string, bool), cliConf Config) (Config, error) {
	result := NewConfig()

	if path != "" {
		fileConf, err := readConfigFile(fs, path)
		if err != nil {
			return result, err
		}
		result = result.Apply(fileConf)
	}

	envConf := Config{}
	if err := envconfig.Process("", &envConf, lookupEnv); err != nil {
		return result, fmt.Errorf("cannot parse environment: %w", err)
	}
	result = result.Apply(envConf)

	result = result.Apply(cliConf)
	return result, result.Validate()
}

func readConfigFile(fs afero.Fs, path string) (Config, error) {
	conf := Config{}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return conf, fmt.Errorf("cannot read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return conf, fmt.Errorf("cannot parse config file %q: %w", path, err)
	}
	return conf, nil
}

// MarshalConfig renders the effective values of c as YAML.
func MarshalConfig(c Config) ([]byte, error) {
	out := map[string]any{
		"address":            c.Address.String,
		"handler":            c.Handler.String,
		"readTimeout":        c.ReadTimeout.Duration.String(),
		"writeTimeout":       c.WriteTimeout.Duration.String(),
		"idleTimeout":        c.IdleTimeout.Duration.String(),
		"maxInputSize":       c.MaxInputSize.Int64,
		"maxHeaderFields":    c.MaxHeaderFields.Int64,
		"maxRequestsPerConn": c.MaxRequestsPerConn.Int64,
		"maxDrainSize":       c.MaxDrainSize.Int64,
		"maxConns":           c.MaxConns.Int64,
		"acceptRate":         c.AcceptRate.Float64,
		"acceptBurst":        c.AcceptBurst.Int64,
		"serverName":         c.ServerName.String,
		"defaultCharset":     c.DefaultCharset.String,
		"statInterval":       c.StatInterval.Duration.String(),
		"shutdownTimeout":    c.ShutdownTimeout.Duration.String(),
		"logLevel":           c.LogLevel.String,
		"logFormat":          c.LogFormat.String,
	}
	return yaml.Marshal(out)
}

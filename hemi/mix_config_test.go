// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package hemi

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"
	"gopkg.in/yaml.v3"
)

func envMap(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()
	conf, err := LoadConfig(afero.NewMemMapFs(), "", envMap(nil), Config{})
	require.NoError(t, err)
	assert.Equal(t, ":8080", conf.Address.String)
	assert.Equal(t, "hello", conf.Handler.String)
	assert.Equal(t, 60*time.Second, conf.ReadTimeout.TimeDuration())
	assert.Equal(t, 30*time.Second, conf.IdleTimeout.TimeDuration())
	assert.Equal(t, int64(_16K), conf.MaxInputSize.Int64)
	assert.Equal(t, "utf-8", conf.DefaultCharset.String)
	assert.Equal(t, "text", conf.LogFormat.String)
	assert.False(t, conf.Address.Valid, "defaults are not marked as set")
	assert.NoError(t, NewConfig().Validate())
}

func TestConfigLayers(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/hemi.yaml", []byte(`
address: ":9000"
handler: echo
idleTimeout: 5s
maxInputSize: 65535
maxRequestsPerConn: 10
acceptRate: 2.5
serverName: from-file
`), 0o644))

	t.Run("file", func(t *testing.T) {
		conf, err := LoadConfig(fs, "/etc/hemi.yaml", envMap(nil), Config{})
		require.NoError(t, err)
		assert.Equal(t, ":9000", conf.Address.String)
		assert.Equal(t, "echo", conf.Handler.String)
		assert.Equal(t, 5*time.Second, conf.IdleTimeout.TimeDuration())
		assert.Equal(t, int64(_64K1), conf.MaxInputSize.Int64)
		assert.Equal(t, int64(10), conf.MaxRequestsPerConn.Int64)
		assert.Equal(t, 2.5, conf.AcceptRate.Float64)
		assert.Equal(t, "from-file", conf.ServerName.String)
		assert.Equal(t, 60*time.Second, conf.ReadTimeout.TimeDuration(), "unset in the file")
	})
	t.Run("environment over file", func(t *testing.T) {
		conf, err := LoadConfig(fs, "/etc/hemi.yaml", envMap(map[string]string{
			"HEMI_ADDRESS":      ":9001",
			"HEMI_IDLE_TIMEOUT": "7s",
			"HEMI_LOG_FORMAT":   "json",
		}), Config{})
		require.NoError(t, err)
		assert.Equal(t, ":9001", conf.Address.String)
		assert.Equal(t, 7*time.Second, conf.IdleTimeout.TimeDuration())
		assert.Equal(t, "json", conf.LogFormat.String)
		assert.Equal(t, "echo", conf.Handler.String)
	})
	t.Run("flags over environment", func(t *testing.T) {
		conf, err := LoadConfig(fs, "/etc/hemi.yaml", envMap(map[string]string{
			"HEMI_ADDRESS": ":9001",
		}), Config{
			Address:     null.StringFrom(":9002"),
			IdleTimeout: NullDurationFrom(time.Second),
		})
		require.NoError(t, err)
		assert.Equal(t, ":9002", conf.Address.String)
		assert.Equal(t, time.Second, conf.IdleTimeout.TimeDuration())
		assert.Equal(t, "from-file", conf.ServerName.String)
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(fs, "/nowhere.yaml", envMap(nil), Config{})
		assert.Error(t, err)
	})
	t.Run("bad environment", func(t *testing.T) {
		_, err := LoadConfig(fs, "", envMap(map[string]string{"HEMI_MAX_CONNS": "many"}), Config{})
		assert.Error(t, err)
	})
}

func TestConfigBadFile(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "bad.yaml", []byte("idleTimeout: soon\n"), 0o644))
	_, err := LoadConfig(fs, "bad.yaml", envMap(nil), Config{})
	assert.ErrorContains(t, err, "bad.yaml")
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	conf := NewConfig().Apply(Config{
		ReadTimeout:     NullDurationFrom(-time.Second),
		MaxInputSize:    null.IntFrom(1000),
		MaxHeaderFields: null.IntFrom(0),
		AcceptRate:      null.FloatFrom(10),
		AcceptBurst:     null.IntFrom(0),
		DefaultCharset:  null.StringFrom("utf-8; x"),
		LogLevel:        null.StringFrom("loud"),
		LogFormat:       null.StringFrom("xml"),
	})
	err := conf.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errInvalidConfig))
	for _, problem := range []string{"readTimeout", "maxInputSize", "maxHeaderFields", "acceptBurst", "defaultCharset", "logLevel", "logFormat"} {
		assert.ErrorContains(t, err, problem)
	}
	assert.NotContains(t, err.Error(), "writeTimeout")
}

func TestConfigApplyKeepsUnset(t *testing.T) {
	t.Parallel()
	base := NewConfig().Apply(Config{Address: null.StringFrom(":1"), StatInterval: NullDurationFrom(0)})
	conf := base.Apply(Config{Address: null.NewString("", true), MaxConns: null.IntFrom(0)})
	assert.Equal(t, ":1", conf.Address.String, "an empty string does not override")
	assert.Equal(t, int64(0), conf.MaxConns.Int64)
	assert.True(t, conf.StatInterval.Valid)
	assert.Zero(t, conf.StatInterval.TimeDuration())
}

func TestNullDuration(t *testing.T) {
	t.Parallel()
	var d NullDuration
	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, NullDurationFrom(90*time.Second), d)
	require.NoError(t, json.Unmarshal([]byte(`1500`), &d))
	assert.Equal(t, NullDurationFrom(1500*time.Millisecond), d)
	require.NoError(t, json.Unmarshal([]byte(`null`), &d))
	assert.False(t, d.Valid)
	assert.Error(t, json.Unmarshal([]byte(`"later"`), &d))

	require.NoError(t, d.UnmarshalText([]byte("250ms")))
	assert.Equal(t, NullDurationFrom(250*time.Millisecond), d)
	require.NoError(t, d.UnmarshalText(nil))
	assert.False(t, d.Valid)

	data, err := json.Marshal(NullDurationFrom(2 * time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `"2s"`, string(data))
	data, err = json.Marshal(NullDuration{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestMarshalConfig(t *testing.T) {
	t.Parallel()
	conf := NewConfig().Apply(Config{Address: null.StringFrom(":9090"), IdleTimeout: NullDurationFrom(5 * time.Second)})
	data, err := MarshalConfig(conf)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, yaml.Unmarshal(data, &out))
	assert.Equal(t, ":9090", out["address"])
	assert.Equal(t, "5s", out["idleTimeout"])
	assert.Equal(t, _16K, out["maxInputSize"])
	assert.Equal(t, "hello", out["handler"])

	// What is printed loads back to the same config.
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "out.yaml", data, 0o644))
	loaded, err := LoadConfig(fs, "out.yaml", envMap(nil), Config{})
	require.NoError(t, err)
	assert.Equal(t, conf.Address.String, loaded.Address.String)
	assert.Equal(t, conf.IdleTimeout.TimeDuration(), loaded.IdleTimeout.TimeDuration())
	assert.Equal(t, conf.AcceptRate.Float64, loaded.AcceptRate.Float64)
	assert.Equal(t, conf.MaxDrainSize.Int64, loaded.MaxDrainSize.Int64)
}

// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package hemi

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"
)

func init() {
	RegisterHandler("test-uri", func(cfg *Config) Handler { return writeURI })
	RegisterHandler("test-echo", func(cfg *Config) Handler { return streamEcho })
}

func TestHandlerRegistry(t *testing.T) {
	t.Parallel()
	signs := HandlerSigns()
	assert.Contains(t, signs, "test-uri")
	assert.Contains(t, signs, "test-echo")
	assert.True(t, sort.StringsAreSorted(signs))

	handler, err := CreateHandler("test-uri", nil)
	require.NoError(t, err)
	assert.NotNil(t, handler)

	_, err = CreateHandler("missing", nil)
	assert.ErrorContains(t, err, `unknown handler "missing"`)
	assert.ErrorContains(t, err, "test-uri")

	assert.Panics(t, func() {
		RegisterHandler("test-uri", func(cfg *Config) Handler { return nil })
	})
}

func TestNewServerByHandlerSign(t *testing.T) {
	t.Parallel()
	server, err := NewServer(testConfig(func(c *Config) { c.Handler = null.StringFrom("test-uri") }), nil)
	require.NoError(t, err)
	resps := readResponses(t, serveScript(t, server, "GET /by-sign HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"), "GET")
	assert.Equal(t, "/by-sign", bodyOf(t, resps[0]))

	_, err = NewServer(testConfig(func(c *Config) { c.Handler = null.StringFrom("missing") }), nil)
	assert.Error(t, err)
	_, err = NewServer(testConfig(withMaxInputSize(100)), writeURI)
	assert.ErrorIs(t, err, errInvalidConfig)
}

func TestStatusError(t *testing.T) {
	t.Parallel()
	err := error(&StatusError{Status: StatusBadRequest, Reason: "bad chunk"})
	assert.Equal(t, "bad request: status=400 reason=bad chunk", err.Error())
	assert.True(t, errors.Is(err, ErrBadRequest))
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, int16(StatusBadRequest), statusErr.Status)
	assert.Equal(t, "bad request: status=431", (&StatusError{Status: StatusRequestHeaderFieldsTooLarge}).Error())
}

func TestFieldHashes(t *testing.T) {
	t.Parallel()
	for name, hash := range map[string]uint16{
		string(bytesCacheControl):     hashCacheControl,
		string(bytesConnection):       hashConnection,
		string(bytesContentLength):    hashContentLength,
		string(bytesContentType):      hashContentType,
		string(bytesDate):             hashDate,
		string(bytesETag):             hashETag,
		string(bytesExpect):           hashExpect,
		string(bytesHost):             hashHost,
		string(bytesLastModified):     hashLastModified,
		string(bytesServer):           hashServer,
		string(bytesTransferEncoding): hashTransferEncoding,
		string(bytesVary):             hashVary,
	} {
		assert.Equal(t, hash, stringHash(name), name)
		assert.Equal(t, hash, bytesHash([]byte(name)), name)
	}
	assert.Equal(t, stringHash("content-length"), stringHash("Content-Length"))
}

func TestRequestHeadAccessors(t *testing.T) {
	t.Parallel()
	server := newTestServer(t, nil)
	req := recvTestHead(t, server, "get /p?q=1 HTTP/1.1\r\nHost: example.org\r\nX-A: 1\r\nx-a: 2\r\nContent-Length: 0\r\n\r\n")
	require.Equal(t, int16(StatusOK), req.headResult, req.failReason)
	head := req.Head()

	assert.Equal(t, "GET", string(head.Method()))
	assert.True(t, head.IsMethod("GET"))
	assert.Equal(t, "/p?q=1", string(head.URI()))
	assert.Equal(t, "example.org", string(head.Host()))
	assert.Equal(t, uint16(Version1_1), head.Version())
	assert.Equal(t, "HTTP/1.1", head.VersionString())
	assert.Equal(t, "HTTP/1.1", req.Protocol())
	assert.Equal(t, int8(FramingNone), head.Framing())
	assert.Equal(t, int64(0), head.ContentLength())
	assert.Equal(t, 4, head.NumHeaders())

	name, value := head.HeaderAt(1)
	assert.Equal(t, "X-A", string(name))
	assert.Equal(t, "1", string(value))
	value, ok := head.Header("x-A")
	require.True(t, ok)
	assert.Equal(t, "1", string(value))
	assert.Equal(t, [][]byte{[]byte("1"), []byte("2")}, head.Headers("X-a"))
	_, ok = head.Header("x-b")
	assert.False(t, ok)
	assert.Equal(t, "127.0.0.1:50000", req.RemoteAddr().String())
}

func TestHTTPVersionString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "HTTP/1.0", httpVersionString(Version1_0))
	assert.Equal(t, "HTTP/0.9", httpVersionString(Version0_9))
}

// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package hemi

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

// scriptConn hands out its chunks one read at a time, then fails with err (io.EOF by default).
type scriptConn struct {
	chunks [][]byte
	err    error
	out    bytes.Buffer
	closed bool
}

func newScriptConn(chunks ...string) *scriptConn {
	c := new(scriptConn)
	for _, chunk := range chunks {
		c.chunks = append(c.chunks, []byte(chunk))
	}
	return c
}

func (c *scriptConn) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	if c.chunks[0] = c.chunks[0][n:]; len(c.chunks[0]) == 0 {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}
func (c *scriptConn) Write(p []byte) (int, error)        { return c.out.Write(p) }
func (c *scriptConn) Close() error                       { c.closed = true; return nil }
func (c *scriptConn) LocalAddr() net.Addr                { return fakeAddr("127.0.0.1:8080") }
func (c *scriptConn) RemoteAddr() net.Addr               { return fakeAddr("127.0.0.1:50000") }
func (c *scriptConn) SetDeadline(t time.Time) error      { return nil }
func (c *scriptConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *scriptConn) SetWriteDeadline(t time.Time) error { return nil }

// byteByByte splits s into one-byte chunks.
func byteByByte(s string) []string {
	chunks := make([]string, len(s))
	for i := range s {
		chunks[i] = s[i : i+1]
	}
	return chunks
}

func testConfig(mutates ...func(c *Config)) Config {
	cfg := Config{StatInterval: NullDurationFrom(0)}
	for _, mutate := range mutates {
		mutate(&cfg)
	}
	return cfg
}

func withMaxInputSize(size int64) func(c *Config) {
	return func(c *Config) { c.MaxInputSize = null.IntFrom(size) }
}

func newTestServer(t *testing.T, handler Handler, mutates ...func(c *Config)) *Server {
	t.Helper()
	if handler == nil {
		handler = HandlerFunc(func(req RequestSource, resp ServerResponse) {})
	}
	server, err := NewServer(testConfig(mutates...), handler)
	require.NoError(t, err)
	return server
}

// serveScript serves the chunks on one connection and returns everything written back.
func serveScript(t *testing.T, server *Server, chunks ...string) string {
	t.Helper()
	conn := newScriptConn(chunks...)
	server.ServeConn(conn)
	require.True(t, conn.closed)
	return conn.out.String()
}

// readResponses parses n responses from out. methods are the request methods, in order.
func readResponses(t *testing.T, out string, methods ...string) []*http.Response {
	t.Helper()
	reader := bufio.NewReader(strings.NewReader(out))
	resps := make([]*http.Response, 0, len(methods))
	for _, method := range methods {
		resp, err := http.ReadResponse(reader, &http.Request{Method: method})
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		resp.Body = io.NopCloser(bytes.NewReader(body))
		resps = append(resps, resp)
	}
	rest, _ := io.ReadAll(reader)
	require.Empty(t, string(rest), "unexpected bytes after the responses")
	return resps
}

func bodyOf(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

// encodeChunked frames body as chunks of at most size bytes.
func encodeChunked(body []byte, size int) string {
	var b strings.Builder
	for len(body) > 0 {
		n := size
		if n > len(body) {
			n = len(body)
		}
		b.WriteString(strconv.FormatInt(int64(n), 16))
		b.WriteString("\r\n")
		b.Write(body[:n])
		b.WriteString("\r\n")
		body = body[n:]
	}
	b.WriteString("0\r\n\r\n")
	return b.String()
}

func pattern(size int) []byte {
	p := make([]byte, size)
	for i := range p {
		p[i] = byte('a' + i%26)
	}
	return p
}

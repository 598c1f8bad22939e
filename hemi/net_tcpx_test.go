// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package hemi

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gopkg.in/guregu/null.v3"
)

// startServer serves on a loopback listener. The returned channel gets what Serve returns.
func startServer(t *testing.T, ctx context.Context, server *Server) (addr string, served <-chan error) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, listener) }()
	return listener.Addr().String(), done
}

func waitServed(t *testing.T, served <-chan error) {
	t.Helper()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	server := newTestServer(t, writeURI, func(c *Config) {
		c.ShutdownTimeout = NullDurationFrom(2 * time.Second)
	})
	addr, served := startServer(t, context.Background(), server)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	reader := bufio.NewReader(conn)

	_, err = io.WriteString(conn, "GET /first HTTP/1.1\r\nHost: test\r\n\r\n")
	require.NoError(t, err)
	resp, err := http.ReadResponse(reader, &http.Request{Method: "GET"})
	require.NoError(t, err)
	assert.Equal(t, "/first", bodyOf(t, resp))
	assert.Equal(t, "keep-alive", resp.Header.Get("Connection"))

	// The connection is idle now. Shutdown wakes it up and it is closed without a response.
	server.Shutdown()
	waitServed(t, served)
	assert.True(t, server.IsShut())

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = reader.ReadByte()
	assert.ErrorIs(t, err, io.EOF)

	_, err = net.Dial("tcp", addr)
	assert.Error(t, err, "the listener is closed")
	assert.Equal(t, int64(0), server.Stats().CurConns)
}

func TestServeContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	server := newTestServer(t, writeURI, func(c *Config) {
		c.StatInterval = NullDurationFrom(10 * time.Millisecond)
	})
	ctx, cancel := context.WithCancel(context.Background())
	addr, served := startServer(t, ctx, server)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, "GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	require.NoError(t, err)
	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: "GET"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	waitServed(t, served)
	assert.Equal(t, int64(1), server.Stats().TotalRequests)
}

func TestServeShutdownTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	release := make(chan struct{})
	server := newTestServer(t, HandlerFunc(func(req RequestSource, resp ServerResponse) {
		<-release
	}), func(c *Config) {
		c.ShutdownTimeout = NullDurationFrom(100 * time.Millisecond)
	})
	defer close(release)
	addr, served := startServer(t, context.Background(), server)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return server.Stats().CurConns == 1 }, 5*time.Second, 10*time.Millisecond)

	// The busy connection is closed under the handler when the timeout expires.
	server.Shutdown()
	go func() {
		time.Sleep(200 * time.Millisecond)
		release <- struct{}{}
	}()
	waitServed(t, served)
}

func TestServeMaxConns(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	server := newTestServer(t, writeURI, func(c *Config) {
		c.MaxConns = null.IntFrom(1)
		c.ShutdownTimeout = NullDurationFrom(time.Second)
	})
	addr, served := startServer(t, context.Background(), server)

	first, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return server.Stats().CurConns == 1 }, 5*time.Second, 10*time.Millisecond)

	// The second connection waits in the backlog until the first one is gone.
	second, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer second.Close()
	_, err = io.WriteString(second, "GET /second HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(1), server.Stats().TotalConns)

	first.Close()
	resp, err := http.ReadResponse(bufio.NewReader(second), &http.Request{Method: "GET"})
	require.NoError(t, err)
	assert.Equal(t, "/second", bodyOf(t, resp))

	server.Shutdown()
	waitServed(t, served)
}

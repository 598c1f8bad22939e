// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package echo

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/mdaniel/svn-caucho-com-resin-sub019/hemi"
)

// exchange sends request on a fresh connection and reads one response.
func exchange(t *testing.T, request string, method string) (*http.Response, []byte) {
	t.Helper()
	server, err := hemi.NewServer(hemi.Config{Handler: null.StringFrom("echo")}, nil)
	require.NoError(t, err)

	client, serverSide := net.Pipe()
	defer client.Close()
	go server.ServeConn(serverSide)
	go io.WriteString(client, request)

	resp, err := http.ReadResponse(bufio.NewReader(client), &http.Request{Method: method})
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestEchoSized(t *testing.T) {
	t.Parallel()
	resp, body := exchange(t, "POST / HTTP/1.1\r\nHost: x\r\nContent-Type: text/csv\r\nX-Echo: a\r\nX-Echo: b\r\nContent-Length: 5\r\nConnection: close\r\n\r\nhello", "POST")
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, int64(5), resp.ContentLength)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "private", resp.Header.Get("Cache-Control"))
	assert.Equal(t, []string{"a", "b"}, resp.Header.Values("X-Echoed"))
	assert.Empty(t, resp.Trailer)
}

func TestEchoChunked(t *testing.T) {
	t.Parallel()
	data := bytes.Repeat([]byte("0123456789"), 5000)
	var request bytes.Buffer
	request.WriteString("PUT /upload HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\nConnection: close\r\n\r\n")
	for rest := data; len(rest) > 0; {
		n := min(len(rest), 7000)
		request.WriteString(strconv.FormatInt(int64(n), 16) + "\r\n")
		request.Write(rest[:n])
		request.WriteString("\r\n")
		rest = rest[n:]
	}
	request.WriteString("0\r\n\r\n")

	resp, body := exchange(t, request.String(), "PUT")
	assert.Equal(t, data, body)
	assert.Equal(t, []string{"chunked"}, resp.TransferEncoding)
	assert.Equal(t, "application/octet-stream; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, strconv.Itoa(len(data)), resp.Trailer.Get("X-Echo-Size"))
}

func TestEchoEmpty(t *testing.T) {
	t.Parallel()
	resp, body := exchange(t, "GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n", "GET")
	assert.Empty(t, body)
	assert.Equal(t, int64(0), resp.ContentLength)
}

func TestEchoBadChunk(t *testing.T) {
	t.Parallel()
	resp, body := exchange(t, "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\nxyz\r\n\r\n", "POST")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.True(t, resp.Close)
	assert.Equal(t, "bad chunk", string(body))
}

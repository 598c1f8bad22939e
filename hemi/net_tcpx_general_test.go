// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

package hemi

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptReader is a sourceReader over a scriptConn.
type scriptReader struct{ conn *scriptConn }

func (r scriptReader) read(dst []byte) (int, error) { return r.conn.Read(dst) }

// stuckReader returns neither bytes nor an error.
type stuckReader struct{}

func (stuckReader) read(dst []byte) (int, error) { return 0, nil }

func newTestSource(limit int32, chunks ...string) (*byteSource, *bufferStore) {
	store := new(bufferStore)
	source := new(byteSource)
	source.init(scriptReader{newScriptConn(chunks...)}, store, limit)
	return source, store
}

func TestByteSourceFill(t *testing.T) {
	t.Parallel()
	source, _ := newTestSource(_4K, "hello", " world")
	defer source.free()

	n, err := source.fill()
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	n, err = source.fill()
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	buf, offset, length := source.bytes()
	assert.Equal(t, "hello world", string(buf[offset:offset+length]))

	p := make([]byte, 6)
	assert.Equal(t, 6, source.take(p))
	assert.Equal(t, "hello ", string(p))
	assert.Equal(t, int32(5), source.available())

	_, err = source.fill()
	assert.ErrorIs(t, err, io.EOF)
}

func TestByteSourceNoProgress(t *testing.T) {
	t.Parallel()
	var source byteSource
	source.init(stuckReader{}, new(bufferStore), _4K)
	defer source.free()
	_, err := source.fill()
	assert.ErrorIs(t, err, io.ErrNoProgress)
}

func TestByteSourceSlide(t *testing.T) {
	t.Parallel()
	source, store := newTestSource(_4K, strings.Repeat("a", stockInputSize), "bcd")
	defer source.free()

	_, err := source.fill()
	require.NoError(t, err)
	p := make([]byte, stockInputSize-2)
	source.take(p)

	// The stock buffer is full, but consumed bytes can be dropped.
	_, err = source.fill()
	require.NoError(t, err)
	assert.Zero(t, store.grows)
	buf, offset, length := source.bytes()
	assert.Equal(t, int32(0), offset)
	assert.Equal(t, "aabcd", string(buf[offset:offset+length]))
}

func TestByteSourcePinnedHead(t *testing.T) {
	t.Parallel()
	source, store := newTestSource(_4K, strings.Repeat("h", stockInputSize), "xyz")
	defer source.free()

	_, err := source.fill()
	require.NoError(t, err)
	source.inputNext = stockInputSize - 1
	source.inputBase = stockInputSize - 1 // everything before is a request head

	_, err = source.fill()
	require.NoError(t, err)
	assert.Equal(t, int32(1), store.grows, "pinned bytes are never slid away, so it grows")
	assert.Equal(t, strings.Repeat("h", stockInputSize)+"xyz", string(source.input[:source.inputEdge]))
}

func TestByteSourceInputFull(t *testing.T) {
	t.Parallel()
	source, _ := newTestSource(_4K, strings.Repeat("x", _4K), "more")
	defer source.free()
	for {
		if _, err := source.fill(); err != nil {
			assert.True(t, errors.Is(err, errInputFull))
			break
		}
	}
	assert.Equal(t, int32(_4K), source.inputEdge)
}

func TestByteSourceReadLine(t *testing.T) {
	t.Parallel()
	text := "first\r\nsecond\n" + strings.Repeat("z", 2*stockInputSize) + "\nlast"
	source, _ := newTestSource(_16K, byteByByte(text)...)
	defer source.free()

	for _, want := range []string{"first\r", "second", strings.Repeat("z", 2*stockInputSize)} {
		line, err := source.readLine()
		require.NoError(t, err)
		assert.Equal(t, want, string(line))
	}
	_, err := source.readLine()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, int32(4), source.available())
}

func TestByteSourceCompact(t *testing.T) {
	t.Parallel()
	source, _ := newTestSource(_4K, "GET / HTTP/1.1\r\n\r\nnext")
	defer source.free()
	_, err := source.fill()
	require.NoError(t, err)
	source.inputNext = int32(len("GET / HTTP/1.1\r\n\r\n"))
	source.inputBase = source.inputNext

	source.compact()
	assert.Equal(t, int32(0), source.inputBase)
	assert.Equal(t, int32(0), source.inputNext)
	assert.Equal(t, "next", string(source.input[:source.inputEdge]))

	source.take(make([]byte, 4))
	source.compact()
	assert.Equal(t, int32(0), source.inputEdge)
}

func TestSetDeadline(t *testing.T) {
	t.Parallel()
	var last time.Time
	calls := 0
	set := func(time.Time) error { calls++; return nil }
	require.NoError(t, _setDeadline(&last, time.Minute, set))
	require.NoError(t, _setDeadline(&last, time.Minute, set))
	assert.Equal(t, 1, calls, "a deadline moved by less than a second is kept")
	require.NoError(t, _setDeadline(&last, time.Hour, set))
	assert.Equal(t, 2, calls)

	failed := errors.New("closed")
	before := last
	assert.ErrorIs(t, _setDeadline(&last, time.Second, func(time.Time) error { return failed }), failed)
	assert.Equal(t, before, last)
}

func TestCloseWrite(t *testing.T) {
	t.Parallel()
	var conn tcpxConn_
	conn.netConn = newScriptConn()
	assert.False(t, conn.closeWrite(), "not a half-closable conn")
}

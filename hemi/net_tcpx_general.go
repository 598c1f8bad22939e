// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// TCPX (TCP/UDS) connection types. See RFC 9293.

package hemi

import (
	"io"
	"net"
	"sync/atomic"
	"time"
)

// tcpxConn_ is a parent.
type tcpxConn_ struct { // for server1Conn
	// Conn states (stocks)
	stockBuffer [256]byte // a (fake) buffer to workaround Go's conservative escape analysis
	// Conn states (non-zeros)
	id      int64    // the conn id
	server  *Server  // the server to which the connection belongs
	netConn net.Conn // *net.TCPConn, *net.UnixConn, or an in-memory conn in tests
	// Conn states (zeros)
	lastRead    time.Time   // deadline of last read operation
	lastWrite   time.Time   // deadline of last write operation
	broken      atomic.Bool // is connection broken?
	vector      net.Buffers // used by writeVec()
	fixedVector [6][]byte   // for vector
}

func (c *tcpxConn_) onGet(id int64, server *Server, netConn net.Conn) {
	c.id = id
	c.server = server
	c.netConn = netConn
}
func (c *tcpxConn_) onPut() {
	c.server = nil
	c.netConn = nil
	c.lastRead = time.Time{}
	c.lastWrite = time.Time{}
	c.broken.Store(false)
	c.vector = nil
	c.fixedVector = [6][]byte{}
}

func (c *tcpxConn_) markBroken()    { c.broken.Store(true) }
func (c *tcpxConn_) isBroken() bool { return c.broken.Load() }

func (c *tcpxConn_) remoteAddr() net.Addr { return c.netConn.RemoteAddr() }

func (c *tcpxConn_) buffer256() []byte { return c.stockBuffer[:] }

// _setDeadline is skipped when the new deadline moves less than a second from the last one.
func _setDeadline(last *time.Time, timeout time.Duration, set func(time.Time) error) error {
	deadline := time.Now().Add(timeout)
	if d := deadline.Sub(*last); d < time.Second && d > -time.Second {
		return nil
	}
	if err := set(deadline); err != nil {
		return err
	}
	*last = deadline
	return nil
}
func (c *tcpxConn_) setReadDeadline(timeout time.Duration) error {
	return _setDeadline(&c.lastRead, timeout, c.netConn.SetReadDeadline)
}
func (c *tcpxConn_) setWriteDeadline() error {
	return _setDeadline(&c.lastWrite, c.server.WriteTimeout(), c.netConn.SetWriteDeadline)
}

func (c *tcpxConn_) read(dst []byte) (int, error)  { return c.netConn.Read(dst) }
func (c *tcpxConn_) write(src []byte) (int, error) { return c.netConn.Write(src) }
func (c *tcpxConn_) writeVec(srcVec *net.Buffers) (int64, error) {
	return srcVec.WriteTo(c.netConn)
}

// closeWrite half-closes the connection if it supports that.
func (c *tcpxConn_) closeWrite() bool {
	if closer, ok := c.netConn.(interface{ CloseWrite() error }); ok {
		return closer.CloseWrite() == nil
	}
	return false
}

// sourceReader is the read side of a connection.
type sourceReader interface {
	read(dst []byte) (int, error)
}

// byteSource is the input of a connection. Bytes in input[inputNext:inputEdge] are available.
// Bytes before inputBase are pinned, they hold the head of the current request.
type byteSource struct {
	// Assocs
	reader sourceReader
	store  *bufferStore
	// States
	input     []byte // [<stock>/4K/16K/64K1]
	inputBase int32  // fill() never slides data below this
	inputNext int32  // next unconsumed byte
	inputEdge int32  // end of filled bytes
}

func (s *byteSource) init(reader sourceReader, store *bufferStore, limit int32) {
	s.reader = reader
	s.store = store
	s.input = store.init(limit)
	s.inputBase, s.inputNext, s.inputEdge = 0, 0, 0
}
func (s *byteSource) free() {
	if s.input != nil {
		s.store.release(s.input)
	}
	s.reader = nil
	s.store = nil
	s.input = nil
	s.inputBase, s.inputNext, s.inputEdge = 0, 0, 0
}

// bytes returns the buffer and the offset and length of available bytes in it.
func (s *byteSource) bytes() (buf []byte, offset int32, length int32) {
	return s.input, s.inputNext, s.inputEdge - s.inputNext
}

func (s *byteSource) available() int32 { return s.inputEdge - s.inputNext }

// fill reads more bytes to the end of available bytes. When the buffer is full, consumed bytes
// after inputBase are dropped first, then a larger buffer is adopted. At the limit it returns errInputFull.
func (s *byteSource) fill() (int, error) {
	if s.inputEdge == int32(cap(s.input)) {
		if s.inputNext > s.inputBase { // slide
			copy(s.input[s.inputBase:], s.input[s.inputNext:s.inputEdge])
			s.inputEdge -= s.inputNext - s.inputBase
			s.inputNext = s.inputBase
		} else if input, ok := s.store.grow(s.input, s.inputEdge); ok {
			s.input = input
		} else {
			return 0, errInputFull
		}
	}
	n, err := s.reader.read(s.input[s.inputEdge:])
	s.inputEdge += int32(n)
	if n > 0 {
		return n, nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return 0, err
}

// take copies at most len(p) available bytes into p.
func (s *byteSource) take(p []byte) int {
	n := copy(p, s.input[s.inputNext:s.inputEdge])
	s.inputNext += int32(n)
	return n
}

// readLine returns the next line without its LF and consumes it. The line stays valid until the next fill.
func (s *byteSource) readLine() ([]byte, error) {
	for {
		avail := s.input[s.inputNext:s.inputEdge]
		for i, b := range avail {
			if b == '\n' {
				line := avail[:i]
				s.inputNext += int32(i) + 1
				return line, nil
			}
		}
		if _, err := s.fill(); err != nil {
			return nil, err
		}
	}
}

// compact moves available bytes to the front so the next request head starts at 0.
func (s *byteSource) compact() {
	if s.inputNext == s.inputEdge {
		s.inputNext, s.inputEdge = 0, 0
	} else if s.inputNext > 0 {
		copy(s.input, s.input[s.inputNext:s.inputEdge])
		s.inputEdge -= s.inputNext
		s.inputNext = 0
	}
	s.inputBase = 0
}

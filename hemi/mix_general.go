// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// General types and elements for net and web.

package hemi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// holder
type holder interface {
	Address() string
	ReadTimeout() time.Duration
	WriteTimeout() time.Duration
	IdleTimeout() time.Duration
}

// _holder_ is a mixin.
type _holder_ struct { // for Server
	// States
	address      string        // :port, hostname:port
	readTimeout  time.Duration // read() timeout once a request has started
	writeTimeout time.Duration // write() timeout
	idleTimeout  time.Duration // how long a kept-alive connection may wait for its next request
}

func (h *_holder_) onConfigure(cfg *Config) {
	h.address = cfg.Address.String
	h.readTimeout = cfg.ReadTimeout.TimeDuration()
	h.writeTimeout = cfg.WriteTimeout.TimeDuration()
	h.idleTimeout = cfg.IdleTimeout.TimeDuration()
}

func (h *_holder_) Address() string             { return h.address }
func (h *_holder_) ReadTimeout() time.Duration  { return h.readTimeout }
func (h *_holder_) WriteTimeout() time.Duration { return h.writeTimeout }
func (h *_holder_) IdleTimeout() time.Duration  { return h.idleTimeout }

var ( // engine errors
	ErrBadRequest       = errors.New("bad request")
	ErrClientDisconnect = errors.New("client disconnected")
	ErrIdleTimeout      = errors.New("idle timeout")
	ErrStalledClient    = errors.New("stalled client")
)

// BugExitln panics on conditions that only a programming error can produce.
func BugExitln(v ...any) { panic(fmt.Sprintln(append([]any{"[BUG]"}, v...)...)) }

func discardLogger() *logrus.Logger {
	return &logrus.Logger{
		Out:       io.Discard,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.PanicLevel,
	}
}

// Region
type Region struct { // 512B
	blocks [][]byte  // the blocks. [<stocks>/make]
	stocks [4][]byte // for blocks. 96B
	block0 [392]byte // for blocks[0]
}

func (r *Region) Init() {
	r.blocks = r.stocks[0:1:cap(r.stocks)]                    // block0 always at 0
	r.stocks[0] = r.block0[:]                                 // first block is always block0
	binary.BigEndian.PutUint16(r.block0[cap(r.block0)-2:], 0) // reset used size of block0
}
func (r *Region) Make(size int) []byte { // good for a lot of small buffers
	if size <= 0 {
		BugExitln("bad size")
	}
	block := r.blocks[len(r.blocks)-1]
	edge := cap(block)
	ceil := edge - 2
	used := int(binary.BigEndian.Uint16(block[ceil:edge]))
	if want := used + size; want <= ceil {
		binary.BigEndian.PutUint16(block[ceil:edge], uint16(want))
		return block[used:want]
	}
	ceil = _4K - 2
	if size > ceil {
		return make([]byte, size)
	}
	block = Get4K()
	binary.BigEndian.PutUint16(block[ceil:_4K], uint16(size))
	r.blocks = append(r.blocks, block)
	return block[0:size]
}
func (r *Region) Copy(src []byte) []byte {
	if len(src) == 0 {
		return nil
	}
	dst := r.Make(len(src))
	copy(dst, src)
	return dst
}
func (r *Region) Free() {
	for i := 1; i < len(r.blocks); i++ {
		PutNK(r.blocks[i])
		r.blocks[i] = nil
	}
	if cap(r.blocks) != cap(r.stocks) {
		r.stocks = [4][]byte{}
		r.blocks = nil
	}
}

const ( // units
	K = 1 << 10
	M = 1 << 20
)

const ( // sizes
	_1K   = 1 * K    // mostly used by stock buffers
	_4K   = 4 * K    // mostly used by pooled buffers
	_16K  = 16 * K   // mostly used by pooled buffers
	_64K1 = 64*K - 1 // mostly used by pooled buffers

	_1M = 1 * M
)

var ( // pools
	pool4K   sync.Pool
	pool16K  sync.Pool
	pool64K1 sync.Pool
)

func Get4K() []byte  { return getNK(&pool4K, _4K) }
func Get16K() []byte { return getNK(&pool16K, _16K) }
func GetNK(n int64) []byte {
	if n <= _4K {
		return getNK(&pool4K, _4K)
	} else if n <= _16K {
		return getNK(&pool16K, _16K)
	} else { // n > _16K
		return getNK(&pool64K1, _64K1)
	}
}
func getNK(pool *sync.Pool, size int) []byte {
	if x := pool.Get(); x != nil {
		return x.([]byte)
	}
	return make([]byte, size)
}
func PutNK(p []byte) {
	switch cap(p) {
	case _4K:
		pool4K.Put(p[:_4K])
	case _16K:
		pool16K.Put(p[:_16K])
	case _64K1:
		pool64K1.Put(p[:_64K1])
	default:
		BugExitln("bad buffer")
	}
}

const stockInputSize = 1536

// bufferStore owns the input buffers of one connection. The stock array serves
// by default. When it overflows, a pooled 4K, 16K, then 64K buffer takes over
// and stays until the connection is closed. There is no shrinking.
type bufferStore struct {
	// Stocks
	stock [stockInputSize]byte
	// States
	limit int32 // max input size: _4K, _16K, or _64K1
	grows int32 // number of growths since init
}

func (s *bufferStore) init(limit int32) []byte {
	s.limit = limit
	s.grows = 0
	return s.stock[:]
}

// grow returns a larger buffer holding old[:edge]. old is released. It fails when old has reached the limit.
func (s *bufferStore) grow(old []byte, edge int32) ([]byte, bool) {
	size := int32(cap(old))
	if size >= s.limit {
		return old, false
	}
	var next int32
	if size < _4K {
		next = _4K
	} else if size < _16K {
		next = _16K
	} else {
		next = _64K1
	}
	buf := GetNK(int64(next))
	copy(buf, old[:edge])
	s.release(old)
	s.grows++
	return buf, true
}

func (s *bufferStore) release(buf []byte) {
	if !s.isStock(buf) {
		PutNK(buf)
	}
}

func (s *bufferStore) isStock(buf []byte) bool { return cap(buf) == cap(s.stock) }

const hexDigits = "0123456789abcdef"

func i64ToDec(i64 int64, dec []byte) int { return intToDec(i64, dec, 19) } // 19 bytes are enough to hold a positive int64
func intToDec[T int32 | int64](ixx T, dec []byte, bufSize int) int {
	if len(dec) < bufSize {
		BugExitln("dec is too small")
	}
	if ixx < 0 {
		BugExitln("negative numbers are not supported")
	}
	n := 1
	for i := ixx; i >= 10; i /= 10 {
		n++
	}
	j := n - 1
	for ixx >= 10 {
		t := ixx / 10
		dec[j] = byte(ixx - t*10 + '0')
		j--
		ixx = t
	}
	dec[j] = byte(ixx + '0')
	return n
}

func decToI64(dec []byte) (int64, bool) {
	if n := len(dec); n == 0 || n > 19 { // the max number of int64 is 19 bytes
		return 0, false
	}
	var i64 int64
	for _, b := range dec {
		if b < '0' || b > '9' {
			return 0, false
		}
		digit := int64(b - '0')
		if i64 > (math.MaxInt64-digit)/10 { // overflow
			return 0, false
		}
		i64 = i64*10 + digit
	}
	return i64, true
}

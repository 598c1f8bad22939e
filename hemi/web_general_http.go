// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// General HTTP types shared by protocol front ends and handlers. See RFC 9110.

package hemi

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
)

// RequestSource is what a protocol front end offers to a handler: the parsed head and the logical body.
type RequestSource interface {
	Protocol() string // HTTP/0.9, HTTP/1.0, HTTP/1.1
	Head() *RequestHead
	RemoteAddr() net.Addr
	Read(p []byte) (int, error) // the body, independent of its framing. io.EOF at the end
	Trailer(name string) (value []byte, ok bool)
	KeepAlive() bool
}

// ServerResponse is the response being built by a handler.
type ServerResponse interface {
	SetStatus(status int16) bool
	Status() int16
	AddHeader(name string, value string) bool
	DelHeader(name string) bool
	Header(name string) (value string, ok bool)
	SetContentLength(size int64)
	SetContentType(contentType string)
	SetCharset(charset string)
	SetNoCache()
	SetPrivateCache()
	SetNoCacheUnlessVary()
	SetConnectionClose()
	SetDuplex()
	Write(p []byte) (int, error)
	WriteString(s string) (int, error)
	Flush() error
	AddTrailer(name string, value string) bool
	IsSent() bool
}

// Handler serves one request.
type Handler interface {
	Handle(req RequestSource, resp ServerResponse)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req RequestSource, resp ServerResponse)

func (f HandlerFunc) Handle(req RequestSource, resp ServerResponse) { f(req, resp) }

var ( // handler creators
	creatorsLock    sync.RWMutex
	handlerCreators = make(map[string]func(cfg *Config) Handler) // indexed by sign
)

// RegisterHandler registers a handler creator under sign. Usually called in init().
func RegisterHandler(sign string, create func(cfg *Config) Handler) {
	creatorsLock.Lock()
	defer creatorsLock.Unlock()

	if _, ok := handlerCreators[sign]; ok {
		BugExitln("handler sign conflicted")
	}
	handlerCreators[sign] = create
}

// CreateHandler creates the handler registered under sign.
func CreateHandler(sign string, cfg *Config) (Handler, error) {
	creatorsLock.RLock()
	create, ok := handlerCreators[sign]
	creatorsLock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown handler %q, registered: %v", sign, HandlerSigns())
	}
	return create(cfg), nil
}

// HandlerSigns returns the registered signs in order.
func HandlerSigns() []string {
	creatorsLock.RLock()
	defer creatorsLock.RUnlock()

	signs := make([]string, 0, len(handlerCreators))
	for sign := range handlerCreators {
		signs = append(signs, sign)
	}
	sort.Strings(signs)
	return signs
}

// StatusError is a request rejected while its head or body was received.
type StatusError struct {
	Status int16  // -1 means an i/o failure, no status can be sent
	Reason string // may be empty
}

func (e *StatusError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("bad request: status=%d", e.Status)
	}
	return fmt.Sprintf("bad request: status=%d reason=%s", e.Status, e.Reason)
}
func (e *StatusError) Unwrap() error { return ErrBadRequest }

var ( // body errors
	errBadChunk       = errors.New("bad chunk")
	errBodyTooLarge   = errors.New("body too large to drain")
	errInputFull      = errors.New("input buffer reached its limit")
	errResponseBroken = errors.New("response broken")
	errContentTooMuch = errors.New("content exceeds content-length")
)

// span is a zero-copy [from, edge) index pair into an arena.
type span struct { // 8 bytes
	from, edge int32 // p[from:edge] is the bytes
}

func (s *span) zero() { *s = span{} }

func (s *span) size() int      { return int(s.edge - s.from) }
func (s *span) isEmpty() bool  { return s.from == s.edge }
func (s *span) notEmpty() bool { return s.from != s.edge }

func (s *span) set(from int32, edge int32) { s.from, s.edge = from, edge }

func (s *span) of(arena []byte) []byte { return arena[s.from:s.edge] }

// field is a header or trailer line.
type field struct { // 20 bytes
	hash  uint16 // sum of lower-cased name bytes
	name  span
	value span
}

// headerTable keeps header lines in arrival order. Duplicates are kept.
type headerTable struct {
	fields []field   // [<stock>/make]
	stock  [24]field // 480B
}

func (t *headerTable) init()     { t.fields = t.stock[0:0:cap(t.stock)] }
func (t *headerTable) size() int { return len(t.fields) }
func (t *headerTable) add(f field) {
	t.fields = append(t.fields, f) // beyond stock the list is reallocated
}
func (t *headerTable) reset() {
	if cap(t.fields) != cap(t.stock) {
		t.fields = nil
	}
	t.init()
}

// RequestHead is a parsed request line and header section. Every span indexes the arena.
type RequestHead struct {
	// Assocs
	arena []byte // the input buffer of the connection
	// Stream states (controlled)
	headers headerTable
	// Stream states (zeros)
	method        span
	uri           span
	host          span // from an absolute-form request-target, or the host header field
	version       uint16
	framing       int8  // see FramingXXX
	keepAlive     int8  // -1: no connection header field, 0: close, 1: keep-alive
	contentLength int64 // -1 if absent
}

func (h *RequestHead) init() {
	h.headers.init()
	h.keepAlive = -1
	h.contentLength = -1
}
func (h *RequestHead) reset() {
	h.arena = nil
	h.headers.reset()
	h.method.zero()
	h.uri.zero()
	h.host.zero()
	h.version = 0
	h.framing = FramingNone
	h.keepAlive = -1
	h.contentLength = -1
}

func (h *RequestHead) Method() []byte { return h.method.of(h.arena) }
func (h *RequestHead) URI() []byte {
	if h.uri.isEmpty() {
		return bytesSlash
	}
	return h.uri.of(h.arena)
}
func (h *RequestHead) Host() []byte          { return h.host.of(h.arena) }
func (h *RequestHead) Version() uint16       { return h.version }
func (h *RequestHead) VersionString() string { return httpVersionString(h.version) }
func (h *RequestHead) Framing() int8         { return h.framing }
func (h *RequestHead) ContentLength() int64  { return h.contentLength }
func (h *RequestHead) IsMethod(method string) bool {
	return string(h.method.of(h.arena)) == method
}

func (h *RequestHead) NumHeaders() int { return h.headers.size() }
func (h *RequestHead) HeaderAt(i int) (name []byte, value []byte) {
	f := &h.headers.fields[i]
	return f.name.of(h.arena), f.value.of(h.arena)
}

// Header returns the first value of the named header field. name is case-insensitive.
func (h *RequestHead) Header(name string) (value []byte, ok bool) {
	hash := stringHash(name)
	for i := range h.headers.fields {
		if f := &h.headers.fields[i]; f.hash == hash && bytes.EqualFold(f.name.of(h.arena), []byte(name)) {
			return f.value.of(h.arena), true
		}
	}
	return nil, false
}

// Headers returns every value of the named header field in arrival order.
func (h *RequestHead) Headers(name string) (values [][]byte) {
	hash := stringHash(name)
	for i := range h.headers.fields {
		if f := &h.headers.fields[i]; f.hash == hash && bytes.EqualFold(f.name.of(h.arena), []byte(name)) {
			values = append(values, f.value.of(h.arena))
		}
	}
	return
}

func stringHash(name string) uint16 {
	hash := uint16(0)
	for i := 0; i < len(name); i++ {
		hash += uint16(httpLower[name[i]])
	}
	return hash
}
func bytesHash(name []byte) uint16 {
	hash := uint16(0)
	for _, b := range name {
		hash += uint16(httpLower[b])
	}
	return hash
}

const ( // basic http constants
	// version codes. ordered, so they can be compared
	Version0_9 = 0x0009
	Version1_0 = 0x0100
	Version1_1 = 0x0101

	// body framing modes
	FramingNone       = 0 // no body
	FramingSized      = 1 // content-length: n
	FramingChunked    = 2 // transfer-encoding: chunked
	FramingUntilClose = 3 // body runs until the connection is closed

	// status codes
	// 1XX
	StatusContinue           = 100
	StatusSwitchingProtocols = 101
	StatusProcessing         = 102
	StatusEarlyHints         = 103
	// 2XX
	StatusOK                         = 200
	StatusCreated                    = 201
	StatusAccepted                   = 202
	StatusNonAuthoritativeInfomation = 203
	StatusNoContent                  = 204
	StatusResetContent               = 205
	StatusPartialContent             = 206
	StatusMultiStatus                = 207
	StatusAlreadyReported            = 208
	StatusIMUsed                     = 226
	// 3XX
	StatusMultipleChoices   = 300
	StatusMovedPermanently  = 301
	StatusFound             = 302
	StatusSeeOther          = 303
	StatusNotModified       = 304
	StatusUseProxy          = 305
	StatusTemporaryRedirect = 307
	StatusPermanentRedirect = 308
	// 4XX
	StatusBadRequest                  = 400
	StatusUnauthorized                = 401
	StatusPaymentRequired             = 402
	StatusForbidden                   = 403
	StatusNotFound                    = 404
	StatusMethodNotAllowed            = 405
	StatusNotAcceptable               = 406
	StatusProxyAuthenticationRequired = 407
	StatusRequestTimeout              = 408
	StatusConflict                    = 409
	StatusGone                        = 410
	StatusLengthRequired              = 411
	StatusPreconditionFailed          = 412
	StatusContentTooLarge             = 413
	StatusURITooLong                  = 414
	StatusUnsupportedMediaType        = 415
	StatusRangeNotSatisfiable         = 416
	StatusExpectationFailed           = 417
	StatusMisdirectedRequest          = 421
	StatusUnprocessableEntity         = 422
	StatusLocked                      = 423
	StatusFailedDependency            = 424
	StatusTooEarly                    = 425
	StatusUpgradeRequired             = 426
	StatusPreconditionRequired        = 428
	StatusTooManyRequests             = 429
	StatusRequestHeaderFieldsTooLarge = 431
	StatusUnavailableForLegalReasons  = 451
	// 5XX
	StatusInternalServerError           = 500
	StatusNotImplemented                = 501
	StatusBadGateway                    = 502
	StatusServiceUnavailable            = 503
	StatusGatewayTimeout                = 504
	StatusHTTPVersionNotSupported       = 505
	StatusVariantAlsoNegotiates         = 506
	StatusInsufficientStorage           = 507
	StatusLoopDetected                  = 508
	StatusNotExtended                   = 510
	StatusNetworkAuthenticationRequired = 511
)

const ( // misc http strings.
	stringHTTP0_9 = "HTTP/0.9"
	stringHTTP1_0 = "HTTP/1.0"
	stringHTTP1_1 = "HTTP/1.1"
)

func httpVersionString(version uint16) string {
	switch version {
	case Version1_1:
		return stringHTTP1_1
	case Version1_0:
		return stringHTTP1_0
	default:
		return stringHTTP0_9
	}
}

const ( // hashes of http fields. value is calculated by adding all lower-cased ASCII values.
	hashCacheControl     = 1314 // same with hashLastModified
	hashConnection       = 1072
	hashContentLength    = 1450
	hashContentType      = 1258
	hashDate             = 414
	hashETag             = 417
	hashExpect           = 649
	hashHost             = 446
	hashLastModified     = 1314
	hashServer           = 663
	hashTransferEncoding = 1753
	hashVary             = 450
)

var ( // byteses of http fields.
	bytesCacheControl     = []byte("cache-control")
	bytesConnection       = []byte("connection")
	bytesContentLength    = []byte("content-length")
	bytesContentType      = []byte("content-type")
	bytesDate             = []byte("date")
	bytesETag             = []byte("etag")
	bytesExpect           = []byte("expect")
	bytesExpires          = []byte("expires")
	bytesHost             = []byte("host")
	bytesLastModified     = []byte("last-modified")
	bytesServer           = []byte("server")
	bytesTransferEncoding = []byte("transfer-encoding")
	bytesVary             = []byte("vary")
)

var ( // misc http byteses.
	bytesClose        = []byte("close")
	bytesKeepAlive    = []byte("keep-alive")
	bytesUpgrade      = []byte("upgrade")
	bytes100Continue  = []byte("100-continue")
	bytesCharset      = []byte("charset=")
	bytesColonSpace   = []byte(": ")
	bytesCRLF         = []byte("\r\n")
	bytesSlash        = []byte("/")
	bytesHTTP1_0      = []byte(stringHTTP1_0)
	bytesHTTP1_1      = []byte(stringHTTP1_1)
	bytesPOST         = []byte("POST")
	bytesEpochExpires = []byte("Thu, 01 Jan 1970 00:00:00 GMT")
	bytesNoCache      = []byte("no-cache")
)

var httpUpper = func() (table [256]byte) { // a-z to A-Z, others unchanged
	for i := range table {
		if b := byte(i); b >= 'a' && b <= 'z' {
			table[i] = b - 0x20
		} else {
			table[i] = b
		}
	}
	return
}()
var httpLower = func() (table [256]byte) { // A-Z to a-z, others unchanged
	for i := range table {
		if b := byte(i); b >= 'A' && b <= 'Z' {
			table[i] = b + 0x20
		} else {
			table[i] = b
		}
	}
	return
}()
var httpHexValue = func() (table [256]int8) { // -1 for non-hex
	for i := range table {
		switch b := byte(i); {
		case b >= '0' && b <= '9':
			table[i] = int8(b - '0')
		case b >= 'a' && b <= 'f':
			table[i] = int8(b - 'a' + 10)
		case b >= 'A' && b <= 'F':
			table[i] = int8(b - 'A' + 10)
		default:
			table[i] = -1
		}
	}
	return
}()

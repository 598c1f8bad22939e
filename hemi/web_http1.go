// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// HTTP/1.x server connections and streams. See RFC 9112.

package hemi

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// server1Conn is the server-side HTTP/1 connection.
type server1Conn struct {
	// Parent
	tcpxConn_
	// Assocs
	stream server1Stream // an http/1 connection has exactly one stream at a time
	// Conn states (stocks)
	store bufferStore // input buffers
	// Conn states (controlled)
	date dateLine // the date header line of this connection
	// Conn states (non-zeros)
	logger     logrus.FieldLogger
	persistent bool // keep the connection after current stream? true by default
	closeSafe  bool // if false, then send a FIN first to avoid TCP's RST following immediate close(). true by default
	// Conn states (zeros)
	numRequests int32       // number of requests received, including the current one
	idle        atomic.Bool // waiting for the next request?
}

var poolServer1Conn sync.Pool

func getServer1Conn(id int64, server *Server, netConn net.Conn) *server1Conn {
	var servConn *server1Conn
	if x := poolServer1Conn.Get(); x == nil {
		servConn = new(server1Conn)
		servStream := &servConn.stream
		servReq, servResp := &servStream.request, &servStream.response
		servStream.conn = servConn
		servReq.stream = servStream
		servResp.stream = servStream
		servResp.request = servReq
	} else {
		servConn = x.(*server1Conn)
	}
	servConn.onGet(id, server, netConn)
	return servConn
}
func putServer1Conn(servConn *server1Conn) {
	servConn.onPut()
	poolServer1Conn.Put(servConn)
}

func (c *server1Conn) onGet(id int64, server *Server, netConn net.Conn) {
	c.tcpxConn_.onGet(id, server, netConn)

	c.logger = server.logger.WithFields(logrus.Fields{"conn": id, "remote": netConn.RemoteAddr().String()})
	c.persistent = true
	c.closeSafe = true

	// Input is conn scoped but put in stream scoped request for convenience
	c.stream.request.byteSource.init(c, &c.store, server.maxInputSize)
}
func (c *server1Conn) onPut() {
	// Input is conn scoped but put in stream scoped request for convenience
	c.stream.request.byteSource.free()

	c.logger = nil
	c.numRequests = 0
	c.idle.Store(false)
	c.tcpxConn_.onPut()
}

func (c *server1Conn) serve() { // runner
	server := c.server
	server.metrics.connOpened(server.ctx)
	stream := &c.stream
	for c.persistent { // each queued stream
		stream.onUse()
		stream.execute()
		stream.onEnd()
	}

	// RFC 9112 (section 9.6):
	// To avoid the TCP reset problem, servers typically close a connection
	// in stages. First, the server performs a half-close by closing only
	// the write side of the read/write connection. The server then
	// continues to read from the connection until it receives a
	// corresponding close by the client, or until the server is reasonably
	// certain that its own TCP stack has received the client's
	// acknowledgement of the packet(s) containing the server's last
	// response. Finally, the server fully closes the connection.
	if !c.closeSafe && c.closeWrite() {
		time.Sleep(time.Second)
	}
	c.netConn.Close()

	server.metrics.inputGrown(server.ctx, c.store.grows)
	server.metrics.connClosed(server.ctx)
	server.removeConn(c)
	putServer1Conn(c)
}

// server1Stream is the server-side HTTP/1 stream.
type server1Stream struct {
	// Assocs
	conn     *server1Conn
	request  server1Request  // the server-side http/1 request
	response server1Response // the server-side http/1 response
	// Stream states (stocks)
	region Region // a region-based memory pool for trailers
}

func (s *server1Stream) onUse() { // for non-zeros
	s.region.Init()
	s.request.onUse()
	s.response.onUse()
}
func (s *server1Stream) onEnd() { // for zeros
	s.response.onEnd()
	s.request.onEnd()
	s.region.Free()
}

func (s *server1Stream) logger() logrus.FieldLogger {
	return s.conn.logger.WithField("stream", s.conn.numRequests)
}

func (s *server1Stream) execute() {
	conn := s.conn
	server := conn.server
	req, resp := &s.request, &s.response

	if server.IsShut() && req.inputEdge == 0 { // no more requests once the server is shut
		conn.persistent = false
		return
	}
	conn.idle.Store(req.inputEdge == 0)
	req.recvHead()
	conn.idle.Store(false)

	if req.headResult != StatusOK { // receiving request error
		s._serveAbnormal(req, resp)
		return
	}

	conn.numRequests++
	if req.head.framing == FramingChunked {
		server.metrics.chunkedIn(server.ctx)
	}
	if maxRequests := server.maxRequestsPerConn; (maxRequests > 0 && conn.numRequests >= maxRequests) || !req.keepAlive || server.IsShut() {
		conn.persistent = false // reaches limit, or client told us to close, or server was shut
	}
	if req.expectContinue && req.head.version >= Version1_1 && !req.bodyEOF && !s._writeContinue() {
		return
	}

	if s.executeHandler(req, resp) {
		if err := req.bodyError(); errors.Is(err, errBadChunk) { // the handler got a malformed body
			s._serveBadContent(req, resp, err)
			req.endInput()
			return
		}
		if err := resp.finish(); err != nil {
			s.logger().WithError(err).Debug("response not completed")
			conn.persistent = false
		}
	}
	server.metrics.requestDone(server.ctx, resp.status, conn.numRequests > 1)

	if conn.isBroken() {
		conn.persistent = false // i/o error, close anyway
	}
	if conn.persistent { // request content exists but was not used, we receive and drop it here
		if err := req.drainBody(server.maxDrainSize); err != nil {
			conn.persistent = false
		}
	}
	req.endInput()
}
func (s *server1Stream) executeHandler(req *server1Request, resp *server1Response) (ok bool) {
	defer func() {
		if x := recover(); x != nil {
			s.logger().WithField("panic", x).Error("handler panic")
			s.conn.persistent = false
			if !resp.isSent {
				resp.sendError(StatusInternalServerError, http1Reason(StatusInternalServerError))
			}
			ok = false
		}
	}()
	s.conn.server.handler.Handle(req, resp)
	return true
}
func (s *server1Stream) _serveAbnormal(req *server1Request, resp *server1Response) { // 4xx & 5xx
	conn := s.conn
	server := conn.server
	conn.persistent = false // we are in abnormal state, so close anyway

	status := req.headResult
	if status == -1 || (status == StatusRequestTimeout && !req.gotSomeInput) {
		switch {
		case req.gotSomeInput:
			s.logger().WithError(ErrClientDisconnect).Debug("client disconnected")
		case status == StatusRequestTimeout:
			s.logger().WithError(ErrIdleTimeout).Debug("idle timeout")
		}
		return // send nothing.
	}
	server.metrics.requestRejected(server.ctx, status)
	if status == StatusRequestTimeout {
		s.logger().WithError(ErrStalledClient).Info("stalled client")
	} else {
		s.logger().WithError(&StatusError{Status: status, Reason: req.failReason}).
			WithFields(logrus.Fields{"status": status, "reason": req.failReason}).Info("bad request")
	}
	// So we need to send something...
	if status == StatusContentTooLarge || status == StatusURITooLong || status == StatusRequestHeaderFieldsTooLarge {
		// The receiving side may has data when we close the connection
		conn.closeSafe = false
	}
	req.head.arena = req.input
	if req.head.version == 0 { // failed before the version is known
		req.head.version = Version1_1
	}
	content := http1Reason(status)
	if req.failReason != "" {
		content = []byte(req.failReason)
	}
	// Ignore any error, as the connection will be closed anyway.
	resp.sendError(status, content)
}
func (s *server1Stream) _serveBadContent(req *server1Request, resp *server1Response, err error) {
	conn := s.conn
	server := conn.server
	conn.persistent = false // the rest of the body can't be located

	server.metrics.requestRejected(server.ctx, StatusBadRequest)
	s.logger().WithError(&StatusError{Status: StatusBadRequest, Reason: err.Error()}).
		WithFields(logrus.Fields{"status": StatusBadRequest, "reason": err.Error()}).Info("bad request")
	if !resp.isSent { // otherwise the response is cut short by closing
		resp.sendError(StatusBadRequest, []byte(err.Error()))
	}
}
func (s *server1Stream) _writeContinue() bool { // 100 continue
	// This is an interim response, so write directly.
	conn := s.conn
	if conn.setWriteDeadline() == nil { // for _writeContinue
		if _, err := conn.write(http1BytesContinue); err == nil {
			return true
		}
	}
	conn.markBroken()
	conn.persistent = false // i/o error, close anyway
	return false
}

// http1Reason returns the reason phrase of status.
func http1Reason(status int16) []byte {
	if status < int16(len(http1Controls)) && http1Controls[status] != nil {
		control := http1Controls[status]
		return control[len("HTTP/1.1 NNN ") : len(control)-len(bytesCRLF)]
	}
	return http1BytesUnknownReason
}

var http1Status = [16]byte{'H', 'T', 'T', 'P', '/', '1', '.', '1', ' ', 'N', 'N', 'N', ' ', 'X', '\r', '\n'}
var http1Controls = [...][]byte{ // size: 512*24B=12K
	// 1XX
	StatusContinue:           []byte("HTTP/1.1 100 Continue\r\n"),
	StatusSwitchingProtocols: []byte("HTTP/1.1 101 Switching Protocols\r\n"),
	StatusProcessing:         []byte("HTTP/1.1 102 Processing\r\n"),
	StatusEarlyHints:         []byte("HTTP/1.1 103 Early Hints\r\n"),
	// 2XX
	StatusOK:                         []byte("HTTP/1.1 200 OK\r\n"),
	StatusCreated:                    []byte("HTTP/1.1 201 Created\r\n"),
	StatusAccepted:                   []byte("HTTP/1.1 202 Accepted\r\n"),
	StatusNonAuthoritativeInfomation: []byte("HTTP/1.1 203 Non-Authoritative Information\r\n"),
	StatusNoContent:                  []byte("HTTP/1.1 204 No Content\r\n"),
	StatusResetContent:               []byte("HTTP/1.1 205 Reset Content\r\n"),
	StatusPartialContent:             []byte("HTTP/1.1 206 Partial Content\r\n"),
	StatusMultiStatus:                []byte("HTTP/1.1 207 Multi-Status\r\n"),
	StatusAlreadyReported:            []byte("HTTP/1.1 208 Already Reported\r\n"),
	StatusIMUsed:                     []byte("HTTP/1.1 226 IM Used\r\n"),
	// 3XX
	StatusMultipleChoices:   []byte("HTTP/1.1 300 Multiple Choices\r\n"),
	StatusMovedPermanently:  []byte("HTTP/1.1 301 Moved Permanently\r\n"),
	StatusFound:             []byte("HTTP/1.1 302 Found\r\n"),
	StatusSeeOther:          []byte("HTTP/1.1 303 See Other\r\n"),
	StatusNotModified:       []byte("HTTP/1.1 304 Not Modified\r\n"),
	StatusUseProxy:          []byte("HTTP/1.1 305 Use Proxy\r\n"),
	StatusTemporaryRedirect: []byte("HTTP/1.1 307 Temporary Redirect\r\n"),
	StatusPermanentRedirect: []byte("HTTP/1.1 308 Permanent Redirect\r\n"),
	// 4XX
	StatusBadRequest:                  []byte("HTTP/1.1 400 Bad Request\r\n"),
	StatusUnauthorized:                []byte("HTTP/1.1 401 Unauthorized\r\n"),
	StatusPaymentRequired:             []byte("HTTP/1.1 402 Payment Required\r\n"),
	StatusForbidden:                   []byte("HTTP/1.1 403 Forbidden\r\n"),
	StatusNotFound:                    []byte("HTTP/1.1 404 Not Found\r\n"),
	StatusMethodNotAllowed:            []byte("HTTP/1.1 405 Method Not Allowed\r\n"),
	StatusNotAcceptable:               []byte("HTTP/1.1 406 Not Acceptable\r\n"),
	StatusProxyAuthenticationRequired: []byte("HTTP/1.1 407 Proxy Authentication Required\r\n"),
	StatusRequestTimeout:              []byte("HTTP/1.1 408 Request Timeout\r\n"),
	StatusConflict:                    []byte("HTTP/1.1 409 Conflict\r\n"),
	StatusGone:                        []byte("HTTP/1.1 410 Gone\r\n"),
	StatusLengthRequired:              []byte("HTTP/1.1 411 Length Required\r\n"),
	StatusPreconditionFailed:          []byte("HTTP/1.1 412 Precondition Failed\r\n"),
	StatusContentTooLarge:             []byte("HTTP/1.1 413 Content Too Large\r\n"),
	StatusURITooLong:                  []byte("HTTP/1.1 414 URI Too Long\r\n"),
	StatusUnsupportedMediaType:        []byte("HTTP/1.1 415 Unsupported Media Type\r\n"),
	StatusRangeNotSatisfiable:         []byte("HTTP/1.1 416 Range Not Satisfiable\r\n"),
	StatusExpectationFailed:           []byte("HTTP/1.1 417 Expectation Failed\r\n"),
	StatusMisdirectedRequest:          []byte("HTTP/1.1 421 Misdirected Request\r\n"),
	StatusUnprocessableEntity:         []byte("HTTP/1.1 422 Unprocessable Entity\r\n"),
	StatusLocked:                      []byte("HTTP/1.1 423 Locked\r\n"),
	StatusFailedDependency:            []byte("HTTP/1.1 424 Failed Dependency\r\n"),
	StatusTooEarly:                    []byte("HTTP/1.1 425 Too Early\r\n"),
	StatusUpgradeRequired:             []byte("HTTP/1.1 426 Upgrade Required\r\n"),
	StatusPreconditionRequired:        []byte("HTTP/1.1 428 Precondition Required\r\n"),
	StatusTooManyRequests:             []byte("HTTP/1.1 429 Too Many Requests\r\n"),
	StatusRequestHeaderFieldsTooLarge: []byte("HTTP/1.1 431 Request Header Fields Too Large\r\n"),
	StatusUnavailableForLegalReasons:  []byte("HTTP/1.1 451 Unavailable For Legal Reasons\r\n"),
	// 5XX
	StatusInternalServerError:           []byte("HTTP/1.1 500 Internal Server Error\r\n"),
	StatusNotImplemented:                []byte("HTTP/1.1 501 Not Implemented\r\n"),
	StatusBadGateway:                    []byte("HTTP/1.1 502 Bad Gateway\r\n"),
	StatusServiceUnavailable:            []byte("HTTP/1.1 503 Service Unavailable\r\n"),
	StatusGatewayTimeout:                []byte("HTTP/1.1 504 Gateway Timeout\r\n"),
	StatusHTTPVersionNotSupported:       []byte("HTTP/1.1 505 HTTP Version Not Supported\r\n"),
	StatusVariantAlsoNegotiates:         []byte("HTTP/1.1 506 Variant Also Negotiates\r\n"),
	StatusInsufficientStorage:           []byte("HTTP/1.1 507 Insufficient Storage\r\n"),
	StatusLoopDetected:                  []byte("HTTP/1.1 508 Loop Detected\r\n"),
	StatusNotExtended:                   []byte("HTTP/1.1 510 Not Extended\r\n"),
	StatusNetworkAuthenticationRequired: []byte("HTTP/1.1 511 Network Authentication Required\r\n"),
}

var ( // HTTP/1 byteses
	http1BytesContinue            = []byte("HTTP/1.1 100 Continue\r\n\r\n")
	http1BytesConnectionClose     = []byte("connection: close\r\n")
	http1BytesConnectionKeepAlive = []byte("connection: keep-alive\r\n")
	http1BytesContentTypeColon    = []byte("content-type: ")
	http1BytesCachePrivate        = []byte("cache-control: private\r\n")
	http1BytesTransferChunked     = []byte("transfer-encoding: chunked\r\n")
	http1BytesUnknownReason       = []byte("Unknown Status")
	http1BytesZeroCRLF            = []byte("0\r\n")
	http1BytesZeroCRLFCRLF        = []byte("0\r\n\r\n")
	http1BytesCRLFZeroCRLF        = []byte("\r\n0\r\n")
	http1BytesCRLFZeroCRLFCRLF    = []byte("\r\n0\r\n\r\n")
)

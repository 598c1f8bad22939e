// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// HTTP/1.x incoming requests. See RFC 9112.

package hemi

import (
	"bytes"
	"errors"
	"io"
	"net"
)

const ( // sections being received
	httpSectionControl = iota // request-line
	httpSectionHeaders        // header section
	httpSectionContent        // body
)

const maxMethodSize = 64

// server1Request is the server-side HTTP/1 request.
type server1Request struct { // incoming. needs parsing
	// Conn states. Input is conn scoped but put in stream scoped request for convenience
	byteSource
	// Assocs
	stream *server1Stream
	// Stream states (controlled)
	head    RequestHead    // the parsed head. its arena is r.input
	chunked chunkedDecoder // used when the body is chunked
	// Stream states (non-zeros)
	headResult int16 // result of receiving request head. values are as same as http status for convenience
	// Stream states (zeros)
	failReason     string // the fail reason of headResult
	elemBack       int32  // element begins from. for parsing control & header lines
	elemFore       int32  // element spanning to. for parsing control & header lines
	headEdge       int32  // the head is r.input[0:headEdge]
	receivedSize   int64  // sized or until-close body bytes handed out
	receiving      int8   // what section are we currently receiving? see httpSectionXXX
	gotSomeInput   bool   // got some request-line bytes other than leading blanks?
	keepAlive      bool   // decided after the head is received
	expectContinue bool   // expect: 100-continue?
	hasTE          bool   // transfer-encoding exists?
	hasHost        bool   // host exists?
	hostFromURI    bool   // host comes from an absolute-form request-target
	upgrade        bool   // connection: upgrade?
	bodyEOF        bool   // the body has been read to its end
}

func (r *server1Request) onUse() {
	r.head.init()
	r.headResult = StatusOK
}
func (r *server1Request) onEnd() {
	r.head.reset()
	r.chunked.reset()
	r.failReason = ""
	r.elemBack, r.elemFore = 0, 0
	r.headEdge = 0
	r.receivedSize = 0
	r.receiving = httpSectionControl
	r.gotSomeInput = false
	r.keepAlive = false
	r.expectContinue = false
	r.hasTE = false
	r.hasHost = false
	r.hostFromURI = false
	r.upgrade = false
	r.bodyEOF = false
}

func (r *server1Request) Protocol() string     { return r.head.VersionString() }
func (r *server1Request) Head() *RequestHead   { return &r.head }
func (r *server1Request) RemoteAddr() net.Addr { return r.stream.conn.remoteAddr() }
func (r *server1Request) KeepAlive() bool      { return r.keepAlive }

func (r *server1Request) Trailer(name string) (value []byte, ok bool) { return r.chunked.trailer(name) }

func (r *server1Request) recvHead() { // control data + header section
	conn := r.stream.conn
	if r.inputEdge == 0 { // nothing pipelined, so we are waiting for a new request
		if err := conn.setReadDeadline(conn.server.IdleTimeout()); err != nil {
			r.headResult = -1
			return
		}
	}
	// Skip leading CR / LF / SP / TAB
	r.elemFore = 0
	for {
		if r.elemFore == r.inputEdge { // blanks only. drop them
			r.inputEdge, r.elemFore = 0, 0
			if !r.growHead() {
				return
			}
		}
		if b := r.input[r.elemFore]; b == ' ' || b == '\t' || b == '\r' || b == '\n' {
			r.elemFore++
		} else {
			break
		}
	}
	r.gotSomeInput = true
	if err := conn.setReadDeadline(conn.server.ReadTimeout()); err != nil { // the entire request head must be received in one read timeout
		r.headResult = -1
		return
	}
	if !r._recvControlData() {
		return
	}
	if r.head.version >= Version1_0 && !r.recvHeaderLines() {
		return
	}
	if !r.examineHead() {
		return
	}
	r.tidyInput()
}
func (r *server1Request) growHead() bool { // HTTP/1 is not a binary protocol, we don't know how many bytes to grow, so just grow.
	_, err := r.fill()
	if err == nil {
		return true
	}
	if errors.Is(err, errInputFull) {
		if r.receiving == httpSectionControl {
			r.headResult, r.failReason = StatusURITooLong, "request line too long"
		} else { // httpSectionHeaders
			r.headResult, r.failReason = StatusRequestHeaderFieldsTooLarge, "header section too large"
		}
	} else if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		r.headResult = StatusRequestTimeout
	} else { // i/o error or unexpected EOF
		r.headResult = -1
	}
	return false
}

func (r *server1Request) _recvControlData() bool { // method SP request-target SP HTTP-version CRLF, leniently
	r.receiving = httpSectionControl

	// Method: any byte > 0x20, upper-cased in place
	r.elemBack = r.elemFore
	for {
		b := r.input[r.elemFore]
		if b <= ' ' {
			break
		}
		r.input[r.elemFore] = httpUpper[b]
		if r.elemFore++; r.elemFore-r.elemBack > maxMethodSize {
			r.headResult, r.failReason = StatusBadRequest, "method too long"
			return false
		}
		if r.elemFore == r.inputEdge && !r.growHead() {
			return false
		}
	}
	r.head.method.set(r.elemBack, r.elemFore)
	if !r._skipSpaces() {
		return false
	}

	// Request-target
	r.elemBack = r.elemFore
	if b := r.input[r.elemFore]; b != '/' && !isLineSpace(b) { // absolute-form: skip the scheme up to the first '/'
		for {
			if b = r.input[r.elemFore]; b == '/' || isLineSpace(b) {
				break
			}
			if r.elemFore++; r.elemFore == r.inputEdge && !r.growHead() {
				return false
			}
		}
		if b == '/' {
			if r.elemFore+1 == r.inputEdge && !r.growHead() {
				return false
			}
			if r.input[r.elemFore+1] == '/' { // authority up to '/', '?', or whitespace
				r.elemFore += 2
				if r.elemFore == r.inputEdge && !r.growHead() {
					return false
				}
				hostFrom := r.elemFore
				for {
					if b = r.input[r.elemFore]; b == '/' || b == '?' || isLineSpace(b) {
						break
					}
					if r.elemFore++; r.elemFore == r.inputEdge && !r.growHead() {
						return false
					}
				}
				r.head.host.set(hostFrom, r.elemFore)
				r.hostFromURI = true
				r.elemBack = r.elemFore
			}
			// Otherwise the whole token is the uri
		}
	}
	for !isLineSpace(r.input[r.elemFore]) {
		if r.elemFore++; r.elemFore == r.inputEdge && !r.growHead() {
			return false
		}
	}
	r.head.uri.set(r.elemBack, r.elemFore)
	if !r._skipSpaces() {
		return false
	}

	// HTTP-version. Exactly "HTTP/1.0" or "HTTP/1.1", anything else is HTTP/0.9
	r.elemBack = r.elemFore
	for !isLineSpace(r.input[r.elemFore]) {
		if r.elemFore++; r.elemFore == r.inputEdge && !r.growHead() {
			return false
		}
	}
	if version := r.input[r.elemBack:r.elemFore]; bytes.EqualFold(version, bytesHTTP1_1) {
		r.head.version = Version1_1
	} else if bytes.EqualFold(version, bytesHTTP1_0) {
		r.head.version = Version1_0
	} else {
		r.head.version = Version0_9
	}

	// Skip to end of line
	for r.input[r.elemFore] != '\n' {
		if r.elemFore++; r.elemFore == r.inputEdge && !r.growHead() {
			return false
		}
	}
	r.elemFore++ // skip '\n'. HTTP/0.9 has no headers, so we don't read more
	return true
}
func (r *server1Request) _skipSpaces() bool {
	for b := r.input[r.elemFore]; b == ' ' || b == '\t'; b = r.input[r.elemFore] {
		if r.elemFore++; r.elemFore == r.inputEdge && !r.growHead() {
			return false
		}
	}
	return true
}

func (r *server1Request) recvHeaderLines() bool { // *( field-name ":" OWS field-value OWS CRLF ) CRLF, with obs-fold
	r.receiving = httpSectionHeaders
	maxFields := int(r.stream.conn.server.maxHeaderFields)
	for { // each header line
		if r.elemFore == r.inputEdge && !r.growHead() {
			return false
		}
		// End of header section?
		if b := r.input[r.elemFore]; b == '\r' {
			if r.elemFore++; r.elemFore == r.inputEdge && !r.growHead() {
				return false
			}
			if r.input[r.elemFore] != '\n' {
				r.headResult, r.failReason = StatusBadRequest, "bad end of header section"
				return false
			}
			break
		} else if b == '\n' {
			break
		} else if b == ' ' || b == '\t' {
			r.headResult, r.failReason = StatusBadRequest, "header line starts with whitespace"
			return false
		}

		// field-name, trailing spaces trimmed
		r.elemBack = r.elemFore
		for {
			b := r.input[r.elemFore]
			if b == ':' {
				break
			}
			if b == '\r' || b == '\n' {
				r.headResult, r.failReason = StatusBadRequest, "header line without colon"
				return false
			}
			if r.elemFore++; r.elemFore == r.inputEdge && !r.growHead() {
				return false
			}
		}
		nameEdge := r.elemFore
		for nameEdge > r.elemBack && (r.input[nameEdge-1] == ' ' || r.input[nameEdge-1] == '\t') {
			nameEdge--
		}
		if nameEdge == r.elemBack {
			r.headResult, r.failReason = StatusBadRequest, "empty header name"
			return false
		}
		var headerLine field
		headerLine.name.set(r.elemBack, nameEdge)

		// Skip ':' and OWS
		for {
			if r.elemFore++; r.elemFore == r.inputEdge && !r.growHead() {
				return false
			}
			if b := r.input[r.elemFore]; b != ' ' && b != '\t' {
				break
			}
		}

		// field-value. Continuation lines are folded into one SP, so the value is compacted in place
		valueFrom := r.elemFore
		w := r.elemFore // write cursor, never after r.elemFore
		for {
			b := r.input[r.elemFore]
			if b == '\n' {
				if r.elemFore+1 == r.inputEdge && !r.growHead() {
					return false
				}
				if next := r.input[r.elemFore+1]; next != ' ' && next != '\t' {
					break
				}
				// obs-fold
				for w > valueFrom && (r.input[w-1] == ' ' || r.input[w-1] == '\t' || r.input[w-1] == '\r') {
					w--
				}
				r.elemFore++ // at SP or TAB
				for b = r.input[r.elemFore]; b == ' ' || b == '\t'; b = r.input[r.elemFore] {
					if r.elemFore++; r.elemFore == r.inputEdge && !r.growHead() {
						return false
					}
				}
				if w > valueFrom {
					r.input[w] = ' '
					w++
				}
				continue
			}
			r.input[w] = b
			w++
			if r.elemFore++; r.elemFore == r.inputEdge && !r.growHead() {
				return false
			}
		}
		for w > valueFrom && r.input[w-1] <= ' ' { // trailing CR, OWS, and control characters
			w--
		}
		headerLine.value.set(valueFrom, w)
		r.elemFore++ // skip '\n'

		if r.head.headers.size() == maxFields {
			r.headResult, r.failReason = StatusRequestHeaderFieldsTooLarge, "too many header fields"
			return false
		}
		headerLine.hash = bytesHash(headerLine.name.of(r.input))
		if !r.addHeaderLine(&headerLine) {
			// r.headResult is set.
			return false
		}
	}
	r.elemFore++ // skip the last '\n'
	return true
}
func (r *server1Request) addHeaderLine(headerLine *field) bool {
	name, value := headerLine.name.of(r.input), headerLine.value.of(r.input)
	switch headerLine.hash {
	case hashConnection:
		if bytes.EqualFold(name, bytesConnection) {
			r._checkConnection(value)
		}
	case hashContentLength:
		if bytes.EqualFold(name, bytesContentLength) {
			size, ok := decToI64(value)
			if !ok {
				r.headResult, r.failReason = StatusBadRequest, "bad content-length"
				return false
			}
			if r.head.contentLength >= 0 && r.head.contentLength != size {
				r.headResult, r.failReason = StatusBadRequest, "conflicting content-length"
				return false
			}
			r.head.contentLength = size
		}
	case hashTransferEncoding:
		if bytes.EqualFold(name, bytesTransferEncoding) {
			r.hasTE = true
		}
	case hashExpect:
		if bytes.EqualFold(name, bytesExpect) && bytes.EqualFold(value, bytes100Continue) {
			r.expectContinue = true
			return true // recognized, not stored
		}
	case hashHost:
		if bytes.EqualFold(name, bytesHost) {
			r.hasHost = true
			if !r.hostFromURI && r.head.host.isEmpty() {
				r.head.host = headerLine.value
			}
		}
	}
	r.head.headers.add(*headerLine)
	return true
}
func (r *server1Request) _checkConnection(value []byte) { // Connection = #connection-option
	for len(value) > 0 {
		var token []byte
		if i := bytes.IndexByte(value, ','); i >= 0 {
			token, value = value[:i], value[i+1:]
		} else {
			token, value = value, nil
		}
		token = bytes.TrimSpace(token)
		if bytes.EqualFold(token, bytesClose) {
			r.head.keepAlive = 0
		} else if bytes.EqualFold(token, bytesKeepAlive) {
			if r.head.keepAlive != 0 { // close wins
				r.head.keepAlive = 1
			}
		} else if bytes.EqualFold(token, bytesUpgrade) {
			r.upgrade = true
		}
	}
}

func (r *server1Request) examineHead() bool {
	head := &r.head
	head.arena = r.input
	method := head.Method()
	if head.version >= Version1_1 && !r.hasHost && !r.hostFromURI { // RFC 9112 (section 3.2)
		r.headResult, r.failReason = StatusBadRequest, "missing host"
		return false
	}
	if r.hasTE && head.version == Version1_0 { // RFC 9112 (section 6.1): the framing is faulty, so close after responding
		head.keepAlive = 0
	}
	switch {
	case head.version == Version0_9:
		head.framing = FramingUntilClose
	case r.hasTE && head.version >= Version1_1:
		head.framing = FramingChunked
		if head.contentLength >= 0 { // RFC 9112 (section 6.1): the connection must be closed after responding
			head.keepAlive = 0
		}
	case head.contentLength >= 0:
		head.framing = FramingSized
	case bytes.Equal(method, bytesPOST):
		if head.version >= Version1_1 {
			r.headResult, r.failReason = StatusLengthRequired, "POST requires content-length"
			return false
		}
		head.framing = FramingUntilClose
	default:
		head.framing = FramingNone
	}
	r.keepAlive = keepAliveOnRequest(head.version, head.keepAlive, head.framing)
	return true
}
func (r *server1Request) tidyInput() {
	// r.elemFore is at the beginning of body (if exists) or next request (if exists and is pipelined).
	r.headEdge = r.elemFore
	r.head.arena = r.input // the arena may have grown
	r.inputBase, r.inputNext = r.headEdge, r.headEdge
	r.receiving = httpSectionContent
	switch r.head.framing {
	case FramingNone:
		r.bodyEOF = true
	case FramingSized:
		r.bodyEOF = r.head.contentLength == 0
	case FramingChunked:
		r.chunked.init(&r.byteSource, &r.stream.region, int32(r.stream.conn.server.maxHeaderFields))
	}
	r.reader = bodyReader{r.stream.conn} // body reads refresh the read deadline
}

// Read reads the request body. Framing is transparent.
func (r *server1Request) Read(p []byte) (n int, err error) {
	if r.bodyEOF {
		return 0, io.EOF
	}
	switch r.head.framing {
	case FramingSized:
		n, err = r.readSized(p)
	case FramingChunked:
		if n, err = r.chunked.Read(p); err == io.EOF {
			r.bodyEOF = true
		}
	default: // FramingUntilClose
		n, err = r.readSome(p)
		r.receivedSize += int64(n)
		if err == io.EOF {
			r.bodyEOF = true
		}
	}
	r.head.arena = r.input // a long chunk line may have grown the input
	return n, err
}
func (r *server1Request) readSized(p []byte) (int, error) {
	remaining := r.head.contentLength - r.receivedSize
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := r.readSome(p)
	r.receivedSize += int64(n)
	if r.receivedSize == r.head.contentLength {
		r.bodyEOF = true
		return n, nil
	}
	if n == 0 && err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}
func (r *server1Request) readSome(p []byte) (int, error) { // buffered bytes first, then straight from the connection
	if r.available() > 0 {
		return r.take(p), nil
	}
	return r.reader.read(p)
}

// drainBody reads and drops what is left of a framed body, at most limit bytes.
// bodyError returns the sticky error of a chunked body, if any.
func (r *server1Request) bodyError() error {
	if r.head.framing != FramingChunked {
		return nil
	}
	return r.chunked.err
}

func (r *server1Request) drainBody(limit int64) error {
	if r.bodyEOF {
		return nil
	}
	if r.head.framing == FramingUntilClose {
		return errBodyTooLarge
	}
	buffer := Get4K()
	defer PutNK(buffer)
	drained := int64(0)
	for {
		n, err := r.Read(buffer)
		if drained += int64(n); drained > limit {
			return errBodyTooLarge
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// endInput keeps the bytes of the next request (if pipelined) at the front of r.input.
func (r *server1Request) endInput() {
	r.compact()
	r.reader = r.stream.conn
}

func isLineSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\r' || b == '\n' }

// keepAliveOnRequest decides whether the connection may serve another request, as far as the request is concerned.
func keepAliveOnRequest(version uint16, connection int8, framing int8) bool {
	if version < Version1_0 || connection == 0 || framing == FramingUntilClose {
		return false
	}
	if version == Version1_0 && connection != 1 {
		return false
	}
	return true
}

// bodyReader refreshes the read deadline before each read of a request body.
type bodyReader struct {
	conn *server1Conn
}

func (b bodyReader) read(dst []byte) (int, error) {
	if err := b.conn.setReadDeadline(b.conn.server.ReadTimeout()); err != nil {
		return 0, err
	}
	return b.conn.read(dst)
}

// trailer is a trailer field. name and value are copied out of the input.
type trailer struct {
	name  []byte
	value []byte
}

// chunkedDecoder exposes a chunked body as a plain byte stream.
type chunkedDecoder struct {
	// Assocs
	src    *byteSource
	region *Region // holds trailer fields
	// Stream states (stocks)
	stockTrailers [4]trailer
	// Stream states (zeros)
	trailers  []trailer // [<stockTrailers>/make]
	remaining int64     // left size of current chunk
	received  int64     // data bytes received so far
	maxFields int32     // max number of trailer fields
	ended     bool      // the last chunk and trailer section are received
	err       error     // sticky error
}

func (d *chunkedDecoder) init(src *byteSource, region *Region, maxFields int32) {
	d.src = src
	d.region = region
	d.trailers = d.stockTrailers[0:0:cap(d.stockTrailers)]
	d.maxFields = maxFields
}
func (d *chunkedDecoder) reset() {
	d.src = nil
	d.region = nil
	d.stockTrailers = [4]trailer{}
	d.trailers = nil
	d.remaining, d.received = 0, 0
	d.maxFields = 0
	d.ended = false
	d.err = nil
}

func (d *chunkedDecoder) Read(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	if d.remaining == 0 {
		if d.ended {
			return 0, io.EOF
		}
		if err := d.nextChunk(); err != nil {
			d.err = err
			return 0, err
		}
		if d.ended {
			return 0, io.EOF
		}
	}
	if int64(len(p)) > d.remaining {
		p = p[:d.remaining]
	}
	if len(p) == 0 {
		return 0, nil
	}
	var n int
	if d.src.available() > 0 {
		n = d.src.take(p)
	} else {
		var err error
		if n, err = d.src.reader.read(p); n == 0 {
			if err == nil || err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			d.err = err
			return 0, err
		}
	}
	d.remaining -= int64(n)
	d.received += int64(n)
	return n, nil
}

// nextChunk parses chunk-size [chunk-ext] CRLF. Blank lines before it are the CRLF after chunk-data.
func (d *chunkedDecoder) nextChunk() error {
	for {
		line, err := d.src.readLine()
		if err != nil {
			return d.lineError(err)
		}
		i := 0
		for i < len(line) && (line[i] == '\r' || line[i] == ' ' || line[i] == '\t') {
			i++
		}
		if i == len(line) {
			continue
		}
		size, digits := int64(0), 0
		for ; i < len(line); i++ {
			v := httpHexValue[line[i]]
			if v < 0 {
				break
			}
			if digits++; digits > 15 {
				return errBadChunk
			}
			size = size<<4 | int64(v)
		}
		if digits == 0 {
			return errBadChunk
		}
		if i < len(line) {
			if b := line[i]; b != '\r' && b != ' ' && b != '\t' && b != ';' { // chunk-ext is ignored
				return errBadChunk
			}
		}
		if size == 0 { // last-chunk
			return d.recvTrailers()
		}
		d.remaining = size
		return nil
	}
}
func (d *chunkedDecoder) recvTrailers() error { // trailer-section = *( field-line CRLF ) CRLF
	for {
		line, err := d.src.readLine()
		if err != nil {
			return d.lineError(err)
		}
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		if len(line) == 0 {
			d.ended = true
			return nil
		}
		if int32(len(d.trailers)) == d.maxFields {
			return errBadChunk
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return errBadChunk
		}
		name := bytes.TrimRight(line[:colon], " \t")
		if len(name) == 0 {
			return errBadChunk
		}
		value := bytes.TrimSpace(line[colon+1:])
		d.trailers = append(d.trailers, trailer{d.region.Copy(name), d.region.Copy(value)})
	}
}
func (d *chunkedDecoder) lineError(err error) error {
	if errors.Is(err, errInputFull) {
		return errBadChunk // line too long
	}
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (d *chunkedDecoder) trailer(name string) (value []byte, ok bool) {
	for i := range d.trailers {
		if t := &d.trailers[i]; bytes.EqualFold(t.name, []byte(name)) {
			return t.value, true
		}
	}
	return nil, false
}

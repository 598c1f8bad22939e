// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// HTTP/1.x outgoing responses. See RFC 9112.

package hemi

import (
	"bytes"
	"strings"
)

const (
	chunkGapSize       = 8                   // "\r\n" + 4 hex digits + "\r\n"
	chunkBufferSize    = _16K - chunkGapSize // max data bytes in an outbound segment
	maxResponseHeaders = 64                  // max header fields added by a handler
	finalizeReserve    = 2048                // output bytes reserved for finalizeHeaders
	maxTypeSize        = 1024                // max size of content-type plus charset
	maxOutputSize      = _16K                // max size of output
	maxTrailerSize     = _4K                 // max size of trailer fields
)

const ( // cache modes
	cacheDefault = iota
	cacheNoCache
	cacheNoCacheUnlessVary
	cachePrivate
)

// server1Response is the server-side HTTP/1 response.
type server1Response struct { // outgoing. needs building
	// Assocs
	stream  *server1Stream
	request *server1Request
	// Stream states (stocks)
	stockOutput [1536]byte // for r.output
	// Stream states (non-zeros)
	output      []byte // [<stockOutput>/4K/16K]. header fields, added by handler then by finalizeHeaders
	status      int16  // 200, 302, 404, 500, ...
	contentSize int64  // -1: not set by handler
	// Stream states (zeros)
	line            [64]byte                   // status line when it can't be taken from http1Controls as is
	edges           [maxResponseHeaders]uint16 // edges of header fields in r.output
	segment         []byte                     // [nil/16K]. outbound body segment with a chunk gap at the front
	trailerOutput   []byte                     // [nil/4K]. trailer fields
	contentType     string                     // without charset
	charset         string                     // charset set by handler
	outputEdge      uint16                     // edge of r.output
	trailerEdge     uint16                     // edge of r.trailerOutput
	segmentEdge     int32                      // edge of r.segment
	numHeaderFields uint8                      // number of header fields in r.output
	framing         int8                       // decided when the header section is sent
	cacheMode       int8                       // see cacheXXX
	writtenSize     int64                      // body bytes written by handler
	sentSize        int64                      // body bytes put on the wire
	isSent          bool                       // is the header section sent?
	wroteChunk      bool                       // at least one chunk is written
	connClose       bool                       // handler wants to close the connection
	duplex          bool                       // the connection turns into another protocol
}

func (r *server1Response) onUse() {
	r.output = r.stockOutput[:]
	r.status = StatusOK
	r.contentSize = -1
}
func (r *server1Response) onEnd() {
	if cap(r.output) != cap(r.stockOutput) {
		PutNK(r.output)
	}
	r.output = nil
	r.resetHead()
	if r.trailerOutput != nil {
		PutNK(r.trailerOutput)
		r.trailerOutput = nil
	}
	r.trailerEdge = 0
	r.framing = FramingNone
	r.sentSize = 0
	r.isSent = false
	r.wroteChunk = false
	r.duplex = false
}
func (r *server1Response) resetHead() { // used by onEnd and sendError
	r.status = StatusOK
	r.contentSize = -1
	if r.segment != nil {
		PutNK(r.segment)
		r.segment = nil
	}
	r.contentType = ""
	r.charset = ""
	r.outputEdge = 0
	r.segmentEdge = 0
	r.numHeaderFields = 0
	r.cacheMode = cacheDefault
	r.writtenSize = 0
	r.connClose = false
}

func (r *server1Response) SetStatus(status int16) bool {
	if r.isSent || status < 100 || status > 999 {
		return false
	}
	r.status = status
	return true
}
func (r *server1Response) Status() int16 { return r.status }

func (r *server1Response) SetContentLength(size int64) {
	if !r.isSent && size >= 0 {
		r.contentSize = size
	}
}
func (r *server1Response) SetContentType(contentType string) {
	if !r.isSent && validValue(contentType) && len(contentType)+len(r.charset) <= maxTypeSize {
		r.contentType = contentType
	}
}
func (r *server1Response) SetCharset(charset string) {
	if !r.isSent && validValue(charset) && strings.IndexByte(charset, ';') == -1 && len(r.contentType)+len(charset) <= maxTypeSize {
		r.charset = charset
	}
}
func (r *server1Response) SetNoCache()           { r.cacheMode = cacheNoCache }
func (r *server1Response) SetPrivateCache()      { r.cacheMode = cachePrivate }
func (r *server1Response) SetNoCacheUnlessVary() { r.cacheMode = cacheNoCacheUnlessVary }
func (r *server1Response) SetConnectionClose()   { r.connClose = true }
func (r *server1Response) SetDuplex()            { r.duplex = true }
func (r *server1Response) IsSent() bool          { return r.isSent }

// AddHeader adds a header field. Fields managed by the engine are intercepted.
func (r *server1Response) AddHeader(name string, value string) bool {
	if r.isSent || !validName(name) || !validValue(value) {
		return false
	}
	switch stringHash(name) {
	case hashContentType:
		if strings.EqualFold(name, string(bytesContentType)) {
			r.SetContentType(value)
			return r.contentType == value
		}
	case hashContentLength:
		if strings.EqualFold(name, string(bytesContentLength)) {
			size, ok := decToI64([]byte(value))
			if ok {
				r.contentSize = size
			}
			return ok
		}
	case hashConnection:
		if strings.EqualFold(name, string(bytesConnection)) {
			if strings.EqualFold(value, string(bytesClose)) {
				r.connClose = true
			} else if strings.EqualFold(value, string(bytesUpgrade)) {
				r.duplex = true
			}
			return true
		}
	case hashDate, hashServer, hashTransferEncoding:
		if strings.EqualFold(name, string(bytesDate)) || strings.EqualFold(name, string(bytesServer)) || strings.EqualFold(name, string(bytesTransferEncoding)) {
			return false // generated by the engine
		}
	}
	return r.addHeader([]byte(name), []byte(value))
}
func (r *server1Response) addHeader(name []byte, value []byte) bool {
	if int(r.numHeaderFields) == len(r.edges) {
		return false
	}
	headerSize := len(name) + len(bytesColonSpace) + len(value) + len(bytesCRLF) // name: value\r\n
	if int(r.outputEdge)+headerSize > maxOutputSize-finalizeReserve || !r.growOutput(headerSize) {
		return false
	}
	r._addFixedHeader(name, value)
	r.edges[r.numHeaderFields] = r.outputEdge
	r.numHeaderFields++
	return true
}
func (r *server1Response) growOutput(size int) bool {
	need := int(r.outputEdge) + size
	if need <= len(r.output) {
		return true
	}
	if need > maxOutputSize {
		return false
	}
	output := GetNK(int64(need))
	copy(output, r.output[:r.outputEdge])
	if cap(r.output) != cap(r.stockOutput) {
		PutNK(r.output)
	}
	r.output = output
	return true
}
func (r *server1Response) _addFixedHeader(name []byte, value []byte) { // room is ensured by caller
	r.outputEdge += uint16(copy(r.output[r.outputEdge:], name))
	r.output[r.outputEdge] = ':'
	r.output[r.outputEdge+1] = ' '
	r.outputEdge += 2
	r.outputEdge += uint16(copy(r.output[r.outputEdge:], value))
	r.output[r.outputEdge] = '\r'
	r.output[r.outputEdge+1] = '\n'
	r.outputEdge += 2
}

// Header returns the value of the first header field named name.
func (r *server1Response) Header(name string) (value string, ok bool) {
	if strings.EqualFold(name, string(bytesContentType)) {
		return r.contentType, r.contentType != ""
	}
	if i := r.findHeader([]byte(name)); i >= 0 {
		return string(r._headerValue(i)), true
	}
	return "", false
}
func (r *server1Response) hasHeader(name []byte) bool { return r.findHeader(name) >= 0 }
func (r *server1Response) findHeader(name []byte) int {
	from := uint16(0)
	for i := uint8(0); i < r.numHeaderFields; i++ {
		edge := r.edges[i]
		header := r.output[from:edge]
		if p := bytes.IndexByte(header, ':'); p != -1 && bytes.EqualFold(header[0:p], name) {
			return int(i)
		}
		from = edge
	}
	return -1
}
func (r *server1Response) _headerValue(i int) []byte {
	from := uint16(0)
	if i > 0 {
		from = r.edges[i-1]
	}
	header := r.output[from:r.edges[i]]
	p := bytes.IndexByte(header, ':')
	return header[p+len(bytesColonSpace) : len(header)-len(bytesCRLF)]
}

// DelHeader deletes every header field named name.
func (r *server1Response) DelHeader(name string) bool {
	if r.isSent {
		return false
	}
	if strings.EqualFold(name, string(bytesContentType)) {
		deleted := r.contentType != ""
		r.contentType = ""
		return deleted
	}
	return r.delHeader([]byte(name))
}
func (r *server1Response) delHeader(name []byte) (deleted bool) {
	for i := r.findHeader(name); i >= 0; i = r.findHeader(name) {
		r.delHeaderAt(uint8(i))
		deleted = true
	}
	return
}
func (r *server1Response) delHeaderAt(i uint8) {
	from := uint16(0)
	if i > 0 {
		from = r.edges[i-1]
	}
	edge := r.edges[i]
	size := edge - from
	copy(r.output[from:], r.output[edge:r.outputEdge])
	for j := i + 1; j < r.numHeaderFields; j++ {
		r.edges[j-1] = r.edges[j] - size
	}
	r.outputEdge -= size
	r.numHeaderFields--
}

// AddTrailer adds a trailer field. Trailers are only sent with a chunked body.
func (r *server1Response) AddTrailer(name string, value string) bool {
	if !validName(name) || !validValue(value) {
		return false
	}
	size := len(name) + len(bytesColonSpace) + len(value) + len(bytesCRLF)
	if int(r.trailerEdge)+size > maxTrailerSize {
		return false
	}
	if r.trailerOutput == nil {
		r.trailerOutput = Get4K()
	}
	edge := r.trailerEdge
	edge += uint16(copy(r.trailerOutput[edge:], name))
	edge += uint16(copy(r.trailerOutput[edge:], bytesColonSpace))
	edge += uint16(copy(r.trailerOutput[edge:], value))
	edge += uint16(copy(r.trailerOutput[edge:], bytesCRLF))
	r.trailerEdge = edge
	return true
}

func (r *server1Response) bodyForbidden() bool {
	return r.request.head.IsMethod("HEAD") || r.status < StatusOK || r.status == StatusNoContent || r.status == StatusNotModified
}

// Write buffers p in the current segment. A full segment is flushed.
func (r *server1Response) Write(p []byte) (int, error) {
	if r.stream.conn.isBroken() {
		return 0, errResponseBroken
	}
	if r.contentSize >= 0 && r.writtenSize+int64(len(p)) > r.contentSize {
		return 0, errContentTooMuch
	}
	if r.bodyForbidden() { // counted, so a HEAD response gets the right content-length
		r.writtenSize += int64(len(p))
		return len(p), nil
	}
	n := 0
	for n < len(p) {
		if r.segment == nil {
			r.segment = Get16K()
			r.segmentEdge = chunkGapSize
		}
		k := copy(r.segment[r.segmentEdge:], p[n:])
		r.segmentEdge += int32(k)
		r.writtenSize += int64(k)
		n += k
		if r.segmentEdge == chunkGapSize+chunkBufferSize {
			if err := r.Flush(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}
func (r *server1Response) WriteString(s string) (int, error) { return r.Write([]byte(s)) }

// Flush sends the header section if it is not sent yet, then the buffered body bytes.
func (r *server1Response) Flush() error {
	if !r.isSent {
		return r.sendHead(false)
	}
	if r.segmentEdge <= chunkGapSize {
		return nil
	}
	if r.bodyForbidden() || r.framing == FramingNone {
		r.segmentEdge = chunkGapSize
		return nil
	}
	conn := r.stream.conn
	conn.vector = conn.fixedVector[0:1]
	conn.vector[0] = r.bodyPiece()
	return r.writeVector()
}

// responseFraming selects exactly one framing for a response.
func responseFraming(version uint16, isHEAD bool, status int16, contentSize int64, complete bool, buffered int64) (framing int8, size int64) {
	switch {
	case contentSize >= 0:
		return FramingSized, contentSize
	case status < StatusOK || status == StatusNoContent || status == StatusNotModified:
		return FramingNone, -1
	case complete:
		return FramingSized, buffered
	case isHEAD: // no body follows anyway
		return FramingNone, -1
	case version >= Version1_1:
		return FramingChunked, -1
	default:
		return FramingUntilClose, -1
	}
}

// keepAliveOnResponse decides whether the connection may serve another request, as far as the response is concerned.
func keepAliveOnResponse(onRequest bool, connClose bool, duplex bool, framing int8) bool {
	return onRequest && !connClose && !duplex && framing != FramingUntilClose
}

func (r *server1Response) sendHead(complete bool) error {
	conn := r.stream.conn
	server := conn.server
	req := r.request
	version := req.head.version
	r.framing, r.contentSize = responseFraming(version, req.head.IsMethod("HEAD"), r.status, r.contentSize, complete, r.writtenSize)
	if version < Version1_0 {
		r.framing = FramingUntilClose
	}
	if r.framing == FramingChunked {
		server.metrics.chunkedOut(server.ctx)
	}
	if !keepAliveOnResponse(conn.persistent, r.connClose, r.duplex, r.framing) {
		conn.persistent = false
	}
	if complete && r.framing == FramingSized && r.writtenSize != r.contentSize && !r.bodyForbidden() {
		conn.persistent = false // the client would wait for bytes we don't have
	}
	r.isSent = true
	if version < Version1_0 { // HTTP/0.9 has no status line and no header section
		if r.segmentEdge <= chunkGapSize {
			return nil
		}
		conn.vector = conn.fixedVector[0:1]
		conn.vector[0] = r.bodyPiece()
		return r.writeVector()
	}
	r.finalizeHeaders()
	conn.vector = conn.fixedVector[0:4]
	conn.vector[0] = r.controlData()
	conn.vector[1] = r.output[0:r.outputEdge]
	conn.vector[2] = conn.date.bytes(server.clock.now())
	conn.vector[3] = server.fixedHeaders
	if r.segmentEdge > chunkGapSize && !r.bodyForbidden() {
		conn.vector = conn.fixedVector[0:5]
		conn.vector[4] = r.bodyPiece()
	}
	return r.writeVector()
}

// finalizeHeaders applies header policies and adds header fields generated by the engine.
func (r *server1Response) finalizeHeaders() {
	version := r.request.head.version
	if r.status >= StatusBadRequest { // validators make no sense for errors
		r.delHeader(bytesETag)
		r.delHeader(bytesLastModified)
	}
	if r.status == StatusNoContent || r.status == StatusNotModified {
		r.contentType = ""
	}
	switch r.cacheMode {
	case cacheNoCache:
		r.delHeader(bytesETag)
		r.delHeader(bytesLastModified)
		r._setNoCache()
	case cacheNoCacheUnlessVary:
		if !r.hasHeader(bytesVary) {
			r.delHeader(bytesCacheControl)
			r.growOutput(len(http1BytesCachePrivate))
			r.outputEdge += uint16(copy(r.output[r.outputEdge:], http1BytesCachePrivate))
		}
	case cachePrivate:
		if version >= Version1_1 {
			r.delHeader(bytesCacheControl)
			r.growOutput(len(http1BytesCachePrivate))
			r.outputEdge += uint16(copy(r.output[r.outputEdge:], http1BytesCachePrivate))
		} else { // HTTP/1.0 caches don't know private
			r._setNoCache()
		}
	}
	r.growOutput(len(r.contentType) + len(r.charset) + 256)
	if r.contentType != "" { // content-type: text/html; charset=utf-8\r\n
		r.outputEdge += uint16(copy(r.output[r.outputEdge:], http1BytesContentTypeColon))
		r.outputEdge += uint16(copy(r.output[r.outputEdge:], r.contentType))
		if !containsFold(r.contentType, string(bytesCharset)) {
			charset := r.charset
			if charset == "" {
				charset = r.stream.conn.server.defaultCharset
			}
			r.outputEdge += uint16(copy(r.output[r.outputEdge:], "; "))
			r.outputEdge += uint16(copy(r.output[r.outputEdge:], bytesCharset))
			r.outputEdge += uint16(copy(r.output[r.outputEdge:], charset))
		}
		r.outputEdge += uint16(copy(r.output[r.outputEdge:], bytesCRLF))
	}
	switch r.framing {
	case FramingSized: // content-length: >=0\r\n
		sizeBuffer := r.stream.conn.buffer256() // enough for content-length
		n := i64ToDec(r.contentSize, sizeBuffer)
		r._addFixedHeader(bytesContentLength, sizeBuffer[:n])
	case FramingChunked: // transfer-encoding: chunked\r\n
		r.outputEdge += uint16(copy(r.output[r.outputEdge:], http1BytesTransferChunked))
	}
	if r.stream.conn.persistent { // connection: keep-alive\r\n
		r.outputEdge += uint16(copy(r.output[r.outputEdge:], http1BytesConnectionKeepAlive))
	} else { // connection: close\r\n
		r.outputEdge += uint16(copy(r.output[r.outputEdge:], http1BytesConnectionClose))
	}
}
func (r *server1Response) _setNoCache() { // expires: <epoch>\r\ncache-control: no-cache\r\n
	r.delHeader(bytesExpires)
	r.delHeader(bytesCacheControl)
	r.growOutput(len(bytesExpires) + len(bytesEpochExpires) + len(bytesCacheControl) + len(bytesNoCache) + 8)
	r._addFixedHeader(bytesExpires, bytesEpochExpires)
	r._addFixedHeader(bytesCacheControl, bytesNoCache)
}

func (r *server1Response) controlData() []byte {
	var start []byte
	if r.status < int16(len(http1Controls)) && http1Controls[r.status] != nil {
		start = http1Controls[r.status]
	} else {
		n := copy(r.line[:], http1Status[:])
		r.line[9] = byte(r.status/100 + '0')
		r.line[10] = byte(r.status/10%10 + '0')
		r.line[11] = byte(r.status%10 + '0')
		start = r.line[:n]
	}
	if r.request.head.version == Version1_0 { // HTTP/1.0 ...
		n := copy(r.line[:], start)
		r.line[7] = '0'
		start = r.line[:n]
	}
	return start
}

// bodyPiece turns the buffered segment into bytes for the wire and empties it.
func (r *server1Response) bodyPiece() []byte {
	size := r.segmentEdge - chunkGapSize
	r.sentSize += int64(size)
	r.segmentEdge = chunkGapSize
	if r.framing != FramingChunked {
		return r.segment[chunkGapSize : chunkGapSize+size]
	}
	gap := r.segment[0:chunkGapSize] // \r\nXXXX\r\n
	gap[0], gap[1] = '\r', '\n'
	gap[2] = hexDigits[size>>12&0xf]
	gap[3] = hexDigits[size>>8&0xf]
	gap[4] = hexDigits[size>>4&0xf]
	gap[5] = hexDigits[size&0xf]
	gap[6], gap[7] = '\r', '\n'
	from := 0
	if !r.wroteChunk { // the first chunk has no previous chunk to end
		from = 2
		r.wroteChunk = true
	}
	return r.segment[from : chunkGapSize+size]
}

// finish ends the response after the handler returns.
func (r *server1Response) finish() error {
	if !r.isSent {
		return r.sendHead(true)
	}
	if err := r.Flush(); err != nil {
		return err
	}
	switch r.framing {
	case FramingChunked:
		return r.writeLastChunk()
	case FramingSized:
		if r.sentSize != r.contentSize && !r.bodyForbidden() {
			r.stream.conn.persistent = false
		}
	}
	return nil
}
func (r *server1Response) writeLastChunk() error {
	conn := r.stream.conn
	if r.trailerEdge == 0 {
		conn.vector = conn.fixedVector[0:1]
		if r.wroteChunk {
			conn.vector[0] = http1BytesCRLFZeroCRLFCRLF // \r\n0\r\n\r\n
		} else {
			conn.vector[0] = http1BytesZeroCRLFCRLF // 0\r\n\r\n
		}
	} else {
		conn.vector = conn.fixedVector[0:3]
		if r.wroteChunk {
			conn.vector[0] = http1BytesCRLFZeroCRLF // \r\n0\r\n
		} else {
			conn.vector[0] = http1BytesZeroCRLF // 0\r\n
		}
		conn.vector[1] = r.trailerOutput[0:r.trailerEdge] // field-name: field-value\r\n
		conn.vector[2] = bytesCRLF
	}
	return r.writeVector()
}

// sendError replaces whatever the handler has built with a short plain text response.
func (r *server1Response) sendError(status int16, content []byte) error {
	r.resetHead()
	r.status = status
	r.connClose = true
	r.contentType = "text/plain"
	if _, err := r.Write(content); err != nil {
		return err
	}
	return r.sendHead(true)
}

func (r *server1Response) writeVector() error {
	conn := r.stream.conn
	if conn.isBroken() {
		return errResponseBroken
	}
	if err := conn.setWriteDeadline(); err != nil {
		conn.markBroken()
		return err
	}
	if _, err := conn.writeVec(&conn.vector); err != nil {
		conn.markBroken()
		return err
	}
	return nil
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if b := name[i]; b <= ' ' || b == ':' || b >= 0x7f {
			return false
		}
	}
	return true
}
func validValue(value string) bool {
	return strings.IndexByte(value, '\r') == -1 && strings.IndexByte(value, '\n') == -1
}
func containsFold(s string, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}

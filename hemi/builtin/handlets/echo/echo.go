// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Echo handlers stream the request content back as the response content.

package echo

import (
	"io"
	"strconv"

	. "github.com/mdaniel/svn-caucho-com-resin-sub019/hemi"
)

func init() {
	RegisterHandler("echo", func(cfg *Config) Handler {
		return new(echoHandler)
	})
}

// echoHandler
type echoHandler struct {
}

func (h *echoHandler) Handle(req RequestSource, resp ServerResponse) {
	head := req.Head()
	if contentType, ok := head.Header("content-type"); ok {
		resp.SetContentType(string(contentType))
	} else {
		resp.SetContentType("application/octet-stream")
	}
	resp.SetPrivateCache()
	if size := head.ContentLength(); size >= 0 {
		resp.SetContentLength(size)
	}
	for _, value := range head.Headers("x-echo") {
		resp.AddHeader("x-echoed", string(value))
	}
	n, err := io.Copy(resp, req)
	if err != nil {
		resp.SetConnectionClose()
		return
	}
	// Only sent if the response ends up chunked.
	resp.AddTrailer("x-echo-size", strconv.FormatInt(n, 10))
}

// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Hello handlers respond with a fixed text.

package hello

import (
	. "github.com/mdaniel/svn-caucho-com-resin-sub019/hemi"
)

func init() {
	RegisterHandler("hello", func(cfg *Config) Handler {
		return new(helloHandler)
	})
}

// Text is what helloHandler responds with.
const Text = "hello, world!\n"

// helloHandler
type helloHandler struct {
}

func (h *helloHandler) Handle(req RequestSource, resp ServerResponse) {
	resp.SetContentType("text/plain")
	resp.SetNoCache()
	if req.Head().IsMethod("HEAD") {
		resp.SetContentLength(int64(len(Text)))
		return
	}
	resp.WriteString(Text)
}

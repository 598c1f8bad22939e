// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Hemi server.

package main

import (
	"github.com/mdaniel/svn-caucho-com-resin-sub019/hemi/process"

	_ "github.com/mdaniel/svn-caucho-com-resin-sub019/hemi/builtin" // all builtin handlers
)

func main() {
	process.Main(&process.Opts{
		ProgramName:  "hemi",
		ProgramTitle: "Hemi",
		Version:      "0.1.0",
	})
}

// Copyright (c) 2020-2025 Zhang Jingcheng <diogin@gmail.com>.
// All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.

// Builtin components are the standard handlers that ship with the Hemi Engine.

package builtin

import (
	_ "github.com/mdaniel/svn-caucho-com-resin-sub019/hemi/builtin/handlets/echo"
	_ "github.com/mdaniel/svn-caucho-com-resin-sub019/hemi/builtin/handlets/hello"
)

// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build solaris || aix || plan9 || js || wasip1
// +build solaris aix plan9 js wasip1

package beacon

import "syscall"

// The runtime already enables broadcasting on UDP sockets here.
func broadcastControl(_, _ string, _ syscall.RawConn) error {
	return nil
}

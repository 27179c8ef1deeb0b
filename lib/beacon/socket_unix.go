// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

//go:build !windows && !solaris && !aix && !plan9 && !js && !wasip1
// +build !windows,!solaris,!aix,!plan9,!js,!wasip1

package beacon

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func broadcastControl(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); opErr != nil {
			return
		}
		if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); opErr != nil {
			return
		}
		// Not every kernel knows SO_REUSEPORT.
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			l.Debugln("SO_REUSEPORT not set:", err)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package beacon

import (
	"context"
	"net"
)

func openBroadcastSocket(ctx context.Context) (packetConn, error) {
	lc := net.ListenConfig{Control: broadcastControl}
	return lc.ListenPacket(ctx, "udp4", ":0")
}

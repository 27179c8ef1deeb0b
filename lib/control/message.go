// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package control

import (
	"fmt"
)

// Message types. A client sends hello or ping; the server answers every
// message with exactly one reply carrying the same ID.
const (
	TypeHello = "hello"
	TypePing  = "ping"
	TypePong  = "pong"
	TypeError = "error"
)

// Message is the unit exchanged on the control channel, encoded as a CBOR
// map in a stream of consecutive items.
type Message struct {
	Type string `cbor:"type"`
	ID   uint64 `cbor:"id"`
	Body string `cbor:"body,omitempty"`
}

func (m Message) String() string {
	return fmt.Sprintf("%s#%d", m.Type, m.ID)
}

// reply returns the answer to a well formed message. Unknown types get an
// error reply and the session continues.
func reply(msg Message) Message {
	switch msg.Type {
	case TypeHello:
		return Message{Type: TypeHello, ID: msg.ID, Body: fmt.Sprintf("Hello %s!", msg.Body)}
	case TypePing:
		return Message{Type: TypePong, ID: msg.ID, Body: msg.Body}
	default:
		return Message{Type: TypeError, ID: msg.ID, Body: fmt.Sprintf("unknown message type %q", msg.Type)}
	}
}

// metricType keeps the metric label set bounded.
func metricType(t string) string {
	switch t {
	case TypeHello, TypePing:
		return t
	default:
		return "unknown"
	}
}

// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package codec

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

type testMessage struct {
	Type string `cbor:"type"`
	ID   uint64 `cbor:"id"`
	Body string `cbor:"body,omitempty"`
}

func TestEncodeDeterministic(t *testing.T) {
	t.Parallel()

	encode := func(v any) []byte {
		var buf bytes.Buffer
		if err := NewEncoder(&buf).Encode(v); err != nil {
			t.Fatal(err)
		}
		return buf.Bytes()
	}

	// Map keys are sorted regardless of insertion order.
	first := encode(map[string]any{"type": "hello", "id": 7, "body": "phone"})
	second := encode(map[string]any{"body": "phone", "id": 7, "type": "hello"})
	if !bytes.Equal(first, second) {
		t.Errorf("encoding is not deterministic: %x != %x", first, second)
	}

	var decoded testMessage
	if err := NewDecoder(bytes.NewReader(first)).Decode(&decoded); err != nil {
		t.Fatal(err)
	}
	if want := (testMessage{Type: "hello", ID: 7, Body: "phone"}); decoded != want {
		t.Errorf("got %+v, expected %+v", decoded, want)
	}
}

func TestStream(t *testing.T) {
	t.Parallel()

	msgs := []testMessage{
		{Type: "hello", ID: 1, Body: "a"},
		{Type: "ping", ID: 2},
		{Type: "hello", ID: 3, Body: "b"},
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, msg := range msgs {
		if err := enc.Encode(msg); err != nil {
			t.Fatal(err)
		}
	}

	dec := NewDecoder(&buf)
	for i, want := range msgs {
		var got testMessage
		if err := dec.Decode(&got); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if got != want {
			t.Errorf("message %d: got %+v, expected %+v", i, got, want)
		}
	}

	var extra testMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF after last message, got %v", err)
	}
}

func TestDecodeGarbage(t *testing.T) {
	t.Parallel()

	// 0xff is a break code outside of an indefinite length item.
	dec := NewDecoder(strings.NewReader("\xff\xff\xff"))
	var msg testMessage
	if err := dec.Decode(&msg); err == nil {
		t.Fatal("expected an error decoding garbage")
	}
}

func TestDecodeNestingLimit(t *testing.T) {
	t.Parallel()

	// An array nested deeper than MaxNestedLevels.
	data := append(bytes.Repeat([]byte{0x81}, MaxNestedLevels+1), 0x00)
	var v any
	if err := NewDecoder(bytes.NewReader(data)).Decode(&v); err == nil {
		t.Fatal("expected nesting limit to be enforced")
	}
}

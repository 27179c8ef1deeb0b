// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package beacon

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	Magic           = "pipe2phone"
	ProtocolVersion = 1
)

// The number of elements in an encoded descriptor. Longer arrays are
// accepted and the trailing elements ignored.
const descriptorFields = 7

var (
	ErrIncorrectMagic     = errors.New("incorrect magic")
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrMalformed          = errors.New("malformed descriptor")
	ErrUnresolvedPort     = errors.New("port not resolved")
)

// A Descriptor is what a server announces about itself on the local
// network. It is encoded as a JSON array:
//
//	["pipe2phone", 1, title, description, infoPort, securePort, fingerprint]
type Descriptor struct {
	ProtocolVersion int
	Title           string
	Description     string
	InfoPort        int
	SecurePort      int
	CertFingerprint string
}

// NewDescriptor returns a Descriptor for the current protocol version. The
// ports must be the ones actually bound, never zero.
func NewDescriptor(title, description string, infoPort, securePort int, fingerprint string) (Descriptor, error) {
	if err := checkPort("info", infoPort); err != nil {
		return Descriptor{}, err
	}
	if err := checkPort("secure", securePort); err != nil {
		return Descriptor{}, err
	}
	return Descriptor{
		ProtocolVersion: ProtocolVersion,
		Title:           title,
		Description:     description,
		InfoPort:        infoPort,
		SecurePort:      securePort,
		CertFingerprint: fingerprint,
	}, nil
}

func checkPort(name string, port int) error {
	if port == 0 {
		return fmt.Errorf("%s port: %w", name, ErrUnresolvedPort)
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s port %d: %w", name, port, ErrMalformed)
	}
	return nil
}

func (d Descriptor) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{
		Magic,
		d.ProtocolVersion,
		d.Title,
		d.Description,
		d.InfoPort,
		d.SecurePort,
		d.CertFingerprint,
	})
}

func (d *Descriptor) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%q (info port %d, secure port %d, fingerprint %s)", d.Title, d.InfoPort, d.SecurePort, d.CertFingerprint)
}

// Parse decodes a received broadcast payload.
func Parse(data []byte) (Descriptor, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(fields) == 0 {
		return Descriptor{}, fmt.Errorf("%w: empty array", ErrMalformed)
	}

	var magic string
	if err := json.Unmarshal(fields[0], &magic); err != nil || magic != Magic {
		return Descriptor{}, ErrIncorrectMagic
	}
	if len(fields) < 2 {
		return Descriptor{}, fmt.Errorf("%w: missing version", ErrMalformed)
	}
	var d Descriptor
	if err := json.Unmarshal(fields[1], &d.ProtocolVersion); err != nil {
		return Descriptor{}, fmt.Errorf("%w: version: %v", ErrMalformed, err)
	}
	if d.ProtocolVersion != ProtocolVersion {
		return Descriptor{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, d.ProtocolVersion)
	}
	if len(fields) < descriptorFields {
		return Descriptor{}, fmt.Errorf("%w: %d fields, expected %d", ErrMalformed, len(fields), descriptorFields)
	}

	targets := []struct {
		name string
		dst  interface{}
	}{
		{"title", &d.Title},
		{"description", &d.Description},
		{"info port", &d.InfoPort},
		{"secure port", &d.SecurePort},
		{"fingerprint", &d.CertFingerprint},
	}
	for i, t := range targets {
		if err := json.Unmarshal(fields[i+2], t.dst); err != nil {
			return Descriptor{}, fmt.Errorf("%w: %s: %v", ErrMalformed, t.name, err)
		}
	}
	if err := checkPort("info", d.InfoPort); err != nil {
		return Descriptor{}, err
	}
	if err := checkPort("secure", d.SecurePort); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package beacon announces the server on the local network by periodically
// broadcasting a Descriptor over UDP.
package beacon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

const (
	DefaultAddress  = "255.255.255.255"
	DefaultPort     = 48321
	DefaultInterval = 5 * time.Second

	// MaxPayloadSize is the largest UDP payload an IPv4 datagram can carry.
	MaxPayloadSize = 65507

	writeTimeout = time.Second
)

var (
	ErrInvalidInterval = errors.New("interval must be positive")
	ErrPayloadTooLarge = errors.New("descriptor does not fit in a UDP datagram")
)

// packetConn is the part of net.PacketConn used for sending.
type packetConn interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// The Advertiser is a suture.Service that sends the same payload to the
// broadcast address once per interval until its context is cancelled.
type Advertiser struct {
	dst      *net.UDPAddr
	interval time.Duration
	desc     Descriptor
	payload  []byte
	open     func(ctx context.Context) (packetConn, error)
}

// NewAdvertiser prepares an Advertiser. The descriptor is encoded once here
// and the same bytes are sent on every tick.
func NewAdvertiser(addr string, port int, interval time.Duration, desc Descriptor) (*Advertiser, error) {
	if addr == "" {
		addr = DefaultAddress
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("advertising port %d out of range", port)
	}
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	ip := net.ParseIP(addr).To4()
	if ip == nil {
		return nil, fmt.Errorf("advertising address %q is not an IPv4 address", addr)
	}
	dst := &net.UDPAddr{IP: ip, Port: port}
	payload, err := json.Marshal(desc)
	if err != nil {
		return nil, fmt.Errorf("encoding descriptor: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes, at most %d (shorten the server title or description)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	return &Advertiser{
		dst:      dst,
		interval: interval,
		desc:     desc,
		payload:  payload,
		open:     openBroadcastSocket,
	}, nil
}

// Payload returns the bytes sent on every tick.
func (a *Advertiser) Payload() []byte {
	return a.payload
}

func (a *Advertiser) Serve(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	conn, err := a.open(ctx)
	if err != nil {
		l.Warnln("Opening broadcast socket:", err)
		return err
	}
	defer conn.Close()

	l.Infof("Sending broadcasts to %v once every %v", a.dst, a.interval)
	l.Debugln("Broadcasting", a.desc)

	// The first broadcast goes out immediately.
	timer := time.NewTimer(0)
	defer timer.Stop()

	failures := 0
	for {
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil
		}
		// Cancellation wins over a timer that fired at the same moment,
		// so no datagram is sent once the context is done.
		if ctx.Err() != nil {
			return nil
		}

		if err := a.send(conn); err != nil {
			metricBroadcastsTotal.WithLabelValues(resultFailure).Inc()
			if failures == 0 {
				l.Warnln("Could not send broadcast:", err)
			} else {
				l.Debugln("Could not send broadcast:", err)
			}
			failures++
		} else {
			metricBroadcastsTotal.WithLabelValues(resultSuccess).Inc()
			metricBroadcastBytes.Add(float64(len(a.payload)))
			if failures > 0 {
				l.Infof("Broadcasts resumed after %d failed attempts", failures)
				failures = 0
			}
		}

		timer.Reset(a.interval)
	}
}

func (a *Advertiser) send(conn packetConn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer conn.SetWriteDeadline(time.Time{})
	_, err := conn.WriteTo(a.payload, a.dst)
	return err
}

func (a *Advertiser) String() string {
	return fmt.Sprintf("beacon.Advertiser@%p", a)
}

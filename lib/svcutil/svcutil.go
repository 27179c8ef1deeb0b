// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package svcutil holds the glue between pipe2phone services and the suture
// supervisor: exit statuses, fatal errors and function backed services.
package svcutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/pipe2phone/pipe2phone/lib/logger"
)

// ServiceTimeout is how long the supervisor waits for a service to return
// after its context is cancelled.
const ServiceTimeout = 10 * time.Second

type ExitStatus int

const (
	ExitSuccess ExitStatus = 0
	ExitError   ExitStatus = 1
)

func (s ExitStatus) AsInt() int {
	return int(s)
}

func (s ExitStatus) String() string {
	switch s {
	case ExitSuccess:
		return "success"
	case ExitError:
		return "error"
	default:
		return fmt.Sprintf("exit status %d", int(s))
	}
}

// FatalErr ends the process. A service returning one takes the whole
// supervisor tree down and the app exits with Status.
type FatalErr struct {
	Err    error
	Status ExitStatus
}

// AsFatalErr marks err as fatal. An error that already carries a FatalErr
// keeps its original status.
func AsFatalErr(err error, status ExitStatus) *FatalErr {
	var ferr *FatalErr
	if errors.As(err, &ferr) {
		return ferr
	}
	return &FatalErr{Err: err, Status: status}
}

func (e *FatalErr) Error() string {
	return e.Err.Error()
}

func (e *FatalErr) Unwrap() error {
	return e.Err
}

// Is makes the supervisor treat the error as the end of the tree.
func (e *FatalErr) Is(target error) bool {
	return target == suture.ErrTerminateSupervisorTree
}

type ServiceWithError interface {
	suture.Service
	fmt.Stringer
	Error() error
}

// AsService turns fn into a supervised service named name. The error of the
// last run is available from Error; a run ended by cancelling its context
// counts as a clean exit.
func AsService(fn func(ctx context.Context) error, name string) ServiceWithError {
	return &funcService{name: name, fn: fn}
}

type funcService struct {
	name string
	fn   func(ctx context.Context) error

	mut     sync.Mutex
	lastErr error
}

func (s *funcService) Serve(ctx context.Context) error {
	s.setErr(nil)
	err := s.fn(ctx)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	s.setErr(err)
	return err
}

func (s *funcService) setErr(err error) {
	s.mut.Lock()
	s.lastErr = err
	s.mut.Unlock()
}

func (s *funcService) Error() error {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.lastErr
}

func (s *funcService) String() string {
	return s.name
}

// SupervisorSpec is the spec for every pipe2phone supervisor. Services that
// fail and get restarted are logged as warnings, the rest of the
// supervisor's events only at debug level.
func SupervisorSpec(l logger.Logger) suture.Spec {
	return suture.Spec{
		EventHook:         eventLogger(l),
		Timeout:           ServiceTimeout,
		PassThroughPanics: true,
	}
}

func eventLogger(l logger.Logger) suture.EventHook {
	return func(e suture.Event) {
		if term, ok := e.(suture.EventServiceTerminate); ok && term.Restarting {
			l.Warnf("%s failed, restarting: %v", term.ServiceName, term.Err)
			return
		}
		l.Debugln(e)
	}
}

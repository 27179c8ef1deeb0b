// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"errors"
	"fmt"
)

var ErrDirectoryExists = errors.New("directory already exists; delete it to create a new configuration")

// ConfigurationError is the single error type for everything that is wrong
// with the configuration or the files it refers to. It is fatal at startup.
type ConfigurationError struct {
	Path string
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("configuration: %v", e.Err)
	}
	return fmt.Sprintf("configuration %s: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func newError(path string, err error) *ConfigurationError {
	return &ConfigurationError{Path: path, Err: err}
}

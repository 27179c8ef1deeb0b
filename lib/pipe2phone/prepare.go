// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package pipe2phone

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/pipe2phone/pipe2phone/lib/config"
	"github.com/pipe2phone/pipe2phone/lib/locations"
	"github.com/pipe2phone/pipe2phone/lib/tlsutil"
)

type Options struct {
	// ConfigFile is the configuration file to load. Empty means the file
	// in HomeDir.
	ConfigFile string
	// HomeDir is the configuration directory. Empty means the one from the
	// locations package, ~/.pipe2phone unless overridden.
	HomeDir string
	// CreateDefault creates HomeDir with a default configuration when it
	// does not exist yet. Files outside HomeDir are never created.
	CreateDefault bool
	// CertOptions is used when a new certificate has to be generated. The
	// zero value means tlsutil.DefaultCertificateOptions.
	CertOptions tlsutil.CertificateOptions
}

// Setup is everything loaded from disk before any socket is opened.
type Setup struct {
	ConfigFile  string
	Config      config.Configuration
	KeyMaterial *tlsutil.KeyMaterial
}

// Prepare loads the configuration and ensures the key material exists.
// Every error is either a *config.ConfigurationError or a
// *tlsutil.TLSConfigurationError; both are fatal.
func Prepare(opts Options) (*Setup, error) {
	var path, defaultPath string
	var err error
	if opts.ConfigFile == "" || opts.CreateDefault {
		defaultPath = locations.Get(locations.ConfigFile)
		if opts.HomeDir != "" {
			defaultPath = filepath.Join(opts.HomeDir, locations.ConfigFileName)
		}
		if defaultPath, err = absPath(defaultPath); err != nil {
			return nil, err
		}
		path = defaultPath
	}
	if opts.ConfigFile != "" {
		if path, err = absPath(opts.ConfigFile); err != nil {
			return nil, err
		}
	}

	if opts.CreateDefault && path == defaultPath {
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	keyFile, err := cfg.PrivateKeyFile()
	if err != nil {
		return nil, err
	}
	certFile, err := cfg.SSLCertFile()
	if err != nil {
		return nil, err
	}

	certOpts := opts.CertOptions
	if certOpts.KeyBits == 0 {
		certOpts = tlsutil.DefaultCertificateOptions()
	}
	km, err := tlsutil.EnsureKeyMaterial(keyFile, certFile, cfg.PrivateKeyPassword, certOpts)
	if err != nil {
		var tlsErr *tlsutil.TLSConfigurationError
		if errors.As(err, &tlsErr) {
			return nil, tlsErr
		}
		return nil, &config.ConfigurationError{Path: cfg.Dir, Err: err}
	}
	l.Infoln("Using private key", km.KeyFile)
	l.Infoln("Using certificate", km.CertFile)

	return &Setup{
		ConfigFile:  path,
		Config:      cfg,
		KeyMaterial: km,
	}, nil
}

// createDefault writes the default configuration to path unless the file
// exists. The directory must not exist yet; config.CreateDefault refuses to
// populate one that is already there.
func createDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return &config.ConfigurationError{Path: path, Err: err}
	}
	_, err := config.CreateDefault(filepath.Dir(path))
	return err
}

func absPath(path string) (string, error) {
	expanded, err := locations.ExpandTilde(path)
	if err != nil {
		return "", &config.ConfigurationError{Path: path, Err: err}
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", &config.ConfigurationError{Path: path, Err: err}
	}
	return abs, nil
}

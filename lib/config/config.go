// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package config implements loading, validation and first run creation of
// the YAML configuration file.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pipe2phone/pipe2phone/lib/locations"
)

//go:embed pipe2phone.yml
var defaultConfigTemplate []byte

// Configuration enumerates every recognized field of the configuration
// file. Unknown fields are rejected when loading.
type Configuration struct {
	ServerTitle         string               `yaml:"server_title"`
	ServerDescription   string               `yaml:"server_description"`
	BindAddress         string               `yaml:"bind_address"`
	HTTPPort            int                  `yaml:"http_port"`
	SecurePort          int                  `yaml:"secure_port"`
	PrivateKey          string               `yaml:"private_key"`
	PrivateKeyPassword  string               `yaml:"private_key_password"`
	SSLCert             string               `yaml:"ssl_cert"`
	AdvertisingAddress  string               `yaml:"advertising_address"`
	AdvertisingPort     int                  `yaml:"advertising_port"`
	AdvertisingInterval float64              `yaml:"advertising_interval"`
	MetricsAddress      string               `yaml:"metrics_address"`
	Control             ControlConfiguration `yaml:"control"`

	// Dir is the directory relative paths are resolved against; the
	// directory of the loaded file.
	Dir string `yaml:"-"`
}

type ControlConfiguration struct {
	HandshakeTimeoutS float64 `yaml:"handshake_timeout"`
	MaxMessageRate    float64 `yaml:"max_message_rate"`
	MessageBurst      int     `yaml:"message_burst"`
}

// New returns a configuration with all defaults set.
func New() Configuration {
	return Configuration{
		ServerTitle:         "pipe2phone",
		ServerDescription:   "pipe2phone server",
		BindAddress:         "0.0.0.0",
		PrivateKey:          locations.KeyFileName,
		SSLCert:             locations.CertFileName,
		AdvertisingAddress:  "255.255.255.255",
		AdvertisingPort:     48321,
		AdvertisingInterval: 5,
		Control: ControlConfiguration{
			HandshakeTimeoutS: 10,
			MaxMessageRate:    50,
			MessageBurst:      100,
		},
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (Configuration, error) {
	path, err := locations.ExpandTilde(path)
	if err != nil {
		return Configuration{}, newError(path, err)
	}
	path, err = filepath.Abs(path)
	if err != nil {
		return Configuration{}, newError(path, err)
	}

	bs, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Configuration{}, newError(path, errors.New("file does not exist"))
	} else if err != nil {
		return Configuration{}, newError(path, err)
	}

	l.Infoln("Using configuration file", path)
	cfg, err := Parse(bytes.NewReader(bs), filepath.Dir(path))
	if err != nil {
		return Configuration{}, newError(path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a configuration. Relative paths in it will
// be resolved against dir.
func Parse(r io.Reader, dir string) (Configuration, error) {
	cfg := New()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return Configuration{}, errors.New("empty configuration")
		}
		return Configuration{}, err
	}
	cfg.Dir = dir
	if err := cfg.Validate(); err != nil {
		return Configuration{}, err
	}
	return cfg, nil
}

// Validate checks that every field holds a usable value.
func (cfg Configuration) Validate() error {
	if cfg.ServerTitle == "" {
		return errors.New("server_title must not be empty")
	}
	if ip := net.ParseIP(cfg.BindAddress); cfg.BindAddress != "" && ip == nil {
		return fmt.Errorf("bind_address %q is not an IP address", cfg.BindAddress)
	}
	if err := checkPort("http_port", cfg.HTTPPort, true); err != nil {
		return err
	}
	if err := checkPort("secure_port", cfg.SecurePort, true); err != nil {
		return err
	}
	if cfg.HTTPPort != 0 && cfg.HTTPPort == cfg.SecurePort {
		return fmt.Errorf("http_port and secure_port must differ (both %d)", cfg.HTTPPort)
	}
	if cfg.PrivateKey == "" {
		return errors.New("private_key must not be empty")
	}
	if cfg.SSLCert == "" {
		return errors.New("ssl_cert must not be empty")
	}
	if ip := net.ParseIP(cfg.AdvertisingAddress); ip == nil || ip.To4() == nil {
		return fmt.Errorf("advertising_address %q is not an IPv4 address", cfg.AdvertisingAddress)
	}
	if err := checkPort("advertising_port", cfg.AdvertisingPort, false); err != nil {
		return err
	}
	if cfg.AdvertisingInterval <= 0 || math.IsNaN(cfg.AdvertisingInterval) || math.IsInf(cfg.AdvertisingInterval, 0) {
		return fmt.Errorf("advertising_interval must be a positive number of seconds, not %v", cfg.AdvertisingInterval)
	}
	if cfg.MetricsAddress != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddress); err != nil {
			return fmt.Errorf("metrics_address: %w", err)
		}
	}
	if cfg.Control.HandshakeTimeoutS <= 0 {
		return errors.New("control.handshake_timeout must be positive")
	}
	if cfg.Control.MaxMessageRate <= 0 {
		return errors.New("control.max_message_rate must be positive")
	}
	if cfg.Control.MessageBurst < 1 {
		return errors.New("control.message_burst must be at least 1")
	}
	return nil
}

func checkPort(name string, port int, allowZero bool) error {
	if port < 0 || port > 65535 || (port == 0 && !allowZero) {
		return fmt.Errorf("%s %d out of range", name, port)
	}
	return nil
}

// InfoAddress is the listen address of the plaintext info server.
func (cfg Configuration) InfoAddress() string {
	return net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.HTTPPort))
}

// SecureAddress is the listen address of the secure control server.
func (cfg Configuration) SecureAddress() string {
	return net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.SecurePort))
}

func (cfg Configuration) AdvertisingIntervalDuration() time.Duration {
	return time.Duration(cfg.AdvertisingInterval * float64(time.Second))
}

func (cfg Configuration) HandshakeTimeout() time.Duration {
	return time.Duration(cfg.Control.HandshakeTimeoutS * float64(time.Second))
}

// PrivateKeyFile is the absolute path of the private key file.
func (cfg Configuration) PrivateKeyFile() (string, error) {
	return cfg.ResolvePath(cfg.PrivateKey)
}

// SSLCertFile is the absolute path of the certificate file.
func (cfg Configuration) SSLCertFile() (string, error) {
	return cfg.ResolvePath(cfg.SSLCert)
}

// ResolvePath expands a leading tilde and resolves path relative to the
// configuration directory unless it is absolute.
func (cfg Configuration) ResolvePath(path string) (string, error) {
	path, err := locations.ExpandTilde(path)
	if err != nil {
		return "", newError(path, err)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.Dir, path)
	}
	return filepath.Clean(path), nil
}

// CreateDefault creates the directory dir and writes the default
// configuration file into it. The directory must not already exist.
func CreateDefault(dir string) (string, error) {
	if _, err := os.Lstat(dir); err == nil {
		return "", newError(dir, ErrDirectoryExists)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", newError(dir, err)
	}

	l.Infof("Creating default configuration in %s...", dir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", newError(dir, err)
	}

	path := filepath.Join(dir, locations.ConfigFileName)
	if err := os.WriteFile(path, defaultConfigTemplate, 0o600); err != nil {
		return "", newError(path, err)
	}
	l.Infoln("Created", locations.ConfigFileName)
	return path, nil
}

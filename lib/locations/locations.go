// Copyright (C) 2026 The Pipe2phone Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package locations

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type LocationEnum string

// Use strings as keys to make printout and serialization of the locations map
// more meaningful.
const (
	ConfigFile LocationEnum = "config"
)

type BaseDirEnum string

const (
	// Overridden by the --home flag
	ConfigBaseDir BaseDirEnum = "config"
)

// Conventional file names inside the configuration directory.
const (
	DefaultConfigDirName = ".pipe2phone"
	ConfigFileName       = "pipe2phone.yml"
	KeyFileName          = "private_key.pem"
	CertFileName         = "cert.pem"
)

var baseDirs = map[BaseDirEnum]string{
	ConfigBaseDir: filepath.Join("~", DefaultConfigDirName),
}

func init() {
	expandLocations()
}

func SetBaseDir(baseDirName BaseDirEnum, path string) error {
	_, ok := baseDirs[baseDirName]
	if !ok {
		return fmt.Errorf("unknown base dir: %s", baseDirName)
	}
	baseDirs[baseDirName] = filepath.Clean(path)
	expandLocations()
	return nil
}

// Get returns the absolute path of the given location, with any leading
// tilde expanded.
func Get(location LocationEnum) string {
	relPath := locations[location]
	fullPath, err := ExpandTilde(relPath)
	if err != nil {
		return relPath
	}
	return fullPath
}

// Use the variables from baseDirs here. The key and certificate live
// wherever the configuration file points, so they have no entry.
var locationTemplates = map[LocationEnum]string{
	ConfigFile: "${config}/" + ConfigFileName,
}

var locations = make(map[LocationEnum]string)

// expandLocations replaces the variables in the locations map with actual
// directory locations.
func expandLocations() {
	newLocations := make(map[LocationEnum]string)
	for key, dir := range locationTemplates {
		for varName, value := range baseDirs {
			dir = strings.ReplaceAll(dir, "${"+string(varName)+"}", value)
		}
		newLocations[key] = filepath.Clean(dir)
	}
	locations = newLocations
}

var errNoHome = errors.New("no home directory found - set $HOME (or the platform equivalent)")

// ExpandTilde replaces a leading "~" in path with the user's home
// directory.
func ExpandTilde(path string) (string, error) {
	if path == "~" {
		return getHomeDir()
	}
	if !strings.HasPrefix(path, "~"+string(filepath.Separator)) && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := getHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[2:]), nil
}

func getHomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", errNoHome
	}
	return home, nil
}

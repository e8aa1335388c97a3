/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/microsoft/dapclient/internal/dap"
)

// BreakpointSpec describes line breakpoints in a single source file.
type BreakpointSpec struct {
	Path      string `yaml:"path"`
	Lines     []int  `yaml:"lines"`
	Condition string `yaml:"condition,omitempty"`
}

// RunConfiguration describes a debug session: how to reach the debug adapter, and what to debug.
// It is read from a YAML (or JSON) file; command line flags override file values.
type RunConfiguration struct {
	Adapter dap.DebugAdapterConfig `yaml:"adapter"`

	// Address of a debug adapter that is already running. If set, no adapter is launched.
	Connect string `yaml:"connect,omitempty"`

	AdapterID string `yaml:"adapterID,omitempty"`

	// "launch" (default) or "attach".
	Request dap.SessionKind `yaml:"request,omitempty"`

	// Adapter-specific launch (or attach) configuration.
	Configuration map[string]any `yaml:"configuration,omitempty"`

	Breakpoints []BreakpointSpec `yaml:"breakpoints,omitempty"`
}

var errNoAdapter = errors.New("either the debug adapter command or the address of a running debug adapter must be specified")

// LoadRunConfiguration reads the run configuration from a file.
func LoadRunConfiguration(path string) (*RunConfiguration, error) {
	content, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, fmt.Errorf("could not read run configuration file '%s': %w", path, readErr)
	}

	config, parseErr := parseRunConfiguration(content)
	if parseErr != nil {
		return nil, fmt.Errorf("invalid run configuration file '%s': %w", path, parseErr)
	}
	return config, nil
}

func parseRunConfiguration(content []byte) (*RunConfiguration, error) {
	var config RunConfiguration

	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if decodeErr := decoder.Decode(&config); decodeErr != nil && !errors.Is(decodeErr, io.EOF) {
		return nil, decodeErr
	}

	if config.Configuration == nil {
		config.Configuration = map[string]any{}
	}
	dap.NormalizeNumbers(config.Configuration)

	return &config, nil
}

// validate applies defaults and checks that the configuration is usable.
func (c *RunConfiguration) validate() error {
	if c.Request == "" {
		c.Request = dap.SessionKindLaunch
	}
	if !c.Request.IsValid() {
		return fmt.Errorf("invalid request '%s': must be either '%s' or '%s'", c.Request, dap.SessionKindLaunch, dap.SessionKindAttach)
	}

	if c.Connect == "" {
		if len(c.Adapter.Args) == 0 {
			return errNoAdapter
		}
		if adapterErr := c.Adapter.Validate(); adapterErr != nil {
			return adapterErr
		}
	}

	for i, bp := range c.Breakpoints {
		if bp.Path == "" {
			return fmt.Errorf("breakpoint #%d has no source file path", i+1)
		}
		if slices.ContainsFunc(bp.Lines, func(line int) bool { return line <= 0 }) {
			return fmt.Errorf("breakpoints in '%s' have invalid line numbers %v", bp.Path, bp.Lines)
		}
	}

	return nil
}

// parseBreakpointFlag parses a breakpoint given in the form <file>:<line>.
func parseBreakpointFlag(value string) (BreakpointSpec, error) {
	sep := strings.LastIndex(value, ":")
	if sep <= 0 || sep == len(value)-1 {
		return BreakpointSpec{}, fmt.Errorf("invalid breakpoint '%s': expected <file>:<line>", value)
	}

	line, lineErr := strconv.Atoi(value[sep+1:])
	if lineErr != nil || line <= 0 {
		return BreakpointSpec{}, fmt.Errorf("invalid breakpoint '%s': line must be a positive number", value)
	}

	return BreakpointSpec{Path: value[:sep], Lines: []int{line}}, nil
}

// parseEnvFlag parses an environment variable given in the form <name>=<value>.
func parseEnvFlag(value string) (dap.EnvVar, error) {
	name, val, found := strings.Cut(value, "=")
	if !found || name == "" {
		return dap.EnvVar{}, fmt.Errorf("invalid environment variable '%s': expected <name>=<value>", value)
	}
	return dap.EnvVar{Name: name, Value: val}, nil
}

// absolutePath resolves breakpoint paths relative to the working directory.
func absolutePath(path string) string {
	if abs, absErr := filepath.Abs(path); absErr == nil {
		return abs
	}
	return filepath.Clean(path)
}

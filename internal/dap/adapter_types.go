/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"fmt"
	"strings"
	"time"
)

const DefaultAdapterConnectionTimeout = 10 * time.Second

// DebugAdapterMode is the channel the client and the debug adapter process exchange messages over.
type DebugAdapterMode string

const (
	// Messages go through the adapter's stdin and stdout.
	DebugAdapterModeStdio DebugAdapterMode = "stdio"

	// The client listens and the adapter connects to it.
	// The listener port replaces the PortPlaceholder in adapter arguments.
	DebugAdapterModeTCPCallback DebugAdapterMode = "tcp-callback"

	// The adapter listens on a port chosen by the client, and the client connects to it.
	// The port replaces the PortPlaceholder in adapter arguments.
	DebugAdapterModeTCPConnect DebugAdapterMode = "tcp-connect"
)

var debugAdapterModes = []DebugAdapterMode{DebugAdapterModeStdio, DebugAdapterModeTCPCallback, DebugAdapterModeTCPConnect}

// ParseDebugAdapterMode converts a mode name (case-insensitive) to a DebugAdapterMode.
func ParseDebugAdapterMode(s string) (DebugAdapterMode, error) {
	for _, mode := range debugAdapterModes {
		if strings.EqualFold(s, string(mode)) {
			return mode, nil
		}
	}
	return "", fmt.Errorf("invalid debug adapter mode '%s': must be one of %v", s, debugAdapterModes)
}

// EnvVar is an environment variable set for the debug adapter process.
type EnvVar struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
}

// DebugAdapterConfig describes how to start a debug adapter process and talk to it.
type DebugAdapterConfig struct {
	// The adapter executable, followed by its arguments.
	Args []string `json:"args" yaml:"args"`

	// Empty means DebugAdapterModeStdio.
	Mode DebugAdapterMode `json:"mode,omitempty" yaml:"mode,omitempty"`

	// Added to the environment inherited from the client process.
	Env []EnvVar `json:"env,omitempty" yaml:"env,omitempty"`

	// How long to wait for the TCP connection with the adapter. Zero means DefaultAdapterConnectionTimeout.
	ConnectionTimeoutSeconds int `json:"connectionTimeoutSeconds,omitempty" yaml:"connectionTimeoutSeconds,omitempty"`
}

func (c *DebugAdapterConfig) GetConnectionTimeout() time.Duration {
	if c.ConnectionTimeoutSeconds <= 0 {
		return DefaultAdapterConnectionTimeout
	}
	return time.Duration(c.ConnectionTimeoutSeconds) * time.Second
}

// EffectiveMode returns the adapter mode; an empty or unknown mode means stdio.
func (c *DebugAdapterConfig) EffectiveMode() DebugAdapterMode {
	if mode, parseErr := ParseDebugAdapterMode(string(c.Mode)); parseErr == nil {
		return mode
	}
	return DebugAdapterModeStdio
}

// Validate checks that the debug adapter can be started using this configuration.
func (c *DebugAdapterConfig) Validate() error {
	if len(c.Args) == 0 || c.Args[0] == "" {
		return ErrInvalidAdapterConfig
	}
	if c.Mode != "" {
		if _, parseErr := ParseDebugAdapterMode(string(c.Mode)); parseErr != nil {
			return fmt.Errorf("%w: %w", ErrInvalidAdapterConfig, parseErr)
		}
	}
	for _, envVar := range c.Env {
		if envVar.Name == "" || strings.ContainsRune(envVar.Name, '=') {
			return fmt.Errorf("%w: invalid environment variable name '%s'", ErrInvalidAdapterConfig, envVar.Name)
		}
	}
	return nil
}

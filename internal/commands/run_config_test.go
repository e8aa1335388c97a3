/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/microsoft/dapclient/internal/dap"
)

const defaultTestTimeout = 20 * time.Second

const sampleRunConfiguration = `
adapter:
  args: ["dlv", "dap", "--listen", "127.0.0.1:{{port}}"]
  mode: tcp-callback
  env:
    - name: GOFLAGS
      value: -mod=mod
  connectionTimeoutSeconds: 5
adapterID: go
request: launch
configuration:
  program: ./cmd/app
  stopOnEntry: false
  args: ["--port", 8080]
  bigValue: 123456789012345678901
breakpoints:
  - path: main.go
    lines: [12, 20]
  - path: worker.go
    lines: [7]
    condition: i > 3
`

func TestParseRunConfiguration(t *testing.T) {
	t.Parallel()

	config, err := parseRunConfiguration([]byte(sampleRunConfiguration))
	require.NoError(t, err)

	require.Equal(t, dap.DebugAdapterModeTCPCallback, config.Adapter.Mode)
	require.Equal(t, []string{"dlv", "dap", "--listen", "127.0.0.1:{{port}}"}, config.Adapter.Args)
	require.Equal(t, []dap.EnvVar{{Name: "GOFLAGS", Value: "-mod=mod"}}, config.Adapter.Env)
	require.Equal(t, 5*time.Second, config.Adapter.GetConnectionTimeout())
	require.Equal(t, "go", config.AdapterID)
	require.Equal(t, dap.SessionKindLaunch, config.Request)

	require.Equal(t, "./cmd/app", config.Configuration["program"])
	require.Equal(t, false, config.Configuration["stopOnEntry"])
	require.Equal(t, []any{"--port", 8080}, config.Configuration["args"])
	require.NotNil(t, config.Configuration["bigValue"])

	require.Len(t, config.Breakpoints, 2)
	require.Equal(t, BreakpointSpec{Path: "main.go", Lines: []int{12, 20}}, config.Breakpoints[0])
	require.Equal(t, "i > 3", config.Breakpoints[1].Condition)

	require.NoError(t, config.validate())
}

func TestParseRunConfigurationAcceptsJSON(t *testing.T) {
	t.Parallel()

	config, err := parseRunConfiguration([]byte(`{"connect": "localhost:4711", "request": "attach", "configuration": {"processId": 4242}}`))
	require.NoError(t, err)
	require.Equal(t, "localhost:4711", config.Connect)
	require.Equal(t, dap.SessionKindAttach, config.Request)
	require.Equal(t, 4242, config.Configuration["processId"])
	require.NoError(t, config.validate())
}

func TestParseRunConfigurationRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := parseRunConfiguration([]byte("adaptor:\n  args: [dlv]\n"))
	require.Error(t, err)
}

func TestParseEmptyRunConfiguration(t *testing.T) {
	t.Parallel()

	config, err := parseRunConfiguration(nil)
	require.NoError(t, err)
	require.NotNil(t, config.Configuration)
	require.ErrorIs(t, config.validate(), errNoAdapter)
}

func TestRunConfigurationValidation(t *testing.T) {
	t.Parallel()

	type testcase struct {
		description string
		config      RunConfiguration
		valid       bool
	}

	testcases := []testcase{
		{"launch defaults", RunConfiguration{Adapter: dap.DebugAdapterConfig{Args: []string{"dlv", "dap"}}}, true},
		{"connect only", RunConfiguration{Connect: "localhost:4711", Request: dap.SessionKindAttach}, true},
		{"no adapter", RunConfiguration{}, false},
		{"invalid request", RunConfiguration{Connect: "localhost:4711", Request: "restart"}, false},
		{"breakpoint without path", RunConfiguration{Connect: "localhost:4711", Breakpoints: []BreakpointSpec{{Lines: []int{1}}}}, false},
		{"zero line", RunConfiguration{Connect: "localhost:4711", Breakpoints: []BreakpointSpec{{Path: "a.go", Lines: []int{0}}}}, false},
	}

	for _, tc := range testcases {
		t.Run(tc.description, func(t *testing.T) {
			t.Parallel()

			err := tc.config.validate()
			if tc.valid {
				require.NoError(t, err)
				require.True(t, tc.config.Request.IsValid())
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestParseBreakpointFlag(t *testing.T) {
	t.Parallel()

	bp, err := parseBreakpointFlag("main.go:12")
	require.NoError(t, err)
	require.Equal(t, BreakpointSpec{Path: "main.go", Lines: []int{12}}, bp)

	bp, err = parseBreakpointFlag(`C:\src\main.go:3`)
	require.NoError(t, err)
	require.Equal(t, `C:\src\main.go`, bp.Path)
	require.Equal(t, []int{3}, bp.Lines)

	for _, invalid := range []string{"main.go", "main.go:", ":12", "main.go:x", "main.go:-1"} {
		_, err = parseBreakpointFlag(invalid)
		require.Error(t, err, invalid)
	}
}

func TestParseEnvFlag(t *testing.T) {
	t.Parallel()

	envVar, err := parseEnvFlag("GOFLAGS=-tags=integration")
	require.NoError(t, err)
	require.Equal(t, dap.EnvVar{Name: "GOFLAGS", Value: "-tags=integration"}, envVar)

	envVar, err = parseEnvFlag("EMPTY=")
	require.NoError(t, err)
	require.Equal(t, "", envVar.Value)

	_, err = parseEnvFlag("=value")
	require.Error(t, err)
	_, err = parseEnvFlag("NOVALUE")
	require.Error(t, err)
}

func TestBuildRunConfigurationAppliesFlags(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(sampleRunConfiguration), 0600))

	flagValues := &runFlagValues{
		configPath:    configPath,
		mode:          "stdio",
		attach:        true,
		adapterID:     "delve",
		configuration: `{"program": "./other", "processId": 123456789012345678901234567890}`,
		breakpoints:   []string{"extra.go:5"},
		env:           []string{"DEBUG=1"},
	}

	config, err := buildRunConfiguration(flagValues, []string{"my-adapter", "--stdio"})
	require.NoError(t, err)

	require.Equal(t, []string{"my-adapter", "--stdio"}, config.Adapter.Args)
	require.Equal(t, dap.DebugAdapterModeStdio, config.Adapter.Mode)
	require.Equal(t, dap.SessionKindAttach, config.Request)
	require.Equal(t, "delve", config.AdapterID)
	require.Equal(t, "./other", config.Configuration["program"])
	require.Equal(t, false, config.Configuration["stopOnEntry"])

	expected, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	require.Equal(t, 0, expected.Cmp(config.Configuration["processId"].(*big.Int)))

	require.Len(t, config.Breakpoints, 3)
	require.Equal(t, "extra.go", config.Breakpoints[2].Path)
	require.Contains(t, config.Adapter.Env, dap.EnvVar{Name: "DEBUG", Value: "1"})
}

func TestBuildRunConfigurationErrors(t *testing.T) {
	t.Parallel()

	_, err := buildRunConfiguration(&runFlagValues{mode: "pipe"}, []string{"adapter"})
	require.Error(t, err)

	_, err = buildRunConfiguration(&runFlagValues{configuration: "[1, 2]"}, []string{"adapter"})
	require.Error(t, err)

	_, err = buildRunConfiguration(&runFlagValues{}, nil)
	require.ErrorIs(t, err, errNoAdapter)

	_, err = buildRunConfiguration(&runFlagValues{configPath: filepath.Join(t.TempDir(), "missing.yaml")}, []string{"adapter"})
	require.Error(t, err)
}

/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"fmt"
	"maps"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/microsoft/dapclient/internal/dap"
)

type runFlagValues struct {
	configPath    string
	mode          string
	connect       string
	attach        bool
	adapterID     string
	configuration string
	breakpoints   []string
	env           []string
	disassemble   bool
}

// ExitCodeError is returned when the debugged program exits with non-zero exit code.
type ExitCodeError struct {
	ExitCode int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("the program exited with code %d", e.ExitCode)
}

func NewRunCommand(log logr.Logger) (*cobra.Command, error) {
	flagValues := &runFlagValues{}

	runCmd := &cobra.Command{
		Use:   "run [flags] [-- <debug adapter command> [adapter args...]]",
		Short: "Runs a program under a debug adapter",
		Long: `Runs a program under a debug adapter.

The debug adapter is either launched using the command that follows the "--" separator,
or reached at the address given by the --connect flag. Adapter-specific launch configuration
is read from the run configuration file, and can be amended with the --configuration flag.

Example:
	dapctl run --breakpoint main.go:12 --configuration '{"program":"./app"}' -- dlv dap`,
		RunE: runDebugSession(log, flagValues),
	}

	addRunFlags(runCmd.Flags(), flagValues)

	return runCmd, nil
}

func addRunFlags(fs *pflag.FlagSet, flagValues *runFlagValues) {
	fs.StringVarP(&flagValues.configPath, "config", "c", "", "Path to the run configuration file (YAML or JSON)")
	fs.StringVar(&flagValues.mode, "mode", "", "How dapctl communicates with the launched debug adapter: stdio (default), tcp-callback, or tcp-connect")
	fs.StringVar(&flagValues.connect, "connect", "", "Address (host:port) of a debug adapter that is already running")
	fs.BoolVar(&flagValues.attach, "attach", false, "Attach to a running program instead of launching a new one")
	fs.StringVar(&flagValues.adapterID, "adapter-id", "", "Debug adapter identifier sent in the initialize request")
	fs.StringVar(&flagValues.configuration, "configuration", "", "Launch (or attach) configuration as a JSON object; merged over the configuration from the run configuration file")
	fs.StringArrayVarP(&flagValues.breakpoints, "breakpoint", "b", nil, "Line breakpoint in the form <file>:<line>; can be repeated")
	fs.StringArrayVarP(&flagValues.env, "env", "e", nil, "Environment variable for the debug adapter in the form <name>=<value>; can be repeated")
	fs.BoolVar(&flagValues.disassemble, "disassemble", false, "Print the instructions around the current position every time the program stops")
}

func runDebugSession(log logr.Logger, flagValues *runFlagValues) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log = log.WithName("run")

		config, configErr := buildRunConfiguration(flagValues, adapterCommand(cmd, args))
		if configErr != nil {
			return configErr
		}

		runner := newSessionRunner(cmd.Context(), log, config, sessionRunnerOptions{
			Stdout:      cmd.OutOrStdout(),
			Stderr:      cmd.ErrOrStderr(),
			Disassemble: flagValues.disassemble,
		})
		return runner.run()
	}
}

// adapterCommand returns the arguments that follow the "--" separator.
func adapterCommand(cmd *cobra.Command, args []string) []string {
	dashAt := cmd.ArgsLenAtDash()
	if dashAt < 0 {
		return args
	}
	return args[dashAt:]
}

// buildRunConfiguration reads the run configuration file (if any) and applies the command line flags over it.
func buildRunConfiguration(flagValues *runFlagValues, adapterArgs []string) (*RunConfiguration, error) {
	config := &RunConfiguration{Configuration: map[string]any{}}
	if flagValues.configPath != "" {
		var loadErr error
		if config, loadErr = LoadRunConfiguration(flagValues.configPath); loadErr != nil {
			return nil, loadErr
		}
	}

	if len(adapterArgs) > 0 {
		config.Adapter.Args = adapterArgs
	}
	if flagValues.mode != "" {
		mode, modeErr := dap.ParseDebugAdapterMode(flagValues.mode)
		if modeErr != nil {
			return nil, modeErr
		}
		config.Adapter.Mode = mode
	}
	if flagValues.connect != "" {
		config.Connect = flagValues.connect
	}
	if flagValues.attach {
		config.Request = dap.SessionKindAttach
	}
	if flagValues.adapterID != "" {
		config.AdapterID = flagValues.adapterID
	}

	if flagValues.configuration != "" {
		overrides, decodeErr := dap.DecodeJSONObject([]byte(flagValues.configuration))
		if decodeErr != nil {
			return nil, fmt.Errorf("invalid launch configuration: %w", decodeErr)
		}
		maps.Copy(config.Configuration, overrides)
	}

	for _, bpValue := range flagValues.breakpoints {
		bp, bpErr := parseBreakpointFlag(bpValue)
		if bpErr != nil {
			return nil, bpErr
		}
		config.Breakpoints = append(config.Breakpoints, bp)
	}

	for _, envValue := range flagValues.env {
		envVar, envErr := parseEnvFlag(envValue)
		if envErr != nil {
			return nil, envErr
		}
		config.Adapter.Env = append(config.Adapter.Env, envVar)
	}

	if validationErr := config.validate(); validationErr != nil {
		return nil, validationErr
	}
	return config, nil
}

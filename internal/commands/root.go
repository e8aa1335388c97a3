/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/microsoft/dapclient/pkg/logger"
)

func NewRootCmd(log *logger.Logger) (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:   "dapctl",
		Short: "Runs programs under a debug adapter",
		Long: `dapctl drives a debug session against any debug adapter that speaks the Debug Adapter Protocol.

	It launches (or connects to) the debug adapter, starts the debuggee, reports program output
	and stop positions, and ends the session when the program exits or dapctl is interrupted.`,
		SilenceUsage:     true,
		PersistentPreRun: LogVersion(log.Logger, "dapctl starting"),
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			log.Flush()
		},
	}

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	log.AddLevelFlag(rootCmd.PersistentFlags())

	var err error
	var cmd *cobra.Command

	if cmd, err = NewVersionCommand(log.Logger); cmd != nil {
		rootCmd.AddCommand(cmd)
	} else {
		return nil, fmt.Errorf("could not set up 'version' command: %w", err)
	}

	if cmd, err = NewRunCommand(log.Logger); cmd != nil {
		rootCmd.AddCommand(cmd)
	} else {
		return nil, fmt.Errorf("could not set up 'run' command: %w", err)
	}

	return rootCmd, nil
}

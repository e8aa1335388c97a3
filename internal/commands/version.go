/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/microsoft/dapclient/internal/version"
)

const (
	versionFormatJSON = "json"
	versionFormatText = "text"
)

func NewVersionCommand(log logr.Logger) (*cobra.Command, error) {
	var format string

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Prints version information",
		Long:  `Prints the version of dapctl, and the version of the Debug Adapter Protocol library it was built with.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printVersion(log.WithName("version"), cmd.OutOrStdout(), format)
		},
	}

	versionCmd.Flags().StringVarP(&format, "output", "o", versionFormatJSON, "Output format: json or text")

	return versionCmd, nil
}

func printVersion(log logr.Logger, w io.Writer, format string) error {
	v := version.Version()

	switch format {
	case versionFormatJSON:
		encoded, err := json.Marshal(v)
		if err != nil {
			log.Error(err, "Could not serialize version information")
			return err
		}
		_, err = fmt.Fprintln(w, string(encoded))
		return err

	case versionFormatText:
		_, err := fmt.Fprintf(w, "dapctl %s\n", v.Version)
		if err == nil && v.CommitHash != "" {
			_, err = fmt.Fprintf(w, "commit:  %s\n", v.CommitHash)
		}
		if err == nil && v.BuildTime != nil {
			_, err = fmt.Fprintf(w, "built:   %s\n", v.BuildTime.Format(time.RFC3339))
		}
		if err == nil {
			_, err = fmt.Fprintf(w, "go:      %s\n", v.GoVersion)
		}
		if err == nil && v.DapLibraryVersion != "" {
			_, err = fmt.Fprintf(w, "go-dap:  %s\n", v.DapLibraryVersion)
		}
		return err

	default:
		return fmt.Errorf("unknown output format '%s'", format)
	}
}

// LogVersion returns a cobra hook that logs the program version and invocation details at debug level.
func LogVersion(log logr.Logger, programStartMsg string) func(_ *cobra.Command, _ []string) {
	return func(_ *cobra.Command, _ []string) {
		if !log.V(1).Enabled() {
			return
		}

		launchPath, pathErr := os.Executable()
		if pathErr != nil {
			launchPath = os.Args[0]
		}

		v := version.Version()
		log.V(1).Info(programStartMsg,
			"PID", os.Getpid(),
			"Exe", launchPath,
			"Args", os.Args[1:],
			"Version", v.Version,
			"CommitHash", v.CommitHash,
			"DapLibraryVersion", v.DapLibraryVersion,
		)
	}
}

/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package version

import (
	"runtime"
	"runtime/debug"
	"strconv"
	"time"
)

const (
	DevelopmentVersion = "dev"

	dapModulePath = "github.com/google/go-dap"
)

// Set via -ldflags at build time.
var (
	ProductVersion = DevelopmentVersion
	CommitHash     = ""
	BuildTimestamp = ""
)

// Timestamp is a point in time that serializes as RFC 3339, or null if not set.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.Format(time.RFC3339))), nil
}

type VersionOutput struct {
	Version    string     `json:"version"`
	CommitHash string     `json:"commitHash,omitempty"`
	BuildTime  *Timestamp `json:"buildTimestamp,omitempty"`
	GoVersion  string     `json:"goVersion"`

	// Version of the Debug Adapter Protocol library the binary was built with.
	DapLibraryVersion string `json:"dapLibraryVersion,omitempty"`
}

func Version() VersionOutput {
	output := VersionOutput{
		Version:    ProductVersion,
		CommitHash: CommitHash,
		GoVersion:  runtime.Version(),
	}
	if output.Version == "" {
		output.Version = DevelopmentVersion
	}

	if buildTime, ok := parseBuildTimestamp(BuildTimestamp); ok {
		output.BuildTime = &Timestamp{buildTime}
	}

	if info, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range info.Deps {
			if dep.Path == dapModulePath {
				output.DapLibraryVersion = dep.Version
				break
			}
		}
	}

	return output
}

// The build timestamp is either Unix seconds or an RFC 3339 string.
func parseBuildTimestamp(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, true
	}
	return time.Time{}, false
}

/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/dapclient/pkg/testutil"
)

func TestDebugAdapterConfigDefaults(t *testing.T) {
	t.Parallel()

	config := &DebugAdapterConfig{Args: []string{"dlv", "dap"}}
	assert.Equal(t, DebugAdapterModeStdio, config.EffectiveMode())
	assert.Equal(t, DefaultAdapterConnectionTimeout, config.GetConnectionTimeout())

	config.Mode = "carrier-pigeon"
	assert.Equal(t, DebugAdapterModeStdio, config.EffectiveMode())

	config.Mode = DebugAdapterModeTCPConnect
	config.ConnectionTimeoutSeconds = 3
	assert.Equal(t, DebugAdapterModeTCPConnect, config.EffectiveMode())
	assert.Equal(t, 3*time.Second, config.GetConnectionTimeout())
}

func TestParseDebugAdapterMode(t *testing.T) {
	t.Parallel()

	mode, parseErr := ParseDebugAdapterMode("TCP-Callback")
	require.NoError(t, parseErr)
	assert.Equal(t, DebugAdapterModeTCPCallback, mode)

	_, parseErr = ParseDebugAdapterMode("pipe")
	require.Error(t, parseErr)
}

func TestDebugAdapterConfigValidation(t *testing.T) {
	t.Parallel()

	valid := &DebugAdapterConfig{Args: []string{"dlv", "dap"}, Env: []EnvVar{{Name: "GOFLAGS", Value: "-mod=mod"}}}
	require.NoError(t, valid.Validate())

	invalid := []*DebugAdapterConfig{
		{},
		{Args: []string{""}},
		{Args: []string{"dlv"}, Mode: "pipe"},
		{Args: []string{"dlv"}, Env: []EnvVar{{Name: "", Value: "x"}}},
		{Args: []string{"dlv"}, Env: []EnvVar{{Name: "A=B", Value: "x"}}},
	}
	for _, config := range invalid {
		require.ErrorIs(t, config.Validate(), ErrInvalidAdapterConfig, "%+v", config)
	}
}

func TestSubstitutePort(t *testing.T) {
	t.Parallel()

	args := []string{"dlv", "dap", "--listen=127.0.0.1:{{port}}"}
	result := substitutePort(args, "4711")

	assert.Equal(t, []string{"dlv", "dap", "--listen=127.0.0.1:4711"}, result)
	assert.Equal(t, "--listen=127.0.0.1:{{port}}", args[2], "input args must not be modified")
}

func TestBuildFilteredEnv(t *testing.T) {
	t.Parallel()

	inherited := []string{
		"PATH=/usr/bin",
		"HOME=/home/user",
		"DAPCTL_DIAGNOSTICS_LOG_LEVEL=debug",
		"dapctl_lowercase=1",
		"GOFLAGS=-mod=vendor",
	}
	env := buildFilteredEnv(inherited, []EnvVar{
		{Name: "GOFLAGS", Value: ""},
		{Name: "DEBUG", Value: "1"},
	})

	assert.ElementsMatch(t, []string{"PATH=/usr/bin", "HOME=/home/user", "GOFLAGS=", "DEBUG=1"}, env)
}

func TestLaunchDebugAdapterRequiresArgs(t *testing.T) {
	t.Parallel()

	_, launchErr := LaunchDebugAdapter(context.Background(), &DebugAdapterConfig{}, testutil.NewLogForTesting(t.Name()))
	require.ErrorIs(t, launchErr, ErrInvalidAdapterConfig)

	_, launchErr = LaunchDebugAdapter(context.Background(), nil, testutil.NewLogForTesting(t.Name()))
	require.ErrorIs(t, launchErr, ErrInvalidAdapterConfig)
}

func TestLaunchStdioAdapter(t *testing.T) {
	t.Parallel()

	catPath, lookErr := exec.LookPath("cat")
	if lookErr != nil {
		t.Skip("cat is not available")
	}

	testCtx, testCancel := testutil.GetTestContext(t, 10*time.Second)
	defer testCancel()
	ctx, cancel := context.WithCancel(testCtx)

	adapter, launchErr := LaunchDebugAdapter(ctx, &DebugAdapterConfig{Args: []string{catPath}}, testutil.NewLogForTesting(t.Name()))
	require.NoError(t, launchErr)
	defer adapter.Close()
	require.Positive(t, adapter.Pid())
	require.Equal(t, -1, adapter.ExitCode())

	// cat echoes everything back, so whatever we write comes back as the next message.
	require.NoError(t, adapter.Transport.WriteMessage(&dap.ThreadsRequest{Request: newRequest("threads")}))
	msg, readErr := adapter.Transport.ReadMessage()
	require.NoError(t, readErr)
	_, isThreads := msg.(*dap.ThreadsRequest)
	require.True(t, isThreads)

	cancel()
	select {
	case <-adapter.Done():
	case <-testCtx.Done():
		require.FailNow(t, "adapter process did not exit after its context was cancelled")
	}
	require.NoError(t, adapter.Stop())
}

func TestLaunchTCPConnectAdapterFailsWhenProcessExits(t *testing.T) {
	t.Parallel()

	truePath, lookErr := exec.LookPath("true")
	if lookErr != nil {
		t.Skip("true is not available")
	}

	ctx, cancel := testutil.GetTestContext(t, 10*time.Second)
	defer cancel()

	_, launchErr := LaunchDebugAdapter(ctx, &DebugAdapterConfig{
		Args: []string{truePath, "{{port}}"},
		Mode: DebugAdapterModeTCPConnect,
	}, testutil.NewLogForTesting(t.Name()))
	require.ErrorIs(t, launchErr, ErrAdapterExited)
}

/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// PortPlaceholder is the placeholder in adapter args that will be replaced with allocated port.
const PortPlaceholder = "{{port}}"

// Environment variables with this prefix configure dapctl itself and are not passed to debug adapters.
const reservedEnvPrefix = "DAPCTL_"

// How long to wait for the adapter process to exit after its context is cancelled, before it is killed.
const adapterShutdownDelay = 2 * time.Second

var (
	ErrInvalidAdapterConfig     = errors.New("invalid debug adapter configuration")
	ErrAdapterConnectionTimeout = errors.New("debug adapter connection timeout")
	ErrAdapterExited            = errors.New("debug adapter process exited")
)

// LaunchedAdapter is a running debug adapter process with its transport.
type LaunchedAdapter struct {
	// Transport provides DAP message I/O with the debug adapter.
	Transport Transport

	cmd      *exec.Cmd
	listener net.Listener
	done     chan struct{}
	exitErr  error
	mu       *sync.Mutex
}

// Wait blocks until the debug adapter process exits.
func (la *LaunchedAdapter) Wait() error {
	<-la.done
	la.mu.Lock()
	defer la.mu.Unlock()
	return la.exitErr
}

// ExitCode returns the process exit code, or -1 if the process has not exited (or was killed by a signal).
func (la *LaunchedAdapter) ExitCode() int {
	select {
	case <-la.done:
		return la.cmd.ProcessState.ExitCode()
	default:
		return -1
	}
}

func (la *LaunchedAdapter) Pid() int {
	return la.cmd.Process.Pid
}

// Done returns a channel that is closed when the debug adapter process exits.
func (la *LaunchedAdapter) Done() <-chan struct{} {
	return la.done
}

// Close closes the transport and the listener, but does NOT stop the process.
// The process is stopped when the context passed to LaunchDebugAdapter is cancelled.
func (la *LaunchedAdapter) Close() error {
	var errs []error
	if la.listener != nil {
		if err := la.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if la.Transport != nil {
		if err := la.Transport.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop kills the debug adapter process.
func (la *LaunchedAdapter) Stop() error {
	select {
	case <-la.done:
		return nil
	default:
	}

	if killErr := la.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
		return fmt.Errorf("failed to stop debug adapter process: %w", killErr)
	}
	return nil
}

func (la *LaunchedAdapter) exitedBeforeConnecting() error {
	if exitErr := la.Wait(); exitErr != nil {
		return fmt.Errorf("%w before connecting: %w", ErrAdapterExited, exitErr)
	}
	return fmt.Errorf("%w before connecting", ErrAdapterExited)
}

// LaunchDebugAdapter launches a debug adapter process using the provided configuration.
// The process lifetime is tied to the provided context: when the context is cancelled,
// the process is interrupted, and killed if it does not exit promptly.
// The caller must close the adapter when done.
func LaunchDebugAdapter(ctx context.Context, config *DebugAdapterConfig, log logr.Logger) (*LaunchedAdapter, error) {
	if config == nil {
		return nil, ErrInvalidAdapterConfig
	}
	if validationErr := config.Validate(); validationErr != nil {
		return nil, validationErr
	}

	switch config.EffectiveMode() {
	case DebugAdapterModeTCPCallback:
		return launchTCPCallbackAdapter(ctx, config, log)
	case DebugAdapterModeTCPConnect:
		return launchTCPConnectAdapter(ctx, config, log)
	default:
		return launchStdioAdapter(ctx, config, log)
	}
}

func launchStdioAdapter(ctx context.Context, config *DebugAdapterConfig, log logr.Logger) (*LaunchedAdapter, error) {
	cmd := newAdapterCommand(ctx, config.Args, config)

	stdin, stdinErr := cmd.StdinPipe()
	if stdinErr != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", stdinErr)
	}
	stdout, stdoutErr := cmd.StdoutPipe()
	if stdoutErr != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", stdoutErr)
	}

	adapter, startErr := startAdapter(cmd, log)
	if startErr != nil {
		return nil, startErr
	}

	log.Info("Launched debug adapter process (stdio mode)",
		"Command", config.Args[0],
		"Args", config.Args[1:],
		"PID", adapter.Pid())

	adapter.Transport = NewStdioTransport(stdout, stdin)
	return adapter, nil
}

func launchTCPCallbackAdapter(ctx context.Context, config *DebugAdapterConfig, log logr.Logger) (*LaunchedAdapter, error) {
	var lc net.ListenConfig
	listener, listenErr := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if listenErr != nil {
		return nil, fmt.Errorf("failed to create listener: %w", listenErr)
	}

	listenerAddr := listener.Addr().String()
	_, port, _ := net.SplitHostPort(listenerAddr)
	args := substitutePort(config.Args, port)

	adapter, startErr := startAdapter(newAdapterCommand(ctx, args, config), log)
	if startErr != nil {
		_ = listener.Close()
		return nil, startErr
	}
	adapter.listener = listener

	log.Info("Launched debug adapter process (tcp-callback mode)",
		"Command", args[0],
		"Args", args[1:],
		"PID", adapter.Pid(),
		"ListenAddress", listenerAddr)

	type acceptResult struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		conn, acceptErr := listener.Accept()
		accepted <- acceptResult{conn, acceptErr}
	}()

	timer := time.NewTimer(config.GetConnectionTimeout())
	defer timer.Stop()

	select {
	case res := <-accepted:
		if res.err != nil {
			_ = adapter.Stop()
			_ = listener.Close()
			return nil, fmt.Errorf("failed to accept adapter connection: %w", res.err)
		}
		log.Info("Debug adapter connected", "RemoteAddr", res.conn.RemoteAddr().String())
		adapter.Transport = NewTCPTransport(res.conn)
		return adapter, nil

	case <-adapter.done:
		_ = listener.Close()
		return nil, adapter.exitedBeforeConnecting()

	case <-timer.C:
		_ = adapter.Stop()
		_ = listener.Close()
		return nil, ErrAdapterConnectionTimeout

	case <-ctx.Done():
		_ = listener.Close()
		return nil, ctx.Err()
	}
}

func launchTCPConnectAdapter(ctx context.Context, config *DebugAdapterConfig, log logr.Logger) (*LaunchedAdapter, error) {
	port, portErr := getFreePort(ctx)
	if portErr != nil {
		return nil, fmt.Errorf("failed to allocate port: %w", portErr)
	}
	args := substitutePort(config.Args, strconv.Itoa(port))

	adapter, startErr := startAdapter(newAdapterCommand(ctx, args, config), log)
	if startErr != nil {
		return nil, startErr
	}

	log.Info("Launched debug adapter process (tcp-connect mode)",
		"Command", args[0],
		"Args", args[1:],
		"PID", adapter.Pid(),
		"Port", port)

	// Stop retrying as soon as the adapter process exits.
	dialCtx, dialCancel := context.WithTimeout(ctx, config.GetConnectionTimeout())
	defer dialCancel()
	go func() {
		select {
		case <-adapter.done:
			dialCancel()
		case <-dialCtx.Done():
		}
	}()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	transport, dialErr := DialTCP(dialCtx, addr)
	if dialErr != nil {
		select {
		case <-adapter.done:
			return nil, adapter.exitedBeforeConnecting()
		default:
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		_ = adapter.Stop()
		return nil, fmt.Errorf("%w: %w", ErrAdapterConnectionTimeout, dialErr)
	}

	log.Info("Connected to debug adapter", "Address", addr)
	adapter.Transport = transport
	return adapter, nil
}

func newAdapterCommand(ctx context.Context, args []string, config *DebugAdapterConfig) *exec.Cmd {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = buildFilteredEnv(os.Environ(), config.Env)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = adapterShutdownDelay
	return cmd
}

// startAdapter starts the adapter process, forwards its stderr to the log, and watches for its exit.
func startAdapter(cmd *exec.Cmd, log logr.Logger) (*LaunchedAdapter, error) {
	stderr, stderrErr := cmd.StderrPipe()
	if stderrErr != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", stderrErr)
	}

	if startErr := cmd.Start(); startErr != nil {
		return nil, fmt.Errorf("failed to start debug adapter: %w", startErr)
	}

	adapter := &LaunchedAdapter{
		cmd:  cmd,
		done: make(chan struct{}),
		mu:   &sync.Mutex{},
	}

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		logStderr(stderr, log)
	}()

	go func() {
		// Wait() closes the stderr pipe, so all stderr output must be consumed first.
		<-stderrDone
		waitErr := cmd.Wait()

		adapter.mu.Lock()
		adapter.exitErr = waitErr
		adapter.mu.Unlock()
		close(adapter.done)

		if waitErr != nil {
			log.V(1).Info("Debug adapter process exited with error", "PID", cmd.Process.Pid, "Error", waitErr.Error())
		} else {
			log.V(1).Info("Debug adapter process exited", "PID", cmd.Process.Pid)
		}
	}()

	return adapter, nil
}

// substitutePort replaces {{port}} placeholder in args with the actual port.
func substitutePort(args []string, port string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		result[i] = strings.ReplaceAll(arg, PortPlaceholder, port)
	}
	return result
}

// buildFilteredEnv builds the environment for the adapter process.
// Variables reserved for dapctl are removed; configured variables override inherited ones.
func buildFilteredEnv(inherited []string, extra []EnvVar) []string {
	overridden := make(map[string]bool, len(extra))
	for _, e := range extra {
		overridden[e.Name] = true
	}

	env := make([]string, 0, len(inherited)+len(extra))
	for _, kv := range inherited {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(strings.ToUpper(name), reservedEnvPrefix) || overridden[name] {
			continue
		}
		env = append(env, kv)
	}

	for _, e := range extra {
		env = append(env, e.Name+"="+e.Value)
	}
	return env
}

// getFreePort asks the OS for a free TCP port on the loopback interface.
func getFreePort(ctx context.Context) (int, error) {
	var lc net.ListenConfig
	l, listenErr := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if listenErr != nil {
		return 0, listenErr
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func logStderr(stderr io.Reader, log logr.Logger) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		log.Info("Debug adapter stderr", "Output", scanner.Text())
	}
}

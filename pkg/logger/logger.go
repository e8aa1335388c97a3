/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package logger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/microsoft/dapclient/pkg/resiliency"
)

const (
	DAPCTL_DIAGNOSTICS_LOG_FOLDER = "DAPCTL_DIAGNOSTICS_LOG_FOLDER" // Folder for diagnostics logs (defaults to a folder under the temp directory)
	DAPCTL_DIAGNOSTICS_LOG_LEVEL  = "DAPCTL_DIAGNOSTICS_LOG_LEVEL"  // Diagnostics log level; diagnostics logs are off if not set

	verbosityFlagName      = "verbosity"
	verbosityFlagShortName = "v"

	logFileMode   fs.FileMode = 0600
	logFolderMode fs.FileMode = 0700
)

var errDiagnosticsLogNotEnabled = errors.New("diagnostics log not enabled")

// Logger is a logr.Logger backed by zap, with a console level that can be changed at run time.
type Logger struct {
	logr.Logger
	consoleLevel zap.AtomicLevel
	zapLogger    *zap.Logger
}

// New creates a logger for the named program.
// Human-readable output goes to stderr (errors only, until the level is raised).
// If DAPCTL_DIAGNOSTICS_LOG_LEVEL is set, JSON output also goes to a diagnostics log file.
func New(name string) *Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleLevel := zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), consoleLevel),
	}

	fileCore, fileErr := newDiagnosticsCore(name, encoderConfig)
	if fileCore != nil {
		cores = append(cores, fileCore)
	}

	zapLogger := zap.New(zapcore.NewTee(cores...))
	l := &Logger{
		Logger:       zapr.NewLogger(zapLogger).WithName(name),
		consoleLevel: consoleLevel,
		zapLogger:    zapLogger,
	}

	if fileErr != nil && !errors.Is(fileErr, errDiagnosticsLogNotEnabled) {
		l.Error(fileErr, "Diagnostics log is not available")
	}
	return l
}

// SetLevel changes the level of the stderr output. The diagnostics log level does not change.
func (l *Logger) SetLevel(level zapcore.Level) {
	l.consoleLevel.SetLevel(level)
}

// Flush writes out any buffered log entries.
func (l *Logger) Flush() {
	_ = l.zapLogger.Sync()
}

// AddLevelFlag adds the verbosity flag that sets the level of the stderr log.
func (l *Logger) AddLevelFlag(fs *pflag.FlagSet) {
	fs.VarP(
		NewLevelFlagValue(l.SetLevel),
		verbosityFlagName,
		verbosityFlagShortName,
		"Logging verbosity level (e.g. -v=debug). One of 'error', 'warn', 'info', 'debug', or 'protocol' (logs every debug adapter protocol message), or a positive integer corresponding to increasing levels of debug verbosity.",
	)
}

// newDiagnosticsCore returns the zap core writing to the diagnostics log file,
// or errDiagnosticsLogNotEnabled if the diagnostics log is off.
func newDiagnosticsCore(name string, encoderConfig zapcore.EncoderConfig) (zapcore.Core, error) {
	level, levelErr := GetDiagnosticsLogLevel()
	if levelErr != nil {
		return nil, levelErr
	}

	folder, folderErr := EnsureDiagnosticsLogsFolder()
	if folderErr != nil {
		return nil, folderErr
	}

	// Concurrently started dapctl instances may pick the same file name; O_EXCL plus retries sorts it out.
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(20*time.Millisecond),
		backoff.WithMaxInterval(100*time.Millisecond),
		backoff.WithMaxElapsedTime(2*time.Second),
	)
	logFile, createErr := resiliency.RetryGetWithBackoff(context.Background(), b, func() (*os.File, error) {
		fileName := fmt.Sprintf("%s-%s-%d.log", name, time.Now().Format("20060102T150405.000"), os.Getpid())
		return os.OpenFile(filepath.Join(folder, fileName), os.O_RDWR|os.O_CREATE|os.O_EXCL, logFileMode)
	})
	if createErr != nil {
		return nil, fmt.Errorf("failed to create diagnostics log file: %w", createErr)
	}

	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(logFile), zap.NewAtomicLevelAt(level)), nil
}

// EnsureDiagnosticsLogsFolder returns the diagnostics log folder, creating it if necessary.
func EnsureDiagnosticsLogsFolder() (string, error) {
	folder, found := os.LookupEnv(DAPCTL_DIAGNOSTICS_LOG_FOLDER)
	if !found || folder == "" {
		folder = filepath.Join(os.TempDir(), "dapctl", "logs")
	}

	info, statErr := os.Stat(folder)
	switch {
	case errors.Is(statErr, fs.ErrNotExist):
		if mkdirErr := os.MkdirAll(folder, logFolderMode); mkdirErr != nil {
			return "", fmt.Errorf("failed to create the diagnostics log folder '%s': %w", folder, mkdirErr)
		}
	case statErr != nil:
		return "", fmt.Errorf("failed to verify the existence of the diagnostics log folder '%s': %w", folder, statErr)
	case !info.IsDir():
		return "", fmt.Errorf("'%s' is not a directory and cannot be used as the diagnostics log folder", folder)
	}

	return folder, nil
}

// GetDiagnosticsLogLevel returns the diagnostics log level set via environment,
// or errDiagnosticsLogNotEnabled if it is not set.
func GetDiagnosticsLogLevel() (zapcore.Level, error) {
	value, found := os.LookupEnv(DAPCTL_DIAGNOSTICS_LOG_LEVEL)
	if !found || value == "" {
		return zapcore.InvalidLevel, errDiagnosticsLogNotEnabled
	}

	level, parseErr := StringToLevel(value, zapcore.ErrorLevel)
	if parseErr != nil {
		return zapcore.InvalidLevel, fmt.Errorf("invalid %s value: %w", DAPCTL_DIAGNOSTICS_LOG_LEVEL, parseErr)
	}
	return level, nil
}

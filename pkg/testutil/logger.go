/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package testutil

import (
	"flag"
	"os"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogForTesting returns a logger writing to stderr.
// Only errors are reported, unless tests run with -v, in which case
// everything down to individual protocol messages is logged.
func NewLogForTesting(name string) logr.Logger {
	if !flag.Parsed() {
		flag.Parse() // testing.Verbose() requires parsed flags.
	}

	level := zapcore.ErrorLevel
	if testing.Verbose() {
		level = zapcore.Level(-2)
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), zap.NewAtomicLevelAt(level))
	return zapr.NewLogger(zap.New(core)).WithName(name).WithValues("test", true)
}

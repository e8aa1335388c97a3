/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package logger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

// ProtocolLevel makes every Debug Adapter Protocol message visible in the log (logr verbosity 2).
const ProtocolLevel = zapcore.Level(-2)

var namedLevels = map[string]zapcore.Level{
	"error":    zapcore.ErrorLevel,
	"warn":     zapcore.WarnLevel,
	"warning":  zapcore.WarnLevel,
	"info":     zapcore.InfoLevel,
	"debug":    zapcore.DebugLevel,
	"protocol": ProtocolLevel,
}

// StringToLevel converts a level name, or a positive logr verbosity, to a zap level.
// On failure the default level is returned along with the error.
func StringToLevel(value string, defaultLevel zapcore.Level) (zapcore.Level, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if level, found := namedLevels[normalized]; found {
		return level, nil
	}

	verbosity, convErr := strconv.ParseInt(normalized, 10, 8)
	if convErr != nil || verbosity <= 0 {
		return defaultLevel, fmt.Errorf("invalid log level \"%s\"", value)
	}

	// logr verbosity V(n) corresponds to zap level -n.
	return zapcore.Level(-verbosity), nil
}

// LevelFlagValue is the value of the verbosity flag.
// The logger level changes as soon as the flag is parsed.
type LevelFlagValue struct {
	apply func(zapcore.Level)
	raw   string
}

func NewLevelFlagValue(apply func(zapcore.Level)) *LevelFlagValue {
	return &LevelFlagValue{apply: apply}
}

func (lfv *LevelFlagValue) Set(flagValue string) error {
	level, parseErr := StringToLevel(flagValue, zapcore.ErrorLevel)
	if parseErr != nil {
		return parseErr
	}

	lfv.raw = flagValue
	if lfv.apply != nil {
		lfv.apply(level)
	}
	return nil
}

func (lfv *LevelFlagValue) String() string {
	return lfv.raw
}

func (*LevelFlagValue) Type() string {
	return "level"
}

// GetLevelFlagValue returns the verbosity flag value registered with the flag set, if any.
func GetLevelFlagValue(fs *pflag.FlagSet) (*LevelFlagValue, bool) {
	if fs == nil {
		return nil, false
	}

	if f := fs.Lookup(verbosityFlagName); f != nil {
		lfv, isLevelFlag := f.Value.(*LevelFlagValue)
		return lfv, isLevelFlag
	}
	return nil, false
}

var _ pflag.Value = (*LevelFlagValue)(nil)

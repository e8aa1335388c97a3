/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/microsoft/dapclient/internal/commands"
	"github.com/microsoft/dapclient/pkg/logger"
	"github.com/microsoft/dapclient/pkg/resiliency"
)

const (
	errCommand = 1
	errSetup   = 2
	errPanic   = 3
)

func main() {
	log := logger.New("dapctl")

	defer func() {
		if r := recover(); r != nil {
			panicErr := resiliency.MakePanicError(r, log.Logger)
			fmt.Fprintln(os.Stderr, panicErr)
			log.Flush()
			os.Exit(errPanic)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := commands.NewRootCmd(log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(errSetup)
	}

	err = root.ExecuteContext(ctx)
	log.Flush()
	if err != nil {
		var exitErr *commands.ExitCodeError
		if errors.As(err, &exitErr) {
			stop()
			os.Exit(exitErr.ExitCode)
		}

		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(errCommand)
	}
}

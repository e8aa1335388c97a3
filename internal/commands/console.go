/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	godap "github.com/google/go-dap"

	"github.com/microsoft/dapclient/internal/dap"
	"github.com/microsoft/dapclient/internal/disasm"
)

const (
	// Number of instructions printed after the instruction the debuggee is suspended at.
	disassemblyContextLines = 4

	resumeTimeout = 10 * time.Second
)

// debuggee is the part of the client the console needs to resume the program and show disassembly.
type debuggee interface {
	disasm.Fetcher
	Continue(ctx context.Context, threadID int) error
}

// consoleSink prints program output and stop positions to the console.
// Every time the program stops, the position is reported and the program is resumed.
type consoleSink struct {
	ctx    context.Context
	log    logr.Logger
	stdout io.Writer
	stderr io.Writer

	// Serializes writes from the event worker and resume goroutines.
	lock *sync.Mutex

	debuggee    debuggee
	disassemble bool
	resumes     *sync.WaitGroup
}

var _ dap.OutputSink = (*consoleSink)(nil)
var _ dap.SessionSink = (*consoleSink)(nil)

func newConsoleSink(ctx context.Context, log logr.Logger, stdout, stderr io.Writer, disassemble bool) *consoleSink {
	return &consoleSink{
		ctx:         ctx,
		log:         log,
		stdout:      stdout,
		stderr:      stderr,
		lock:        &sync.Mutex{},
		disassemble: disassemble,
		resumes:     &sync.WaitGroup{},
	}
}

// attach sets the debuggee that is resumed after every stop.
func (s *consoleSink) attach(d debuggee) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.debuggee = d
}

func (s *consoleSink) Output(category dap.OutputCategory, text string) {
	var w io.Writer
	switch category {
	case dap.OutputStderr, dap.OutputImportant:
		w = s.stderr
	case dap.OutputTelemetry:
		s.log.V(1).Info("Telemetry output from debug adapter", "Text", text)
		return
	default:
		w = s.stdout
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	_, _ = io.WriteString(w, text)
}

func (s *consoleSink) PositionReached(suspendContext *dap.SuspendContext) {
	s.report(fmt.Sprintf("Stopped (%s)", suspendContext.Reason()), suspendContext)
}

func (s *consoleSink) BreakpointReached(breakpoint *godap.Breakpoint, suspendContext *dap.SuspendContext) {
	s.report(fmt.Sprintf("Breakpoint %d hit", breakpoint.Id), suspendContext)
}

func (s *consoleSink) report(header string, suspendContext *dap.SuspendContext) {
	stack := suspendContext.ActiveStack()
	if stack == nil {
		s.println(header)
		return
	}

	thread := stack.Thread()
	top := stack.TopFrame()
	if top == nil {
		s.println(fmt.Sprintf("%s in thread %d (%s)", header, thread.Id, thread.Name))
	} else if pos, hasPosition := top.SourcePosition(); hasPosition {
		s.println(fmt.Sprintf("%s in thread %d (%s) at %s:%d, %s", header, thread.Id, thread.Name, pos.Path, pos.Line, top.Frame().Name))
	} else {
		s.println(fmt.Sprintf("%s in thread %d (%s) at %s", header, thread.Id, thread.Name, top.Frame().Name))
	}

	s.lock.Lock()
	d := s.debuggee
	s.lock.Unlock()
	if d == nil {
		return
	}

	// Resume off the event worker goroutine.
	s.resumes.Add(1)
	go func() {
		defer s.resumes.Done()

		ctx, cancel := context.WithTimeout(s.ctx, resumeTimeout)
		defer cancel()

		if s.disassemble && top != nil && top.Frame().InstructionPointerReference != "" {
			s.printDisassembly(ctx, d, top.Frame().InstructionPointerReference)
		}

		if continueErr := d.Continue(ctx, thread.Id); continueErr != nil && !dap.IsCancellation(continueErr) {
			s.log.Error(continueErr, "Could not resume the program", "ThreadID", thread.Id)
		}
	}()
}

func (s *consoleSink) printDisassembly(ctx context.Context, d debuggee, ref string) {
	cache := disasm.NewInstructionCache(disasm.CacheOptions{
		BatchSize: disassemblyContextLines * 2,
		Log:       s.log,
	})

	index, indexErr := cache.IndexOf(ctx, ref, 0, d)
	if indexErr != nil {
		s.log.Error(indexErr, "Could not disassemble the code around the current instruction", "MemoryReference", ref)
		return
	}
	if index < 0 {
		return
	}

	sb := strings.Builder{}
	for line := index; line <= index+disassemblyContextLines; line++ {
		instr, found := cache.GetInstructionAt(line)
		if !found {
			break
		}

		marker := "  "
		if line == index {
			marker = "=>"
		}
		sb.WriteString(fmt.Sprintf("%s 0x%x  %s\n", marker, instr.Address, instr.Raw.Instruction))
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	_, _ = io.WriteString(s.stdout, sb.String())
}

func (s *consoleSink) println(text string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, _ = fmt.Fprintln(s.stdout, text)
}

// wait blocks until all pending resume operations are done.
func (s *consoleSink) wait() {
	s.resumes.Wait()
}

/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"path/filepath"
	"sync"

	"github.com/google/go-dap"
)

// SourcePosition is a location in a source file.
type SourcePosition struct {
	Path   string
	Line   int
	Column int
}

// StackFrame wraps a stack frame reported by the adapter.
// The source position is resolved on first use.
type StackFrame struct {
	frame dap.StackFrame

	positionOnce *sync.Once
	position     SourcePosition
	hasPosition  bool
}

func NewStackFrame(frame dap.StackFrame) *StackFrame {
	return &StackFrame{
		frame:        frame,
		positionOnce: &sync.Once{},
	}
}

func (f *StackFrame) Frame() dap.StackFrame {
	return f.frame
}

func (f *StackFrame) ID() int {
	return f.frame.Id
}

// SourcePosition returns the source position of the frame.
// The second result is false for frames without source information (e.g. library code without symbols).
func (f *StackFrame) SourcePosition() (SourcePosition, bool) {
	f.positionOnce.Do(func() {
		src := f.frame.Source
		if src == nil {
			return
		}

		path := src.Path
		if path == "" {
			path = src.Name
		}
		if path == "" {
			return
		}

		f.position = SourcePosition{
			Path:   filepath.Clean(path),
			Line:   f.frame.Line,
			Column: f.frame.Column,
		}
		f.hasPosition = true
	})

	return f.position, f.hasPosition
}

// ExecutionStack is the stack of a single thread, captured when the thread stopped.
type ExecutionStack struct {
	thread dap.Thread
	frames []*StackFrame
}

func newExecutionStack(thread dap.Thread, frames []dap.StackFrame) *ExecutionStack {
	stack := &ExecutionStack{
		thread: thread,
		frames: make([]*StackFrame, len(frames)),
	}
	for i, frame := range frames {
		stack.frames[i] = NewStackFrame(frame)
	}
	return stack
}

// NewExecutionStack creates the execution stack of a thread; frames are ordered from the innermost one.
func NewExecutionStack(thread dap.Thread, frames []dap.StackFrame) *ExecutionStack {
	return newExecutionStack(thread, frames)
}

func (s *ExecutionStack) Thread() dap.Thread {
	return s.thread
}

func (s *ExecutionStack) Frames() []*StackFrame {
	return append([]*StackFrame(nil), s.frames...)
}

// TopFrame returns the innermost frame, or nil if the stack is empty.
func (s *ExecutionStack) TopFrame() *StackFrame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[0]
}

// SuspendContext describes one suspended period of the debuggee.
// It collects the execution stacks of all threads that reported a stop during that period.
type SuspendContext struct {
	lock   *sync.Mutex
	reason string
	stacks []*ExecutionStack
	active *ExecutionStack
}

func newSuspendContext(reason string) *SuspendContext {
	return &SuspendContext{
		lock:   &sync.Mutex{},
		reason: reason,
	}
}

// NewSuspendContext creates a suspend context holding the stacks of given threads.
// The last stack becomes the active one.
func NewSuspendContext(reason string, stacks ...*ExecutionStack) *SuspendContext {
	sc := newSuspendContext(reason)
	for _, stack := range stacks {
		sc.addStack(stack)
	}
	return sc
}

// Reason returns the stop reason reported by the event that started the suspended period.
func (sc *SuspendContext) Reason() string {
	return sc.reason
}

// addStack appends the stack and makes it the active one.
func (sc *SuspendContext) addStack(stack *ExecutionStack) {
	sc.lock.Lock()
	defer sc.lock.Unlock()

	sc.stacks = append(sc.stacks, stack)
	sc.active = stack
}

func (sc *SuspendContext) Stacks() []*ExecutionStack {
	sc.lock.Lock()
	defer sc.lock.Unlock()
	return append([]*ExecutionStack(nil), sc.stacks...)
}

func (sc *SuspendContext) ActiveStack() *ExecutionStack {
	sc.lock.Lock()
	defer sc.lock.Unlock()
	return sc.active
}

// SetActiveThread makes the most recent stack of given thread the active one.
// Returns false if no stack was captured for the thread.
func (sc *SuspendContext) SetActiveThread(threadID int) bool {
	sc.lock.Lock()
	defer sc.lock.Unlock()

	for i := len(sc.stacks) - 1; i >= 0; i-- {
		if sc.stacks[i].thread.Id == threadID {
			sc.active = sc.stacks[i]
			return true
		}
	}
	return false
}

/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package disasm

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"
)

const (
	DefaultBatchSize = 50

	// Adapters use this address for instructions that fall outside of readable memory.
	invalidAddress = "-1"
)

// Fetcher retrieves disassembled instructions from a debug adapter.
type Fetcher interface {
	Disassemble(ctx context.Context, args dap.DisassembleArguments) ([]dap.DisassembledInstruction, error)
}

// ChangeListener is notified every time new instructions are merged into the cache.
type ChangeListener interface {
	InstructionsChanged()
}

// DisassembledInstruction is a single instruction as cached by the InstructionCache.
type DisassembledInstruction struct {
	// The memory reference the instruction was fetched for.
	Reference string

	// Byte offset from the memory reference used by the fetch.
	Offset int

	// Instruction offset (relative to the memory reference) of this instruction.
	InstructionOffset int

	// Absolute address of the instruction.
	Address *big.Int

	Raw dap.DisassembledInstruction
}

func (di DisassembledInstruction) clone() DisassembledInstruction {
	retval := di
	retval.Address = new(big.Int).Set(di.Address)
	if di.Raw.Location != nil {
		loc := *di.Raw.Location
		retval.Raw.Location = &loc
	}
	return retval
}

type CacheOptions struct {
	// Number of instructions fetched on each side of a memory reference. Defaults to DefaultBatchSize.
	BatchSize int

	Listener ChangeListener

	Log logr.Logger
}

// InstructionCache keeps an address-ordered list of disassembled instructions,
// fetched from the debug adapter in windows as needed.
type InstructionCache struct {
	batchSize int
	listener  ChangeListener
	log       logr.Logger

	// Protects instructions and references.
	lock *sync.Mutex

	// Sorted by address, no duplicate addresses.
	instructions []DisassembledInstruction

	// Memory reference to the address of the first instruction of a zero-offset fetch.
	references map[string]*big.Int
}

func NewInstructionCache(opts CacheOptions) *InstructionCache {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	log := opts.Log
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	return &InstructionCache{
		batchSize:  opts.BatchSize,
		listener:   opts.Listener,
		log:        log,
		lock:       &sync.Mutex{},
		references: make(map[string]*big.Int),
	}
}

// IndexOf returns the position of the instruction at address(ref) + offset.
// If the memory reference has never been seen, a window of instructions around it is fetched first.
// Returns -1 if the instruction is not in the cache.
func (c *InstructionCache) IndexOf(ctx context.Context, ref string, offset int, f Fetcher) (int, error) {
	if index, known := c.lookup(ref, offset); known {
		return index, nil
	}

	if err := c.LoadWindow(ctx, f, ref, offset, -c.batchSize, 2*c.batchSize); err != nil {
		return -1, err
	}

	index, _ := c.lookup(ref, offset)
	return index, nil
}

func (c *InstructionCache) lookup(ref string, offset int) (int, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	base, found := c.references[ref]
	if !found {
		return -1, false
	}

	target := new(big.Int).Add(base, big.NewInt(int64(offset)))
	index := AddressSearch(c.instructions, target)
	if index < 0 {
		return -1, true
	}
	return index, true
}

// LoadWindow fetches count instructions starting at instructionOffset (relative to ref + byteOffset)
// and merges them into the cache.
// If the reference is not anchored yet, the zero-offset window is loaded first.
func (c *InstructionCache) LoadWindow(ctx context.Context, f Fetcher, ref string, byteOffset, instructionOffset, count int) error {
	anchoring := byteOffset == 0 && instructionOffset == 0
	if !anchoring && !c.isAnchored(ref) {
		if err := c.LoadWindow(ctx, f, ref, 0, 0, c.batchSize); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := f.Disassemble(ctx, dap.DisassembleArguments{
		MemoryReference:   ref,
		Offset:            byteOffset,
		InstructionOffset: instructionOffset,
		InstructionCount:  count,
		ResolveSymbols:    true,
	})
	if err != nil {
		return fmt.Errorf("failed to disassemble memory at '%s' (offset %d, instruction offset %d): %w", ref, byteOffset, instructionOffset, err)
	}

	batch, first := c.toInstructions(ref, byteOffset, instructionOffset, raw)
	var anchor *big.Int
	if anchoring {
		// The first instruction of a zero-offset fetch is the instruction the reference points to.
		anchor = first
	}
	c.merge(ref, anchor, batch)
	return nil
}

func (c *InstructionCache) isAnchored(ref string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	_, found := c.references[ref]
	return found
}

// toInstructions converts a disassemble response into cache entries, dropping instructions without a valid address.
// The second result is the address of raw[0], or nil if that instruction was dropped.
func (c *InstructionCache) toInstructions(ref string, byteOffset, instructionOffset int, raw []dap.DisassembledInstruction) ([]DisassembledInstruction, *big.Int) {
	batch := make([]DisassembledInstruction, 0, len(raw))
	var lastLocation *dap.Source
	var first *big.Int

	for i, instr := range raw {
		if instr.Location != nil {
			lastLocation = instr.Location
		} else if instr.Line > 0 && lastLocation != nil {
			loc := *lastLocation
			instr.Location = &loc
		}

		if instr.Address == invalidAddress {
			continue
		}
		address, parseErr := ParseBigInteger(instr.Address)
		if parseErr != nil {
			c.log.Info("Dropping disassembled instruction with unparsable address", "Reference", ref, "Address", instr.Address, "Error", parseErr.Error())
			continue
		}
		if address.Sign() < 0 {
			continue
		}

		if i == 0 {
			first = address
		}
		batch = append(batch, DisassembledInstruction{
			Reference:         ref,
			Offset:            byteOffset,
			InstructionOffset: instructionOffset + i,
			Address:           address,
			Raw:               instr,
		})
	}

	return batch, first
}

// merge splices the batch into the cache. A non-nil anchor records the address of the reference.
func (c *InstructionCache) merge(ref string, anchor *big.Int, batch []DisassembledInstruction) {
	if len(batch) == 0 {
		return
	}

	slices.SortStableFunc(batch, func(a, b DisassembledInstruction) int {
		return a.Address.Cmp(b.Address)
	})
	batch = slices.CompactFunc(batch, func(a, b DisassembledInstruction) bool {
		return a.Address.Cmp(b.Address) == 0
	})

	first := batch[0].Address
	last := batch[len(batch)-1].Address

	c.lock.Lock()
	if _, found := c.references[ref]; anchor != nil && !found {
		c.references[ref] = new(big.Int).Set(anchor)
	}
	start := InsertionPoint(AddressSearch(c.instructions, first))
	end := AddressSearch(c.instructions, last)
	if end >= 0 {
		end++
	} else {
		end = InsertionPoint(end)
	}
	c.instructions, _ = Splice(c.instructions, start, end-start, batch...)
	c.lock.Unlock()

	c.log.V(1).Info("Merged disassembled instructions", "Reference", ref, "Count", len(batch), "Start", start, "Replaced", end-start)

	if c.listener != nil {
		c.listener.InstructionsChanged()
	}
}

// GetInstructionIndex returns the index of the instruction at given address, or -1 if the address is not cached.
func (c *InstructionCache) GetInstructionIndex(address *big.Int) int {
	if address == nil {
		return -1
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	index := AddressSearch(c.instructions, address)
	return max(index, -1)
}

// GetReferenceAddress returns the address that given memory reference resolved to.
func (c *InstructionCache) GetReferenceAddress(ref string) (*big.Int, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	address, found := c.references[ref]
	if !found {
		return nil, false
	}
	return new(big.Int).Set(address), true
}

// GetInstructionAt returns the instruction displayed at given (zero-based) line of the disassembly view.
func (c *InstructionCache) GetInstructionAt(line int) (DisassembledInstruction, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if line < 0 || line >= len(c.instructions) {
		return DisassembledInstruction{}, false
	}
	return c.instructions[line].clone(), true
}

func (c *InstructionCache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.instructions)
}

// Instructions returns a snapshot of all cached instructions, ordered by address.
func (c *InstructionCache) Instructions() []DisassembledInstruction {
	c.lock.Lock()
	defer c.lock.Unlock()

	retval := make([]DisassembledInstruction, len(c.instructions))
	for i, instr := range c.instructions {
		retval[i] = instr.clone()
	}
	return retval
}

// Addresses returns the addresses of all cached instructions, ordered.
func (c *InstructionCache) Addresses() []*big.Int {
	c.lock.Lock()
	defer c.lock.Unlock()

	retval := make([]*big.Int, len(c.instructions))
	for i, instr := range c.instructions {
		retval[i] = new(big.Int).Set(instr.Address)
	}
	return retval
}

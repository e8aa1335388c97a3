/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package disasm

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var ErrInvalidAddress = errors.New("invalid address")

// Splice removes deleteCount elements starting at start and inserts items in their place.
// A negative start counts from the end of the list. Both start and deleteCount are clamped
// to the list bounds. Returns the resulting list and the removed elements.
// The passed list is not modified.
func Splice[T any](list []T, start int, deleteCount int, items ...T) ([]T, []T) {
	n := len(list)

	if start < 0 {
		start = max(n+start, 0)
	} else if start > n {
		start = n
	}
	deleteCount = min(max(deleteCount, 0), n-start)

	removed := make([]T, deleteCount)
	copy(removed, list[start:start+deleteCount])

	result := make([]T, 0, n-deleteCount+len(items))
	result = append(result, list[:start]...)
	result = append(result, items...)
	result = append(result, list[start+deleteCount:]...)
	return result, removed
}

// BinarySearch looks for key in list[from:to], which must be sorted according to cmp.
// cmp returns a negative number if the element is ordered before the key, zero if they are equal,
// and a positive number otherwise.
// Returns the index of the key if found, otherwise -(insertionPoint + 1).
func BinarySearch[T any, K any](list []T, from int, to int, key K, cmp func(T, K) int) int {
	low := from
	high := to - 1

	for low <= high {
		mid := int(uint(low+high) >> 1)
		c := cmp(list[mid], key)
		switch {
		case c < 0:
			low = mid + 1
		case c > 0:
			high = mid - 1
		default:
			return mid
		}
	}

	return -(low + 1)
}

// AddressSearch is BinarySearch over the whole list of instructions, keyed by instruction address.
func AddressSearch(list []DisassembledInstruction, address *big.Int) int {
	return BinarySearch(list, 0, len(list), address, func(instr DisassembledInstruction, key *big.Int) int {
		return instr.Address.Cmp(key)
	})
}

// InsertionPoint converts a BinarySearch result to the index where the key is (or would be).
func InsertionPoint(searchResult int) int {
	if searchResult < 0 {
		return -(searchResult + 1)
	}
	return searchResult
}

// ParseBigInteger parses an integer in hexadecimal (0x), octal (0o), binary (0b) or decimal notation.
// The prefix is case-insensitive and may follow an optional sign.
func ParseBigInteger(s string) (*big.Int, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return nil, fmt.Errorf("%w: empty string", ErrInvalidAddress)
	}

	negative := false
	switch text[0] {
	case '-':
		negative = true
		text = text[1:]
	case '+':
		text = text[1:]
	}

	base := 10
	if len(text) > 2 && text[0] == '0' {
		switch text[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 10 {
			text = text[2:]
		}
	}

	// SetString with an explicit base rejects prefixes and underscores, which is what we want here.
	val, ok := new(big.Int).SetString(text, base)
	if !ok || strings.ContainsAny(text, "+-") {
		return nil, fmt.Errorf("%w: '%s'", ErrInvalidAddress, s)
	}

	if negative {
		val.Neg(val)
	}
	return val, nil
}

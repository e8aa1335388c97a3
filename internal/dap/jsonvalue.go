/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"
)

// DecodeJSONObject decodes a JSON object into a map, preserving the distinction
// between integral and fractional numbers (see NormalizeNumbers).
func DecodeJSONObject(data []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return map[string]any{}, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var obj map[string]any
	if decodeErr := decoder.Decode(&obj); decodeErr != nil {
		return nil, fmt.Errorf("failed to decode JSON object: %w", decodeErr)
	}

	return NormalizeNumbers(obj).(map[string]any), nil
}

// NormalizeNumbers walks a decoded JSON value and replaces every json.Number
// (and every float64 that holds an integral value) with a sized integer:
// int if the value fits in 32 bits, int64 if it fits in 64 bits, *big.Int otherwise.
// Numbers with a fractional part or an exponent that makes them fractional become float64.
// Maps and slices are updated in place.
func NormalizeNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = NormalizeNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = NormalizeNumbers(item)
		}
		return val
	case json.Number:
		return normalizeNumber(val)
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) && math.Abs(val) < (1<<53) {
			return sizedInt(int64(val))
		}
		return val
	default:
		return v
	}
}

func normalizeNumber(n json.Number) any {
	text := n.String()

	if !strings.ContainsAny(text, ".eE") {
		if i, intErr := n.Int64(); intErr == nil {
			return sizedInt(i)
		}
		if bi, ok := new(big.Int).SetString(text, 10); ok {
			return bi
		}
	}

	// Values like 1.0 or 2e3 are integral, even though they are not written as integers.
	if bf, ok := new(big.Float).SetString(text); ok && bf.IsInt() {
		bi, _ := bf.Int(nil)
		if bi.IsInt64() {
			return sizedInt(bi.Int64())
		}
		return bi
	}

	f, floatErr := n.Float64()
	if floatErr != nil {
		// Out of range for float64; keep the textual form so the value is not lost.
		return text
	}
	return f
}

func sizedInt(i int64) any {
	if i >= math.MinInt32 && i <= math.MaxInt32 {
		return int(i)
	}
	return i
}

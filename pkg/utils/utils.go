// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package utils collects small, dependency-free helpers shared across the
// gateway's packages.
package utils

import "time"

// Ptr returns a pointer to v. Handy for building structs that expect
// optional fields as pointers (JSON omitempty semantics).
func Ptr[T any](v T) *T {
	return &v
}

// Clamp restricts v to the inclusive range [lo, hi].
func Clamp[T int | int64 | float64](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NowUTC is the single place that stamps wall-clock time so call sites
// stay trivially fakeable in tests without a clock interface everywhere.
var NowUTC = func() time.Time { return time.Now().UTC() }

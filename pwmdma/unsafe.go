// Copyright 2026 The pwmdma Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pwmdma

import "unsafe"

// unsafeSliceOffset returns a pointer to the word at byteOffset within
// words, for reinterpreting a mapped register window as a typed struct.
// This mirrors the cast-a-mapped-slice-to-a-struct idiom the rest of this
// stack's register-level code uses instead of issuing individual indexed
// reads and writes.
func unsafeSliceOffset(words []uint32, byteOffset int) unsafe.Pointer {
	return unsafe.Pointer(&words[byteOffset/4])
}

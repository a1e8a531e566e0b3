// Copyright 2026 The pwmdma Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pwmdma

import (
	"reflect"
	"unsafe"

	"github.com/rpi-hw/pwmdma/host/boardid"
	"github.com/rpi-hw/pwmdma/host/gpiomem"
	"github.com/rpi-hw/pwmdma/host/mailbox"
)

// fakeBoardID always reports a BCM2711, the newest supported family.
type fakeBoardID struct{}

func (fakeBoardID) Family() (boardid.Family, error) { return boardid.BCM2711, nil }

// fakeWindow is a heap-backed stand-in for a memory-mapped register window.
type fakeWindow struct {
	words []uint32
}

func newFakeWindow(size int) *fakeWindow {
	return &fakeWindow{words: make([]uint32, size/4)}
}

func (f *fakeWindow) Uint32() []uint32 { return f.words }
func (f *fakeWindow) Close() error     { return nil }

// fakeMapper hands out independent fakeWindows per call, keyed by the
// requested physical address so repeated maps of the same peripheral
// region are idempotent within a test.
type fakeMapper struct {
	windows map[uint32]*fakeWindow
}

func newFakeMapper() *fakeMapper {
	return &fakeMapper{windows: map[uint32]*fakeWindow{}}
}

func (m *fakeMapper) Map(physAddr uint32, size int) (gpiomem.RegisterWindow, error) {
	if w, ok := m.windows[physAddr]; ok {
		return w, nil
	}
	w := newFakeWindow(size)
	m.windows[physAddr] = w
	return w, nil
}

// fakeMem is a heap-backed stand-in for mailbox-allocated uncached memory.
// Its "bus address" is just its slice's heap address reinterpreted as a
// uint32, which is good enough to exercise control-block chaining logic
// without touching /dev/vcio.
type fakeMem struct {
	buf []byte
}

func (f *fakeMem) VirtAddr() unsafe.Pointer { return unsafe.Pointer(&f.buf[0]) }
func (f *fakeMem) Bytes() []byte            { return f.buf }

// Uint32 reinterprets buf in place, the same way the production mailbox
// handle does, so writes through the returned slice are visible to callers
// that later read Bytes() — control-block synthesis depends on this.
func (f *fakeMem) Uint32() []uint32 {
	b := f.buf
	header := *(*reflect.SliceHeader)(unsafe.Pointer(&b))
	header.Len /= 4
	header.Cap /= 4
	return *(*[]uint32)(unsafe.Pointer(&header))
}
func (f *fakeMem) BusAddr() uint32 { return uint32(uintptr(unsafe.Pointer(&f.buf[0]))) }
func (f *fakeMem) BusAddrOf(offset int) uint32 {
	return uint32(uintptr(unsafe.Pointer(&f.buf[0])) + uintptr(offset))
}
func (f *fakeMem) Close() error { return nil }

// fakeAllocator hands out fixed-size heap buffers in place of mailbox
// allocations.
type fakeAllocator struct {
	allocCount int
	closeCount int
}

func (a *fakeAllocator) Alloc(size int) (mailbox.UncachedMem, error) {
	a.allocCount++
	return &countingMem{fakeMem: fakeMem{buf: make([]byte, size)}, owner: a}, nil
}

// countingMem tracks Close calls against its owning allocator so tests can
// assert the "exactly six regions released per channel" invariant.
type countingMem struct {
	fakeMem
	owner *fakeAllocator
}

func (c *countingMem) Close() error {
	c.owner.closeCount++
	return nil
}

// Copyright 2026 The pwmdma Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package gpiomem memory-maps Broadcom peripheral register windows into the
// process address space via /dev/mem at an explicit physical offset.
//
// /dev/gpiomem only exposes the GPIO function-select/set/clear window; the
// DMA controller and PWM peripheral registers this module also needs live
// outside that window, so every mapping here goes through /dev/mem and
// requires root.
package gpiomem

import (
	"os"
	"reflect"
	"sync"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
)

// View is a live memory-mapped window over a physical register range.
//
// Reads and writes through Uint32 go directly to hardware; callers must not
// cache a value across a write that the controller needs to observe as a
// separate bus transaction (see the DMA abort/reset/arm sequence).
type View struct {
	base   []byte
	offset int
}

// Uint32 returns the mapped window reinterpreted as a slice of 32-bit
// registers, indexed by word offset from the window's base.
func (v *View) Uint32() []uint32 {
	b := v.base[v.offset:]
	header := *(*reflect.SliceHeader)(unsafe.Pointer(&b))
	header.Len /= 4
	header.Cap /= 4
	return *(*[]uint32)(unsafe.Pointer(&header))
}

// Close unmaps the window. The kernel reclaims it at process exit
// regardless; Close exists for callers that map and unmap repeatedly within
// one process, such as tests.
func (v *View) Close() error {
	return syscall.Munmap(v.base)
}

// RegisterWindow is a live mapped register window. *View implements it;
// tests substitute a heap-backed fake.
type RegisterWindow interface {
	Uint32() []uint32
	Close() error
}

// Mapper is the seam the pwmdma engine depends on for peripheral register
// access, so tests can substitute an in-memory fake instead of touching
// /dev/mem.
type Mapper interface {
	Map(physAddr uint32, size int) (RegisterWindow, error)
}

// DevMem is the production Mapper: it opens /dev/mem once and serves every
// subsequent mapping from that single file descriptor.
type DevMem struct{}

// Map maps size bytes of physical memory starting at physAddr.
func (DevMem) Map(physAddr uint32, size int) (RegisterWindow, error) {
	f, err := openDevMem()
	if err != nil {
		return nil, errors.Wrap(err, "gpiomem: open /dev/mem")
	}
	pageOffset := int(physAddr & 0xFFF)
	mapSize := (size + pageOffset + 0xFFF) &^ 0xFFF
	base, err := syscall.Mmap(int(f.Fd()), int64(physAddr)&^0xFFF, mapSize, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "gpiomem: mmap at 0x%x", physAddr)
	}
	return &View{base: base, offset: pageOffset}, nil
}

var (
	mu        sync.Mutex
	devMem    *os.File
	devMemErr error
)

func openDevMem() (*os.File, error) {
	mu.Lock()
	defer mu.Unlock()
	if devMem == nil && devMemErr == nil {
		devMem, devMemErr = os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	}
	return devMem, devMemErr
}

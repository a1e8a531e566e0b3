// Copyright 2026 The pwmdma Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package mailbox allocates physically contiguous, uncached, bus-addressable
// memory from the VideoCore GPU via the /dev/vcio mailbox property interface.
//
// This is the only way to obtain memory the DMA controller can traverse
// without the ARM core's cache silently hiding writes from it: allocations
// carry the "direct" alias, which maps the same physical page through an
// uncached VideoCore bus address.
//
// Reference: https://github.com/raspberrypi/firmware/wiki/Mailbox-property-interface
package mailbox

import (
	"os"
	"reflect"
	"sync"
	"syscall"
	"unsafe"

	"github.com/pkg/errors"
)

const (
	mbIoctl = 0xc0046400 // _IOWR(100, 0, char*)

	mbAllocateMemory = 0x3000C
	mbLockMemory     = 0x3000D
	mbUnlockMemory   = 0x3000E
	mbReleaseMemory  = 0x3000F
	mbFirmwareVer    = 0x00001
	mbReply          = 0x80000000

	// flagDirect requests an uncached alias: the ARM core's L1/L2 caches
	// never hold a copy, so a DMA control block's writes and reads are
	// visible to the CPU (and vice versa) without an explicit flush.
	flagDirect = 1 << 2

	pageSize = 4096
)

// ErrAllocFailed is returned when the VideoCore firmware refuses an
// allocation or lock request.
var ErrAllocFailed = errors.New("mailbox: allocation failed")

// Mem is a contiguous range of physically locked, uncached memory allocated
// through the mailbox interface. The DMA controller addresses it by bus
// address; the CPU addresses it through the mapped virtual slice.
type Mem struct {
	handle  uint32
	physAddr uint32
	virt    []byte
	busBase uint32
}

// VirtAddr returns the start of the CPU-visible mapping.
func (m *Mem) VirtAddr() unsafe.Pointer {
	return unsafe.Pointer(&m.virt[0])
}

// Bytes exposes the mapped region for direct reads/writes.
func (m *Mem) Bytes() []byte {
	return m.virt
}

// Uint32 reinterprets the mapped region as a slice of 32-bit words, the
// granularity every register and control-block field in this module uses.
func (m *Mem) Uint32() []uint32 {
	b := m.virt
	header := *(*reflect.SliceHeader)(unsafe.Pointer(&b))
	header.Len /= 4
	header.Cap /= 4
	return *(*[]uint32)(unsafe.Pointer(&header))
}

// BusAddr returns the DMA-bus address of the start of the region.
func (m *Mem) BusAddr() uint32 {
	return m.busBase
}

// BusAddrOf returns the DMA-bus address of a byte offset within the region.
// Control blocks chain to each other exclusively through bus addresses;
// they are meaningless to the CPU's MMU.
func (m *Mem) BusAddrOf(offset int) uint32 {
	return m.busBase + uint32(offset)
}

// Close unlocks and releases the allocation. Skipping this leaks GPU memory
// until the next reboot, so every owner must call it exactly once.
func (m *Mem) Close() error {
	if err := syscall.Munmap(m.virt); err != nil {
		return errors.Wrap(err, "mailbox: munmap")
	}
	if _, err := call32(mbUnlockMemory, m.handle); err != nil {
		return errors.Wrap(err, "mailbox: unlock")
	}
	if _, err := call32(mbReleaseMemory, m.handle); err != nil {
		return errors.Wrap(err, "mailbox: release")
	}
	return nil
}

// UncachedMem is a handle to a contiguous range of uncached, bus-addressable
// memory. *Mem implements it; tests substitute a heap-backed fake that
// still hands out distinct "bus addresses" so control-block chaining logic
// can be exercised without real hardware.
type UncachedMem interface {
	Close() error
	VirtAddr() unsafe.Pointer
	Bytes() []byte
	Uint32() []uint32
	BusAddr() uint32
	BusAddrOf(offset int) uint32
}

// Allocator is the seam the pwmdma engine depends on for uncached memory, so
// tests can inject a heap-backed fake instead of requiring real hardware.
type Allocator interface {
	Alloc(size int) (UncachedMem, error)
}

// VideoCore is the production Allocator.
type VideoCore struct{}

// Alloc allocates size bytes (rounded up to a 4096-byte page) of uncached,
// bus-addressable memory and maps it into the process.
func (VideoCore) Alloc(size int) (UncachedMem, error) {
	if size <= 0 {
		return nil, errors.New("mailbox: size must be > 0")
	}
	size = (size + pageSize - 1) &^ (pageSize - 1)
	if err := open(); err != nil {
		return nil, errors.Wrap(err, "mailbox: open /dev/vcio")
	}
	handle, err := call32(mbAllocateMemory, uint32(size), pageSize, flagDirect)
	if err != nil {
		return nil, errors.Wrap(err, "mailbox: allocate")
	}
	if handle == 0 {
		return nil, errors.Wrapf(ErrAllocFailed, "allocate %d bytes", size)
	}
	physAddr, err := call32(mbLockMemory, handle)
	if err != nil {
		return nil, errors.Wrap(err, "mailbox: lock")
	}
	if physAddr == 0 {
		return nil, errors.Wrap(ErrAllocFailed, "lock returned null address")
	}
	// The top bits select the cache alias; strip them to get the ARM
	// physical address for the /dev/mem mapping. The DMA bus address keeps
	// the 0xC0000000 uncached alias.
	busAddr := physAddr
	phys := physAddr &^ 0xC0000000
	f, err := openDevMem()
	if err != nil {
		return nil, errors.Wrap(err, "mailbox: open /dev/mem")
	}
	virt, err := syscall.Mmap(int(f.Fd()), int64(phys), size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		_, _ = call32(mbUnlockMemory, handle)
		_, _ = call32(mbReleaseMemory, handle)
		return nil, errors.Wrapf(err, "mailbox: mmap phys 0x%x", phys)
	}
	return &Mem{handle: handle, physAddr: phys, virt: virt, busBase: busAddr | 0xC0000000}, nil
}

var (
	mu         sync.Mutex
	vcio       *os.File
	vcioErr    error
	devMem     *os.File
	devMemErr  error
)

func open() error {
	mu.Lock()
	defer mu.Unlock()
	if vcio != nil || vcioErr != nil {
		return vcioErr
	}
	vcio, vcioErr = os.OpenFile("/dev/vcio", os.O_RDWR|os.O_SYNC, 0)
	if vcioErr == nil {
		_, vcioErr = call32Locked(mbFirmwareVer)
	}
	return vcioErr
}

func openDevMem() (*os.File, error) {
	mu.Lock()
	defer mu.Unlock()
	if devMem == nil && devMemErr == nil {
		devMem, devMemErr = os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	}
	return devMem, devMemErr
}

// Word offsets within a single-tag mailbox property message: overall
// buffer size, overall request/response code, the tag's own id, the tag's
// request-value length, and the tag's response-value length. The value
// words and trailing end-tag word follow tagValueIdx.
const (
	msgSizeIdx    = 0
	msgCodeIdx    = 1
	tagIDIdx      = 2
	tagReqLenIdx  = 3
	tagRespLenIdx = 4
	tagValueIdx   = 5

	msgHeaderWords = tagValueIdx // size + code + id + req-len + resp-len
	endTagWords    = 1
	alignBytes     = 16
)

// packet builds a single-tag mailbox property-channel message, returning a
// slice whose backing array starts on a 16-byte boundary: the ioctl only
// passes the firmware the upper 28 bits of the buffer's address, so any
// low 4 bits would silently corrupt which mailbox channel the message
// targets.
func packet(cmd uint32, replyLen uint32, args ...uint32) []uint32 {
	valueLen := uint32(len(args) * 4)
	if replyLen > valueLen {
		valueLen = replyLen
	}
	valueWords := int((valueLen + 3) / 4)
	totalWords := msgHeaderWords + valueWords + endTagWords

	raw := make([]uint32, totalWords+alignBytes/4)
	base := uintptr(unsafe.Pointer(&raw[0]))
	pad := (alignBytes - int(base%alignBytes)) % alignBytes / 4
	b := raw[pad : pad+totalWords]

	b[msgSizeIdx] = uint32(totalWords * 4)
	b[tagIDIdx] = cmd
	b[tagReqLenIdx] = uint32(len(args)) * 4
	b[tagRespLenIdx] = replyLen
	copy(b[tagValueIdx:], args)
	return b
}

func call32(cmd uint32, args ...uint32) (uint32, error) {
	mu.Lock()
	defer mu.Unlock()
	return call32Locked(cmd, args...)
}

func call32Locked(cmd uint32, args ...uint32) (uint32, error) {
	b := packet(cmd, 4, args...)
	if _, _, errno := syscall.Syscall(syscall.SYS_IOCTL, vcio.Fd(), uintptr(mbIoctl), uintptr(unsafe.Pointer(&b[0]))); errno != 0 {
		return 0, syscall.Errno(errno)
	}
	if b[1] != mbReply {
		return 0, errors.Errorf("mailbox: unexpected reply flag 0x%08x", b[1])
	}
	if b[4] != mbReply|4 {
		return 0, errors.Errorf("mailbox: unexpected reply size 0x%08x", b[4])
	}
	return b[5], nil
}

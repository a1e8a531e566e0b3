// Copyright 2026 The pwmdma Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pwmdma

import (
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/rpi-hw/pwmdma/conn/physic"
	"github.com/rpi-hw/pwmdma/host/mailbox"
	"github.com/rpi-hw/pwmdma/host/pwmerr"
)

// abortResetSettle is the delay the datasheet requires after writing to
// the DMA channel's CS register during abort/reset so the change is
// observed before the next register write in the sequence.
const abortResetSettle = 10 * time.Microsecond

// buffer holds one half of a channel's ping-pong control-block ring: the
// control blocks themselves plus the two 4-byte GPIO mask words the head
// and clear control blocks source from.
type buffer struct {
	cbMem    mailbox.UncachedMem
	setMem   mailbox.UncachedMem
	clearMem mailbox.UncachedMem
}

func (b *buffer) close() error {
	var errs error
	if b.cbMem != nil {
		errs = multierr.Append(errs, b.cbMem.Close())
	}
	if b.setMem != nil {
		errs = multierr.Append(errs, b.setMem.Close())
	}
	if b.clearMem != nil {
		errs = multierr.Append(errs, b.clearMem.Close())
	}
	*b = buffer{}
	return errs
}

// channel is one of the engine's fixed pool of logical PWM-via-DMA slots,
// each bound to one physical DMA channel number.
type channel struct {
	free    bool
	hwIndex int
	dmaRegs *dmaChannelRegs

	buffers  [2]buffer
	activeBuf int

	freqDes          physic.Frequency
	dutyDes          float64
	freqAct          physic.Frequency
	dutyAct          float64
	dutyResPct       float64
	subcycle         time.Duration
	cbTotal          int
	cbSetWait        int
	cbClearWait      int

	enabled       bool
	sequenceBuilt bool

	lastSetMask uint32
}

// allocate reserves both buffer halves' uncached memory from alloc.
func (c *channel) allocate(alloc mailbox.Allocator, pages int) error {
	for i := range c.buffers {
		cbMem, err := alloc.Alloc(pages * pageSize)
		if err != nil {
			c.releaseAllocated(i)
			return errors.Wrap(err, "allocating control block region")
		}
		setMem, err := alloc.Alloc(4)
		if err != nil {
			cbMem.Close()
			c.releaseAllocated(i)
			return errors.Wrap(err, "allocating set-mask region")
		}
		clearMem, err := alloc.Alloc(4)
		if err != nil {
			cbMem.Close()
			setMem.Close()
			c.releaseAllocated(i)
			return errors.Wrap(err, "allocating clear-mask region")
		}
		c.buffers[i] = buffer{cbMem: cbMem, setMem: setMem, clearMem: clearMem}
	}
	return nil
}

func (c *channel) releaseAllocated(upTo int) {
	for i := 0; i < upTo; i++ {
		c.buffers[i].close()
	}
}

// inactive returns the buffer index not currently being traversed by DMA,
// the only one it is ever safe to rewrite (invariant: never mutate the
// actively traversed ring).
func (c *channel) inactive() int {
	return 1 - c.activeBuf
}

// buildSequence writes plan's control blocks into the inactive buffer and
// marks it as the new active buffer. The swap itself only takes hardware
// effect the next time enableLocked runs.
func (c *channel) buildSequence(plan sequencePlan, gpset0, gpclr0, pwmfifo uint32) error {
	buf := &c.buffers[c.inactive()]

	setWords := buf.setMem.Uint32()
	setWords[0] = plan.setMask
	clearWords := buf.clearMem.Uint32()
	clearWords[0] = plan.clearMask

	cbWords := buf.cbMem.Bytes()
	cbs := (*[1 << 20]controlBlock)(unsafe.Pointer(&cbWords[0]))[:plan.cbTotal:plan.cbTotal]
	cbBus := func(i int) uint32 { return buf.cbMem.BusAddrOf(i * controlBlockSize) }
	buildControlBlocks(plan, cbs, cbBus, buf.setMem.BusAddr(), buf.clearMem.BusAddr(), gpset0, gpclr0, pwmfifo)

	c.activeBuf = c.inactive()
	c.lastSetMask = plan.setMask
	return nil
}

// enableLocked runs the abort/reset/arm sequence documented in the design
// notes, pointing CONBLK_AD at the active buffer's first control block.
func (c *channel) enableLocked() error {
	r := c.dmaRegs
	r.cs |= dmaAbort
	time.Sleep(abortResetSettle)
	r.cs &^= dmaActive
	r.cs |= dmaEnd
	r.cs |= dmaReset
	time.Sleep(abortResetSettle)

	r.cbAddr = c.buffers[c.activeBuf].cbMem.BusAddr()
	r.cs = dmaStatus(7<<dmaPanicPriorityShift) | dmaStatus(7<<dmaPriorityShift) | dmaWaitForOutstandingWrites
	r.cs |= dmaActive
	c.enabled = true
	return nil
}

// disableLocked aborts the DMA channel. It does not touch any GPIO: driving
// the pins this channel owns low is the caller's job, since that requires
// the mapped GPIO register window the channel itself doesn't hold (see
// Engine.disableChannelLocked).
func (c *channel) disableLocked() {
	if c.dmaRegs != nil {
		r := c.dmaRegs
		r.cs |= dmaAbort
		time.Sleep(abortResetSettle)
		r.cs &^= dmaActive
		r.cs |= dmaEnd
		r.cs |= dmaReset
		time.Sleep(abortResetSettle)
	}
	c.enabled = false
}

// release closes both buffer halves and returns the slot to Free. Callers
// must have already stopped DMA (disableLocked) and driven any owned GPIO
// low before calling this. Safe to call on an already-free slot.
func (c *channel) release() error {
	if c.free {
		return errors.WithStack(pwmerr.ErrInvalidChannel)
	}
	var errs error
	for i := range c.buffers {
		if err := c.buffers[i].close(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	*c = channel{free: true, hwIndex: c.hwIndex}
	return errs
}

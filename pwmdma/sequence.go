// Copyright 2026 The pwmdma Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pwmdma

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/rpi-hw/pwmdma/conn/physic"
	"github.com/rpi-hw/pwmdma/host/pwmerr"
)

// sequencePlan is the pure, hardware-independent result of synthesizing a
// control-block sequence for one channel's requested waveform. It is kept
// separate from the actual memory writes so the synthesis math can be unit
// tested without any mapped hardware.
type sequencePlan struct {
	subcycle     time.Duration
	waitTicks    int
	dutyActual   float64
	dutyResPct   float64
	waitSet      int
	waitClear    int
	cbTotal      int
	pagesNeeded  int
	setMask      uint32
	clearMask    uint32
	zeroDuty     bool
	fullDuty     bool
}

// planSequence computes every derived quantity in §4.F from the requested
// waveform, without touching any control block memory.
func planSequence(gpios []int, freq physic.Frequency, dutyPct float64, pulseWidth time.Duration, pagesAllocated int) (sequencePlan, error) {
	if freq <= 0 {
		return sequencePlan{}, errors.Wrap(pwmerr.ErrFrequencyNotMet, "frequency must be positive")
	}
	if dutyPct < 0 || dutyPct > 100 {
		return sequencePlan{}, errors.Wrapf(pwmerr.ErrInvalidDuty, "duty %v not in [0,100]", dutyPct)
	}
	var mask uint32
	for _, p := range gpios {
		if p < 0 || p > 31 {
			return sequencePlan{}, errors.Wrapf(pwmerr.ErrInvalidGpio, "pin %d not in [0,31]", p)
		}
		mask |= 1 << uint(p)
	}

	subcycle := freq.Duration()
	waitTicks := int(math.Floor(subcycle.Seconds() / pulseWidth.Seconds() / 2))
	if waitTicks <= 0 {
		return sequencePlan{}, errors.Wrapf(pwmerr.ErrFrequencyNotMet, "frequency %s needs fewer than one wait tick at pulse width %s", freq, pulseWidth)
	}

	pagesNeeded := (waitTicks*controlBlockSize + pageSize - 1) / pageSize
	if pagesNeeded < 1 {
		pagesNeeded = 1
	}
	if pagesNeeded > pagesAllocated {
		return sequencePlan{}, errors.Wrapf(pwmerr.ErrOutOfMemory, "need %d pages, have %d", pagesNeeded, pagesAllocated)
	}

	dutyResPct := 100.0 / float64(waitTicks)

	zeroDuty := dutyPct == 0
	fullDuty := dutyPct == 100
	dutyActual := dutyPct
	if !zeroDuty && !fullDuty {
		steps := math.Round(dutyPct / dutyResPct)
		dutyActual = steps * dutyResPct
	}

	waitSet := int(math.Floor(float64(waitTicks) * dutyActual / 100 / 2))
	waitClear := waitTicks - waitSet
	if waitClear < 0 {
		waitClear = -waitClear
	}

	cbTotal := waitTicks
	if zeroDuty || fullDuty {
		cbTotal++
	} else {
		cbTotal += 2
	}

	return sequencePlan{
		subcycle:    subcycle,
		waitTicks:   waitTicks,
		dutyActual:  dutyActual,
		dutyResPct:  dutyResPct,
		waitSet:     waitSet,
		waitClear:   waitClear,
		cbTotal:     cbTotal,
		pagesNeeded: pagesNeeded,
		setMask:     mask,
		clearMask:   mask,
		zeroDuty:    zeroDuty,
		fullDuty:    fullDuty,
	}, nil
}

// buildControlBlocks writes plan's control blocks into cbs (already sized
// to plan.cbTotal) using the provided bus addresses, closing the ring so
// the last control block's next field points back to the first.
//
// cbBus(i) must return the bus address of cbs[i]; setMaskBus/clearMaskBus
// are the bus addresses of the 4-byte mask words the head/clear control
// blocks source from.
func buildControlBlocks(plan sequencePlan, cbs []controlBlock, cbBus func(int) uint32, setMaskBus, clearMaskBus, gpset0, gpclr0, pwmfifo uint32) {
	head := dmaTransferInfo(tiNoWideBursts | tiWaitResp)
	wait := dmaTransferInfo(tiNoWideBursts | tiWaitResp | tiPermapPWM | tiDestDReq)

	idx := 0
	// Head CB: drives the line to its starting level for this period.
	if plan.zeroDuty {
		cbs[idx] = controlBlock{transferInfo: head, srcAddr: clearMaskBus, dstAddr: gpclr0, txLen: 4, nextCB: cbBus(idx + 1)}
	} else {
		cbs[idx] = controlBlock{transferInfo: head, srcAddr: setMaskBus, dstAddr: gpset0, txLen: 4, nextCB: cbBus(idx + 1)}
	}
	idx++

	for i := 0; i < plan.waitSet; i++ {
		cbs[idx] = controlBlock{transferInfo: wait, srcAddr: setMaskBus, dstAddr: pwmfifo, txLen: 4, nextCB: cbBus(idx + 1)}
		idx++
	}

	if !plan.zeroDuty && !plan.fullDuty {
		cbs[idx] = controlBlock{transferInfo: head, srcAddr: clearMaskBus, dstAddr: gpclr0, txLen: 4, nextCB: cbBus(idx + 1)}
		idx++
	}

	for i := 0; i < plan.waitClear; i++ {
		cbs[idx] = controlBlock{transferInfo: wait, srcAddr: clearMaskBus, dstAddr: pwmfifo, txLen: 4, nextCB: cbBus(idx + 1)}
		idx++
	}

	// Close the ring.
	cbs[idx-1].nextCB = cbBus(0)
}

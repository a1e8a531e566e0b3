// Copyright 2026 The pwmdma Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pwmdma

import (
	"time"

	"github.com/pkg/errors"

	"github.com/rpi-hw/pwmdma/host/boardid"
	"github.com/rpi-hw/pwmdma/host/pwmerr"
)

// settleDelay is the pause this engine inserts after every PWM clock
// manager register write; the datasheet doesn't name an exact figure but
// every known working driver in this space waits on the order of
// microseconds before issuing the next password-gated write.
const settleDelay = 10 * time.Microsecond

// bringUpLocked performs the one-time sequence described in the design
// notes: install the termination-signal cleanup handler, resolve the board
// profile, map the four peripheral register windows, and program the PWM
// clock manager and PWM controller. Callers must hold e.mu.
func (e *Engine) bringUpLocked() error {
	if err := e.installSignalHandlerLocked(); err != nil {
		return errors.Wrap(pwmerr.ErrSignalHandlerFailed, err.Error())
	}

	family, err := e.boardID.Family()
	if err != nil {
		return errors.Wrap(pwmerr.ErrNoBoardIdentifier, err.Error())
	}
	profile, err := boardid.ProfileFor(family)
	if err != nil {
		return errors.Wrap(pwmerr.ErrNoBoardIdentifier, err.Error())
	}
	e.profile = profile

	if e.gpio, err = e.mapper.Map(profile.PeriPhysBase+gpioOffset, pageSize); err != nil {
		return errors.Wrap(pwmerr.ErrMapFailed, err.Error())
	}
	if e.dma, err = e.mapper.Map(profile.PeriPhysBase+dmaOffset, dmaChannelSize*16); err != nil {
		return errors.Wrap(pwmerr.ErrMapFailed, err.Error())
	}
	if e.pwm, err = e.mapper.Map(profile.PeriPhysBase+pwmOffset, pageSize); err != nil {
		return errors.Wrap(pwmerr.ErrMapFailed, err.Error())
	}
	if e.clock, err = e.mapper.Map(profile.PeriPhysBase+clockOffset, pageSize); err != nil {
		return errors.Wrap(pwmerr.ErrMapFailed, err.Error())
	}

	if e.clockDiv == 0 {
		sol, err := solvePulseWidth(e.pulseWidth)
		if err != nil {
			return err
		}
		e.pulseWidth, e.clockDiv, e.pwmRange = sol.actual, sol.divisor, sol.pwmRange
	}

	if err := e.programClockLocked(); err != nil {
		return err
	}
	e.programPWMControllerLocked()

	e.initialized = true
	return nil
}

func (e *Engine) clockRegsLocked() *clockRegs {
	words := e.clock.Uint32()
	return (*clockRegs)(unsafeSliceOffset(words, pwmClockSubOffset))
}

func (e *Engine) pwmRegsLocked() *pwmRegs {
	words := e.pwm.Uint32()
	return (*pwmRegs)(unsafeSliceOffset(words, 0))
}

// programClockLocked (re)programs the PWM clock manager: disable, switch
// to the 500MHz PLLD source, set the divisor, re-enable. Every write to
// CTL/DIV must carry the password in its top byte or the hardware silently
// drops it.
func (e *Engine) programClockLocked() error {
	c := e.clockRegsLocked()
	c.ctl = clockPasswd
	time.Sleep(settleDelay)
	c.ctl = clockPasswd | clockSrcPLLD
	time.Sleep(settleDelay)
	c.div = clockDivPasswd | clockDiv(e.clockDiv<<clockDiviShift)
	time.Sleep(settleDelay)
	c.ctl = clockPasswd | clockSrcPLLD | clockEnable
	time.Sleep(settleDelay)
	return nil
}

// programPWMControllerLocked configures PWM channel 1 for FIFO-fed,
// DMA-paced operation: the range register bounds the DREQ rate, the
// controller never writes to a GPIO itself (GPIO toggling is done purely
// by the DMA control blocks), it only generates the pacing signal.
func (e *Engine) programPWMControllerLocked() {
	p := e.pwmRegsLocked()
	p.ctl = 0
	p.rng1 = e.pwmRange
	p.dmac = pwmDMAEnable | pwmDMACfg(15<<pwmPanicThreshShift) | pwmDMACfg(15<<pwmDreqThreshShift)
	p.ctl = pwmClrFifo
	p.ctl = pwmUseFifo | pwmMode1Enable
}

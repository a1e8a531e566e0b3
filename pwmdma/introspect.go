// Copyright 2026 The pwmdma Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pwmdma

import (
	"time"

	"github.com/rpi-hw/pwmdma/conn/physic"
)

// RegisterSnapshot is a read-only copy of the registers most useful when
// diagnosing a channel that isn't producing the expected waveform.
type RegisterSnapshot struct {
	PWMCtl    uint32
	PWMStatus uint32
	PWMDMACfg uint32
	ClockCtl  uint32
	ClockDiv  uint32
	DMACS     uint32
	DMADebug  uint32
}

// FreqOf returns the frequency a channel's most recently built sequence
// actually achieves.
func (e *Engine) FreqOf(ch int) (physic.Frequency, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, err := e.checkChannelLocked(ch)
	if err != nil {
		return 0, err
	}
	return c.freqAct, nil
}

// DutyOf returns the quantized duty cycle a channel's most recently built
// sequence actually achieves.
func (e *Engine) DutyOf(ch int) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, err := e.checkChannelLocked(ch)
	if err != nil {
		return 0, err
	}
	return c.dutyAct, nil
}

// PulseWidth returns the engine-wide tick duration currently programmed
// into the PWM clock manager.
func (e *Engine) PulseWidth() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pulseWidth
}

// RegSnapshot reads back the key registers backing ch for diagnostics.
func (e *Engine) RegSnapshot(ch int) (RegisterSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.checkChannelLocked(ch)
	if err != nil {
		return RegisterSnapshot{}, err
	}
	pwm := e.pwmRegsLocked()
	clk := e.clockRegsLocked()
	dmaRegs := e.channels[ch].dmaRegs
	return RegisterSnapshot{
		PWMCtl:    uint32(pwm.ctl),
		PWMStatus: pwm.sta,
		PWMDMACfg: uint32(pwm.dmac),
		ClockCtl:  uint32(clk.ctl),
		ClockDiv:  uint32(clk.div),
		DMACS:     uint32(dmaRegs.cs),
		DMADebug:  dmaRegs.debug,
	}, nil
}

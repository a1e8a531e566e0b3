// Copyright 2026 The pwmdma Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pwmdma

import (
	"time"

	"github.com/pkg/errors"

	"github.com/rpi-hw/pwmdma/host/pwmerr"
)

// nominalRange is the PWM range this solver aims for before the clock
// divisor is clamped to the clockDiviMax; keeping it near 100 keeps the
// PWM controller's own duty-cycle step close to 1%, since the controller
// itself only ever emits a square wave of this range at the computed
// divisor.
const nominalRange = 100

// Accepted input domain: pw_us in (400ns, 35000s]. The lower bound is
// exclusive (400ns itself is rejected); the upper bound is inclusive.
const (
	minPulseWidth = 400 * time.Nanosecond
	maxPulseWidth = 35000 * time.Second
)

// pulseWidthSolution is the result of solving for a clock divisor and PWM
// range that realize a requested pulse width as closely as hardware allows.
type pulseWidthSolution struct {
	divisor uint32 // 1..clockDiviMax
	pwmRange uint32
	actual  time.Duration
}

// solvePulseWidth computes the PWM clock divisor and range that realize a
// requested pulse width against the fixed 500MHz PLLD source.
//
// The nominal range starts at 100 and the divisor absorbs the dynamic
// range; if that divisor falls outside [1, 4095] it is clamped and the
// range is recomputed to match, trading duty-cycle granularity for
// reachability at the requested width.
func solvePulseWidth(pw time.Duration) (pulseWidthSolution, error) {
	if pw <= minPulseWidth || pw > maxPulseWidth {
		return pulseWidthSolution{}, errors.Wrapf(pwmerr.ErrInvalidPulseWidth, "pulse width %s outside accepted domain (%s, %s]", pw, minPulseWidth, maxPulseWidth)
	}
	pwSeconds := pw.Seconds()
	divisorF := pwSeconds / nominalRange * sourceClockHz
	divisor := int64(divisorF + 0.5)
	rng := uint32(nominalRange)
	if divisor < 1 {
		divisor = 1
		rng = uint32(pwSeconds * sourceClockHz / float64(divisor))
	} else if divisor > int64(clockDiviMax) {
		divisor = int64(clockDiviMax)
		rng = uint32(pwSeconds * sourceClockHz / float64(divisor))
	}
	if rng < 1 {
		return pulseWidthSolution{}, errors.Wrapf(pwmerr.ErrInvalidPulseWidth, "pulse width %s unreachable: recomputed range %d", pw, rng)
	}
	actualSeconds := float64(rng) * float64(divisor) / sourceClockHz
	return pulseWidthSolution{
		divisor:  uint32(divisor),
		pwmRange: rng,
		actual:   time.Duration(actualSeconds * float64(time.Second)),
	}, nil
}

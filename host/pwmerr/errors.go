// Copyright 2026 The pwmdma Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pwmerr declares the sentinel error values returned by the pwmdma
// engine and its collaborators.
//
// Callers should compare against these with errors.Is; call sites wrap them
// with github.com/pkg/errors to attach context without losing the sentinel.
package pwmerr

import "errors"

var (
	// ErrChannelAlreadyRequested is returned by ConfigureGlobal once any
	// channel has left the Free state.
	ErrChannelAlreadyRequested = errors.New("pwmdma: channel already requested, global configuration is frozen")

	// ErrInvalidPulseWidth is returned when a requested pulse width cannot
	// be realized by any clock divisor in [1, 4095].
	ErrInvalidPulseWidth = errors.New("pwmdma: invalid pulse width")

	// ErrNoFreeChannel is returned by Request when every channel slot is
	// taken.
	ErrNoFreeChannel = errors.New("pwmdma: no free dma channel")

	// ErrInvalidChannel is returned when a channel index is out of range
	// or refers to a free (unowned) slot.
	ErrInvalidChannel = errors.New("pwmdma: invalid channel")

	// ErrInvalidDuty is returned when a duty cycle falls outside [0, 100].
	ErrInvalidDuty = errors.New("pwmdma: invalid duty cycle")

	// ErrInvalidGpio is returned when a GPIO pin number falls outside
	// [0, 31].
	ErrInvalidGpio = errors.New("pwmdma: invalid gpio pin")

	// ErrFrequencyNotMet is returned when the requested frequency would
	// require fewer than one wait tick per period at the current pulse
	// width.
	ErrFrequencyNotMet = errors.New("pwmdma: frequency cannot be met at current pulse width")

	// ErrOutOfMemory is returned when a control-block sequence would need
	// more pages than were reserved for the channel's buffers.
	ErrOutOfMemory = errors.New("pwmdma: control block sequence exceeds allocated pages")

	// ErrPwmNotSet is returned by Enable when Set has not yet built a
	// control block sequence for the channel.
	ErrPwmNotSet = errors.New("pwmdma: channel has no control block sequence, call Set first")

	// ErrNoBoardIdentifier is returned when the running board could not
	// be classified into a known peripheral address profile.
	ErrNoBoardIdentifier = errors.New("pwmdma: unrecognized board")

	// ErrMapFailed is returned when a peripheral register window could
	// not be memory-mapped.
	ErrMapFailed = errors.New("pwmdma: failed to map peripheral registers")

	// ErrSignalHandlerFailed is returned when the termination-signal
	// cleanup handler could not be installed.
	ErrSignalHandlerFailed = errors.New("pwmdma: failed to install signal handler")
)

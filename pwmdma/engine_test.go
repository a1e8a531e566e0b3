// Copyright 2026 The pwmdma Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pwmdma

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rpi-hw/pwmdma/conn/physic"
	"github.com/rpi-hw/pwmdma/host/pwmerr"
)

func newTestEngine() *Engine {
	return New(
		WithBoardIdentifier(fakeBoardID{}),
		WithPeripheralMapper(newFakeMapper()),
		WithAllocator(&fakeAllocator{}),
	)
}

func TestRequestConfigureSetEnableDisableFree(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.ConfigureGlobal(16, 5000*time.Microsecond))

	ch, err := e.Request()
	require.NoError(t, err)
	require.GreaterOrEqual(t, ch, 0)

	require.NoError(t, e.Set(ch, []int{26}, physic.Hertz, 75))
	require.NoError(t, e.Enable(ch))

	freq, err := e.FreqOf(ch)
	require.NoError(t, err)
	require.InDelta(t, float64(physic.Hertz), float64(freq), 1e-9)

	duty, err := e.DutyOf(ch)
	require.NoError(t, err)
	require.InDelta(t, 75.0, duty, 1.0)

	require.NoError(t, e.Disable(ch))
	require.NoError(t, e.Free(ch))
}

func TestConfigureGlobalAfterRequestIsRejected(t *testing.T) {
	e := newTestEngine()
	_, err := e.Request()
	require.NoError(t, err)

	err = e.ConfigureGlobal(16, 50*time.Microsecond)
	require.ErrorIs(t, err, pwmerr.ErrChannelAlreadyRequested)
}

func TestNoFreeChannelReachable(t *testing.T) {
	e := newTestEngine()
	for i := 0; i < numDMAChannels; i++ {
		_, err := e.Request()
		require.NoError(t, err)
	}
	_, err := e.Request()
	require.ErrorIs(t, err, pwmerr.ErrNoFreeChannel)
}

func TestInvalidChannelOperations(t *testing.T) {
	e := newTestEngine()
	require.ErrorIs(t, e.Enable(0), pwmerr.ErrInvalidChannel)
	require.ErrorIs(t, e.Disable(99), pwmerr.ErrInvalidChannel)
	require.ErrorIs(t, e.Free(-1), pwmerr.ErrInvalidChannel)
}

func TestEnableWithoutSetIsRejected(t *testing.T) {
	e := newTestEngine()
	ch, err := e.Request()
	require.NoError(t, err)
	require.ErrorIs(t, e.Enable(ch), pwmerr.ErrPwmNotSet)
}

func TestFreeReleasesExactlySixRegions(t *testing.T) {
	alloc := &fakeAllocator{}
	e := New(
		WithBoardIdentifier(fakeBoardID{}),
		WithPeripheralMapper(newFakeMapper()),
		WithAllocator(alloc),
	)
	ch, err := e.Request()
	require.NoError(t, err)
	require.Equal(t, 6, alloc.allocCount) // 2 buffers x (cb, set-mask, clear-mask)

	require.NoError(t, e.Free(ch))
	require.Equal(t, 6, alloc.closeCount)

	// Freeing an already-free slot is an error, not a second round of
	// closes.
	err = e.Free(ch)
	require.True(t, errors.Is(err, pwmerr.ErrInvalidChannel))
	require.Equal(t, 6, alloc.closeCount)
}

func TestPingPongSwapsActiveBuffer(t *testing.T) {
	e := newTestEngine()
	ch, err := e.Request()
	require.NoError(t, err)

	c := &e.channels[ch]
	before := c.activeBuf
	require.NoError(t, e.Set(ch, []int{1}, 100*physic.Hertz, 25))
	afterFirst := c.activeBuf
	require.NotEqual(t, before, afterFirst)

	require.NoError(t, e.Set(ch, []int{1}, 100*physic.Hertz, 60))
	afterSecond := c.activeBuf
	require.NotEqual(t, afterFirst, afterSecond)
}

func TestDisableClearsEnabledFlag(t *testing.T) {
	e := newTestEngine()
	ch, err := e.Request()
	require.NoError(t, err)
	require.NoError(t, e.Set(ch, []int{2}, 1000*physic.Hertz, 50))
	require.NoError(t, e.Enable(ch))
	require.True(t, e.channels[ch].enabled)

	require.NoError(t, e.Disable(ch))
	require.False(t, e.channels[ch].enabled)
}

func TestDisableDrivesFullDutyPinLow(t *testing.T) {
	e := newTestEngine()
	ch, err := e.Request()
	require.NoError(t, err)

	require.NoError(t, e.Set(ch, []int{7}, 1000*physic.Hertz, 100))
	require.NoError(t, e.Enable(ch))

	gpio := (*gpioRegs)(unsafeSliceOffset(e.gpio.Uint32(), 0))
	require.Zero(t, gpio.outputClear[0], "nothing should be cleared before Disable")

	require.NoError(t, e.Disable(ch))
	require.Equal(t, uint32(1<<7), gpio.outputClear[0], "Disable must drive the held-high pin low")
}

func TestCloseTearsDownEveryLiveChannel(t *testing.T) {
	e := newTestEngine()
	var chans []int
	for i := 0; i < 3; i++ {
		ch, err := e.Request()
		require.NoError(t, err)
		require.NoError(t, e.Set(ch, []int{3}, 1000*physic.Hertz, 50))
		require.NoError(t, e.Enable(ch))
		chans = append(chans, ch)
	}
	require.NoError(t, e.Close())
	for _, ch := range chans {
		require.True(t, e.channels[ch].free)
	}
}

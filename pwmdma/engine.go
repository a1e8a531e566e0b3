// Copyright 2026 The pwmdma Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pwmdma drives arbitrary GPIO pins with a hardware-timed PWM
// waveform on Broadcom BCM283x/BCM2711 boards by chaining DMA control
// blocks that alternately set/clear the GPIO output registers, paced by
// the PWM peripheral's DMA request line. Once armed, the CPU is not
// involved in producing the waveform.
//
// A single *Engine owns a fixed pool of logical channels, each mapped to
// one physical DMA channel. Construct one with New, call Request to claim
// a channel, Set to describe the waveform, and Enable to arm it.
package pwmdma

import (
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/rpi-hw/pwmdma/conn/physic"
	"github.com/rpi-hw/pwmdma/host/boardid"
	"github.com/rpi-hw/pwmdma/host/gpiomem"
	"github.com/rpi-hw/pwmdma/host/mailbox"
	"github.com/rpi-hw/pwmdma/host/pwmerr"
)

// defaultPages is the number of 4096-byte pages reserved per buffer half
// when ConfigureGlobal has not been called explicitly.
const defaultPages = 16

// defaultPulseWidth is the tick duration assumed until ConfigureGlobal
// overrides it; with the default 16 pages, 10us reaches roughly 25Hz (2048
// wait ticks fill the control-block buffer) up to 50kHz (one wait tick).
const defaultPulseWidth = 10 * time.Microsecond

// Engine is the top-level handle to the PWM-via-DMA subsystem. All public
// methods are safe for concurrent use; they serialize on an internal
// mutex, though two goroutines racing to drive the same channel will still
// race at the hardware level (see the concurrency notes in the design
// document).
type Engine struct {
	mu sync.Mutex

	boardID  boardid.Identifier
	mapper   gpiomem.Mapper
	alloc    mailbox.Allocator
	logger   *log.Logger

	initialized bool
	profile     boardid.Profile

	gpio  gpiomem.RegisterWindow
	dma   gpiomem.RegisterWindow
	pwm   gpiomem.RegisterWindow
	clock gpiomem.RegisterWindow

	pages       int
	pulseWidth  time.Duration
	clockDiv    uint32
	pwmRange    uint32

	channels [numDMAChannels]channel

	sigCh  chan os.Signal
	sigErr error
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithBoardIdentifier overrides the board-identification collaborator.
// Tests use this to avoid reading /proc/cpuinfo.
func WithBoardIdentifier(b boardid.Identifier) Option {
	return func(e *Engine) { e.boardID = b }
}

// WithPeripheralMapper overrides the register-mapping collaborator.
func WithPeripheralMapper(m gpiomem.Mapper) Option {
	return func(e *Engine) { e.mapper = m }
}

// WithAllocator overrides the uncached-memory allocator collaborator.
func WithAllocator(a mailbox.Allocator) Option {
	return func(e *Engine) { e.alloc = a }
}

// WithLogger overrides the destination for the engine's diagnostic
// logging; the default writes to os.Stderr with a "pwmdma: " prefix.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New constructs an Engine with the production collaborators unless
// overridden by opts. Bring-up is lazy: no register is touched until the
// first successful Request.
func New(opts ...Option) *Engine {
	e := &Engine{
		boardID:    boardid.CPUInfo{},
		mapper:     gpiomem.DevMem{},
		alloc:      mailbox.VideoCore{},
		logger:     log.New(os.Stderr, "pwmdma: ", log.LstdFlags),
		pages:      defaultPages,
		pulseWidth: defaultPulseWidth,
	}
	for _, opt := range opts {
		opt(e)
	}
	for i := range e.channels {
		e.channels[i].free = true
		e.channels[i].hwIndex = hwChannelIndex[i]
	}
	return e
}

// ConfigureGlobal sets the shared PWM clock divisor parameters used by
// every channel subsequently requested. It fails once any channel has left
// the Free state, since changing the divisor after DMA has started would
// invalidate every in-flight control-block sequence's wait-tick math.
func (e *Engine) ConfigureGlobal(pages int, pulseWidth time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pages < 1 {
		return errors.New("pwmdma: pages must be >= 1")
	}
	for i := range e.channels {
		if !e.channels[i].free {
			return errors.WithStack(pwmerr.ErrChannelAlreadyRequested)
		}
	}
	sol, err := solvePulseWidth(pulseWidth)
	if err != nil {
		return err
	}
	e.pages = pages
	e.pulseWidth = sol.actual
	e.clockDiv = sol.divisor
	e.pwmRange = sol.pwmRange
	if e.initialized {
		// No channel is live, so it's safe to reprogram the clock manager
		// immediately rather than waiting for the next bring-up.
		if err := e.programClockLocked(); err != nil {
			return err
		}
	}
	return nil
}

// Request claims the lowest-numbered free channel, triggering one-time
// engine bring-up on the very first call. It returns ErrNoFreeChannel if
// every slot is already owned.
func (e *Engine) Request() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		if err := e.bringUpLocked(); err != nil {
			return -1, err
		}
	}
	slot := -1
	for i := range e.channels {
		if e.channels[i].free {
			slot = i
			break
		}
	}
	if slot < 0 {
		return -1, errors.WithStack(pwmerr.ErrNoFreeChannel)
	}
	ch := &e.channels[slot]
	if err := ch.allocate(e.alloc, e.pages); err != nil {
		return -1, errors.Wrapf(err, "requesting channel %d", slot)
	}
	ch.free = false
	ch.dmaRegs = e.channelRegsLocked(ch.hwIndex)
	return slot, nil
}

func (e *Engine) channelRegsLocked(hwIndex int) *dmaChannelRegs {
	words := e.dma.Uint32()
	byteOff := hwIndex * dmaChannelSize
	return (*dmaChannelRegs)(unsafeSliceOffset(words, byteOff))
}

// Set validates and builds a new control-block sequence for ch into its
// inactive buffer, then swaps it in. If the channel is already enabled,
// the swap takes effect glitchlessly at the next Enable call issued here.
func (e *Engine) Set(ch int, gpios []int, freq physic.Frequency, dutyPct float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, err := e.checkChannelLocked(ch)
	if err != nil {
		return err
	}
	plan, err := planSequence(gpios, freq, dutyPct, e.pulseWidth, e.pages)
	if err != nil {
		return err
	}
	gpioRegsView := (*gpioRegs)(unsafeSliceOffset(e.gpio.Uint32(), 0))
	for _, p := range gpios {
		gpioRegsView.setOutput(p)
	}
	gpset0 := busGPSET0(e.profile.PeriBusBase)
	gpclr0 := busGPCLR0(e.profile.PeriBusBase)
	pwmfifo := busPWMFIFO(e.profile.PeriBusBase)
	if err := c.buildSequence(plan, gpset0, gpclr0, pwmfifo); err != nil {
		return err
	}
	c.freqDes, c.dutyDes = freq, dutyPct
	c.freqAct = physic.PeriodToFrequency(plan.subcycle)
	c.dutyAct = plan.dutyActual
	c.dutyResPct = plan.dutyResPct
	c.subcycle = plan.subcycle
	c.cbTotal, c.cbSetWait, c.cbClearWait = plan.cbTotal, plan.waitSet, plan.waitClear
	c.sequenceBuilt = true
	if c.enabled {
		return c.enableLocked()
	}
	return nil
}

// Enable arms DMA on ch using its most recently built control-block
// sequence.
func (e *Engine) Enable(ch int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, err := e.checkChannelLocked(ch)
	if err != nil {
		return err
	}
	if !c.sequenceBuilt {
		return errors.WithStack(pwmerr.ErrPwmNotSet)
	}
	return c.enableLocked()
}

// Disable stops DMA on ch and drives every GPIO it owns low. It is
// idempotent.
func (e *Engine) Disable(ch int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, err := e.checkChannelLocked(ch)
	if err != nil {
		return err
	}
	e.disableChannelLocked(c)
	return nil
}

// disableChannelLocked aborts DMA on c, then walks the bits of its last
// programmed set mask and issues a direct GPCLR0 write for each one so any
// pin the waveform left high is forced low, independent of wherever in its
// cycle the control-block ring was stopped.
func (e *Engine) disableChannelLocked(c *channel) {
	c.disableLocked()
	gpioRegsView := (*gpioRegs)(unsafeSliceOffset(e.gpio.Uint32(), 0))
	for p := 0; p < 32; p++ {
		if c.lastSetMask&(1<<uint(p)) != 0 {
			gpioRegsView.clearPin(p)
		}
	}
}

// Free disables ch and releases all memory it holds, returning it to the
// Free state.
func (e *Engine) Free(ch int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, err := e.checkChannelLocked(ch)
	if err != nil {
		return err
	}
	e.disableChannelLocked(c)
	return c.release()
}

// Close tears down every live channel, aggregating any per-channel errors.
// It is safe to call more than once and is what the termination signal
// handler invokes.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked()
}

func (e *Engine) closeLocked() error {
	var errs error
	for i := range e.channels {
		if e.channels[i].free {
			continue
		}
		e.disableChannelLocked(&e.channels[i])
		if err := e.channels[i].release(); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "freeing channel %d", i))
		}
	}
	return errs
}

func (e *Engine) checkChannelLocked(ch int) (*channel, error) {
	if ch < 0 || ch >= numDMAChannels {
		return nil, errors.WithStack(pwmerr.ErrInvalidChannel)
	}
	c := &e.channels[ch]
	if c.free {
		return nil, errors.WithStack(pwmerr.ErrInvalidChannel)
	}
	return c, nil
}

// installSignalHandlerLocked arms cleanup on the termination signals this
// process must not leave uncached GPU memory locked behind: SIGHUP,
// SIGINT, SIGQUIT and SIGTERM. Go delivers these to an ordinary goroutine
// reading a channel rather than interrupting arbitrary code the way a
// POSIX C handler would, so the cleanup path below is free to use the
// heap, mutexes and multierr the same as any other code path.
func (e *Engine) installSignalHandlerLocked() error {
	if e.sigCh != nil {
		return nil
	}
	e.sigCh = make(chan os.Signal, 1)
	signal.Notify(e.sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	go func() {
		sig := <-e.sigCh
		e.logger.Printf("caught %s, releasing DMA channels", sig)
		if err := e.Close(); err != nil {
			e.logger.Printf("cleanup error: %v", err)
		}
		signal.Stop(e.sigCh)
		os.Exit(1)
	}()
	return nil
}

// Copyright 2026 The pwmdma Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pwmdma

// Peripheral bus offsets from the board's peripheral base, per the BCM283x
// ARM Peripherals datasheet.
const (
	gpioOffset      = 0x200000
	dmaOffset       = 0x007000
	pwmOffset       = 0x20C000
	clockOffset     = 0x101000
	dmaChannelSize  = 0x100
	pageSize        = 4096
	sourceClockHz   = 500_000_000 // PLLD, fixed regardless of overclock profile.
	numDMAChannels  = 7
	numGPIOWords    = 6
	reservedDMAMask = 0x00FFFFFF
)

// physical DMA channel numbers this engine is willing to drive, in the
// order logical channel index 0..6 maps to them. Channels 0-3 and 5-7 are
// reserved by the GPU firmware and the operating environment's own DMA
// users and must never be touched here.
var hwChannelIndex = [numDMAChannels]int{10, 8, 9, 11, 12, 13, 14}

// gpioRegs mirrors the GPIO function-select/set/clear register block
// starting at peripheral base + gpioOffset.
//
// Grounded on the bcm283x gpioMap layout: 6 function-select words, then
// output-set, then output-clear, each split across two 32-bit words for
// GPIO0-31 / GPIO32-53.
type gpioRegs struct {
	functionSelect [numGPIOWords]uint32
	_              uint32
	outputSet      [2]uint32
	_              uint32
	outputClear    [2]uint32
}

// Function-select field values; only in/out are used by this engine, since
// every pin it drives is a plain digital output toggled by DMA.
const (
	fselIn  uint32 = 0
	fselOut uint32 = 1
)

func (g *gpioRegs) setOutput(pin int) {
	word := pin / 10
	shift := uint(pin%10) * 3
	g.functionSelect[word] = (g.functionSelect[word] &^ (7 << shift)) | (fselOut << shift)
}

// clearPin drives pin low immediately via a direct GPCLR0/GPCLR1 write,
// independent of any DMA control block.
func (g *gpioRegs) clearPin(pin int) {
	g.outputClear[pin/32] = 1 << uint(pin%32)
}

// dmaStatus is the per-channel CS register, page 47-50 of the datasheet.
type dmaStatus uint32

const (
	dmaReset                    dmaStatus = 1 << 31
	dmaAbort                    dmaStatus = 1 << 30
	dmaWaitForOutstandingWrites dmaStatus = 1 << 28
	dmaPanicPriorityShift                 = 20
	dmaPriorityShift                      = 16
	dmaErrorStatus              dmaStatus = 1 << 8
	dmaEnd                      dmaStatus = 1 << 1
	dmaActive                   dmaStatus = 1 << 0
)

// dmaTransferInfo is a control-block field, page 50-52.
type dmaTransferInfo uint32

const (
	tiNoWideBursts dmaTransferInfo = 1 << 26
	tiPermapPWM    dmaTransferInfo = 5 << 16 // peripheral mapping 5 = PWM
	tiSrcInc       dmaTransferInfo = 1 << 8
	tiDstInc       dmaTransferInfo = 1 << 4
	tiDestDReq     dmaTransferInfo = 1 << 6
	tiWaitResp     dmaTransferInfo = 1 << 3
)

// controlBlock is the 32-byte hardware-defined DMA control block. Its
// layout, alignment and field order are dictated by silicon, not by this
// module: the DMA engine walks these bytes directly.
type controlBlock struct {
	transferInfo dmaTransferInfo
	srcAddr      uint32
	dstAddr      uint32
	txLen        uint32
	stride       uint32
	nextCB       uint32
	_            [2]uint32
}

const controlBlockSize = 32

// dmaChannelRegs is one channel's register bank within the DMA controller
// mapping; channels are spaced dmaChannelSize (0x100) bytes apart.
type dmaChannelRegs struct {
	cs       dmaStatus
	cbAddr   uint32
	ti       dmaTransferInfo
	srcAddr  uint32
	dstAddr  uint32
	txLen    uint32
	stride   uint32
	nextCB   uint32
	debug    uint32
}

// pwmControl is the PWM controller CTL register, pages 141-143. Only
// channel 1 fields are used; this engine never drives the peripheral's
// channel 2.
type pwmControl uint32

const (
	pwmClrFifo pwmControl = 1 << 6
	pwmUseFifo pwmControl = 1 << 5
	pwmMode1Enable pwmControl = 1 << 0
)

// pwmDMACfg is the PWM controller's DMAC register, page 145.
type pwmDMACfg uint32

const (
	pwmDMAEnable     pwmDMACfg = 1 << 31
	pwmPanicThreshShift = 8
	pwmDreqThreshShift  = 0
)

// pwmRegs is the PWM controller register block at peripheral base +
// pwmOffset.
type pwmRegs struct {
	ctl    pwmControl
	sta    uint32
	dmac   pwmDMACfg
	_      uint32
	rng1   uint32
	dat1   uint32
	fifo1  uint32
}

// clockCtl is the PWM clock manager CTL register, page 107. Writes require
// the 0x5A password in the top byte or the hardware silently ignores them.
type clockCtl uint32

const (
	clockPasswd  clockCtl = 0x5A << 24
	clockBusy    clockCtl = 1 << 7
	clockKill    clockCtl = 1 << 5
	clockEnable  clockCtl = 1 << 4
	clockSrcPLLD clockCtl = 6
)

// clockDiv is the PWM clock manager DIV register, page 108: a 12.12
// fixed-point divisor. This engine only ever uses the integer part.
type clockDiv uint32

const (
	clockDivPasswd    clockDiv = 0x5A << 24
	clockDiviShift             = 12
	clockDiviMax      clockDiv = (1 << 12) - 1
)

// clockRegs is the PWM clock manager register block at peripheral base +
// clockOffset. The PWM clock manager's CTL/DIV pair lives at a fixed
// sub-offset within the broader clock manager window.
type clockRegs struct {
	ctl clockCtl
	div clockDiv
}

const pwmClockSubOffset = 0xA0 // CM_PWMCTL within the clock manager block.

// Bus addresses of the registers DMA control blocks write to directly.
// Every supported family shares the 0x7E000000 peripheral bus base (see
// boardid's profiles), so these come out the same on all of them; they are
// still computed from the board profile rather than hardcoded absolute
// constants.
func busGPSET0(periBusBase uint32) uint32 { return periBusBase + gpioOffset + 0x1C }
func busGPCLR0(periBusBase uint32) uint32 { return periBusBase + gpioOffset + 0x28 }
func busPWMFIFO(periBusBase uint32) uint32 { return periBusBase + pwmOffset + 0x18 }

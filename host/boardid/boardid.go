// Copyright 2026 The pwmdma Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package boardid classifies the Broadcom SoC family of the host machine by
// reading /proc/cpuinfo, the same way the rest of this stack's host packages
// sniff the running platform before they touch any register.
package boardid

import (
	"io/ioutil"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Family identifies a Broadcom SoC generation relevant to peripheral base
// address selection.
type Family string

// Known families, in the order the Raspberry Pi Foundation shipped them.
const (
	BCM2835 Family = "bcm2835"
	BCM2837 Family = "bcm2837"
	BCM2711 Family = "bcm2711"
)

// Profile is the pair of addresses a Family resolves to: the physical base
// used by /dev/mem mappings and the bus base DMA control blocks must target.
type Profile struct {
	PeriPhysBase uint32
	PeriBusBase  uint32
}

var profiles = map[Family]Profile{
	BCM2835: {PeriPhysBase: 0x20000000, PeriBusBase: 0x7E000000},
	BCM2837: {PeriPhysBase: 0x3F000000, PeriBusBase: 0x7E000000},
	BCM2711: {PeriPhysBase: 0xFE000000, PeriBusBase: 0x7E000000},
}

// ErrUnknown is returned when the host's /proc/cpuinfo does not describe a
// recognized Broadcom board.
var ErrUnknown = errors.New("boardid: unrecognized board")

// Identifier resolves the running host's Family. It is the seam the pwmdma
// engine depends on instead of reading /proc/cpuinfo directly, so tests can
// supply a fake.
type Identifier interface {
	Family() (Family, error)
}

// CPUInfo is the production Identifier: it parses /proc/cpuinfo the same way
// this codebase's distro package does.
type CPUInfo struct{}

// Family implements Identifier.
func (CPUInfo) Family() (Family, error) {
	info := cpuInfo()
	if rev, ok := info["Revision"]; ok {
		if f, ok := familyFromRevision(rev); ok {
			return f, nil
		}
	}
	if hw, ok := info["Hardware"]; ok {
		switch {
		case strings.Contains(hw, "BCM2835"):
			return BCM2835, nil
		case strings.Contains(hw, "BCM2836"), strings.Contains(hw, "BCM2837"):
			return BCM2837, nil
		case strings.Contains(hw, "BCM2711"):
			return BCM2711, nil
		}
	}
	return "", errors.WithStack(ErrUnknown)
}

// ProfileFor returns the peripheral address profile for a Family.
func ProfileFor(f Family) (Profile, error) {
	p, ok := profiles[f]
	if !ok {
		return Profile{}, errors.WithStack(ErrUnknown)
	}
	return p, nil
}

// familyFromRevision decodes the "new style" revision code documented by the
// Raspberry Pi Foundation: bit 23 set marks a new-style code, bits 12-15 hold
// the processor field.
func familyFromRevision(rev string) (Family, bool) {
	rev = strings.TrimSpace(rev)
	n, err := strconv.ParseUint(rev, 16, 32)
	if err != nil {
		return "", false
	}
	if n&(1<<23) == 0 {
		// Old-style revision codes predate BCM2837/BCM2711 boards.
		return BCM2835, true
	}
	switch (n >> 12) & 0xF {
	case 0:
		return BCM2835, true
	case 1, 2:
		return BCM2837, true
	case 3:
		return BCM2711, true
	}
	return "", false
}

var (
	mu      sync.Mutex
	info    map[string]string
	readAll = ioutil.ReadFile
)

func cpuInfo() map[string]string {
	mu.Lock()
	defer mu.Unlock()
	if info != nil {
		return info
	}
	info = map[string]string{}
	b, err := readAll("/proc/cpuinfo")
	if err != nil {
		return info
	}
	for _, line := range strings.Split(string(b), "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		info[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return info
}

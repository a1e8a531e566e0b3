// Copyright 2026 The pwmdma Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package physic carries forward the one physical-quantity type this engine
// needs from periph.io's conn/physic unit-value package: Frequency. The
// original package also defines Distance, Mass, Power, ElectricCurrent and a
// dozen other SI quantities, none of which a PWM-via-DMA engine has any use
// for, so only Frequency made the trip.
package physic

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Frequency is a measurement of cycles per second, stored as an int64
// micro-Hertz value, mirroring the original package's representation.
type Frequency int64

// String returns the frequency formatted as a string in Hertz.
func (f Frequency) String() string {
	return strconv.FormatFloat(float64(f)/float64(Hertz), 'f', -1, 64) + "Hz"
}

// Set implements flag.Value, parsing a plain decimal Hertz value.
//
// Unlike the original package, it does not accept SI-prefixed magnitudes
// ("1kHz", "2MHz"): that grammar is backed by a ~700-line decimal/SI-prefix
// parser shared across the dozen quantity types this package dropped, and
// nothing in this engine parses a frequency off a command line or config
// file in that notation (cmd/pwmdemo's config carries frequency as a plain
// float64 Hz value instead).
func (f *Frequency) Set(s string) error {
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "Hz"), 64)
	if err != nil {
		return errors.Wrapf(err, "physic: invalid frequency %q", s)
	}
	*f = Frequency(v * float64(Hertz))
	return nil
}

// Duration returns the duration of one cycle at this frequency.
func (f Frequency) Duration() time.Duration {
	// Note: Duration() should have been named Period().
	return time.Second * time.Duration(Hertz) / time.Duration(f)
}

// PeriodToFrequency returns the frequency for a period of this interval.
func PeriodToFrequency(t time.Duration) Frequency {
	return Frequency(time.Second) * Hertz / Frequency(t)
}

const (
	// Hertz is 1/s.
	MicroHertz Frequency = 1
	MilliHertz Frequency = 1000 * MicroHertz
	Hertz      Frequency = 1000 * MilliHertz
	KiloHertz  Frequency = 1000 * Hertz
	MegaHertz  Frequency = 1000 * KiloHertz
	GigaHertz  Frequency = 1000 * MegaHertz
)

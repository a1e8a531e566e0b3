// Copyright 2026 The pwmdma Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pwmdma

import (
	"errors"
	"testing"
	"time"

	"github.com/rpi-hw/pwmdma/host/pwmerr"
)

func TestSolvePulseWidth(t *testing.T) {
	tests := []struct {
		name       string
		pw         time.Duration
		wantErr    bool
		divisorMin uint32
		divisorMax uint32
	}{
		{name: "50us servo tick", pw: 50 * time.Microsecond, divisorMin: 1, divisorMax: 4095},
		{name: "10us default tick", pw: 10 * time.Microsecond, divisorMin: 1, divisorMax: 4095},
		{name: "zero rejected", pw: 0, wantErr: true},
		{name: "negative rejected", pw: -time.Microsecond, wantErr: true},
		{name: "at lower bound rejected", pw: 400 * time.Nanosecond, wantErr: true},
		{name: "just above lower bound accepted", pw: 401 * time.Nanosecond, divisorMin: 1, divisorMax: 4095},
		{name: "at upper bound accepted", pw: 35000 * time.Second, divisorMin: 4095, divisorMax: 4095},
		{name: "above upper bound rejected", pw: 35000*time.Second + time.Microsecond, wantErr: true},
		{name: "very large clamps divisor to max", pw: 1 * time.Second, divisorMin: 4095, divisorMax: 4095},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sol, err := solvePulseWidth(tt.pw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("solvePulseWidth(%s) expected error, got none", tt.pw)
				}
				if !errors.Is(err, pwmerr.ErrInvalidPulseWidth) {
					t.Fatalf("expected ErrInvalidPulseWidth, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("solvePulseWidth(%s) unexpected error: %v", tt.pw, err)
			}
			if sol.divisor < tt.divisorMin || sol.divisor > tt.divisorMax {
				t.Fatalf("divisor %d out of expected range [%d,%d]", sol.divisor, tt.divisorMin, tt.divisorMax)
			}
			if sol.divisor < 1 || sol.divisor > uint32(clockDiviMax) {
				t.Fatalf("divisor %d outside hardware bounds", sol.divisor)
			}
			if sol.pwmRange < 1 {
				t.Fatalf("pwmRange %d must be >= 1", sol.pwmRange)
			}
			// Consistency invariant: actual = range * divisor / F.
			wantActual := float64(sol.pwmRange) * float64(sol.divisor) / sourceClockHz
			gotActual := sol.actual.Seconds()
			if diff := wantActual - gotActual; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("actual %v inconsistent with range=%d divisor=%d", sol.actual, sol.pwmRange, sol.divisor)
			}
		})
	}
}

func TestSolvePulseWidthQuantum(t *testing.T) {
	// Property: the achieved pulse width always differs from the requested
	// one by no more than one divisor tick at the computed divisor.
	requests := []time.Duration{
		50 * time.Microsecond,
		401 * time.Nanosecond,
		5000 * time.Microsecond,
		100 * time.Microsecond,
	}
	for _, pw := range requests {
		sol, err := solvePulseWidth(pw)
		if err != nil {
			t.Fatalf("solvePulseWidth(%s): %v", pw, err)
		}
		tickQuantum := time.Duration(float64(time.Second) * float64(sol.divisor) / sourceClockHz)
		diff := sol.actual - pw
		if diff < 0 {
			diff = -diff
		}
		if diff > tickQuantum {
			t.Fatalf("pw=%s actual=%s diverges by %s, more than one tick quantum %s", pw, sol.actual, diff, tickQuantum)
		}
	}
}

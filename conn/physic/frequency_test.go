// Copyright 2026 The pwmdma Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package physic

import (
	"testing"
	"time"
)

func TestFrequencyString(t *testing.T) {
	tests := []struct {
		f    Frequency
		want string
	}{
		{f: Hertz, want: "1Hz"},
		{f: 50 * Hertz, want: "50Hz"},
		{f: 500 * MilliHertz, want: "0.5Hz"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("Frequency(%d).String() = %q, want %q", tt.f, got, tt.want)
		}
	}
}

func TestFrequencySet(t *testing.T) {
	var f Frequency
	if err := f.Set("50Hz"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if f != 50*Hertz {
		t.Fatalf("Set(\"50Hz\") = %v, want %v", f, 50*Hertz)
	}
	if err := f.Set("not-a-number"); err == nil {
		t.Fatal("expected error parsing non-numeric frequency")
	}
}

func TestFrequencyDuration(t *testing.T) {
	tests := []struct {
		f    Frequency
		want time.Duration
	}{
		{f: Hertz, want: time.Second},
		{f: 50 * Hertz, want: 20 * time.Millisecond},
		{f: 1 * KiloHertz, want: time.Millisecond},
	}
	for _, tt := range tests {
		if got := tt.f.Duration(); got != tt.want {
			t.Errorf("Frequency(%v).Duration() = %v, want %v", tt.f, got, tt.want)
		}
	}
}

func TestPeriodToFrequency(t *testing.T) {
	if got := PeriodToFrequency(20 * time.Millisecond); got != 50*Hertz {
		t.Fatalf("PeriodToFrequency(20ms) = %v, want %v", got, 50*Hertz)
	}
}

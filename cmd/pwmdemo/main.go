// Copyright 2026 The pwmdma Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Command pwmdemo exercises the pwmdma engine against real hardware: it
// loads a named preset, arms one DMA channel, and waits for a termination
// signal before cleanly releasing it.
//
// It is a thin consumer of the engine, not part of its correctness
// surface; none of this file is covered by the engine's unit tests, which
// run entirely against fake collaborators.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/rpi-hw/pwmdma/pwmdma"
)

func main() {
	configPath := flag.String("config", "", "path to a pwmdemo config file (default: search ./pwmdemo.yaml)")
	presetName := flag.String("preset", "led", "named waveform preset to drive")
	list := flag.Bool("list", false, "list available presets and exit")
	flag.Parse()

	logger := log.New(os.Stderr, "pwmdemo: ", log.LstdFlags)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal(err)
	}

	if *list {
		for _, p := range cfg.Presets {
			fmt.Printf("%s: gpio=%d freq=%.3fHz duty=%.2f%%\n", p.Name, p.GPIO, p.FreqHz, p.DutyPct)
		}
		return
	}

	p, err := cfg.findPreset(*presetName)
	if err != nil {
		logger.Fatal(err)
	}

	engine := pwmdma.New(pwmdma.WithLogger(logger))
	if err := engine.ConfigureGlobal(cfg.Pages, cfg.pulseWidth()); err != nil {
		logger.Fatal(err)
	}

	ch, err := engine.Request()
	if err != nil {
		logger.Fatal(err)
	}
	if err := engine.Set(ch, []int{p.GPIO}, p.freq(), p.DutyPct); err != nil {
		logger.Fatal(err)
	}
	if err := engine.Enable(ch); err != nil {
		logger.Fatal(err)
	}
	logger.Printf("driving gpio %d at %.3fHz, %.2f%% duty (preset %q)", p.GPIO, p.FreqHz, p.DutyPct, p.Name)
	logger.Print("ctrl-C to stop; the engine's own signal handler releases the channel and exits")

	// Request installed a termination-signal handler that calls
	// engine.Close and exits the process; there's nothing left to do here
	// but wait for it.
	select {}
}

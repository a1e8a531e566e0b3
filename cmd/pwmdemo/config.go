// Copyright 2026 The pwmdma Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/rpi-hw/pwmdma/conn/physic"
)

// preset is one named waveform a user can select with -preset. FreqHz is
// kept as a plain float64 in the config file's own schema; callers convert
// it to physic.Frequency at the engine boundary via preset.freq().
type preset struct {
	Name    string  `mapstructure:"name"`
	GPIO    int     `mapstructure:"gpio"`
	FreqHz  float64 `mapstructure:"freq_hz"`
	DutyPct float64 `mapstructure:"duty_pct"`
}

func (p preset) freq() physic.Frequency {
	return physic.Frequency(p.FreqHz * float64(physic.Hertz))
}

// config is the demo command's full configuration surface, merged by Viper
// from (in increasing priority) a config file and PWMDEMO_-prefixed
// environment variables. No command-line flag is bound to these fields.
type config struct {
	Pages        int      `mapstructure:"pages"`
	PulseWidthUs float64  `mapstructure:"pulse_width_us"`
	Presets      []preset `mapstructure:"presets"`
}

func (c config) pulseWidth() time.Duration {
	return time.Duration(c.PulseWidthUs * float64(time.Microsecond))
}

func (c config) findPreset(name string) (preset, error) {
	for _, p := range c.Presets {
		if p.Name == name {
			return p, nil
		}
	}
	return preset{}, errors.Errorf("pwmdemo: unknown preset %q", name)
}

func defaultConfig() config {
	return config{
		Pages:        16,
		PulseWidthUs: 10,
		Presets: []preset{
			{Name: "led", GPIO: 26, FreqHz: 1, DutyPct: 75},
			{Name: "servo", GPIO: 18, FreqHz: 50, DutyPct: 7.5},
			{Name: "motor", GPIO: 12, FreqHz: 20000, DutyPct: 50},
		},
	}
}

func loadConfig(configPath string) (config, error) {
	v := viper.New()
	def := defaultConfig()
	v.SetDefault("pages", def.Pages)
	v.SetDefault("pulse_width_us", def.PulseWidthUs)
	v.SetDefault("presets", def.Presets)

	v.SetEnvPrefix("PWMDEMO")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return config{}, errors.Wrap(err, "pwmdemo: reading config file")
		}
	} else {
		v.SetConfigName("pwmdemo")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pwmdemo")
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return config{}, errors.Wrap(err, "pwmdemo: reading config file")
			}
		}
	}

	var c config
	if err := v.Unmarshal(&c); err != nil {
		return config{}, errors.Wrap(err, "pwmdemo: unmarshaling config")
	}
	if len(c.Presets) == 0 {
		c.Presets = def.Presets
	}
	return c, nil
}

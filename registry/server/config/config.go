// config.go - Registry server configuration.
// Copyright (C) 2026  The onionrelay authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package config implements the registry server configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/onionrelay/onionrelay/core/log"
	"github.com/onionrelay/onionrelay/core/retry"
)

const (
	defaultAddress       = "127.0.0.1:5000"
	defaultLogLevel      = "NOTICE"
	defaultFetchTimeout  = 2000
	defaultCheckInterval = 60 * 1000
	defaultRateLimit     = 1.0
	defaultRateBurst     = 10
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Registry is the registry configuration.
type Registry struct {
	// Address is the host:port the registry HTTP API binds to.
	Address string

	// DataDir is the absolute path to the registry's state files.  If
	// empty, the node list is only kept in memory.
	DataDir string

	// MaxAttempts is the number of times a candidate's key is fetched
	// before giving up on an add.
	MaxAttempts int

	// FetchTimeout is the per attempt key fetch timeout in milliseconds.
	FetchTimeout int

	// CheckInterval is the interval in milliseconds between liveness
	// sweeps over every known node.  A negative value disables the sweep.
	CheckInterval int

	// RateLimit is the number of add and check requests per second a
	// single caller host may make.
	RateLimit float64

	// RateBurst is the token bucket size backing RateLimit.
	RateBurst int

	// MetricsAddress is the host:port the Prometheus metrics endpoint binds
	// to.  If empty, metrics are not served.
	MetricsAddress string
}

func (rCfg *Registry) validate() error {
	if _, _, err := net.SplitHostPort(rCfg.Address); err != nil {
		return fmt.Errorf("config: Registry: Address '%v' is invalid: %v", rCfg.Address, err)
	}
	if rCfg.DataDir != "" && !filepath.IsAbs(rCfg.DataDir) {
		return fmt.Errorf("config: Registry: DataDir '%v' is not an absolute path", rCfg.DataDir)
	}
	if rCfg.MaxAttempts < 0 {
		return fmt.Errorf("config: Registry: MaxAttempts %v is invalid", rCfg.MaxAttempts)
	}
	if rCfg.FetchTimeout < 0 {
		return fmt.Errorf("config: Registry: FetchTimeout %v is invalid", rCfg.FetchTimeout)
	}
	if rCfg.RateLimit < 0 || rCfg.RateBurst < 0 {
		return errors.New("config: Registry: RateLimit and RateBurst must not be negative")
	}
	if rCfg.MetricsAddress != "" {
		if _, _, err := net.SplitHostPort(rCfg.MetricsAddress); err != nil {
			return fmt.Errorf("config: Registry: MetricsAddress '%v' is invalid: %v", rCfg.MetricsAddress, err)
		}
	}
	return nil
}

func (rCfg *Registry) applyDefaults() {
	if rCfg.Address == "" {
		rCfg.Address = defaultAddress
	}
	if rCfg.MaxAttempts == 0 {
		rCfg.MaxAttempts = retry.DefaultMaxAttempts
	}
	if rCfg.FetchTimeout == 0 {
		rCfg.FetchTimeout = defaultFetchTimeout
	}
	if rCfg.CheckInterval == 0 {
		rCfg.CheckInterval = defaultCheckInterval
	}
	if rCfg.RateLimit == 0 {
		rCfg.RateLimit = defaultRateLimit
	}
	if rCfg.RateBurst == 0 {
		rCfg.RateBurst = defaultRateBurst
	}
}

// Logging is the registry logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	if lCfg.Level == "" {
		lCfg.Level = defaultLogLevel
	}
	if !log.ValidLevel(lCfg.Level) {
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = strings.ToUpper(lCfg.Level)
	return nil
}

// Config is the top level registry configuration.
type Config struct {
	Registry *Registry
	Logging  *Logging
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Registry == nil {
		return errors.New("config: No Registry block was present")
	}
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}

	cfg.Registry.applyDefaults()
	if err := cfg.Registry.validate(); err != nil {
		return err
	}
	return cfg.Logging.validate()
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}

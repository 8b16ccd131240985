// config.go - Relay server configuration.
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

// Package config implements the relay server configuration.
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
	"github.com/onionrelay/onionrelay/core/onion"
	"github.com/onionrelay/onionrelay/transport"
)

const (
	defaultAddress          = "127.0.0.1:8001"
	defaultLogLevel         = "NOTICE"
	defaultRegisterDelay    = 5000
	defaultRegisterTimeout  = 60 * 1000
	defaultForwardTimeout   = 30 * 1000
	defaultMaxMessageSize   = 4 << 20
	defaultReplayFilterBits = 23
	defaultDeliveryTimeout  = 20 * 1000

	minReplayFilterBits = 10
	maxReplayFilterBits = 32
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Relay is the relay configuration.
type Relay struct {
	// Address is the host:port the relay binds to.
	Address string

	// PublicPort is the port announced to the registry, if it differs from
	// the bound port (eg: behind a port forward).  The registry combines it
	// with the host it observes the relay connecting from.
	PublicPort uint16

	// DataDir is the absolute path to the relay's state files.  If empty,
	// a fresh keypair is generated on every start and never written out.
	DataDir string

	// RegistryAddress is the host:port of the registry.  If empty, the relay
	// does not register itself.
	RegistryAddress string

	// RegisterDelay is the delay in milliseconds between startup and
	// self-registration.
	RegisterDelay int

	// RegisterTimeout is the timeout in milliseconds for the registry to
	// accept the relay.  It must cover the registry's whole key fetch
	// budget (MaxAttempts fetches plus backoff).
	RegisterTimeout int

	// ForwardTimeout is the timeout in milliseconds for a next hop to answer.
	ForwardTimeout int

	// MaxMessageSize is the largest onion in bytes the relay accepts.
	MaxMessageSize int

	// ResponseMode is "layered" (each relay seals the response) or
	// "passthrough" (only the exit relay does).
	ResponseMode string

	// Transport is the transport used towards next hops, "http" or "http3".
	Transport string

	// EnableHTTP3 also serves onions over HTTP/3 on the UDP port with the
	// same number.
	EnableHTTP3 bool

	// ReplayFilterBits is the log2 of the replay filter size in bits.
	ReplayFilterBits int

	// MetricsAddress is the host:port the Prometheus metrics endpoint binds
	// to.  If empty, metrics are not served.
	MetricsAddress string
}

func (rCfg *Relay) validate() error {
	if _, _, err := net.SplitHostPort(rCfg.Address); err != nil {
		return fmt.Errorf("config: Relay: Address '%v' is invalid: %v", rCfg.Address, err)
	}
	if rCfg.DataDir != "" && !filepath.IsAbs(rCfg.DataDir) {
		return fmt.Errorf("config: Relay: DataDir '%v' is not an absolute path", rCfg.DataDir)
	}
	if rCfg.RegistryAddress != "" {
		if _, _, err := net.SplitHostPort(rCfg.RegistryAddress); err != nil {
			return fmt.Errorf("config: Relay: RegistryAddress '%v' is invalid: %v", rCfg.RegistryAddress, err)
		}
	}
	if rCfg.RegisterDelay < 0 || rCfg.RegisterTimeout < 0 || rCfg.ForwardTimeout < 0 || rCfg.MaxMessageSize < 0 {
		return errors.New("config: Relay: RegisterDelay, RegisterTimeout, ForwardTimeout and MaxMessageSize must not be negative")
	}
	if _, err := onion.ParseResponseMode(rCfg.ResponseMode); err != nil {
		return fmt.Errorf("config: Relay: %v", err)
	}
	if _, err := transport.ParseKind(rCfg.Transport); err != nil {
		return fmt.Errorf("config: Relay: %v", err)
	}
	if rCfg.ReplayFilterBits < minReplayFilterBits || rCfg.ReplayFilterBits > maxReplayFilterBits {
		return fmt.Errorf("config: Relay: ReplayFilterBits %v is out of range", rCfg.ReplayFilterBits)
	}
	if rCfg.MetricsAddress != "" {
		if _, _, err := net.SplitHostPort(rCfg.MetricsAddress); err != nil {
			return fmt.Errorf("config: Relay: MetricsAddress '%v' is invalid: %v", rCfg.MetricsAddress, err)
		}
	}
	return nil
}

func (rCfg *Relay) applyDefaults() {
	if rCfg.Address == "" {
		rCfg.Address = defaultAddress
	}
	if rCfg.RegisterDelay == 0 {
		rCfg.RegisterDelay = defaultRegisterDelay
	}
	if rCfg.RegisterTimeout == 0 {
		rCfg.RegisterTimeout = defaultRegisterTimeout
	}
	if rCfg.ForwardTimeout == 0 {
		rCfg.ForwardTimeout = defaultForwardTimeout
	}
	if rCfg.MaxMessageSize == 0 {
		rCfg.MaxMessageSize = defaultMaxMessageSize
	}
	if rCfg.ResponseMode == "" {
		rCfg.ResponseMode = onion.ResponseLayered.String()
	}
	if rCfg.Transport == "" {
		rCfg.Transport = string(transport.HTTP)
	}
	if rCfg.ReplayFilterBits == 0 {
		rCfg.ReplayFilterBits = defaultReplayFilterBits
	}
}

// Delivery is the exit delivery configuration.
type Delivery struct {
	// AllowedHosts is the list of origin hosts the relay will fetch from
	// when acting as the exit.  "*" allows any host.  An empty list
	// disables delivery.
	AllowedHosts []string

	// Timeout is the origin request timeout in milliseconds.
	Timeout int
}

func (dCfg *Delivery) applyDefaults() {
	if dCfg.Timeout <= 0 {
		dCfg.Timeout = defaultDeliveryTimeout
	}
}

// Logging is the relay logging configuration.
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

// Debug is the relay debug configuration.
type Debug struct {
	// GenerateOnly halts and cleans up the server right after long term
	// key generation.
	GenerateOnly bool
}

// Config is the top level relay configuration.
type Config struct {
	Relay    *Relay
	Delivery *Delivery
	Logging  *Logging
	Debug    *Debug
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Relay == nil {
		return errors.New("config: No Relay block was present")
	}
	if cfg.Delivery == nil {
		cfg.Delivery = &Delivery{}
	}
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}
	if cfg.Debug == nil {
		cfg.Debug = &Debug{}
	}

	cfg.Relay.applyDefaults()
	cfg.Delivery.applyDefaults()
	if err := cfg.Relay.validate(); err != nil {
		return err
	}
	return cfg.Logging.validate()
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte, forceGenOnly bool) (*Config, error) {
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
	if forceGenOnly {
		cfg.Debug.GenerateOnly = true
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string, forceGenOnly bool) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b, forceGenOnly)
}

// config.go - Client configuration.
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

// Package config implements the client configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/onionrelay/onionrelay/core/log"
	"github.com/onionrelay/onionrelay/core/onion"
	"github.com/onionrelay/onionrelay/core/path"
	"github.com/onionrelay/onionrelay/transport"
)

const (
	defaultRegistryAddress = "127.0.0.1:5000"
	defaultProxyAddress    = "127.0.0.1:8080"
	defaultRequestTimeout  = 60 * 1000
	defaultLogLevel        = "NOTICE"
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Client is the client configuration.
type Client struct {
	// RegistryAddress is the host:port of the registry.
	RegistryAddress string

	// PathLength is the number of relays in a path.
	PathLength int

	// RequestTimeout is the timeout in milliseconds for a full round trip
	// through the path.
	RequestTimeout int

	// ResponseMode must match the relays' ResponseMode.
	ResponseMode string

	// Transport is the transport used towards the entry relay, "http" or
	// "http3".
	Transport string

	// ProxyAddress is the host:port the local HTTP proxy binds to.
	ProxyAddress string
}

func (cCfg *Client) validate() error {
	if _, _, err := net.SplitHostPort(cCfg.RegistryAddress); err != nil {
		return fmt.Errorf("config: Client: RegistryAddress '%v' is invalid: %v", cCfg.RegistryAddress, err)
	}
	if _, _, err := net.SplitHostPort(cCfg.ProxyAddress); err != nil {
		return fmt.Errorf("config: Client: ProxyAddress '%v' is invalid: %v", cCfg.ProxyAddress, err)
	}
	if cCfg.PathLength < 1 {
		return fmt.Errorf("config: Client: PathLength %v is invalid", cCfg.PathLength)
	}
	if cCfg.RequestTimeout < 0 {
		return fmt.Errorf("config: Client: RequestTimeout %v is invalid", cCfg.RequestTimeout)
	}
	if _, err := onion.ParseResponseMode(cCfg.ResponseMode); err != nil {
		return fmt.Errorf("config: Client: %v", err)
	}
	if _, err := transport.ParseKind(cCfg.Transport); err != nil {
		return fmt.Errorf("config: Client: %v", err)
	}
	return nil
}

func (cCfg *Client) applyDefaults() {
	if cCfg.RegistryAddress == "" {
		cCfg.RegistryAddress = defaultRegistryAddress
	}
	if cCfg.PathLength == 0 {
		cCfg.PathLength = path.DefaultLength
	}
	if cCfg.RequestTimeout == 0 {
		cCfg.RequestTimeout = defaultRequestTimeout
	}
	if cCfg.ResponseMode == "" {
		cCfg.ResponseMode = onion.ResponseLayered.String()
	}
	if cCfg.Transport == "" {
		cCfg.Transport = string(transport.HTTP)
	}
	if cCfg.ProxyAddress == "" {
		cCfg.ProxyAddress = defaultProxyAddress
	}
}

// Logging is the client logging configuration.
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

// Config is the top level client configuration.
type Config struct {
	Client  *Client
	Logging *Logging
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration.  Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Client == nil {
		return errors.New("config: No Client block was present")
	}
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}
	cfg.Client.applyDefaults()
	if err := cfg.Client.validate(); err != nil {
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

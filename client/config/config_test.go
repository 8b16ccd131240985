// config_test.go - Client configuration tests.
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

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	require := require.New(t)

	_, err := Load([]byte("[Logging]\n"))
	require.Error(err)

	cfg, err := Load([]byte("[Client]\n"))
	require.NoError(err)
	require.Equal(3, cfg.Client.PathLength)
	require.Equal(defaultRegistryAddress, cfg.Client.RegistryAddress)
	require.Equal("layered", cfg.Client.ResponseMode)

	cfg, err = Load([]byte(`
[Client]
  RegistryAddress = "10.1.2.3:5000"
  PathLength = 5
  RequestTimeout = 3000
  ResponseMode = "passthrough"
  Transport = "http3"
  ProxyAddress = "127.0.0.1:3128"
`))
	require.NoError(err)
	require.Equal(5, cfg.Client.PathLength)
	require.Equal("http3", cfg.Client.Transport)

	_, err = Load([]byte("[Client]\nPathLength = -1\n"))
	require.Error(err)
	_, err = Load([]byte("[Client]\nColour = \"blue\"\n"))
	require.Error(err)
}

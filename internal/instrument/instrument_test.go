// instrument_test.go - Metrics tests.
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

package instrument

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onionrelay/onionrelay/core/log"
)

func TestMetricsEndpoint(t *testing.T) {
	require := require.New(t)

	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(err)

	s, err := Start("127.0.0.1:0", logBackend.GetLogger("instrument"))
	require.NoError(err)
	defer s.Stop()

	Init()
	OnionReceived()
	OnionForwarded(10 * time.Millisecond)
	HopError("decrypt")
	RegistryNodes(3)
	RegistryProbe(true)

	resp, err := http.Get("http://" + s.Addr().String() + "/metrics")
	require.NoError(err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(err)
	require.Contains(string(b), "onionrelay_onions_received_total")
	require.Contains(string(b), `onionrelay_hop_errors_total{kind="decrypt"}`)
	require.Contains(string(b), "onionrelay_registry_nodes 3")
}

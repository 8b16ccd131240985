// main.go - onionrelay relay binary.
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

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onionrelay/onionrelay/common"
	"github.com/onionrelay/onionrelay/relay/server"
	"github.com/onionrelay/onionrelay/relay/server/config"
)

func newRootCommand() *cobra.Command {
	var (
		configFile string
		genOnly    bool
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "onionrelay relay node",
		Long: `A relay removes one encryption layer from each onion it receives.

Intermediate layers name the next hop, which the relay forwards the inner
onion to.  The final layer carries an HTTP request that the relay delivers
to its destination, subject to the [Delivery] AllowedHosts list.  The
response travels back along the same path.

On startup the relay registers itself with the configured registry, and
deregisters on a clean shutdown.`,
		Example: `  # Start a relay
  relay -f /etc/onionrelay/relay.toml

  # Generate the relay keypair and exit
  relay -f /etc/onionrelay/relay.toml --generate-only`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile, genOnly)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "f", "relay.toml",
		"path to the relay configuration file (TOML format)")
	cmd.Flags().BoolVarP(&genOnly, "generate-only", "g", false,
		"generate the relay keypair and exit without starting the relay")
	return cmd
}

func main() {
	common.ExecuteWithFang(newRootCommand())
}

func run(configFile string, genOnly bool) error {
	common.SetupRuntime()

	cfg, err := config.LoadFile(configFile, genOnly)
	if err != nil {
		return fmt.Errorf("failed to load config file '%v': %v", configFile, err)
	}
	svr, err := server.New(cfg, nil)
	if err != nil {
		if errors.Is(err, server.ErrGenerateOnly) {
			return nil
		}
		return fmt.Errorf("failed to spawn relay instance: %v", err)
	}
	common.RunDaemon(svr)
	return nil
}

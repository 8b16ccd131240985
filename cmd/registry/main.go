// main.go - onionrelay registry binary.
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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/onionrelay/onionrelay/common"
	"github.com/onionrelay/onionrelay/registry/server"
	"github.com/onionrelay/onionrelay/registry/server/config"
)

func newRootCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "registry",
		Short: "onionrelay relay registry",
		Long: `The registry keeps the list of live relays and their public keys.

Relays register themselves with POST /add/<port>, and the registry only
accepts them once it has fetched their key back over GET /key.  Clients
fetch the listing with GET / to build their paths.  Registered relays are
periodically re-checked and dropped once unreachable.`,
		Example: `  # Start the registry
  registry -f /etc/onionrelay/registry.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "f", "registry.toml",
		"path to the registry configuration file (TOML format)")
	return cmd
}

func main() {
	common.ExecuteWithFang(newRootCommand())
}

func run(configFile string) error {
	common.SetupRuntime()

	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config file '%v': %v", configFile, err)
	}
	svr, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to spawn registry instance: %v", err)
	}
	common.RunDaemon(svr)
	return nil
}

// main.go - Relay keypair generator.
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
	"path/filepath"

	"github.com/katzenpost/hpqc/rand"
	"github.com/spf13/cobra"

	"github.com/onionrelay/onionrelay/common"
	"github.com/onionrelay/onionrelay/core/crypto/hybrid"
	"github.com/onionrelay/onionrelay/core/crypto/pem"
)

const (
	privateKeyFile = "relay.private.pem"
	publicKeyFile  = "relay.public.pem"
)

func newRootCommand() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "genkeypair",
		Short: "Generate a relay RSA keypair",
		Long: `Generates a relay keypair as PEM files named relay.private.pem and
relay.public.pem.  Point a relay's DataDir at the output directory to use it.`,
		Example: `  genkeypair --out-dir /var/lib/onionrelay/relay1`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return generate(outDir)
		},
	}
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", ".", "output directory")
	return cmd
}

func main() {
	common.ExecuteWithFang(newRootCommand())
}

func generate(outDir string) error {
	privOut := filepath.Join(outDir, privateKeyFile)
	pubOut := filepath.Join(outDir, publicKeyFile)
	if !pem.BothNotExists(privOut, pubOut) {
		return errors.New("refusing to overwrite an existing key file")
	}

	fmt.Printf("Writing keypair to %s and %s\n", pubOut, privOut)
	k, err := hybrid.GenerateKeypair(rand.Reader)
	if err != nil {
		return err
	}
	defer k.Reset()
	if err := pem.ToFile(privOut, k); err != nil {
		return err
	}
	return pem.ToFile(pubOut, k.PublicKey())
}

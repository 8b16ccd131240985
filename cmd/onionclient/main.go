// main.go - onionrelay client binary.
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
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/onionrelay/onionrelay/client"
	"github.com/onionrelay/onionrelay/client/config"
	"github.com/onionrelay/onionrelay/common"
)

func newRootCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "onionclient",
		Short: "onionrelay client",
		Long: `The client sends HTTP requests through a path of relays picked from the
registry listing.  Each relay only learns its neighbours on the path, and
only the last one sees the request.`,
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "f", "client.toml",
		"path to the client configuration file (TOML format)")

	cmd.AddCommand(newSendCommand(&configFile), newProxyCommand(&configFile))
	return cmd
}

func newSendCommand(configFile *string) *cobra.Command {
	var method, url, body string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a single HTTP request and print the response",
		Example: `  onionclient send -f client.toml --url http://example.com/
  onionclient send -f client.toml --method POST --url http://example.com/form --body 'a=b'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd.Context(), *configFile, method, url, body)
		},
	}
	cmd.Flags().StringVar(&method, "method", http.MethodGet, "HTTP method")
	cmd.Flags().StringVar(&url, "url", "", "destination URL")
	cmd.Flags().StringVar(&body, "body", "", "request body")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newProxyCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "proxy",
		Short: "Run a local HTTP proxy that sends every request through the relays",
		Example: `  onionclient proxy -f client.toml
  curl -x http://127.0.0.1:8080 http://example.com/`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProxy(*configFile)
		},
	}
}

func main() {
	common.ExecuteWithFang(newRootCommand())
}

func newSession(configFile string) (*client.Session, error) {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file '%v': %v", configFile, err)
	}
	return client.New(cfg)
}

func runSend(ctx context.Context, configFile, method, url, body string) error {
	s, err := newSession(configFile)
	if err != nil {
		return err
	}
	defer s.Close()

	req, err := http.NewRequest(strings.ToUpper(method), url, strings.NewReader(body))
	if err != nil {
		return err
	}
	raw, err := httputil.DumpRequestOut(req, true)
	if err != nil {
		return err
	}
	resp, err := s.SendWithRefresh(ctx, raw)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(resp)
	return err
}

type proxyDaemon struct {
	session  *client.Session
	proxy    *client.Proxy
	haltOnce sync.Once
	haltedCh chan struct{}
}

func (d *proxyDaemon) Shutdown() {
	d.haltOnce.Do(func() {
		d.proxy.Shutdown(context.Background())
		d.session.Close()
		close(d.haltedCh)
	})
}

func (d *proxyDaemon) RotateLog() {
	if err := d.session.LogBackend().Rotate(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to rotate log: %v\n", err)
	}
}

func (d *proxyDaemon) Wait() {
	<-d.haltedCh
}

func runProxy(configFile string) error {
	common.SetupRuntime()

	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config file '%v': %v", configFile, err)
	}
	s, err := client.New(cfg)
	if err != nil {
		return err
	}
	p, err := client.NewProxy(s, cfg.Client.ProxyAddress)
	if err != nil {
		s.Close()
		return err
	}
	d := &proxyDaemon{session: s, proxy: p, haltedCh: make(chan struct{})}
	p.Start(func(err error) {
		fmt.Fprintf(os.Stderr, "proxy failed: %v\n", err)
		go d.Shutdown()
	})
	common.RunDaemon(d)
	return nil
}

// cli.go - Shared command line helpers.
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

// Package common provides shared utilities for the onionrelay CLI tools.
package common

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"charm.land/lipgloss/v2"
	"github.com/carlmjohnson/versioninfo"
	"github.com/charmbracelet/colorprofile"
	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

// Daemon is a long running service controlled by signals.
type Daemon interface {
	Shutdown()
	RotateLog()
	Wait()
}

// ExecuteWithFang executes a cobra command using fang with the standard
// options shared by every onionrelay tool.
func ExecuteWithFang(cmd *cobra.Command) {
	if err := fang.Execute(
		context.Background(),
		cmd,
		fang.WithVersion(versioninfo.Short()),
		fang.WithErrorHandler(ErrorHandlerWithUsage(cmd)),
	); err != nil {
		os.Exit(1)
	}
}

// ErrorHandlerWithUsage returns an error handler that prints the error,
// followed by the usage help for command line errors, or a --help hint
// for everything else.
func ErrorHandlerWithUsage(cmd *cobra.Command) fang.ErrorHandler {
	return func(w io.Writer, styles fang.Styles, err error) {
		_, _ = fmt.Fprintln(w, styles.ErrorHeader.String())
		_, _ = fmt.Fprintln(w, styles.ErrorText.Render(err.Error()+"."))
		_, _ = fmt.Fprintln(w)

		if IsUsageError(err) {
			if helpFunc := cmd.HelpFunc(); helpFunc != nil {
				_ = colorprofile.NewWriter(w, nil)
				helpFunc(cmd, []string{})
			}
			return
		}
		_, _ = fmt.Fprintln(w, lipgloss.JoinHorizontal(
			lipgloss.Left,
			styles.ErrorText.UnsetWidth().Render("Try"),
			styles.Program.Flag.Render("--help"),
			styles.ErrorText.UnsetWidth().UnsetMargins().UnsetTransform().PaddingLeft(1).Render("for usage."),
		))
		_, _ = fmt.Fprintln(w)
	}
}

// IsUsageError returns true iff err is a command line or config file
// error that warrants printing the usage help.
func IsUsageError(err error) bool {
	s := err.Error()
	for _, prefix := range []string{
		"flag needs an argument:",
		"unknown flag:",
		"unknown shorthand flag:",
		"unknown command",
		"invalid argument",
		"required flag",
		"accepts",
		"arg(s), received",
		"failed to load config file",
		"config file must be specified",
	} {
		if strings.Contains(s, prefix) {
			return true
		}
	}
	return false
}

// SetupRuntime allows as many OS threads as there are CPUs, unless the
// user overrides GOMAXPROCS.
func SetupRuntime() {
	if os.Getenv("GOMAXPROCS") == "" {
		nProcs := runtime.GOMAXPROCS(0)
		nCPU := runtime.NumCPU()
		if nProcs < nCPU {
			runtime.GOMAXPROCS(nCPU)
		}
	}
}

// RunDaemon shuts d down on SIGINT or SIGTERM, rotates its log on SIGHUP,
// and returns once d has halted.
func RunDaemon(d Daemon) {
	haltCh := make(chan os.Signal, 1)
	signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)
	rotateCh := make(chan os.Signal, 1)
	signal.Notify(rotateCh, syscall.SIGHUP)
	defer signal.Stop(haltCh)
	defer signal.Stop(rotateCh)

	doneCh := make(chan struct{})
	defer close(doneCh)
	go func() {
		for {
			select {
			case <-haltCh:
				d.Shutdown()
			case <-rotateCh:
				d.RotateLog()
			case <-doneCh:
				return
			}
		}
	}()

	d.Wait()
	d.Shutdown()
}

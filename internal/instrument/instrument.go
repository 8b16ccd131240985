// instrument.go - Prometheus metrics.
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

// Package instrument exports the registry and relay metrics.
package instrument

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/op/go-logging.v1"
)

var (
	onionsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "onionrelay_onions_received_total",
			Help: "Number of onions received by the relay",
		},
	)
	onionsForwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "onionrelay_onions_forwarded_total",
			Help: "Number of onions forwarded to a next hop",
		},
	)
	onionsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "onionrelay_onions_delivered_total",
			Help: "Number of payloads delivered by the exit relay",
		},
	)
	hopErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onionrelay_hop_errors_total",
			Help: "Number of onions rejected, by failure kind",
		},
		[]string{"kind"},
	)
	forwardLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "onionrelay_forward_seconds",
			Help:    "Time spent waiting on the next hop",
			Buckets: prometheus.DefBuckets,
		},
	)
	registryNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "onionrelay_registry_nodes",
			Help: "Number of relays known to the registry",
		},
	)
	registryProbes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onionrelay_registry_probes_total",
			Help: "Number of key fetches made by the registry, by result",
		},
		[]string{"result"},
	)
	registryRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "onionrelay_registry_rate_limited_total",
			Help: "Number of registry requests refused by the rate limiter",
		},
	)

	initOnce sync.Once
)

// Init registers the metrics.  It may be called more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(onionsReceived)
		prometheus.MustRegister(onionsForwarded)
		prometheus.MustRegister(onionsDelivered)
		prometheus.MustRegister(hopErrors)
		prometheus.MustRegister(forwardLatency)
		prometheus.MustRegister(registryNodes)
		prometheus.MustRegister(registryProbes)
		prometheus.MustRegister(registryRateLimited)
	})
}

// Server serves the metrics endpoint.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Start registers the metrics and serves them on addr under /metrics.
func Start(addr string, log *logging.Logger) (*Server, error) {
	Init()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s := &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		ln:  ln,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics listener failed: %v", err)
		}
	}()
	log.Noticef("Serving metrics on: %v", ln.Addr())
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Stop shuts the metrics endpoint down.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.srv.Shutdown(ctx)
}

// OnionReceived increments the counter for received onions.
func OnionReceived() {
	onionsReceived.Inc()
}

// OnionForwarded increments the counter for forwarded onions, and observes
// how long the next hop took to answer.
func OnionForwarded(d time.Duration) {
	onionsForwarded.Inc()
	forwardLatency.Observe(d.Seconds())
}

// OnionDelivered increments the counter for delivered payloads.
func OnionDelivered() {
	onionsDelivered.Inc()
}

// HopError increments the counter for rejected onions.
func HopError(kind string) {
	hopErrors.With(prometheus.Labels{"kind": kind}).Inc()
}

// RegistryNodes sets the number of known relays.
func RegistryNodes(n int) {
	registryNodes.Set(float64(n))
}

// RegistryProbe increments the probe counter.
func RegistryProbe(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	registryProbes.With(prometheus.Labels{"result": result}).Inc()
}

// RegistryRateLimited increments the counter for refused requests.
func RegistryRateLimited() {
	registryRateLimited.Inc()
}

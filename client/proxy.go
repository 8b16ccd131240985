// proxy.go - Local HTTP proxy front-end.
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

package client

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httputil"

	"gopkg.in/op/go-logging.v1"

	"github.com/onionrelay/onionrelay/transport"
)

// hopHeaders are stripped from proxied requests and responses.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Proxy is a plain HTTP forward proxy that sends every request it receives
// through a Session.
type Proxy struct {
	session  *Session
	log      *logging.Logger
	listener *transport.Server
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		http.Error(w, "CONNECT is not supported", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Host == "" {
		http.Error(w, "not a proxy request", http.StatusBadRequest)
		return
	}

	for _, h := range hopHeaders {
		r.Header.Del(h)
	}
	r.RequestURI = ""
	r.Host = r.URL.Host
	raw, err := httputil.DumpRequestOut(r, true)
	if err != nil {
		p.log.Errorf("Failed to serialize request: %v", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	b, err := p.session.SendWithRefresh(r.Context(), raw)
	if err != nil {
		p.log.Errorf("Request to %v failed: %v", r.URL.Host, err)
		http.Error(w, "onion request failed", http.StatusBadGateway)
		return
	}
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), r)
	if err != nil {
		p.log.Errorf("Malformed response from %v: %v", r.URL.Host, err)
		http.Error(w, "malformed response", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for _, h := range hopHeaders {
		resp.Header.Del(h)
	}
	resp.Header.Del("Content-Length")
	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.log.Debugf("Failed to copy response body: %v", err)
	}
}

// Addr returns the address the proxy is listening on.
func (p *Proxy) Addr() string {
	return p.listener.Addr().String()
}

// Start starts serving, with onErr invoked if the listener fails.
func (p *Proxy) Start(onErr func(error)) {
	p.log.Noticef("Listening on: %v", p.Addr())
	p.listener.Start(onErr)
}

// Shutdown stops the proxy.  The session is not closed.
func (p *Proxy) Shutdown(ctx context.Context) {
	p.listener.Shutdown(ctx)
}

// NewProxy binds a proxy for s to addr.  Call Start to begin serving.
func NewProxy(s *Session, addr string) (*Proxy, error) {
	p := &Proxy{
		session: s,
		log:     s.logBackend.GetLogger("client/proxy"),
	}
	ln, err := transport.Listen(addr, p, false, s.logBackend.GetGoLogger("client/proxy/http", "DEBUG"))
	if err != nil {
		return nil, err
	}
	p.listener = ln
	return p, nil
}

// state.go - Registry node table.
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

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"gopkg.in/op/go-logging.v1"

	"github.com/onionrelay/onionrelay/core/crypto/hybrid"
	"github.com/onionrelay/onionrelay/core/pki"
	"github.com/onionrelay/onionrelay/core/retry"
	"github.com/onionrelay/onionrelay/core/wire"
	"github.com/onionrelay/onionrelay/core/worker"
	"github.com/onionrelay/onionrelay/internal/instrument"
)

const (
	dbFile      = "registry.db"
	nodesBucket = "nodes"
)

// ErrNodeUnreachable is the error returned when a candidate relay's key
// could not be fetched within the attempt budget.
var ErrNodeUnreachable = errors.New("registry: node unreachable")

// keyFetcher retrieves a relay's PEM public key from the relay itself.
type keyFetcher interface {
	FetchKey(ctx context.Context, addr pki.Address) ([]byte, error)
}

type state struct {
	sync.RWMutex
	worker.Worker

	log *logging.Logger
	db  *bolt.DB

	nodes map[pki.Address]*pki.Node

	fetcher       keyFetcher
	policy        retry.Policy
	fetchTimeout  time.Duration
	checkInterval time.Duration
}

// List returns a snapshot of the known relays, sorted by address.
func (s *state) List() []*pki.Node {
	s.RLock()
	nodes := make([]*pki.Node, 0, len(s.nodes))
	for _, v := range s.nodes {
		n := *v
		nodes = append(nodes, &n)
	}
	s.RUnlock()

	pki.SortNodes(nodes)
	return nodes
}

// fetchKey probes addr until it answers with a valid key, the attempt
// budget is spent, or the failure is one that a retry will not fix.
func (s *state) fetchKey(ctx context.Context, addr pki.Address) ([]byte, error) {
	var key []byte
	err := retry.Do(ctx, s.policy, func(ctx context.Context, attempt int) error {
		var err error
		key, err = s.probe(ctx, addr)
		if err != nil {
			s.log.Debugf("Key fetch %d/%d from %v failed: %v", attempt+1, s.policy.MaxAttempts, addr, err)
			if !isTransientFetchError(err) {
				return retry.Permanent(err)
			}
		}
		return err
	})
	return key, err
}

// isTransientFetchError returns true iff a failed key fetch is worth
// retrying.  Malformed keys and client error statuses are final.
func isTransientFetchError(err error) bool {
	if errors.Is(err, hybrid.ErrKeyFormat) {
		return false
	}
	if he, ok := wire.AsHopError(err); ok {
		return he.Status >= http.StatusInternalServerError
	}
	return retry.IsTransientError(err)
}

// Add fetches the candidate's key, retrying with backoff, and inserts or
// overwrites its entry.  Nothing is inserted if every attempt fails.
func (s *state) Add(ctx context.Context, addr pki.Address) (*pki.Node, error) {
	key, err := s.fetchKey(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %w", ErrNodeUnreachable, addr, err)
	}

	n := &pki.Node{Address: addr, PublicKey: key}
	s.Lock()
	s.nodes[addr] = n
	count := len(s.nodes)
	s.Unlock()
	instrument.RegistryNodes(count)

	if err = s.persist(n); err != nil {
		s.log.Errorf("Failed to persist node %v: %v", addr, err)
	}
	s.log.Noticef("Registered relay %v (key %v).", addr, fingerprint(key))
	return n, nil
}

// Remove deletes the entry whose address exactly matches addr.  It returns
// true iff an entry was removed.
func (s *state) Remove(addr pki.Address) bool {
	s.Lock()
	_, ok := s.nodes[addr]
	delete(s.nodes, addr)
	count := len(s.nodes)
	s.Unlock()

	if !ok {
		return false
	}
	instrument.RegistryNodes(count)
	if err := s.unpersist(addr); err != nil {
		s.log.Errorf("Failed to remove persisted node %v: %v", addr, err)
	}
	s.log.Noticef("Removed relay %v.", addr)
	return true
}

// Check probes the relay at addr with the same attempt budget as Add, and
// removes it once the budget is spent.  It returns true iff the relay
// answered with a valid key.
func (s *state) Check(ctx context.Context, addr pki.Address) bool {
	if _, err := s.fetchKey(ctx, addr); err != nil {
		s.log.Infof("Liveness check of %v failed: %v", addr, err)
		s.Remove(addr)
		return false
	}
	return true
}

// probe makes a single key fetch bounded by the fetch timeout.  No lock is
// held while it runs.
func (s *state) probe(ctx context.Context, addr pki.Address) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	key, err := s.fetcher.FetchKey(ctx, addr)
	if err == nil {
		_, err = hybrid.PublicKeyFromPEM(key)
	}
	instrument.RegistryProbe(err == nil)
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (s *state) sweep() {
	ctx, cancel := s.Context()
	defer cancel()

	nodes := s.List()
	if len(nodes) == 0 {
		return
	}
	s.log.Debugf("Checking liveness of %d relays.", len(nodes))
	for _, n := range nodes {
		select {
		case <-s.HaltCh():
			return
		default:
		}
		s.Check(ctx, n.Address)
	}
}

func (s *state) worker() {
	s.RLock()
	restored := len(s.nodes)
	s.RUnlock()
	if restored > 0 {
		s.sweep()
	}

	t := time.NewTicker(s.checkInterval)
	defer func() {
		t.Stop()
		s.log.Debugf("Halting sweep worker.")
	}()
	for {
		select {
		case <-s.HaltCh():
			return
		case <-t.C:
		}
		s.sweep()
	}
}

func (s *state) persist(n *pki.Node) error {
	if s.db == nil {
		return nil
	}
	blob, err := n.MarshalBinary()
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(nodesBucket)).Put([]byte(n.Address.String()), blob)
	})
}

func (s *state) unpersist(addr pki.Address) error {
	if s.db == nil {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(nodesBucket)).Delete([]byte(addr.String()))
	})
}

func (s *state) restorePersistence() error {
	const (
		metadataBucket = "metadata"
		versionKey     = "version"
	)

	return s.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		nodesBkt, err := tx.CreateBucketIfNotExists([]byte(nodesBucket))
		if err != nil {
			return err
		}

		if b := bkt.Get([]byte(versionKey)); b == nil {
			return bkt.Put([]byte(versionKey), []byte{0})
		} else if len(b) != 1 || b[0] != 0 {
			return fmt.Errorf("state: incompatible version: %d", uint(b[0]))
		}

		return nodesBkt.ForEach(func(k, v []byte) error {
			n := new(pki.Node)
			if err := n.UnmarshalBinary(v); err != nil {
				s.log.Errorf("Discarding persisted node '%s': %v", k, err)
				return nil
			}
			if err := n.Validate(); err != nil || n.Address.String() != string(k) {
				s.log.Errorf("Discarding persisted node '%s': invalid", k)
				return nil
			}
			s.nodes[n.Address] = n
			s.log.Debugf("Restored relay %v.", n.Address)
			return nil
		})
	})
}

// Halt stops the sweep worker and closes the persistence store.
func (s *state) Halt() {
	s.Worker.Halt()
	if s.db != nil {
		s.db.Sync()
		s.db.Close()
	}
}

func newState(log *logging.Logger, fetcher keyFetcher, dataDir string, policy retry.Policy, fetchTimeout, checkInterval time.Duration) (*state, error) {
	st := &state{
		log:           log,
		nodes:         make(map[pki.Address]*pki.Node),
		fetcher:       fetcher,
		policy:        policy,
		fetchTimeout:  fetchTimeout,
		checkInterval: checkInterval,
	}

	if dataDir != "" {
		var err error
		if st.db, err = bolt.Open(filepath.Join(dataDir, dbFile), 0600, &bolt.Options{Timeout: time.Second}); err != nil {
			return nil, err
		}
		if err = st.restorePersistence(); err != nil {
			st.db.Close()
			return nil, err
		}
		instrument.RegistryNodes(len(st.nodes))
	}

	if checkInterval > 0 {
		st.Go(st.worker)
	}
	return st, nil
}

func fingerprint(pemKey []byte) string {
	k, err := hybrid.PublicKeyFromPEM(pemKey)
	if err != nil {
		return "invalid"
	}
	return k.String()
}

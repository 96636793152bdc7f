/* -*- coding: utf-8 -*-
* ------------------------------------------------------------------------------
*
*   Copyright 2018-2021 Fetch.AI Limited
*
*   Licensed under the Apache License, Version 2.0 (the "License");
*   you may not use this file except in compliance with the License.
*   You may obtain a copy of the License at
*
*       http://www.apache.org/licenses/LICENSE-2.0
*
*   Unless required by applicable law or agreed to in writing, software
*   distributed under the License is distributed on an "AS IS" BASIS,
*   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
*   See the License for the specific language governing permissions and
*   limitations under the License.
*
* ------------------------------------------------------------------------------
 */

// Package registry maintains the in-memory address -> entry routing table
// a node engine consults to dispatch envelopes, plus the persistent
// on-disk record store full peers use to survive a restart.
package registry

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"os"
	"sync"

	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/pkg/errors"

	"github.com/fetchai/acn-node/acn"
)

// Origin distinguishes how a RoutingEntry came to be known.
type Origin int

const (
	Local Origin = iota
	Delegate
	RelayClient
)

// RoutingEntry maps a served agent address to the peer that serves it and
// the AgentRecord proving the relationship.
type RoutingEntry struct {
	Address string
	PeerID  peer.ID
	Record  *acn.AgentRecord
	Origin  Origin

	// DelegateConn is set only for Origin == Delegate: the open TCP
	// connection envelopes addressed here are written to.
	DelegateConn net.Conn

	// RelayStream is set only for Origin == RelayClient when a stream to
	// that client is currently open and worth reusing.
	RelayStream network.Stream
}

// Registry is the single-writer-guarded address -> RoutingEntry map. All
// mutations take the write lock for a strictly bounded critical section;
// reads take the read lock. This is the lock-based alternative the
// concurrency model allows in place of a dedicated actor goroutine.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*RoutingEntry

	announcedMu sync.RWMutex
	announced   map[string]bool

	storageMu   sync.Mutex
	storage     *os.File
	storagePath string
}

// New creates an empty registry. storagePath may be empty, in which case
// persistence is disabled (used by client peers, which never own an
// agent-record store).
func New(storagePath string) *Registry {
	return &Registry{
		entries:     make(map[string]*RoutingEntry),
		announced:   make(map[string]bool),
		storagePath: storagePath,
	}
}

// Put installs or replaces the entry for address.
func (r *Registry) Put(entry *RoutingEntry) {
	r.mu.Lock()
	r.entries[entry.Address] = entry
	r.mu.Unlock()
}

// Get returns the entry for address, if any.
func (r *Registry) Get(address string) (*RoutingEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[address]
	return e, ok
}

// Delete removes the entry for address.
func (r *Registry) Delete(address string) {
	r.mu.Lock()
	delete(r.entries, address)
	r.mu.Unlock()
}

// DeleteByConn evicts every delegate entry whose connection is conn,
// mirroring the teacher's behaviour on a broken delegate pipe.
func (r *Registry) DeleteByConn(conn net.Conn) []string {
	var evicted []string
	r.mu.Lock()
	for addr, e := range r.entries {
		if e.Origin == Delegate && e.DelegateConn == conn {
			delete(r.entries, addr)
			evicted = append(evicted, addr)
		}
	}
	r.mu.Unlock()
	return evicted
}

// DeleteByPeer evicts every relay-client entry served by peerID, used when
// a client peer's libp2p connection drops.
func (r *Registry) DeleteByPeer(peerID peer.ID) []string {
	var evicted []string
	r.mu.Lock()
	for addr, e := range r.entries {
		if e.Origin == RelayClient && e.PeerID == peerID {
			delete(r.entries, addr)
			evicted = append(evicted, addr)
		}
	}
	r.mu.Unlock()
	return evicted
}

// Addresses returns every locally-known served address, regardless of
// origin — used by the engine's Start to announce every known address.
func (r *Registry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addrs := make([]string, 0, len(r.entries))
	for addr := range r.entries {
		addrs = append(addrs, addr)
	}
	return addrs
}

// IsLocal reports whether address is served (in any origin) by this node.
func (r *Registry) IsLocal(address string) bool {
	_, ok := r.Get(address)
	return ok
}

// MarkAnnounced records that address has been Provide()d on the DHT, and
// reports whether this is the first time. The engine avoids redundant
// re-announcement across duplicate Register calls by checking IsAnnounced
// before it provides an address.
func (r *Registry) MarkAnnounced(address string) (firstTime bool) {
	r.announcedMu.Lock()
	defer r.announcedMu.Unlock()
	if r.announced[address] {
		return false
	}
	r.announced[address] = true
	return true
}

// IsAnnounced reports whether address has already been provided.
func (r *Registry) IsAnnounced(address string) bool {
	r.announcedMu.RLock()
	defer r.announcedMu.RUnlock()
	return r.announced[address]
}

// UnmarkAnnounced clears the announced flag, used when an address's
// serving connection is evicted so a future re-registration re-announces.
func (r *Registry) UnmarkAnnounced(address string) {
	r.announcedMu.Lock()
	delete(r.announced, address)
	r.announcedMu.Unlock()
}

// --- persistent storage ---

// OpenStorage opens (creating if necessary) the append-only record file
// and replays it into the registry, returning the number of records
// restored. Restored entries are marked as RelayClient origin with a nil
// connection/stream; the engine is responsible for re-registering the
// records or evicting stale ones once real connections are (re)established.
func (r *Registry) OpenStorage(peerIDFromPublicKey func(string) (peer.ID, error)) (int, error) {
	if r.storagePath == "" {
		return 0, nil
	}

	f, err := os.OpenFile(r.storagePath, os.O_APPEND|os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return 0, errors.Wrap(err, "opening persistent record storage")
	}
	r.storage = f

	reader := bufio.NewReader(f)
	count := 0
	for {
		lenBuf := make([]byte, 4)
		if _, err := io.ReadFull(reader, lenBuf); err != nil {
			if err == io.EOF {
				break
			}
			return count, errors.Wrap(err, "loading agent records")
		}
		size := binary.BigEndian.Uint32(lenBuf)
		line := make([]byte, size)
		if _, err := io.ReadFull(reader, line); err != nil {
			return count, errors.Wrap(err, "loading agent records")
		}

		msg, err := acn.UnmarshalMessage(line)
		if err != nil || msg.Register == nil || msg.Register.Record == nil {
			return count, errors.Wrap(err, "loading agent records")
		}
		record := msg.Register.Record

		relayPeerID, err := peerIDFromPublicKey(record.PeerPublicKey)
		if err != nil {
			return count, errors.Wrap(err, "loading agent records")
		}

		r.Put(&RoutingEntry{
			Address: record.Address,
			PeerID:  relayPeerID,
			Record:  record,
			Origin:  RelayClient,
		})
		count++
	}
	return count, nil
}

// Persist appends record to the on-disk store. A no-op if persistence is
// disabled (client peers, or OpenStorage not called).
func (r *Registry) Persist(record *acn.AgentRecord) error {
	if r.storage == nil {
		return nil
	}

	msg := &acn.Message{Version: acn.CurrentVersion, Register: &acn.Register{Record: record}}
	buf, err := acn.MarshalMessage(msg)
	if err != nil {
		return errors.Wrap(err, "formatting record for persistent storage")
	}

	sizeBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(sizeBuf, uint32(len(buf)))

	r.storageMu.Lock()
	defer r.storageMu.Unlock()
	if _, err := r.storage.Write(append(sizeBuf, buf...)); err != nil {
		return errors.Wrap(err, "writing record to persistent storage")
	}
	return nil
}

// Close releases the persistent storage file handle, if open.
func (r *Registry) Close() error {
	if r.storage == nil {
		return nil
	}
	return r.storage.Close()
}

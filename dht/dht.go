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

// Package dht wraps the Kademlia DHT operations a full peer's address
// registry needs: computing the content-ID a served address announces
// under, bootstrapping into the overlay, and finding providers for a
// remote address. It knows nothing about the ACN wire schema — the node
// engine drives the actual AeaAddressStream lookup against the peers this
// package returns.
package dht

import (
	"context"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	kaddht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/peerstore"
	"github.com/multiformats/go-multihash"
	"github.com/pkg/errors"
)

// ProviderTTL is the lifetime of a Provide record on the network and
// ReannounceInterval a re-announcement period below it. Nothing in this
// module schedules re-announcement: Announce provides an address once per
// call, and the node engine calls it once per newly registered address.
const (
	ProviderTTL         = 24 * time.Hour
	ReannounceInterval  = 6 * time.Hour
	bootstrapRTSettle   = 5 * time.Second
	findProvidersPoll   = 200 * time.Millisecond
)

// ComputeCID derives the IPFS CID v0 key an agent address announces and
// resolves under: sha256(address), raw codec, as spec.md §4.4/§6 require.
func ComputeCID(address string) (cid.Cid, error) {
	pref := cid.Prefix{
		Version:  0,
		Codec:    cid.Raw,
		MhType:   multihash.SHA2_256,
		MhLength: -1,
	}
	return pref.Sum([]byte(address))
}

// Announce provides address's CID on the DHT so other full peers can
// discover the peer serving it via FindProviders.
func Announce(ctx context.Context, d *kaddht.IpfsDHT, address string) error {
	c, err := ComputeCID(address)
	if err != nil {
		return errors.Wrap(err, "computing address cid")
	}
	return d.Provide(ctx, c, true)
}

// BootstrapConnect dials every configured bootstrap peer concurrently and
// fails at this stage only if every dial fails. It then blocks until each
// configured peer has landed in the DHT routing table, waiting up to
// bootstrapRTSettle per peer and returning an error if one does not (a peer
// whose dial failed included) — the workaround for the routing-table race
// the teacher's utils.BootstrapConnect also guards against.
func BootstrapConnect(ctx context.Context, h host.Host, d *kaddht.IpfsDHT, peers []peer.AddrInfo) error {
	if len(peers) < 1 {
		return errors.New("not enough bootstrap peers")
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(peers))
	for _, p := range peers {
		wg.Add(1)
		go func(p peer.AddrInfo) {
			defer wg.Done()
			h.Peerstore().AddAddrs(p.ID, p.Addrs, peerstore.PermanentAddrTTL)
			if err := h.Connect(ctx, p); err != nil {
				errs <- err
				return
			}
			errs <- nil
		}(p)
	}
	wg.Wait()
	close(errs)

	failed := 0
	var lastErr error
	for err := range errs {
		if err != nil {
			failed++
			lastErr = err
		}
	}
	if failed == len(peers) {
		return errors.Wrap(lastErr, "failed to bootstrap with any peer")
	}

	for _, p := range peers {
		rtCtx, cancel := context.WithTimeout(ctx, bootstrapRTSettle)
		for d.RoutingTable().Find(p.ID) == "" {
			select {
			case <-rtCtx.Done():
				cancel()
				return errors.New("timeout waiting for bootstrap peer in routing table: " + p.ID.Pretty())
			case <-time.After(5 * time.Millisecond):
			}
		}
		cancel()
	}
	return nil
}

// FindProviders returns, in discovery order, the peers currently
// advertising address's CID. The caller is responsible for trying each in
// turn (§4.4 step 2) and stopping at the first one whose AgentRecord
// checks out.
func FindProviders(ctx context.Context, d *kaddht.IpfsDHT, address string, count int) (<-chan peer.AddrInfo, error) {
	c, err := ComputeCID(address)
	if err != nil {
		return nil, errors.Wrap(err, "computing address cid")
	}
	return d.FindProvidersAsync(ctx, c, count), nil
}

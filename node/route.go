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

package node

import (
	"context"

	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/peerstore"
	"github.com/libp2p/go-libp2p-core/protocol"
	"github.com/pkg/errors"

	"github.com/fetchai/acn-node/acn"
	"github.com/fetchai/acn-node/dht"
	"github.com/fetchai/acn-node/envelope"
	"github.com/fetchai/acn-node/identity"
	"github.com/fetchai/acn-node/monitoring"
	"github.com/fetchai/acn-node/registry"
	"github.com/fetchai/acn-node/wire"
)

const lookupProviderCount = 20

// OnEnvelope installs the callback invoked for envelopes addressed to a
// locally served agent (origin registry.Local). Only one callback may be
// installed; a later call replaces the earlier one.
func (e *Engine) OnEnvelope(fn func(env *envelope.Envelope) error) {
	e.onEnvelope = fn
}

// RouteEnvelope implements route_envelope (§4.5.2): it validates the
// sender is locally served, then dispatches to the destination, returning
// the terminal Status the destination (or this node, for a local delivery)
// produced.
func (e *Engine) RouteEnvelope(ctx context.Context, env *envelope.Envelope) (*acn.Status, error) {
	if c, ok := e.monitor.GetCounter(monitoring.MetricOpRouteCountAll); ok {
		c.Inc()
	}
	start := e.monitor.Timer().NewTimer()
	defer func() {
		if h, ok := e.monitor.GetHistogram(monitoring.MetricOpLatencyRoute); ok {
			h.Observe(float64(e.monitor.Timer().GetTimer(start).Microseconds()))
		}
	}()

	if !e.registry.IsLocal(env.Sender) {
		return nil, &acn.ACNError{ErrorCode: acn.ERROR_WRONG_AGENT_ADDRESS, Err: errors.New("sender is not served by this node")}
	}

	status, err := e.dispatch(ctx, env, true)
	if err == nil && status != nil && status.Code == acn.SUCCESS {
		if c, ok := e.monitor.GetCounter(monitoring.MetricOpRouteCountSuccess); ok {
			c.Inc()
		}
	}
	return status, err
}

// dispatch delivers env to env.To, whether that is a local/delegate/relay
// registration this node already knows about, or a remote peer reached by
// resolve + dial (§4.4, §4.5.2 step 3-4). allowRemoteResolve gates the
// unknown-address case: spec.md §4.5.1 step 4 restricts an inbound
// envelope stream's fallthrough to DHT/relay resolution to full peers
// only, while §4.5.2's own outbound route_envelope has no such
// restriction (a client peer may always resolve through its relay peer
// when routing its own agent's outbound envelopes).
func (e *Engine) dispatch(ctx context.Context, env *envelope.Envelope, allowRemoteResolve bool) (*acn.Status, error) {
	if entry, ok := e.registry.Get(env.To); ok {
		return e.dispatchToEntry(ctx, env, entry)
	}

	if !allowRemoteResolve && !e.cfg.IsFullPeer() {
		return &acn.Status{Code: acn.ERROR_UNKNOWN_AGENT_ADDRESS, Msgs: []string{"address not known to this client peer"}}, nil
	}

	record, relayHint, err := e.resolve(ctx, env.To)
	if err != nil {
		return &acn.Status{Code: acn.ERROR_UNKNOWN_AGENT_ADDRESS, Msgs: []string{err.Error()}}, nil
	}

	peerID, err := identity.PeerIDFromPeerPublicKey(record.PeerPublicKey)
	if err != nil {
		return &acn.Status{Code: acn.ERROR_DECODE, Msgs: []string{err.Error()}}, nil
	}

	return e.dialAndSend(ctx, peerID, relayHint, env)
}

// dispatchToEntry implements the destination-origin switch shared by
// inbound AeaEnvelopeStream handling (§4.5.1 step 4) and outbound
// route_envelope (§4.5.2 step 2) whenever the destination is already a
// registry entry this node owns.
func (e *Engine) dispatchToEntry(ctx context.Context, env *envelope.Envelope, entry *registry.RoutingEntry) (*acn.Status, error) {
	switch entry.Origin {
	case registry.Local:
		if e.onEnvelope == nil {
			return &acn.Status{Code: acn.ERROR_AGENT_NOT_READY, Msgs: []string{"no local handler installed"}}, nil
		}
		if e.cfg.AgentReady != nil && !e.cfg.AgentReady() {
			return &acn.Status{Code: acn.ERROR_AGENT_NOT_READY}, nil
		}
		if err := e.onEnvelope(env); err != nil {
			return &acn.Status{Code: acn.ERROR_GENERIC, Msgs: []string{err.Error()}}, nil
		}
		return &acn.Status{Code: acn.SUCCESS}, nil

	case registry.Delegate:
		if err := wire.WriteFrameConn(entry.DelegateConn, envelope.Marshal(env)); err != nil {
			e.registry.DeleteByConn(entry.DelegateConn)
			return &acn.Status{Code: acn.ERROR_AGENT_NOT_READY, Msgs: []string{err.Error()}}, nil
		}
		return &acn.Status{Code: acn.SUCCESS}, nil

	case registry.RelayClient:
		return e.dialAndSend(ctx, entry.PeerID, "", env)

	default:
		return &acn.Status{Code: acn.ERROR_GENERIC, Msgs: []string{"unknown registry origin"}}, nil
	}
}

// resolve implements §4.4's resolve(address). It returns the resolved
// record and, when the resolution crossed a relay (DHT provider or this
// node's own relay peer), that relay's peer ID, so dialAndSend knows which
// circuit-relay address to fall back to if a direct stream fails.
func (e *Engine) resolve(ctx context.Context, address string) (*acn.AgentRecord, peer.ID, error) {
	if entry, ok := e.registry.Get(address); ok {
		return entry.Record, "", nil
	}
	if !e.cfg.IsFullPeer() {
		return e.lookupViaRelay(ctx, address)
	}
	return e.lookupViaDHT(ctx, address)
}

// lookupViaRelay asks this client peer's single relay peer to resolve
// address on its behalf (§4.4: "Client peers do not query the DHT
// themselves").
func (e *Engine) lookupViaRelay(ctx context.Context, address string) (*acn.AgentRecord, peer.ID, error) {
	s, err := e.host.NewStream(ctx, e.relayPeer.ID, protocol.ID(ProtocolAddress))
	if err != nil {
		return nil, "", errors.Wrap(err, "opening address stream to relay peer")
	}
	defer s.Close()

	record, err := acn.PerformLookup(wire.StreamPipe{Stream: s}, address)
	if err != nil {
		return nil, "", err
	}
	return record, e.relayPeer.ID, nil
}

// lookupViaDHT implements §4.4's DHT resolution path: FindProviders, then
// try each provider's AeaAddressStream in discovery order until one
// answers with a record that both names address and passes PoR.
func (e *Engine) lookupViaDHT(ctx context.Context, address string) (*acn.AgentRecord, peer.ID, error) {
	start := e.monitor.Timer().NewTimer()
	defer func() {
		if h, ok := e.monitor.GetHistogram(monitoring.MetricDHTOpLatencyLookup); ok {
			h.Observe(float64(e.monitor.Timer().GetTimer(start).Microseconds()))
		}
	}()

	lookupCtx, cancel := context.WithTimeout(ctx, DefaultAddressLookupTimeout)
	defer cancel()

	providers, err := dht.FindProviders(lookupCtx, e.dht, address, lookupProviderCount)
	if err != nil {
		return nil, "", err
	}

	var lastErr error
	for p := range providers {
		record, err := e.lookupFromProvider(lookupCtx, p, address)
		if err != nil {
			lastErr = err
			continue
		}
		return record, p.ID, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no dht providers found")
	}
	return nil, "", errors.Wrap(lastErr, "resolving "+address+" via dht")
}

func (e *Engine) lookupFromProvider(ctx context.Context, p peer.AddrInfo, address string) (*acn.AgentRecord, error) {
	e.host.Peerstore().AddAddrs(p.ID, p.Addrs, peerstore.TempAddrTTL)
	if err := e.host.Connect(ctx, p); err != nil {
		return nil, err
	}
	s, err := e.host.NewStream(ctx, p.ID, protocol.ID(ProtocolAddress))
	if err != nil {
		return nil, err
	}
	defer s.Close()

	record, err := acn.PerformLookup(wire.StreamPipe{Stream: s}, address)
	if err != nil {
		return nil, err
	}
	if record.Address != address {
		return nil, errors.New("provider answered with mismatched address")
	}
	if code, err := acn.VerifyProofOfRepresentation(record, address, ""); err != nil {
		return nil, errors.Wrapf(err, "invalid proof of representation (%s)", code)
	}
	return record, nil
}

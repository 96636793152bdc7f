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
	"time"

	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/protocol"
	"github.com/multiformats/go-multiaddr"
	"github.com/pkg/errors"

	"github.com/fetchai/acn-node/acn"
	"github.com/fetchai/acn-node/monitoring"
	"github.com/fetchai/acn-node/wire"
)

const (
	reconnectBackoffStart = 1 * time.Second
	reconnectBackoffMax   = 30 * time.Second
)

// registerWithRelay implements a client peer's side of §4.5.4: it sends
// its own AgentRecord to its relay peer over AeaRegisterRelayStream and
// waits for SUCCESS.
func (e *Engine) registerWithRelay(ctx context.Context) error {
	if e.cfg.AgentRecord == nil {
		return nil
	}
	s, err := e.host.NewStream(ctx, e.relayPeer.ID, protocol.ID(ProtocolRegisterRelay))
	if err != nil {
		return errors.Wrap(err, "opening register_relay stream")
	}
	defer s.Close()

	start := e.monitor.Timer().NewTimer()
	defer func() {
		if h, ok := e.monitor.GetHistogram(monitoring.MetricOpLatencyRegister); ok {
			h.Observe(float64(e.monitor.Timer().GetTimer(start).Microseconds()))
		}
	}()

	return acn.SendRegisterAndAwaitStatus(wire.StreamPipe{Stream: s}, e.cfg.AgentRecord)
}

// startNotifWorkaround sends a bare notification probe to every bootstrap
// peer once this node's own DHT bootstrap has completed. It exists solely
// to settle the bootstrap-peer routing-table race described in
// SPEC_FULL.md §4.3. Each probe runs in its own goroutine and nothing waits
// for it; failures are ignored, since no correctness property depends on
// it succeeding.
func (e *Engine) startNotifWorkaround(ctx context.Context) {
	for _, p := range e.cfg.BootstrapPeers {
		peerID := p.ID
		go func() {
			notifCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			s, err := e.host.NewStream(notifCtx, peerID, protocol.ID(ProtocolNotif))
			if err != nil {
				return
			}
			defer s.Close()
			_, _ = acn.ReadMessage(wire.StreamPipe{Stream: s})
		}()
	}
}

// reconnectNotifee is a client peer's Notifee: on disconnect from its
// relay peer it retries indefinitely with a capped exponential backoff,
// interrupted only by the engine's closing channel, mirroring the
// teacher's dhtclient.go Notifee.Disconnected.
type reconnectNotifee struct {
	engine *Engine
}

func newReconnectNotifee(e *Engine) *reconnectNotifee {
	return &reconnectNotifee{engine: e}
}

func (n *reconnectNotifee) Listen(network.Network, multiaddr.Multiaddr)      {}
func (n *reconnectNotifee) ListenClose(network.Network, multiaddr.Multiaddr) {}
func (n *reconnectNotifee) Connected(network.Network, network.Conn)         {}
func (n *reconnectNotifee) OpenedStream(network.Network, network.Stream)    {}
func (n *reconnectNotifee) ClosedStream(network.Network, network.Stream)    {}

// relayClientEvictNotifee is a full peer's Notifee: when a relay-client
// peer's libp2p connection drops, its routing entries are evicted and its
// DHT announcement is allowed to lapse, so that the next resolve on another
// node does not keep finding a stale provider (§3's RoutingEntry lifecycle,
// §8's boundary behavior on relay-client disconnect).
type relayClientEvictNotifee struct {
	engine *Engine
}

func newRelayClientEvictNotifee(e *Engine) *relayClientEvictNotifee {
	return &relayClientEvictNotifee{engine: e}
}

func (n *relayClientEvictNotifee) Listen(network.Network, multiaddr.Multiaddr)      {}
func (n *relayClientEvictNotifee) ListenClose(network.Network, multiaddr.Multiaddr) {}
func (n *relayClientEvictNotifee) Connected(network.Network, network.Conn)         {}
func (n *relayClientEvictNotifee) OpenedStream(network.Network, network.Stream)    {}
func (n *relayClientEvictNotifee) ClosedStream(network.Network, network.Stream)    {}

func (n *relayClientEvictNotifee) Disconnected(_ network.Network, conn network.Conn) {
	evicted := n.engine.registry.DeleteByPeer(conn.RemotePeer())
	if len(evicted) == 0 {
		return
	}
	if g, ok := n.engine.monitor.GetGauge(monitoring.MetricServiceRelayClientsCount); ok {
		for range evicted {
			g.Dec()
		}
	}
	for _, addr := range evicted {
		n.engine.registry.UnmarkAnnounced(addr)
		n.engine.logger.Info().Str("address", addr).Msg("evicted relay-client registration on disconnect")
	}
}

func (n *reconnectNotifee) Disconnected(_ network.Network, conn network.Conn) {
	if conn.RemotePeer() != n.engine.relayPeer.ID {
		return
	}

	backoff := reconnectBackoffStart
	for {
		select {
		case <-n.engine.closing:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), backoff)
		err := n.engine.host.Connect(ctx, n.engine.relayPeer)
		if err == nil {
			err = n.engine.registerWithRelay(ctx)
		}
		cancel()
		if err == nil {
			n.engine.logger.Info().Msg("reconnected and re-registered with relay peer")
			return
		}

		select {
		case <-time.After(backoff):
		case <-n.engine.closing:
			return
		}
		backoff *= 2
		if backoff > reconnectBackoffMax {
			backoff = reconnectBackoffMax
		}
	}
}

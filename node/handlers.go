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

	"github.com/libp2p/go-libp2p-core/network"

	"github.com/fetchai/acn-node/acn"
	"github.com/fetchai/acn-node/envelope"
	"github.com/fetchai/acn-node/identity"
	"github.com/fetchai/acn-node/monitoring"
	"github.com/fetchai/acn-node/registry"
	"github.com/fetchai/acn-node/wire"
)

// handleEnvelopeStream implements 4.5.1: one framed AeaEnvelope in, one
// Status out, then the stream is closed. Every inbound envelope stream gets
// its own stream (§5 per-stream ordering guarantee) so this handler never
// needs to loop.
func (e *Engine) handleEnvelopeStream(s network.Stream) {
	defer s.Close()
	pipe := wire.StreamPipe{Stream: s}

	aeaEnv, err := acn.ReadEnvelopeMessage(pipe)
	if err != nil {
		return
	}

	env, err := envelope.Unmarshal(aeaEnv.Envelope)
	if err != nil {
		_ = acn.SendStatus(pipe, acn.ERROR_DECODE, err.Error())
		return
	}

	if aeaEnv.Record != nil {
		senderPubKey, err := identity.PublicKeyHex(s.Conn().RemotePublicKey())
		if err != nil {
			_ = acn.SendStatus(pipe, acn.ERROR_DECODE, err.Error())
			return
		}
		if code, err := acn.VerifyProofOfRepresentation(aeaEnv.Record, env.Sender, senderPubKey); err != nil {
			_ = acn.SendStatus(pipe, code, err.Error())
			return
		}
	}

	status, routeErr := e.dispatch(context.Background(), env, false)
	if routeErr != nil {
		if acnErr, ok := routeErr.(*acn.ACNError); ok {
			_ = acn.SendStatus(pipe, acnErr.ErrorCode, acnErr.Error())
			return
		}
		_ = acn.SendStatus(pipe, acn.ERROR_GENERIC, routeErr.Error())
		return
	}
	_ = acn.SendStatus(pipe, status.Code, status.Msgs...)
}

// handleAddressStream implements 4.5.3.
func (e *Engine) handleAddressStream(s network.Stream) {
	defer s.Close()
	pipe := wire.StreamPipe{Stream: s}

	address, err := acn.ReadLookupRequest(pipe)
	if err != nil {
		return
	}

	if entry, ok := e.registry.Get(address); ok {
		_ = acn.SendLookupResponse(pipe, entry.Record)
		return
	}

	if !e.cfg.IsFullPeer() {
		_ = acn.SendStatus(pipe, acn.ERROR_UNKNOWN_AGENT_ADDRESS, "address not known to this client peer")
		return
	}

	record, _, err := e.lookupViaDHT(context.Background(), address)
	if err != nil {
		_ = acn.SendStatus(pipe, acn.ERROR_UNKNOWN_AGENT_ADDRESS, err.Error())
		return
	}
	_ = acn.SendLookupResponse(pipe, record)
}

// handleRegisterStream implements 4.5.4: relay-client registration over a
// direct libp2p stream (as opposed to the delegate TCP path in 4.5.5).
func (e *Engine) handleRegisterStream(s network.Stream) {
	defer s.Close()
	pipe := wire.StreamPipe{Stream: s}

	register, err := acn.ReadRegister(pipe)
	if err != nil {
		return
	}
	record := register.Record

	clientPubKey, err := identity.PublicKeyHex(s.Conn().RemotePublicKey())
	if err != nil {
		_ = acn.SendStatus(pipe, acn.ERROR_WRONG_PUBLIC_KEY, err.Error())
		return
	}

	if code, err := acn.VerifyProofOfRepresentation(record, "", clientPubKey); err != nil {
		_ = acn.SendStatus(pipe, code, err.Error())
		return
	}

	e.registry.Put(&registry.RoutingEntry{
		Address: record.Address,
		PeerID:  s.Conn().RemotePeer(),
		Record:  record,
		Origin:  registry.RelayClient,
	})
	if err := e.registry.Persist(record); err != nil {
		e.logger.Warn().Err(err).Msg("failed to persist relay-client record")
	}
	if err := e.announceAddress(context.Background(), record.Address); err != nil {
		e.logger.Warn().Err(err).Msg("failed to announce relay-client address")
	}
	if g, ok := e.monitor.GetGauge(monitoring.MetricServiceRelayClientsCount); ok {
		g.Inc()
	}

	_ = acn.SendSuccess(pipe)
}

// handleNotifStream is the restored bootstrap-race workaround
// (SPEC_FULL.md §4.3): it exists purely so a freshly bootstrapped peer can
// ping its bootstrap peers once its routing table has settled. Address
// announcements do not wait for this exchange. It carries no payload of
// its own beyond a bare status exchange.
func (e *Engine) handleNotifStream(s network.Stream) {
	defer s.Close()
	pipe := wire.StreamPipe{Stream: s}
	_ = acn.SendSuccess(pipe)
}


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
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/fetchai/acn-node/acn"
	"github.com/fetchai/acn-node/envelope"
	"github.com/fetchai/acn-node/monitoring"
	"github.com/fetchai/acn-node/registry"
	"github.com/fetchai/acn-node/wire"
)

// runDelegateService accepts connections on the delegate listener until it
// is closed by Stop. Unlike the teacher, this binds a plain TCP socket with
// no TLS: spec.md §6 names the delegate transport as "a plain TCP socket",
// and the teacher's X.509/session-key machinery has no counterpart in
// SPEC_FULL.md's scope.
func (e *Engine) runDelegateService() {
	defer e.wg.Done()
	for {
		conn, err := e.delegateListener.Accept()
		if err != nil {
			return
		}
		e.addDelegateConn(conn)
		e.wg.Add(1)
		go e.handleDelegateConnection(conn)
	}
}

// handleDelegateConnection implements §4.5.5: the first framed message
// must be Register; every later frame is envelope bytes verbatim (no ACN
// wrapper). A second Register on the same connection is never accepted,
// matching the decision recorded in DESIGN.md's Open Questions.
func (e *Engine) handleDelegateConnection(conn net.Conn) {
	defer e.wg.Done()
	defer conn.Close()
	defer e.removeDelegateConn(conn)

	sessionID := strings.ReplaceAll(uuid.NewString(), "-", "")
	log := e.logger.With().Str("delegate_session", sessionID).Logger()

	pipe := wire.ConnPipe{Conn: conn}

	register, err := acn.ReadRegister(pipe)
	if err != nil {
		return
	}
	record := register.Record
	log = log.With().Str("address", record.Address).Logger()

	if code, err := acn.VerifyProofOfRepresentation(record, "", ""); err != nil {
		_ = acn.SendStatus(pipe, code, err.Error())
		return
	}
	if err := acn.SendSuccess(pipe); err != nil {
		return
	}

	entry := &registry.RoutingEntry{
		Address:      record.Address,
		Record:       record,
		Origin:       registry.Delegate,
		DelegateConn: conn,
	}
	e.registry.Put(entry)
	defer e.registry.DeleteByConn(conn)

	if err := e.registry.Persist(record); err != nil {
		log.Warn().Err(err).Msg("failed to persist delegate record")
	}
	if err := e.announceAddress(context.Background(), record.Address); err != nil {
		log.Warn().Err(err).Msg("failed to announce delegate address")
	}
	if g, ok := e.monitor.GetGauge(monitoring.MetricServiceDelegateClientsCount); ok {
		g.Inc()
		defer g.Dec()
	}
	log.Info().Msg("delegate client registered")

	for {
		buf, err := pipe.Read()
		if err != nil {
			return
		}
		env, err := envelope.Unmarshal(buf)
		if err != nil {
			log.Warn().Err(err).Msg("malformed delegate envelope")
			continue
		}
		if env.Sender != record.Address {
			log.Warn().Str("want", record.Address).Str("got", env.Sender).Msg("delegate envelope sender mismatch")
			continue
		}

		go func(env *envelope.Envelope) {
			_, _ = e.RouteEnvelope(context.Background(), env)
		}(env)
	}
}

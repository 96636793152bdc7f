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

// Package node implements the ACN node engine (spec.md's C5): a full peer
// or client peer that accepts inbound streams, registers delegate and
// relay clients, routes envelopes by agent address, and bootstraps into
// the libp2p DHT overlay.
package node

import (
	"time"

	"github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/pkg/errors"

	"github.com/fetchai/acn-node/acn"
)

// Protocol IDs bind every wire-compatible node to the same schema version,
// per spec.md §6.
const (
	ProtocolEnvelope      = "/aea/envelope/1.0.0"
	ProtocolAddress       = "/aea/address/1.0.0"
	ProtocolRegisterRelay = "/aea/register_relay/1.0.0"
	// ProtocolNotif is not part of spec.md's wire surface; it is the
	// bootstrap-race workaround restored from the teacher in
	// SPEC_FULL.md §4.3.
	ProtocolNotif = "/aea/notif/1.0.0"
)

// Defaults mirror the timeouts and intervals spec.md §4.5.2/§4.5.6 name.
const (
	DefaultRouteTimeout          = 60 * time.Second
	DefaultNewStreamTimeout      = 60 * time.Second
	DefaultNewStreamRelayTimeout = 300 * time.Second
	DefaultBootstrapTimeout      = 60 * time.Second
	DefaultAddressLookupTimeout  = 20 * time.Second
	DefaultRegisterTimeout       = 5 * time.Second
	DefaultDrainTimeout          = 10 * time.Second
)

// Config is the enumerated, explicit configuration surface a node is built
// from; there is no kwargs-style catch-all, per SPEC_FULL.md §2.
type Config struct {
	Key       crypto.PrivKey
	PublicKey crypto.PubKey

	// AgentAddress/AgentRecord describe the (optional) embedded agent this
	// node serves directly, origin "local" in the registry.
	AgentAddress string
	AgentRecord  *acn.AgentRecord
	AgentReady   func() bool

	BootstrapPeers []peer.AddrInfo

	// LocalURI/PublicURI select full-peer mode when set; a node with
	// neither is a client peer tethered to one of BootstrapPeers.
	LocalURI  string
	PublicURI string

	// DelegateURI, if set, binds the optional delegate TCP gateway.
	DelegateURI string

	// MetricsPort selects PrometheusMonitoring; 0 selects FileMonitoring.
	MetricsPort uint16

	// StoragePath is the full peer's persistent agent-record store; empty
	// disables persistence (always the case for client peers).
	StoragePath string

	RouteTimeout          time.Duration
	NewStreamTimeout      time.Duration
	NewStreamRelayTimeout time.Duration
	BootstrapTimeout      time.Duration
}

// Option mutates a Config being built by New.
type Option func(*Config) error

func IdentityFromKeyPair(priv crypto.PrivKey, pub crypto.PubKey) Option {
	return func(c *Config) error {
		c.Key = priv
		c.PublicKey = pub
		return nil
	}
}

func WithAgentRecord(address string, record *acn.AgentRecord, ready func() bool) Option {
	return func(c *Config) error {
		c.AgentAddress = address
		c.AgentRecord = record
		c.AgentReady = ready
		return nil
	}
}

func BootstrapFrom(peers []peer.AddrInfo) Option {
	return func(c *Config) error {
		c.BootstrapPeers = peers
		return nil
	}
}

func LocalURI(uri string) Option {
	return func(c *Config) error { c.LocalURI = uri; return nil }
}

func PublicURI(uri string) Option {
	return func(c *Config) error { c.PublicURI = uri; return nil }
}

func DelegateURI(uri string) Option {
	return func(c *Config) error { c.DelegateURI = uri; return nil }
}

func MetricsPort(port uint16) Option {
	return func(c *Config) error { c.MetricsPort = port; return nil }
}

func PersistentStoragePath(path string) Option {
	return func(c *Config) error { c.StoragePath = path; return nil }
}

func newConfig(opts ...Option) (*Config, error) {
	c := &Config{
		RouteTimeout:          DefaultRouteTimeout,
		NewStreamTimeout:      DefaultNewStreamTimeout,
		NewStreamRelayTimeout: DefaultNewStreamRelayTimeout,
		BootstrapTimeout:      DefaultBootstrapTimeout,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.Key == nil {
		return nil, errors.New("private key must be provided")
	}
	if len(c.BootstrapPeers) < 1 {
		return nil, errors.New("at least one bootstrap peer must be provided")
	}
	if c.AgentAddress != "" && c.AgentRecord == nil {
		return nil, errors.New("agent record must be provided alongside an agent address")
	}
	return c, nil
}

// IsFullPeer reports whether this configuration selects full-peer mode:
// a listen address was supplied, per spec.md §6's implicit mode selection.
func (c *Config) IsFullPeer() bool {
	return c.LocalURI != "" || c.PublicURI != ""
}

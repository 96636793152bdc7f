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
	"testing"

	"github.com/libp2p/go-libp2p-core/peer"

	"github.com/fetchai/acn-node/acn"
	"github.com/fetchai/acn-node/identity"
)

const testPrivateKeyHex = "6d8d2b87d987641e2ca3f1991c1cccf08a118759e81fabdbf7e8484f27af015e"

func testBootstrapPeers(t *testing.T) []peer.AddrInfo {
	t.Helper()
	_, pub, err := identity.KeyPairFromHex(testPrivateKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return []peer.AddrInfo{{ID: id}}
}

func TestNewConfigRequiresPrivateKey(t *testing.T) {
	_, err := newConfig(BootstrapFrom(testBootstrapPeers(t)))
	if err == nil {
		t.Fatal("expected an error when no private key is configured")
	}
}

func TestNewConfigRequiresBootstrapPeer(t *testing.T) {
	priv, pub, err := identity.KeyPairFromHex(testPrivateKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	_, err = newConfig(IdentityFromKeyPair(priv, pub))
	if err == nil {
		t.Fatal("expected an error when no bootstrap peer is configured")
	}
}

func TestNewConfigRequiresAgentRecordAlongsideAddress(t *testing.T) {
	priv, pub, err := identity.KeyPairFromHex(testPrivateKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	_, err = newConfig(
		IdentityFromKeyPair(priv, pub),
		BootstrapFrom(testBootstrapPeers(t)),
		WithAgentRecord("fetch1someaddress", nil, nil),
	)
	if err == nil {
		t.Fatal("expected an error when an agent address is set without a record")
	}
}

func TestNewConfigDefaultsAndModeSelection(t *testing.T) {
	priv, pub, err := identity.KeyPairFromHex(testPrivateKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := newConfig(IdentityFromKeyPair(priv, pub), BootstrapFrom(testBootstrapPeers(t)))
	if err != nil {
		t.Fatal("unexpected error building a minimal valid config", err)
	}
	if cfg.IsFullPeer() {
		t.Fatal("a config with neither LocalURI nor PublicURI should be a client peer")
	}
	if cfg.RouteTimeout != DefaultRouteTimeout {
		t.Fatalf("expected default route timeout, got %v", cfg.RouteTimeout)
	}
}

func TestNewConfigFullPeerModeSelection(t *testing.T) {
	priv, pub, err := identity.KeyPairFromHex(testPrivateKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := newConfig(
		IdentityFromKeyPair(priv, pub),
		BootstrapFrom(testBootstrapPeers(t)),
		LocalURI("127.0.0.1:9000"),
	)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.IsFullPeer() {
		t.Fatal("a config with LocalURI set should select full-peer mode")
	}
}

func TestNewConfigAcceptsAgentAddressWithRecord(t *testing.T) {
	priv, pub, err := identity.KeyPairFromHex(testPrivateKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	record := &acn.AgentRecord{Address: "fetch1someaddress"}
	cfg, err := newConfig(
		IdentityFromKeyPair(priv, pub),
		BootstrapFrom(testBootstrapPeers(t)),
		WithAgentRecord("fetch1someaddress", record, func() bool { return true }),
	)
	if err != nil {
		t.Fatal("unexpected error with a matching agent address/record pair", err)
	}
	if cfg.AgentAddress != "fetch1someaddress" || cfg.AgentRecord != record {
		t.Fatal("agent address/record were not stored on the config")
	}
}

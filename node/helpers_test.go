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
	"strings"
	"testing"

	"github.com/fetchai/acn-node/identity"
)

func TestHostPortToMultiaddrIPv4Literal(t *testing.T) {
	maddr, err := hostPortToMultiaddr("127.0.0.1:9000", "dns4")
	if err != nil {
		t.Fatal("unexpected error", err)
	}
	if maddr.String() != "/ip4/127.0.0.1/tcp/9000" {
		t.Fatalf("unexpected multiaddr %q", maddr.String())
	}
}

func TestHostPortToMultiaddrHostname(t *testing.T) {
	maddr, err := hostPortToMultiaddr("acn.example.com:9000", "dns4")
	if err != nil {
		t.Fatal("unexpected error", err)
	}
	if maddr.String() != "/dns4/acn.example.com/tcp/9000" {
		t.Fatalf("unexpected multiaddr %q", maddr.String())
	}
}

func TestHostPortToMultiaddrRejectsMalformedURI(t *testing.T) {
	if _, err := hostPortToMultiaddr("not-a-host-port", "ip4"); err == nil {
		t.Fatal("expected an error splitting a malformed host:port uri")
	}
}

func TestCircuitMultiaddr(t *testing.T) {
	relayID, err := identity.PeerIDFromPeerPublicKey("02ac514ba70de60ed5c30f90e3acdfc958ecb416d9676706bf013228abfb2c2816")
	if err != nil {
		t.Fatal(err)
	}
	targetID, err := identity.PeerIDFromPeerPublicKey("027af21aff853b9d9589867ea142b0a60a9611fc8e1fae04c2f7144113fa4e938e")
	if err != nil {
		t.Fatal(err)
	}

	maddr, err := circuitMultiaddr(relayID, targetID)
	if err != nil {
		t.Fatal("unexpected error building circuit multiaddr", err)
	}

	s := maddr.String()
	if !strings.Contains(s, relayID.Pretty()) || !strings.Contains(s, targetID.Pretty()) {
		t.Fatalf("expected circuit multiaddr to mention both peer ids, got %q", s)
	}
	if !strings.Contains(s, "p2p-circuit") {
		t.Fatalf("expected circuit multiaddr to contain p2p-circuit, got %q", s)
	}
}

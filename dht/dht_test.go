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

package dht

import "testing"

func TestComputeCID(t *testing.T) {
	address := "fetch19dq2mkcpp6x0aypxt9c9gz6n4fqvax0x9a7t5r"
	c, err := ComputeCID(address)
	if err != nil {
		t.Fatal("unexpected error computing cid", err)
	}
	if c.String() != "QmZ6ryKyS9rSnesX8YnFLAmFwFuRMdHpE7pQ2V6SjXTbqM" {
		t.Fatalf("unexpected cid %q", c.String())
	}
}

func TestComputeCIDIsDeterministic(t *testing.T) {
	address := "fetch1x9v67meyfq4pkgy2n2yf6797cfkul327kpclqr"
	c1, err := ComputeCID(address)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := ComputeCID(address)
	if err != nil {
		t.Fatal(err)
	}
	if !c1.Equals(c2) {
		t.Fatal("computing the same address's cid twice should be deterministic")
	}
}

func TestComputeCIDDiffersByAddress(t *testing.T) {
	c1, err := ComputeCID("fetch19dq2mkcpp6x0aypxt9c9gz6n4fqvax0x9a7t5r")
	if err != nil {
		t.Fatal(err)
	}
	c2, err := ComputeCID("fetch1x9v67meyfq4pkgy2n2yf6797cfkul327kpclqr")
	if err != nil {
		t.Fatal(err)
	}
	if c1.Equals(c2) {
		t.Fatal("different addresses should not collide to the same cid")
	}
}

func TestBootstrapConnectRequiresAtLeastOnePeer(t *testing.T) {
	if err := BootstrapConnect(nil, nil, nil, nil); err == nil {
		t.Fatal("expected an error when no bootstrap peers are given")
	}
}

/* -*- coding: utf-8 -*-
* ------------------------------------------------------------------------------
*
*   Copyright 2018-2019 Fetch.AI Limited
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

package identity

import "testing"

var (
	fetchaiPublicKey  = "02ac514ba70de60ed5c30f90e3acdfc958ecb416d9676706bf013228abfb2c2816"
	fetchaiPrivateKey = "6d8d2b87d987641e2ca3f1991c1cccf08a118759e81fabdbf7e8484f27af015e"
	fetchaiAddress    = "fetch1x9v67meyfq4pkgy2n2yf6797cfkul327kpclqr"

	ethereumPublicKey = "0xf753e5a9e2368e97f4db869a0d956d3ffb64672d6392670572906c786b5712ada13b6bff882951b3ba3dd65bdacc915c2b532efc3f183aa44657205c6c337225"
	ethereumAddress   = "0xb8d8c62d4a1999b7aea0aebBD5020244a4a9bAD8"
)

func TestDeriveAddressFetchAI(t *testing.T) {
	addr, err := DeriveAddress(FetchAI, fetchaiPublicKey)
	if err != nil {
		t.Fatal("unexpected error deriving fetchai address", err)
	}
	if addr != fetchaiAddress {
		t.Fatalf("derived address %q does not match expected %q", addr, fetchaiAddress)
	}
}

func TestDeriveAddressEthereum(t *testing.T) {
	addr, err := DeriveAddress(Ethereum, ethereumPublicKey)
	if err != nil {
		t.Fatal("unexpected error deriving ethereum address", err)
	}
	if addr != ethereumAddress {
		t.Fatalf("derived address %q does not match expected %q", addr, ethereumAddress)
	}
}

func TestDeriveAddressUnsupportedLedger(t *testing.T) {
	if _, err := DeriveAddress(Ledger("solana"), fetchaiPublicKey); err != ErrUnsupportedLedger {
		t.Fatalf("expected ErrUnsupportedLedger, got %v", err)
	}
}

func TestSupported(t *testing.T) {
	if !Supported(FetchAI) || !Supported(Cosmos) || !Supported(Ethereum) {
		t.Fatal("expected fetchai, cosmos and ethereum to be supported ledgers")
	}
	if Supported(Ledger("solana")) {
		t.Fatal("solana should not be a supported ledger")
	}
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	message := []byte("hello acn")

	sig, err := Sign(FetchAI, message, fetchaiPrivateKey)
	if err != nil {
		t.Fatal("signing failed", err)
	}

	valid, err := VerifySignature(FetchAI, message, sig, fetchaiPublicKey)
	if err != nil {
		t.Fatal("verification returned an error", err)
	}
	if !valid {
		t.Fatal("signature should verify against its own public key")
	}
}

func TestVerifySignatureRejectsTamperedMessage(t *testing.T) {
	sig, err := Sign(FetchAI, []byte("original"), fetchaiPrivateKey)
	if err != nil {
		t.Fatal("signing failed", err)
	}

	valid, err := VerifySignature(FetchAI, []byte("tampered"), sig, fetchaiPublicKey)
	if err != nil {
		t.Fatal("verification returned an error", err)
	}
	if valid {
		t.Fatal("signature should not verify against a different message")
	}
}

func TestKeyPairFromHexAndPublicKeyHex(t *testing.T) {
	_, pub, err := KeyPairFromHex(fetchaiPrivateKey)
	if err != nil {
		t.Fatal("building key pair failed", err)
	}
	hexPub, err := PublicKeyHex(pub)
	if err != nil {
		t.Fatal("encoding public key failed", err)
	}
	if hexPub != fetchaiPublicKey {
		t.Fatalf("derived public key %q does not match expected %q", hexPub, fetchaiPublicKey)
	}
}

func TestPeerIDFromPeerPublicKeyIsDeterministic(t *testing.T) {
	id1, err := PeerIDFromPeerPublicKey(fetchaiPublicKey)
	if err != nil {
		t.Fatal("deriving peer id failed", err)
	}
	id2, err := PeerIDFromPeerPublicKey(fetchaiPublicKey)
	if err != nil {
		t.Fatal("deriving peer id failed", err)
	}
	if id1 != id2 {
		t.Fatal("peer id derivation is not deterministic")
	}
	if id1.Pretty() == "" {
		t.Fatal("derived peer id is empty")
	}
}

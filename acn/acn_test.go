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

package acn

import (
	"bytes"
	"testing"

	"github.com/fetchai/acn-node/identity"
	"github.com/fetchai/acn-node/wire"
)

const (
	testPrivateKey = "6d8d2b87d987641e2ca3f1991c1cccf08a118759e81fabdbf7e8484f27af015e"
	testPublicKey  = "02ac514ba70de60ed5c30f90e3acdfc958ecb416d9676706bf013228abfb2c2816"
	testAddress    = "fetch1x9v67meyfq4pkgy2n2yf6797cfkul327kpclqr"
	testPeerPubKey = "027af21aff853b9d9589867ea142b0a60a9611fc8e1fae04c2f7144113fa4e938e"
)

// bufPipe is a minimal in-memory wire.Pipe backed by a shared buffer, used
// to exercise the codec's framing without any real transport.
type bufPipe struct {
	buf *bytes.Buffer
}

func newBufPipe() bufPipe { return bufPipe{buf: &bytes.Buffer{}} }

func (p bufPipe) Connect() error        { return nil }
func (p bufPipe) Read() ([]byte, error) { return wire.ReadFrame(p.buf) }
func (p bufPipe) Write(data []byte) error {
	return wire.WriteFrame(p.buf, data)
}
func (p bufPipe) Close() error { return nil }

func validAgentRecord(t *testing.T) *AgentRecord {
	t.Helper()
	sig, err := identity.Sign(identity.FetchAI, []byte(testPeerPubKey), testPrivateKey)
	if err != nil {
		t.Fatal("failed to sign test agent record", err)
	}
	return &AgentRecord{
		Address:       testAddress,
		PublicKey:     testPublicKey,
		PeerPublicKey: testPeerPubKey,
		Signature:     sig,
		LedgerID:      string(identity.FetchAI),
	}
}

func TestVerifyProofOfRepresentationValid(t *testing.T) {
	record := validAgentRecord(t)
	code, err := VerifyProofOfRepresentation(record, testAddress, testPeerPubKey)
	if err != nil {
		t.Fatal("expected a valid proof of representation", err)
	}
	if code != SUCCESS {
		t.Fatalf("expected SUCCESS, got %s", code)
	}
}

func TestVerifyProofOfRepresentationWrongAddress(t *testing.T) {
	record := validAgentRecord(t)
	code, err := VerifyProofOfRepresentation(record, "fetch1someoneelse", "")
	if err == nil {
		t.Fatal("expected an error for a mismatched expected address")
	}
	if code != ERROR_WRONG_AGENT_ADDRESS {
		t.Fatalf("expected ERROR_WRONG_AGENT_ADDRESS, got %s", code)
	}
}

func TestVerifyProofOfRepresentationWrongPeerPublicKey(t *testing.T) {
	record := validAgentRecord(t)
	code, err := VerifyProofOfRepresentation(record, testAddress, "0299999999999999999999999999999999999999999999999999999999999999")
	if err == nil {
		t.Fatal("expected an error for a mismatched representative peer public key")
	}
	if code != ERROR_WRONG_PUBLIC_KEY {
		t.Fatalf("expected ERROR_WRONG_PUBLIC_KEY, got %s", code)
	}
}

func TestVerifyProofOfRepresentationTamperedSignature(t *testing.T) {
	record := validAgentRecord(t)
	record.Signature = "not-a-real-signature"
	code, err := VerifyProofOfRepresentation(record, testAddress, testPeerPubKey)
	if err == nil {
		t.Fatal("expected an error for a tampered signature")
	}
	if code != ERROR_INVALID_PROOF {
		t.Fatalf("expected ERROR_INVALID_PROOF, got %s", code)
	}
}

func TestVerifyProofOfRepresentationUnsupportedLedger(t *testing.T) {
	record := validAgentRecord(t)
	record.LedgerID = "solana"
	code, err := VerifyProofOfRepresentation(record, testAddress, "")
	if err == nil {
		t.Fatal("expected an error for an unsupported ledger")
	}
	if code != ERROR_UNSUPPORTED_LEDGER {
		t.Fatalf("expected ERROR_UNSUPPORTED_LEDGER, got %s", code)
	}
}

func TestMessageRoundTripStatus(t *testing.T) {
	msg := &Message{Version: CurrentVersion, Status: &Status{Code: ERROR_AGENT_NOT_READY, Msgs: []string{"not ready"}}}
	buf, err := MarshalMessage(msg)
	if err != nil {
		t.Fatal("marshal failed", err)
	}
	got, err := UnmarshalMessage(buf)
	if err != nil {
		t.Fatal("unmarshal failed", err)
	}
	if got.Status == nil || got.Status.Code != ERROR_AGENT_NOT_READY || len(got.Status.Msgs) != 1 || got.Status.Msgs[0] != "not ready" {
		t.Fatalf("status round trip mismatch: %+v", got.Status)
	}
}

func TestMessageRoundTripAeaEnvelopeWithRecord(t *testing.T) {
	record := validAgentRecord(t)
	msg := &Message{Version: CurrentVersion, AeaEnvelope: &AeaEnvelope{Envelope: []byte("opaque payload"), Record: record}}
	buf, err := MarshalMessage(msg)
	if err != nil {
		t.Fatal("marshal failed", err)
	}
	got, err := UnmarshalMessage(buf)
	if err != nil {
		t.Fatal("unmarshal failed", err)
	}
	if got.AeaEnvelope == nil || !bytes.Equal(got.AeaEnvelope.Envelope, []byte("opaque payload")) {
		t.Fatalf("envelope bytes did not round trip: %+v", got.AeaEnvelope)
	}
	if got.AeaEnvelope.Record == nil || got.AeaEnvelope.Record.Address != record.Address {
		t.Fatalf("embedded record did not round trip: %+v", got.AeaEnvelope.Record)
	}
}

func TestMarshalMessageRejectsEmptyPayload(t *testing.T) {
	msg := &Message{Version: CurrentVersion}
	if _, err := MarshalMessage(msg); err == nil {
		t.Fatal("expected an error marshalling a message with no payload set")
	}
}

func TestSendAndReadStatusOverPipe(t *testing.T) {
	pipe := newBufPipe()
	if err := SendStatus(pipe, ERROR_UNKNOWN_AGENT_ADDRESS, "no such agent"); err != nil {
		t.Fatal("send failed", err)
	}
	msg, err := ReadMessage(pipe)
	if err != nil {
		t.Fatal("read failed", err)
	}
	if msg.Status == nil || msg.Status.Code != ERROR_UNKNOWN_AGENT_ADDRESS {
		t.Fatalf("unexpected status read back: %+v", msg.Status)
	}
}

func TestLookupRequestResponseOverPipe(t *testing.T) {
	pipe := newBufPipe()
	record := validAgentRecord(t)

	if err := SendLookupRequest(pipe, testAddress); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadLookupRequest(pipe); err != nil {
		t.Fatal(err)
	}
	if err := SendLookupResponse(pipe, record); err != nil {
		t.Fatal(err)
	}

	got, err := func() (*AgentRecord, error) {
		msg, err := ReadMessage(pipe)
		if err != nil {
			return nil, err
		}
		return msg.LookupResponse.Record, nil
	}()
	if err != nil {
		t.Fatal(err)
	}
	if got.Address != testAddress {
		t.Fatalf("unexpected resolved address %q", got.Address)
	}
}

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
	"strings"
	"time"

	"github.com/fetchai/acn-node/identity"
	"github.com/fetchai/acn-node/wire"
	"github.com/pkg/errors"
)

// ACNError pairs a Go error with the wire Status code it maps to, so a
// failure can be both logged locally and answered on the stream.
type ACNError struct {
	ErrorCode ErrCode
	Err       error
}

func (e *ACNError) Error() string { return e.Err.Error() }

func newACNError(code ErrCode, err error) *ACNError {
	return &ACNError{ErrorCode: code, Err: err}
}

// SendStatus writes a Status message with the given code and messages.
func SendStatus(pipe wire.Pipe, code ErrCode, msgs ...string) error {
	status := &Status{Code: code, Msgs: msgs}
	msg := &Message{Version: CurrentVersion, Status: status}
	buf, err := MarshalMessage(msg)
	if err != nil {
		return errors.Wrap(err, "encoding status message")
	}
	return pipe.Write(buf)
}

// SendSuccess is shorthand for SendStatus(pipe, SUCCESS).
func SendSuccess(pipe wire.Pipe) error {
	return SendStatus(pipe, SUCCESS)
}

// AwaitStatus blocks on ch for a Status, failing if timeout elapses first.
func AwaitStatus(ch chan *Status, timeout time.Duration) (*Status, error) {
	select {
	case s := <-ch:
		return s, nil
	case <-time.After(timeout):
		return nil, errors.New("acn status wait timed out")
	}
}

// ReadMessage reads one framed message off pipe and decodes it, answering
// ERROR_DECODE on the same pipe when decoding fails, per the core's
// decode-error propagation policy.
func ReadMessage(pipe wire.Pipe) (*Message, error) {
	buf, err := pipe.Read()
	if err != nil {
		return nil, err
	}
	msg, err := UnmarshalMessage(buf)
	if err != nil {
		sendErr := SendStatus(pipe, ERROR_DECODE, err.Error())
		_ = sendErr
		return nil, newACNError(ERROR_DECODE, err)
	}
	return msg, nil
}

// ReadRegister reads and type-checks a Register message.
func ReadRegister(pipe wire.Pipe) (*Register, error) {
	msg, err := ReadMessage(pipe)
	if err != nil {
		return nil, err
	}
	if msg.Register == nil {
		err := errors.New("expected register message")
		sendErr := SendStatus(pipe, ERROR_UNEXPECTED_PAYLOAD, err.Error())
		_ = sendErr
		return nil, newACNError(ERROR_UNEXPECTED_PAYLOAD, err)
	}
	return msg.Register, nil
}

// ReadLookupRequest reads and type-checks a LookupRequest message.
func ReadLookupRequest(pipe wire.Pipe) (string, error) {
	msg, err := ReadMessage(pipe)
	if err != nil {
		return "", err
	}
	if msg.LookupRequest == nil {
		err := errors.New("expected lookup request message")
		sendErr := SendStatus(pipe, ERROR_UNEXPECTED_PAYLOAD, err.Error())
		_ = sendErr
		return "", newACNError(ERROR_UNEXPECTED_PAYLOAD, err)
	}
	return msg.LookupRequest.AgentAddress, nil
}

// SendLookupRequest issues a LookupRequest for address.
func SendLookupRequest(pipe wire.Pipe, address string) error {
	msg := &Message{Version: CurrentVersion, LookupRequest: &LookupRequest{AgentAddress: address}}
	buf, err := MarshalMessage(msg)
	if err != nil {
		return errors.Wrap(err, "encoding lookup request")
	}
	return pipe.Write(buf)
}

// SendLookupResponse answers a LookupRequest with record.
func SendLookupResponse(pipe wire.Pipe, record *AgentRecord) error {
	msg := &Message{Version: CurrentVersion, LookupResponse: &LookupResponse{Record: record}}
	buf, err := MarshalMessage(msg)
	if err != nil {
		return errors.Wrap(err, "encoding lookup response")
	}
	return pipe.Write(buf)
}

// PerformLookup sends a LookupRequest and waits synchronously for either a
// LookupResponse or an error Status, the operation client peers and the
// DHT-resolution path of full peers both use.
func PerformLookup(pipe wire.Pipe, address string) (*AgentRecord, error) {
	if err := SendLookupRequest(pipe, address); err != nil {
		return nil, err
	}
	msg, err := ReadMessage(pipe)
	if err != nil {
		return nil, err
	}
	if msg.Status != nil {
		return nil, newACNError(msg.Status.Code, errors.New(
			"lookup failed: "+msg.Status.Code.String()+" : "+strings.Join(msg.Status.Msgs, ":")))
	}
	if msg.LookupResponse == nil {
		err := errors.New("unexpected payload for lookup response")
		return nil, newACNError(ERROR_UNEXPECTED_PAYLOAD, err)
	}
	return msg.LookupResponse.Record, nil
}

// SendEnvelope writes an AeaEnvelope message, optionally carrying record
// as the sender's proof-of-representation.
func SendEnvelope(pipe wire.Pipe, envelope []byte, record *AgentRecord) error {
	msg := &Message{Version: CurrentVersion, AeaEnvelope: &AeaEnvelope{Envelope: envelope, Record: record}}
	buf, err := MarshalMessage(msg)
	if err != nil {
		return errors.Wrap(err, "encoding envelope message")
	}
	return pipe.Write(buf)
}

// ReadEnvelopeMessage reads and type-checks an AeaEnvelope message.
func ReadEnvelopeMessage(pipe wire.Pipe) (*AeaEnvelope, error) {
	msg, err := ReadMessage(pipe)
	if err != nil {
		return nil, err
	}
	if msg.AeaEnvelope == nil {
		err := errors.New("expected envelope message")
		sendErr := SendStatus(pipe, ERROR_UNEXPECTED_PAYLOAD, err.Error())
		_ = sendErr
		return nil, newACNError(ERROR_UNEXPECTED_PAYLOAD, err)
	}
	return msg.AeaEnvelope, nil
}

// SendRegisterAndAwaitStatus sends a Register message carrying record and
// blocks for the peer's Status reply, failing if it is not SUCCESS.
func SendRegisterAndAwaitStatus(pipe wire.Pipe, record *AgentRecord) error {
	msg := &Message{Version: CurrentVersion, Register: &Register{Record: record}}
	buf, err := MarshalMessage(msg)
	if err != nil {
		return errors.Wrap(err, "encoding register message")
	}
	if err := pipe.Write(buf); err != nil {
		return err
	}

	resp, err := ReadMessage(pipe)
	if err != nil {
		return err
	}
	if resp.Status == nil {
		return errors.New("expected status reply to registration")
	}
	if resp.Status.Code != SUCCESS {
		return errors.New("registration failed: " + strings.Join(resp.Status.Msgs, ":"))
	}
	return nil
}

// VerifyProofOfRepresentation validates record against the public key of
// the peer claiming to represent it, implementing verify_por(record) in
// full: address/ledger/public-key consistency, then the cryptographic
// signature. A mismatch maps deterministically onto the matching Status
// code so callers can answer on the wire without further translation.
func VerifyProofOfRepresentation(record *AgentRecord, expectedAddress string, representativePeerPubKey string) (ErrCode, error) {
	if expectedAddress != "" && record.Address != expectedAddress {
		return ERROR_WRONG_AGENT_ADDRESS, errors.New("wrong agent address, expected " + expectedAddress)
	}

	if !identity.Supported(identity.Ledger(record.LedgerID)) {
		return ERROR_UNSUPPORTED_LEDGER, errors.New("unsupported ledger " + record.LedgerID)
	}

	if representativePeerPubKey != "" && record.PeerPublicKey != representativePeerPubKey {
		return ERROR_WRONG_PUBLIC_KEY, errors.New("wrong peer public key, expected " + representativePeerPubKey)
	}

	derived, err := identity.DeriveAddress(identity.Ledger(record.LedgerID), record.PublicKey)
	if err != nil || derived != record.Address {
		if err == nil {
			err = errors.New("agent address and public key don't match")
		}
		return ERROR_WRONG_AGENT_ADDRESS, err
	}

	ok, err := identity.VerifySignature(
		identity.Ledger(record.LedgerID),
		[]byte(record.PeerPublicKey),
		record.Signature,
		record.PublicKey,
	)
	if err != nil || !ok {
		if err == nil {
			err = errors.New("signature is not valid")
		}
		return ERROR_INVALID_PROOF, err
	}

	return SUCCESS, nil
}

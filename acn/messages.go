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

// Package acn implements the small, versioned message schema peers
// exchange on top of a wire.Pipe: Register, LookupRequest, LookupResponse,
// AeaEnvelope and Status. Encoding is hand-authored against
// google.golang.org/protobuf/encoding/protowire rather than generated from
// a .proto file, but the wire layout is the same tag/length/value scheme
// any protobuf client would produce, so interop only depends on the tag
// numbers below staying fixed.
package acn

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// CurrentVersion is the ACN schema version advertised on every message.
const CurrentVersion = "0.1.0"

// ErrCode enumerates the exhaustive ACN status code set.
type ErrCode int32

const (
	SUCCESS ErrCode = iota
	ERROR_GENERIC
	ERROR_DECODE
	ERROR_UNEXPECTED_PAYLOAD
	ERROR_AGENT_NOT_READY
	ERROR_UNKNOWN_AGENT_ADDRESS
	ERROR_WRONG_AGENT_ADDRESS
	ERROR_UNSUPPORTED_LEDGER
	ERROR_WRONG_PUBLIC_KEY
	ERROR_INVALID_PROOF
)

func (c ErrCode) String() string {
	switch c {
	case SUCCESS:
		return "SUCCESS"
	case ERROR_GENERIC:
		return "ERROR_GENERIC"
	case ERROR_DECODE:
		return "ERROR_DECODE"
	case ERROR_UNEXPECTED_PAYLOAD:
		return "ERROR_UNEXPECTED_PAYLOAD"
	case ERROR_AGENT_NOT_READY:
		return "ERROR_AGENT_NOT_READY"
	case ERROR_UNKNOWN_AGENT_ADDRESS:
		return "ERROR_UNKNOWN_AGENT_ADDRESS"
	case ERROR_WRONG_AGENT_ADDRESS:
		return "ERROR_WRONG_AGENT_ADDRESS"
	case ERROR_UNSUPPORTED_LEDGER:
		return "ERROR_UNSUPPORTED_LEDGER"
	case ERROR_WRONG_PUBLIC_KEY:
		return "ERROR_WRONG_PUBLIC_KEY"
	case ERROR_INVALID_PROOF:
		return "ERROR_INVALID_PROOF"
	default:
		return "UNKNOWN"
	}
}

// AgentRecord is the PoR-bearing bundle "this agent address is served by
// this peer", mirrored field for field from the core data model.
type AgentRecord struct {
	Address       string
	PublicKey     string
	PeerPublicKey string
	Signature     string
	LedgerID      string
	ServiceURI    string
}

// Status carries a response code plus optional human-readable messages.
type Status struct {
	Code ErrCode
	Msgs []string
}

// Register carries an AgentRecord from a relay/delegate client to its peer.
type Register struct {
	Record *AgentRecord
}

// LookupRequest asks for the AgentRecord serving AgentAddress.
type LookupRequest struct {
	AgentAddress string
}

// LookupResponse answers a LookupRequest with the resolved AgentRecord.
type LookupResponse struct {
	Record *AgentRecord
}

// AeaEnvelope carries opaque envelope bytes plus, optionally, the sending
// agent's AgentRecord as a proof of representation.
type AeaEnvelope struct {
	Envelope []byte
	Record   *AgentRecord
}

// Message is the envelope type wrapping exactly one of the five payload
// kinds, the oneof the original .proto schema expresses.
type Message struct {
	Version        string
	Register       *Register
	LookupRequest  *LookupRequest
	LookupResponse *LookupResponse
	AeaEnvelope    *AeaEnvelope
	Status         *Status
}

// field tags for Message (the AcnMessage oneof).
const (
	tagMsgVersion        = 1
	tagMsgRegister       = 2
	tagMsgLookupRequest  = 3
	tagMsgLookupResponse = 4
	tagMsgAeaEnvelope    = 5
	tagMsgStatus         = 6
)

// field tags for AgentRecord.
const (
	tagRecAddress       = 1
	tagRecPublicKey     = 2
	tagRecPeerPublicKey = 3
	tagRecSignature     = 4
	tagRecLedgerID      = 5
	tagRecServiceURI    = 6
)

// field tags for Register / LookupRequest / LookupResponse / AeaEnvelope / Status.
const (
	tagRegisterRecord = 1

	tagLookupReqAddress = 1

	tagLookupRespRecord = 1

	tagEnvelopeBytes  = 1
	tagEnvelopeRecord = 2

	tagStatusCode = 1
	tagStatusMsgs = 2
)

// MarshalMessage encodes msg to the ACN wire format.
func MarshalMessage(msg *Message) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, tagMsgVersion, protowire.BytesType)
	b = protowire.AppendString(b, msg.Version)

	switch {
	case msg.Register != nil:
		sub := marshalRegister(msg.Register)
		b = protowire.AppendTag(b, tagMsgRegister, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	case msg.LookupRequest != nil:
		sub := marshalLookupRequest(msg.LookupRequest)
		b = protowire.AppendTag(b, tagMsgLookupRequest, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	case msg.LookupResponse != nil:
		sub := marshalLookupResponse(msg.LookupResponse)
		b = protowire.AppendTag(b, tagMsgLookupResponse, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	case msg.AeaEnvelope != nil:
		sub := marshalAeaEnvelope(msg.AeaEnvelope)
		b = protowire.AppendTag(b, tagMsgAeaEnvelope, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	case msg.Status != nil:
		sub := marshalStatus(msg.Status)
		b = protowire.AppendTag(b, tagMsgStatus, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	default:
		return nil, errors.New("acn message has no payload set")
	}
	return b, nil
}

// UnmarshalMessage decodes an ACN wire message, rejecting truncated input
// and input that carries none of the five payload kinds as a decode error.
// Fields with unrecognized tag numbers are skipped.
func UnmarshalMessage(buf []byte) (*Message, error) {
	msg := &Message{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, errors.New("malformed acn message tag")
		}
		buf = buf[n:]

		switch num {
		case tagMsgVersion:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return nil, errors.New("malformed acn message version")
			}
			msg.Version = v
			buf = buf[n:]
		case tagMsgRegister:
			sub, n, err := consumeSubmessage(buf, typ)
			if err != nil {
				return nil, err
			}
			r, err := unmarshalRegister(sub)
			if err != nil {
				return nil, err
			}
			msg.Register = r
			buf = buf[n:]
		case tagMsgLookupRequest:
			sub, n, err := consumeSubmessage(buf, typ)
			if err != nil {
				return nil, err
			}
			r, err := unmarshalLookupRequest(sub)
			if err != nil {
				return nil, err
			}
			msg.LookupRequest = r
			buf = buf[n:]
		case tagMsgLookupResponse:
			sub, n, err := consumeSubmessage(buf, typ)
			if err != nil {
				return nil, err
			}
			r, err := unmarshalLookupResponse(sub)
			if err != nil {
				return nil, err
			}
			msg.LookupResponse = r
			buf = buf[n:]
		case tagMsgAeaEnvelope:
			sub, n, err := consumeSubmessage(buf, typ)
			if err != nil {
				return nil, err
			}
			r, err := unmarshalAeaEnvelope(sub)
			if err != nil {
				return nil, err
			}
			msg.AeaEnvelope = r
			buf = buf[n:]
		case tagMsgStatus:
			sub, n, err := consumeSubmessage(buf, typ)
			if err != nil {
				return nil, err
			}
			r, err := unmarshalStatus(sub)
			if err != nil {
				return nil, err
			}
			msg.Status = r
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, errors.New("malformed acn message field")
			}
			buf = buf[n:]
		}
	}

	if msg.Register == nil && msg.LookupRequest == nil && msg.LookupResponse == nil &&
		msg.AeaEnvelope == nil && msg.Status == nil {
		return nil, errors.New("acn message has no recognized payload")
	}
	return msg, nil
}

func consumeSubmessage(buf []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, errors.New("malformed acn submessage type")
	}
	v, n := protowire.ConsumeBytes(buf)
	if n < 0 {
		return nil, 0, errors.New("malformed acn submessage")
	}
	return v, n, nil
}

func marshalAgentRecord(r *AgentRecord) []byte {
	if r == nil {
		return nil
	}
	var b []byte
	if r.Address != "" {
		b = protowire.AppendTag(b, tagRecAddress, protowire.BytesType)
		b = protowire.AppendString(b, r.Address)
	}
	if r.PublicKey != "" {
		b = protowire.AppendTag(b, tagRecPublicKey, protowire.BytesType)
		b = protowire.AppendString(b, r.PublicKey)
	}
	if r.PeerPublicKey != "" {
		b = protowire.AppendTag(b, tagRecPeerPublicKey, protowire.BytesType)
		b = protowire.AppendString(b, r.PeerPublicKey)
	}
	if r.Signature != "" {
		b = protowire.AppendTag(b, tagRecSignature, protowire.BytesType)
		b = protowire.AppendString(b, r.Signature)
	}
	if r.LedgerID != "" {
		b = protowire.AppendTag(b, tagRecLedgerID, protowire.BytesType)
		b = protowire.AppendString(b, r.LedgerID)
	}
	if r.ServiceURI != "" {
		b = protowire.AppendTag(b, tagRecServiceURI, protowire.BytesType)
		b = protowire.AppendString(b, r.ServiceURI)
	}
	return b
}

func unmarshalAgentRecord(buf []byte) (*AgentRecord, error) {
	r := &AgentRecord{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, errors.New("malformed agent record tag")
		}
		buf = buf[n:]

		if typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, errors.New("malformed agent record field")
			}
			buf = buf[n:]
			continue
		}

		v, n := protowire.ConsumeString(buf)
		if n < 0 {
			return nil, errors.New("malformed agent record string field")
		}
		switch num {
		case tagRecAddress:
			r.Address = v
		case tagRecPublicKey:
			r.PublicKey = v
		case tagRecPeerPublicKey:
			r.PeerPublicKey = v
		case tagRecSignature:
			r.Signature = v
		case tagRecLedgerID:
			r.LedgerID = v
		case tagRecServiceURI:
			r.ServiceURI = v
		}
		buf = buf[n:]
	}
	return r, nil
}

func marshalRegister(r *Register) []byte {
	var b []byte
	if r.Record != nil {
		sub := marshalAgentRecord(r.Record)
		b = protowire.AppendTag(b, tagRegisterRecord, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	return b
}

func unmarshalRegister(buf []byte) (*Register, error) {
	r := &Register{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, errors.New("malformed register tag")
		}
		buf = buf[n:]
		switch num {
		case tagRegisterRecord:
			sub, n, err := consumeSubmessage(buf, typ)
			if err != nil {
				return nil, err
			}
			rec, err := unmarshalAgentRecord(sub)
			if err != nil {
				return nil, err
			}
			r.Record = rec
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, errors.New("malformed register field")
			}
			buf = buf[n:]
		}
	}
	return r, nil
}

func marshalLookupRequest(r *LookupRequest) []byte {
	var b []byte
	b = protowire.AppendTag(b, tagLookupReqAddress, protowire.BytesType)
	b = protowire.AppendString(b, r.AgentAddress)
	return b
}

func unmarshalLookupRequest(buf []byte) (*LookupRequest, error) {
	r := &LookupRequest{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, errors.New("malformed lookup request tag")
		}
		buf = buf[n:]
		if num == tagLookupReqAddress && typ == protowire.BytesType {
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return nil, errors.New("malformed lookup request address")
			}
			r.AgentAddress = v
			buf = buf[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, buf)
		if n < 0 {
			return nil, errors.New("malformed lookup request field")
		}
		buf = buf[n:]
	}
	return r, nil
}

func marshalLookupResponse(r *LookupResponse) []byte {
	var b []byte
	if r.Record != nil {
		sub := marshalAgentRecord(r.Record)
		b = protowire.AppendTag(b, tagLookupRespRecord, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	return b
}

func unmarshalLookupResponse(buf []byte) (*LookupResponse, error) {
	r := &LookupResponse{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, errors.New("malformed lookup response tag")
		}
		buf = buf[n:]
		switch num {
		case tagLookupRespRecord:
			sub, n, err := consumeSubmessage(buf, typ)
			if err != nil {
				return nil, err
			}
			rec, err := unmarshalAgentRecord(sub)
			if err != nil {
				return nil, err
			}
			r.Record = rec
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, errors.New("malformed lookup response field")
			}
			buf = buf[n:]
		}
	}
	return r, nil
}

func marshalAeaEnvelope(e *AeaEnvelope) []byte {
	var b []byte
	b = protowire.AppendTag(b, tagEnvelopeBytes, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Envelope)
	if e.Record != nil {
		sub := marshalAgentRecord(e.Record)
		b = protowire.AppendTag(b, tagEnvelopeRecord, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	return b
}

func unmarshalAeaEnvelope(buf []byte) (*AeaEnvelope, error) {
	e := &AeaEnvelope{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, errors.New("malformed envelope tag")
		}
		buf = buf[n:]
		switch num {
		case tagEnvelopeBytes:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, errors.New("malformed envelope bytes")
			}
			e.Envelope = append([]byte(nil), v...)
			buf = buf[n:]
		case tagEnvelopeRecord:
			sub, n, err := consumeSubmessage(buf, typ)
			if err != nil {
				return nil, err
			}
			rec, err := unmarshalAgentRecord(sub)
			if err != nil {
				return nil, err
			}
			e.Record = rec
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, errors.New("malformed envelope field")
			}
			buf = buf[n:]
		}
	}
	return e, nil
}

func marshalStatus(s *Status) []byte {
	var b []byte
	b = protowire.AppendTag(b, tagStatusCode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Code))
	for _, m := range s.Msgs {
		b = protowire.AppendTag(b, tagStatusMsgs, protowire.BytesType)
		b = protowire.AppendString(b, m)
	}
	return b
}

func unmarshalStatus(buf []byte) (*Status, error) {
	s := &Status{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, errors.New("malformed status tag")
		}
		buf = buf[n:]
		switch num {
		case tagStatusCode:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return nil, errors.New("malformed status code")
			}
			s.Code = ErrCode(v)
			buf = buf[n:]
		case tagStatusMsgs:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return nil, errors.New("malformed status message")
			}
			s.Msgs = append(s.Msgs, v)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, errors.New("malformed status field")
			}
			buf = buf[n:]
		}
	}
	return s, nil
}

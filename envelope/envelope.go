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

// Package envelope defines the transport unit the core reads two fields
// from (To, Sender) and otherwise forwards verbatim, per spec.md §3.
// Serializing the payload of a given protocol_id is explicitly out of
// scope (spec.md §1 Non-goals); Message/URI below are opaque bytes this
// package never interprets.
package envelope

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope is the opaque application-layer message unit routed by the
// node engine. Only To and Sender are read by routing logic; ProtocolID,
// Message and URI are carried verbatim end to end.
type Envelope struct {
	To         string
	Sender     string
	ProtocolID string
	Message    []byte
	URI        string
}

const (
	tagTo         = 1
	tagSender     = 2
	tagProtocolID = 3
	tagMessage    = 4
	tagURI        = 5
)

// Marshal encodes e to its wire form.
func Marshal(e *Envelope) []byte {
	var b []byte
	b = protowire.AppendTag(b, tagTo, protowire.BytesType)
	b = protowire.AppendString(b, e.To)
	b = protowire.AppendTag(b, tagSender, protowire.BytesType)
	b = protowire.AppendString(b, e.Sender)
	if e.ProtocolID != "" {
		b = protowire.AppendTag(b, tagProtocolID, protowire.BytesType)
		b = protowire.AppendString(b, e.ProtocolID)
	}
	if len(e.Message) > 0 {
		b = protowire.AppendTag(b, tagMessage, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Message)
	}
	if e.URI != "" {
		b = protowire.AppendTag(b, tagURI, protowire.BytesType)
		b = protowire.AppendString(b, e.URI)
	}
	return b
}

// Unmarshal decodes an Envelope, rejecting truncated or malformed input.
func Unmarshal(buf []byte) (*Envelope, error) {
	e := &Envelope{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, errors.New("malformed envelope tag")
		}
		buf = buf[n:]

		if typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return nil, errors.New("malformed envelope field")
			}
			buf = buf[n:]
			continue
		}

		switch num {
		case tagMessage:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return nil, errors.New("malformed envelope message field")
			}
			e.Message = append([]byte(nil), v...)
			buf = buf[n:]
		default:
			v, n := protowire.ConsumeString(buf)
			if n < 0 {
				return nil, errors.New("malformed envelope string field")
			}
			switch num {
			case tagTo:
				e.To = v
			case tagSender:
				e.Sender = v
			case tagProtocolID:
				e.ProtocolID = v
			case tagURI:
				e.URI = v
			}
			buf = buf[n:]
		}
	}
	if e.To == "" || e.Sender == "" {
		return nil, errors.New("envelope missing to/sender")
	}
	return e, nil
}

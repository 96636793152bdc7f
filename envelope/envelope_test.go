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

package envelope

import (
	"bytes"
	"testing"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	e := &Envelope{
		To:         "fetch1recipient",
		Sender:     "fetch1sender",
		ProtocolID: "fetchai/default:1.0.0",
		Message:    []byte{0x01, 0x02, 0x03},
		URI:        "",
	}

	got, err := Unmarshal(Marshal(e))
	if err != nil {
		t.Fatal("unexpected error unmarshalling", err)
	}
	if got.To != e.To || got.Sender != e.Sender || got.ProtocolID != e.ProtocolID {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, e)
	}
	if !bytes.Equal(got.Message, e.Message) {
		t.Fatalf("message bytes mismatch: got %v, want %v", got.Message, e.Message)
	}
}

func TestMarshalUnmarshalOmitsEmptyOptionalFields(t *testing.T) {
	e := &Envelope{To: "fetch1recipient", Sender: "fetch1sender"}

	got, err := Unmarshal(Marshal(e))
	if err != nil {
		t.Fatal("unexpected error unmarshalling", err)
	}
	if got.ProtocolID != "" || got.URI != "" || len(got.Message) != 0 {
		t.Fatalf("expected empty optional fields to round trip as empty, got %+v", got)
	}
}

func TestUnmarshalRejectsMissingTo(t *testing.T) {
	e := &Envelope{Sender: "fetch1sender"}
	if _, err := Unmarshal(Marshal(e)); err == nil {
		t.Fatal("expected an error when To is missing")
	}
}

func TestUnmarshalRejectsMissingSender(t *testing.T) {
	e := &Envelope{To: "fetch1recipient"}
	if _, err := Unmarshal(Marshal(e)); err == nil {
		t.Fatal("expected an error when Sender is missing")
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte{0xff, 0xff, 0xff, 0xff, 0xff}); err == nil {
		t.Fatal("expected an error unmarshalling garbage input")
	}
}

func TestUnmarshalRejectsEmptyInput(t *testing.T) {
	if _, err := Unmarshal(nil); err == nil {
		t.Fatal("expected an error unmarshalling empty input (missing to/sender)")
	}
}

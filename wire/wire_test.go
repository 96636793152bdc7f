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

package wire

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWriteFrameReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte("hello acn")

	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatal("unexpected error writing frame", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal("unexpected error reading frame", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("read frame %q does not match written payload %q", got, payload)
	}
}

func TestWriteFrameEmptyPayloadIsANoOp(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, nil); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no bytes written for an empty payload, got %d", buf.Len())
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, MaxFrameSize+1)
	buf.Write(lenBuf)

	if _, err := ReadFrame(&buf); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrameErrorsOnTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, 10)
	buf.Write(lenBuf)
	buf.WriteString("short")

	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("expected an error reading a truncated frame body")
	}
}

func TestMultipleFramesOnSameStream(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := WriteFrame(&buf, []byte("second")); err != nil {
		t.Fatal(err)
	}

	first, err := ReadFrame(&buf)
	if err != nil || string(first) != "first" {
		t.Fatalf("unexpected first frame %q, err %v", first, err)
	}
	second, err := ReadFrame(&buf)
	if err != nil || string(second) != "second" {
		t.Fatalf("unexpected second frame %q, err %v", second, err)
	}
}

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

// Package wire implements the length-prefixed framing shared by every ACN
// transport: libp2p streams and raw delegate TCP sockets. A frame is a 4-byte big-endian length followed by that
// many payload bytes; messages above MaxFrameSize are rejected before any
// allocation happens.
package wire

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"

	"github.com/libp2p/go-libp2p-core/network"
	"github.com/pkg/errors"
)

// MaxFrameSize is the largest payload this node will read or write in a
// single frame, matching the delegate-connection cap in the original
// implementation.
const MaxFrameSize = 3 * 1024 * 1024 // 3 MiB

// ErrFrameTooLarge is returned when a peer announces a frame size above
// MaxFrameSize; the connection should be dropped.
var ErrFrameTooLarge = errors.New("frame size exceeds maximum allowed")

// Pipe is the common read/write/close surface every ACN transport
// implements, regardless of whether the underlying carrier is a libp2p
// stream or a TCP socket.
type Pipe interface {
	Connect() error
	Read() ([]byte, error)
	Write(data []byte) error
	Close() error
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, errors.Wrap(err, "while receiving frame size")
	}

	size := binary.BigEndian.Uint32(lenBuf)
	if size > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "while receiving frame body")
	}
	return buf, nil
}

// WriteFrame writes one length-prefixed frame to w. An empty payload is a
// no-op: it returns success without writing anything, since a zero-length
// frame is never emitted on the wire (spec.md §4.2).
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return errors.New("frame payload too large")
	}
	if len(data) == 0 {
		return nil
	}

	bw := bufio.NewWriter(w)

	size := uint32(len(data))
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, size)

	if _, err := bw.Write(lenBuf); err != nil {
		return errors.Wrap(err, "while sending frame size")
	}
	if _, err := bw.Write(data); err != nil {
		return errors.Wrap(err, "while sending frame body")
	}
	return bw.Flush()
}

// ReadFrameStream reads a frame directly off a libp2p stream.
func ReadFrameStream(s network.Stream) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil stream")
	}
	return ReadFrame(s)
}

// WriteFrameStream writes a frame directly to a libp2p stream.
func WriteFrameStream(s network.Stream, data []byte) error {
	if s == nil {
		return errors.New("nil stream")
	}
	return WriteFrame(s, data)
}

// ReadFrameConn reads a frame off a raw net.Conn (delegate TCP clients).
func ReadFrameConn(conn net.Conn) ([]byte, error) {
	return ReadFrame(conn)
}

// WriteFrameConn writes a frame to a raw net.Conn.
func WriteFrameConn(conn net.Conn, data []byte) error {
	return WriteFrame(conn, data)
}

// StreamPipe adapts a libp2p network.Stream to Pipe.
type StreamPipe struct {
	Stream network.Stream
}

func (p StreamPipe) Connect() error         { return nil }
func (p StreamPipe) Read() ([]byte, error)  { return ReadFrameStream(p.Stream) }
func (p StreamPipe) Write(data []byte) error { return WriteFrameStream(p.Stream, data) }
func (p StreamPipe) Close() error           { return p.Stream.Close() }

// ConnPipe adapts a raw net.Conn (delegate TCP client) to Pipe.
type ConnPipe struct {
	Conn net.Conn
}

func (p ConnPipe) Connect() error          { return nil }
func (p ConnPipe) Read() ([]byte, error)   { return ReadFrameConn(p.Conn) }
func (p ConnPipe) Write(data []byte) error { return WriteFrameConn(p.Conn, data) }
func (p ConnPipe) Close() error            { return p.Conn.Close() }

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"

	"github.com/zeebo/blake3"
)

// Digest reads the peer's stream to EOF and replies with the
// lowercase hex BLAKE3-256 digest followed by a newline. The peer has
// to half-close its side (CloseWrite) to mark the end of input.
//
// A Digest carries its hasher and copy buffer, so it serves one
// connection at a time; NewDigestFactory recycles them.
type Digest struct {
	hasher *blake3.Hasher
	buffer []byte
}

const digestBufferSize = 32 * 1024

// NewDigest allocates a Digest handler.
func NewDigest() *Digest {
	return &Digest{
		hasher: blake3.New(),
		buffer: make([]byte, digestBufferSize),
	}
}

// NewDigestFactory returns a factory that recycles Digest handlers.
func NewDigestFactory() *RecyclingFactory[*Digest] {
	return Recycling(NewDigest, (*Digest).reset)
}

func (d *Digest) HandleConnection(_ context.Context, conn net.Conn) error {
	if _, err := io.CopyBuffer(d.hasher, onlyReader{conn}, d.buffer); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	sum := d.hasher.Sum(nil)
	if _, err := io.WriteString(conn, hex.EncodeToString(sum)+"\n"); err != nil {
		return fmt.Errorf("writing digest: %w", err)
	}
	return nil
}

func (d *Digest) reset() {
	d.hasher.Reset()
}

// onlyReader hides a connection's WriterTo so io.CopyBuffer uses the
// supplied buffer.
type onlyReader struct {
	io.Reader
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"io"
	"net"
)

// Echo copies everything the peer sends back to it until the peer
// half-closes or the connection is interrupted. A single Echo is safe
// for any number of concurrent connections.
type Echo struct{}

func (Echo) HandleConnection(_ context.Context, conn net.Conn) error {
	_, err := io.Copy(conn, conn)
	return err
}

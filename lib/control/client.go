// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"fmt"
	"io"
	"maps"
	"net"
	"time"

	"github.com/bureau-foundation/switchboard/lib/codec"
)

// dialTimeout covers only the connect phase of Call.
const dialTimeout = 5 * time.Second

// maxResponseSize caps a single response. Listing a manager with
// thousands of connections stays well under it.
const maxResponseSize = 16 * 1024 * 1024

// ActionError is returned by Call when the server responds with
// ok=false.
type ActionError struct {
	Action  string
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("control action %q failed: %s", e.Action, e.Message)
}

// Call sends one request to the control socket at socketPath and
// waits for the response. fields are the action's parameters (nil for
// none). When the response carries data and result is non-nil, the
// data is decoded into result.
//
// A server-side failure is returned as *ActionError; connection and
// encoding failures are plain errors. ctx bounds the whole exchange.
func Call(ctx context.Context, socketPath, action string, fields map[string]any, result any) error {
	raw, err := CallRaw(ctx, socketPath, action, fields)
	if err != nil {
		return err
	}

	var response Response
	if err := codec.Unmarshal(raw, &response); err != nil {
		return fmt.Errorf("decoding %q response: %w", action, err)
	}
	if !response.OK {
		return &ActionError{Action: action, Message: response.Error}
	}
	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding %q response data: %w", action, err)
		}
	}
	return nil
}

// CallRaw sends one request and returns the undecoded response
// envelope.
func CallRaw(ctx context.Context, socketPath, action string, fields map[string]any) ([]byte, error) {
	request := make(map[string]any, len(fields)+1)
	maps.Copy(request, fields)
	request["action"] = action

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing %q request: %w", action, err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&raw); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("reading %q response: %w", action, ctx.Err())
		}
		return nil, fmt.Errorf("reading %q response: %w", action, err)
	}
	return raw, nil
}

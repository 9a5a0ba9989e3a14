// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"time"

	"github.com/bureau-foundation/switchboard/lib/codec"
	"github.com/bureau-foundation/switchboard/lib/connection"
)

// ActionFunc processes one request for a specific action. raw is the
// full CBOR request, including the "action" field; the function
// decodes its own fields from it.
//
// A nil result produces {ok: true}. A non-nil result is CBOR-encoded
// into the response's data field. A returned error becomes
// {ok: false, error: err.Error()}.
type ActionFunc func(ctx context.Context, raw []byte) (any, error)

// Response is the envelope for every reply.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// exchangeTimeout bounds one request-response cycle. A well-behaved
// client writes its request immediately after connecting.
const exchangeTimeout = 30 * time.Second

// maxRequestSize caps a single request.
const maxRequestSize = 64 * 1024

// Server routes control requests to registered actions. Register
// every action with Handle before the server receives connections;
// afterwards it is safe for concurrent use.
type Server struct {
	actions map[string]ActionFunc
	logger  *slog.Logger
}

var _ connection.Handler = (*Server)(nil)

// NewServer creates a server with no actions.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		actions: make(map[string]ActionFunc),
		logger:  logger,
	}
}

// Handle registers fn for action. Panics if action is already
// registered.
func (s *Server) Handle(action string, fn ActionFunc) {
	if _, exists := s.actions[action]; exists {
		panic(fmt.Sprintf("control.Server: duplicate handler for action %q", action))
	}
	s.actions[action] = fn
}

// Actions returns the registered action names, sorted.
func (s *Server) Actions() []string {
	names := make([]string, 0, len(s.actions))
	for name := range s.actions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// HandleConnection serves one request-response exchange on conn.
// Failures that the client can be told about are sent as error
// responses and are not returned.
func (s *Server) HandleConnection(ctx context.Context, conn net.Conn) error {
	// The runner interrupts by expiring the deadline, so set ours first
	// and then make sure no interruption was overwritten.
	if err := conn.SetDeadline(time.Now().Add(exchangeTimeout)); err != nil { //nolint:realclock socket deadline
		return fmt.Errorf("setting exchange deadline: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			// Connected and hung up without a request.
			return nil
		}
		return s.reply(conn, "", nil, &connection.ProtocolError{Reason: "invalid request", Err: err})
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		return s.reply(conn, "", nil, &connection.ProtocolError{Reason: "invalid request", Err: err})
	}
	if header.Action == "" {
		return s.reply(conn, "", nil, &connection.ProtocolError{Reason: "missing required field: action"})
	}

	fn, exists := s.actions[header.Action]
	if !exists {
		return s.reply(conn, header.Action, nil, fmt.Errorf("unknown action %q", header.Action))
	}

	result, err := fn(ctx, raw)
	return s.reply(conn, header.Action, result, err)
}

// reply writes the response for result or failure. It returns
// failure only when it is a protocol error, so the runner logs peer
// misbehaviour; action failures are the client's to report.
func (s *Server) reply(conn net.Conn, action string, result any, failure error) error {
	response := Response{OK: failure == nil}
	if failure != nil {
		response.Error = failure.Error()
		s.logger.Debug("control action failed", "action", action, "error", failure)
	} else if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			response = Response{Error: fmt.Sprintf("internal: encoding response: %v", err)}
		} else {
			response.Data = data
		}
	}

	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		return fmt.Errorf("writing %q response: %w", action, err)
	}

	var protocolErr *connection.ProtocolError
	if errors.As(failure, &protocolErr) {
		return failure
	}
	return nil
}

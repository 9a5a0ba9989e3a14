// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/bureau-foundation/switchboard/lib/codec"
	"github.com/bureau-foundation/switchboard/lib/connection"
)

// Action names served by ManagerActions.
const (
	ActionList        = "list"
	ActionConnections = "connections"
	ActionConnect     = "connect"
	ActionDisconnect  = "disconnect"
	ActionActions     = "actions"
)

// ListenFunc opens a listening socket for the connect action.
type ListenFunc func(ctx context.Context, network, address string) (connection.Listener, error)

// FactoryFunc resolves a handler kind for the connect action.
type FactoryFunc func(kind string) (connection.HandlerFactory, error)

// ManagerActions exposes a connection.Manager over a control Server.
type ManagerActions struct {
	Manager *connection.Manager

	// Listen and Factory enable the connect action. When either is
	// nil, connect requests are refused.
	Listen  ListenFunc
	Factory FactoryFunc

	// Reserved names cannot be connected or disconnected over the
	// control socket. The daemon reserves its own control listener.
	Reserved []string
}

// ConnectRequest is the payload of the connect action.
type ConnectRequest struct {
	Name        string  `cbor:"name"`
	Network     string  `cbor:"network"`
	Address     string  `cbor:"address"`
	Handler     string  `cbor:"handler"`
	AcceptRate  float64 `cbor:"accept_rate,omitempty"`
	AcceptBurst int     `cbor:"accept_burst,omitempty"`
}

// DisconnectRequest is the payload of the disconnect action.
type DisconnectRequest struct {
	Name     string `cbor:"name"`
	Forceful bool   `cbor:"forceful,omitempty"`
}

// DisconnectResponse reports a completed disconnect. Incomplete is
// set when some connections ignored cancellation; the listener is
// gone regardless.
type DisconnectResponse struct {
	Name       string `cbor:"name" json:"name"`
	Incomplete string `cbor:"incomplete,omitempty" json:"incomplete,omitempty"`
}

type nameRequest struct {
	Name string `cbor:"name"`
}

// Register adds the manager actions to server.
func (a *ManagerActions) Register(server *Server) {
	server.Handle(ActionActions, func(context.Context, []byte) (any, error) {
		return server.Actions(), nil
	})
	server.Handle(ActionList, a.list)
	server.Handle(ActionConnections, a.connections)
	server.Handle(ActionConnect, a.connect)
	server.Handle(ActionDisconnect, a.disconnect)
}

func (a *ManagerActions) list(context.Context, []byte) (any, error) {
	return a.Manager.Snapshot(), nil
}

func (a *ManagerActions) connections(_ context.Context, raw []byte) (any, error) {
	var request nameRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid connections request: %w", err)
	}
	if request.Name == "" {
		return nil, errors.New("missing required field: name")
	}
	acceptor, found := a.Manager.Lookup(request.Name)
	if !found {
		return nil, fmt.Errorf("listener %q: %w", request.Name, connection.ErrNotFound)
	}
	return acceptor.Connections(), nil
}

func (a *ManagerActions) connect(ctx context.Context, raw []byte) (any, error) {
	if a.Listen == nil || a.Factory == nil {
		return nil, errors.New("this server does not accept new listeners")
	}
	var request ConnectRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid connect request: %w", err)
	}
	var missing []string
	if request.Name == "" {
		missing = append(missing, "name")
	}
	if request.Address == "" {
		missing = append(missing, "address")
	}
	if request.Handler == "" {
		missing = append(missing, "handler")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required fields: %v", missing)
	}
	if request.Network == "" {
		request.Network = "tcp"
	}
	if slices.Contains(a.Reserved, request.Name) {
		return nil, fmt.Errorf("listener name %q is reserved", request.Name)
	}

	factory, err := a.Factory(request.Handler)
	if err != nil {
		return nil, err
	}
	listener, err := a.Listen(ctx, request.Network, request.Address)
	if err != nil {
		return nil, err
	}

	var options []connection.ConnectOption
	if request.AcceptRate > 0 {
		options = append(options, connection.WithAcceptRate(request.AcceptRate, request.AcceptBurst))
	}
	if err := a.Manager.Connect(request.Name, listener, factory, options...); err != nil {
		listener.Close()
		return nil, err
	}

	acceptor, found := a.Manager.Lookup(request.Name)
	if !found {
		// Disconnected again before we could describe it.
		return nil, fmt.Errorf("listener %q: %w", request.Name, connection.ErrNotFound)
	}
	return acceptor.Status(), nil
}

func (a *ManagerActions) disconnect(_ context.Context, raw []byte) (any, error) {
	var request DisconnectRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid disconnect request: %w", err)
	}
	if request.Name == "" {
		return nil, errors.New("missing required field: name")
	}
	if slices.Contains(a.Reserved, request.Name) {
		return nil, fmt.Errorf("listener name %q is reserved", request.Name)
	}

	mode := connection.Graceful
	if request.Forceful {
		mode = connection.Forceful
	}
	err := a.Manager.DisconnectMode(request.Name, mode)
	switch {
	case err == nil:
		return DisconnectResponse{Name: request.Name}, nil
	case errors.Is(err, connection.ErrShutdownIncomplete):
		return DisconnectResponse{Name: request.Name, Incomplete: err.Error()}, nil
	default:
		return nil, err
	}
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package connmetrics exports connection manager activity as Prometheus
// metrics.
//
// [Metrics] implements connection.Observer: pass it as the Observer in
// connection.ManagerConfig and every listener reports into it, labelled
// by listener name. The exported series are:
//
//   - switchboard_listener_up: 1 while a listener accepts, 0 after it stops
//   - switchboard_connections_accepted_total
//   - switchboard_connections_active
//   - switchboard_connections_closed_total{outcome}: ok, interrupted,
//     protocol_error, error
//   - switchboard_connection_duration_seconds
//   - switchboard_accept_errors_total
//
// [Metrics.ObservePool] adds gauges for a worker pool's occupancy, and
// [Metrics.Handler] serves everything in the Prometheus text format.
// Each Metrics owns its registry, so several can coexist in one
// process (and in tests).
package connmetrics

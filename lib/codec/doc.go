// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is switchboard's single CBOR configuration. The
// control socket envelopes and the status handler's snapshot both go
// through it, so every encoder in the tree produces identical bytes
// for identical values (Core Deterministic Encoding, RFC 8949 §4.2).
//
// Buffers:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Streams:
//
//	err := codec.NewEncoder(conn).Encode(request)
//	err = codec.NewDecoder(conn).Decode(&response)
//
// Types that switchboardctl also prints as JSON carry `json` tags;
// fxamacker/cbor falls back to them when no `cbor` tag is present.
// Types that only ever cross the wire as CBOR carry `cbor` tags. Never
// put both on one field.
package codec

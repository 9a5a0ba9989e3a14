// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports which build of switchboard is running.
//
// The release pipeline stamps [GitCommit], [GitDirty], [BuildTime] and
// [Version] with -ldflags -X. Development builds and tests see the
// placeholders ("unknown", "0.1.0-dev"). Both binaries answer
// --version with [Print], which writes [Full]; the daemon also logs
// [Info] at startup.
package version

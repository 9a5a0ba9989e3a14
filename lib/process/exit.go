// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"io"
	"os"
)

// ExitCoder is implemented by errors that carry their own exit code.
type ExitCoder interface {
	ExitCode() int
}

// Fatal writes "error: err" to stderr and exits. The exit code is 1
// unless err implements ExitCoder.
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

// report writes err to w and returns the exit code for it.
func report(w io.Writer, err error) int {
	fmt.Fprintf(w, "error: %v\n", err)
	if coder, ok := err.(ExitCoder); ok {
		return coder.ExitCode()
	}
	return 1
}

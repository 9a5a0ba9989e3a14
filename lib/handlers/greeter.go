// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/switchboard/lib/clock"
	"github.com/bureau-foundation/switchboard/lib/connection"
)

// Greeter defaults.
const (
	DefaultBanner      = "Welcome to switchboard!"
	DefaultMaxUnknown  = 3
	DefaultMaxMessages = 100

	// maxLineLength bounds a single command line. Longer lines are a
	// protocol error.
	maxLineLength = 4096
)

// GreeterConfig configures a Greeter.
type GreeterConfig struct {
	// Banner is the first line sent on every connection.
	Banner string

	// MaxUnknown is how many unrecognized commands a peer may send
	// before the connection is dropped with a protocol error.
	MaxUnknown int

	// MaxMessages caps the messages kept by PUT. Once full, each PUT
	// evicts the oldest message.
	MaxMessages int

	Clock clock.Clock
}

// Greeter is a line-oriented demo protocol. After the banner, each
// line the peer sends is one command (case-insensitive):
//
//	ECHO <text>   replies with text
//	PUT <text>    stores text as a message shared by all connections
//	              (the newest MaxMessages are kept)
//	LIST          replies with every stored message, then "END"
//	COUNT         replies with how many connections this greeter has served
//	TIME          replies with the current time in RFC 3339
//	QUIT          replies "BYE" and ends the connection
//
// Blank lines are ignored. Anything else gets "ERR unknown command".
// Replies are single lines unless noted. A Greeter is safe for
// concurrent use; one instance serves every connection on a listener.
type Greeter struct {
	banner      string
	maxUnknown  int
	maxMessages int
	clock       clock.Clock

	served atomic.Int64

	mu       sync.Mutex
	messages []string
}

// NewGreeter creates a Greeter. Zero config fields take the defaults.
func NewGreeter(config GreeterConfig) *Greeter {
	if config.Banner == "" {
		config.Banner = DefaultBanner
	}
	if config.MaxUnknown <= 0 {
		config.MaxUnknown = DefaultMaxUnknown
	}
	if config.MaxMessages <= 0 {
		config.MaxMessages = DefaultMaxMessages
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Greeter{
		banner:      config.Banner,
		maxUnknown:  config.MaxUnknown,
		maxMessages: config.MaxMessages,
		clock:       config.Clock,
	}
}

// Served returns how many connections the greeter has started
// serving.
func (g *Greeter) Served() int64 { return g.served.Load() }

func (g *Greeter) HandleConnection(_ context.Context, conn net.Conn) error {
	g.served.Add(1)

	writer := bufio.NewWriter(conn)
	reply := func(lines ...string) error {
		for _, line := range lines {
			writer.WriteString(line)
			writer.WriteByte('\n')
		}
		return writer.Flush()
	}

	if err := reply(g.banner); err != nil {
		return err
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 256), maxLineLength)

	unknown := 0
	for scanner.Scan() {
		command, argument, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		if command == "" {
			continue
		}

		var err error
		switch strings.ToUpper(command) {
		case "ECHO":
			err = reply(argument)
		case "PUT":
			g.put(argument)
			err = reply("OK")
		case "LIST":
			err = reply(append(g.list(), "END")...)
		case "COUNT":
			err = reply(strconv.FormatInt(g.served.Load(), 10))
		case "TIME":
			err = reply(g.clock.Now().Format(time.RFC3339))
		case "QUIT":
			return reply("BYE")
		default:
			unknown++
			if unknown >= g.maxUnknown {
				reply("ERR too many unknown commands")
				return &connection.ProtocolError{
					Reason: fmt.Sprintf("%d unknown commands, last %q", unknown, command),
				}
			}
			err = reply("ERR unknown command")
		}
		if err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return &connection.ProtocolError{Reason: "command line too long", Err: err}
		}
		return err
	}
	return nil
}

func (g *Greeter) put(message string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.messages) >= g.maxMessages {
		evict := len(g.messages) - g.maxMessages + 1
		g.messages = append(g.messages[:0], g.messages[evict:]...)
	}
	g.messages = append(g.messages, message)
}

func (g *Greeter) list() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.messages...)
}

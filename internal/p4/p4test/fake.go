// Package p4test provides a scripted in-memory p4.Conn for tests.
package p4test

import (
	"context"
	"fmt"
	"sync"

	"github.com/p4mcp/p4-mcp-server/internal/p4"
)

// Response is the scripted outcome of one command line.
type Response struct {
	Records []p4.Record
	Err     error
}

// Conn is a fake connection. Commands are matched by their full command line
// (p4.Command.String()); RunFn, when set, takes precedence.
type Conn struct {
	mu        sync.Mutex
	identity  p4.Identity
	responses map[string]Response
	calls     []p4.Command
	closed    int

	RunFn  func(cmd p4.Command) ([]p4.Record, error)
	PingFn func() error
}

// NewConn returns a fake connection for user on client.
func NewConn(user, client string) *Conn {
	return &Conn{
		identity:  p4.Identity{Port: "fake:1666", User: user, Client: client},
		responses: map[string]Response{},
	}
}

// On scripts the response for a command line such as "clients -e ws1".
func (c *Conn) On(commandLine string, records ...p4.Record) *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[commandLine] = Response{Records: records}
	return c
}

// OnError scripts a failure for a command line.
func (c *Conn) OnError(commandLine string, err error) *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[commandLine] = Response{Err: err}
	return c
}

// Run implements p4.Conn.
func (c *Conn) Run(_ context.Context, cmd p4.Command) ([]p4.Record, error) {
	c.mu.Lock()
	c.calls = append(c.calls, cmd)
	runFn := c.RunFn
	response, ok := c.responses[cmd.String()]
	c.mu.Unlock()

	if runFn != nil {
		return runFn(cmd)
	}
	if !ok {
		return nil, &p4.Error{Command: cmd.Name, Severity: p4.SeverityFailed, Messages: []string{fmt.Sprintf("unscripted command: %s", cmd.String())}}
	}
	return response.Records, response.Err
}

// Ping implements p4.Conn.
func (c *Conn) Ping(context.Context) error {
	if c.PingFn != nil {
		return c.PingFn()
	}
	return nil
}

// Identity implements p4.Conn.
func (c *Conn) Identity() p4.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// SetClient implements p4.Conn.
func (c *Conn) SetClient(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity.Client = name
}

// Close implements p4.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

// Calls returns the command lines run so far, in order.
func (c *Conn) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.calls))
	for _, cmd := range c.calls {
		out = append(out, cmd.String())
	}
	return out
}

// Commands returns the commands run so far, including stdin input.
func (c *Conn) Commands() []p4.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]p4.Command, len(c.calls))
	copy(out, c.calls)
	return out
}

// Closed reports how many times Close was called.
func (c *Conn) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Dialer returns a dialer that always hands out conn.
func Dialer(conn *Conn) p4.Dialer {
	return func(context.Context, p4.Settings) (p4.Conn, error) {
		return conn, nil
	}
}

// Info is a typical "info" record for user.
func Info(user string) p4.Record {
	return p4.Record{
		"userName":      user,
		"clientName":    "ws1",
		"serverAddress": "perforce:1666",
		"serverVersion": "P4D/LINUX26X86_64/2024.1/2596294 (2024/05/10)",
	}
}

// Text is a text-only record.
func Text(text string) p4.Record {
	return p4.Record{p4.TextKey: text}
}

// Warning builds a warning-level backend error.
func Warning(command, message string) error {
	return &p4.Error{Command: command, Severity: p4.SeverityWarning, Messages: []string{message}}
}

// Failure builds a failed-level backend error.
func Failure(command, message string) error {
	return &p4.Error{Command: command, Severity: p4.SeverityFailed, Messages: []string{message}}
}

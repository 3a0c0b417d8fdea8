// Package p4 is a thin client for a Perforce server driven through the p4
// command-line program with tagged JSON output.
package p4

import (
	"context"
	"strings"
)

// ProgramName and ProgramVersion are reported to the server on every command.
const (
	ProgramName    = "P4-MCP-Server"
	ProgramVersion = "2025.1.2830393"
)

// Command is one backend invocation.
type Command struct {
	Name string
	Args []string
	// Untagged requests plain text output (diff, describe -dw).
	Untagged bool
	// Input is written to stdin; used by form commands such as "client -i".
	Input []byte
	// Client overrides the connection's workspace for this command only.
	Client string
}

// Cmd builds a tagged command.
func Cmd(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// String renders the command line for logs.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Name)
	parts = append(parts, c.Args...)
	return strings.Join(parts, " ")
}

// Settings identifies the server, user and workspace a connection talks to.
// Empty fields defer to P4CONFIG and the process environment.
type Settings struct {
	Port   string
	User   string
	Client string
	Binary string
	// TicketAuth refreshes the login ticket ("login -s") on connect.
	TicketAuth bool
}

// Identity is the effective identity of a live connection.
type Identity struct {
	Port   string `json:"server"`
	User   string `json:"user"`
	Client string `json:"client,omitempty"`
}

// Conn is one logical session with the server.
type Conn interface {
	Run(ctx context.Context, cmd Command) ([]Record, error)
	Ping(ctx context.Context) error
	Identity() Identity
	SetClient(name string)
	Close() error
}

// Dialer opens a Conn.
type Dialer func(ctx context.Context, settings Settings) (Conn, error)

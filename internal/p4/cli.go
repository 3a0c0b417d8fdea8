package p4

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// execResult is the raw outcome of one p4 process.
type execResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// executor runs the p4 binary; replaced in tests.
type executor func(ctx context.Context, binary string, args []string, stdin []byte) (execResult, error)

// CLIConn runs every command as a separate p4 process. The server session is
// carried by the port, user and client globals plus the ticket file.
type CLIConn struct {
	mu       sync.RWMutex
	settings Settings
	exec     executor
	logger   zerolog.Logger
}

// NewCLIDialer returns a Dialer producing CLIConn values. The dialer checks
// the binary is on PATH and the server answers "info".
func NewCLIDialer(logger zerolog.Logger) Dialer {
	return func(ctx context.Context, settings Settings) (Conn, error) {
		binary := strings.TrimSpace(settings.Binary)
		if binary == "" {
			binary = "p4"
		}
		resolved, err := exec.LookPath(binary)
		if err != nil {
			return nil, fmt.Errorf("locating p4 binary %q: %w", binary, err)
		}
		settings.Binary = resolved
		conn := newCLIConn(settings, runProcess, logger)
		if err := conn.Ping(ctx); err != nil {
			return nil, err
		}
		return conn, nil
	}
}

func newCLIConn(settings Settings, run executor, logger zerolog.Logger) *CLIConn {
	if strings.TrimSpace(settings.Binary) == "" {
		settings.Binary = "p4"
	}
	return &CLIConn{
		settings: settings,
		exec:     run,
		logger:   logger.With().Str("component", "p4").Logger(),
	}
}

// Run executes cmd and returns its records.
func (c *CLIConn) Run(ctx context.Context, cmd Command) ([]Record, error) {
	c.mu.RLock()
	settings := c.settings
	c.mu.RUnlock()
	if cmd.Client != "" {
		settings.Client = cmd.Client
	}

	args := globalArgs(settings, cmd.Untagged)
	args = append(args, cmd.Name)
	args = append(args, cmd.Args...)

	c.logger.Debug().Str("command", cmd.String()).Msg("running p4 command")
	result, err := c.exec(ctx, settings.Binary, args, cmd.Input)
	if err != nil {
		return nil, fmt.Errorf("running p4 %s: %w", cmd.Name, err)
	}
	return parseOutput(cmd.Name, result.Stdout, result.Stderr, result.ExitCode)
}

// Ping checks the server is reachable.
func (c *CLIConn) Ping(ctx context.Context) error {
	_, err := c.Run(ctx, Cmd("info", "-s"))
	return err
}

// Identity returns the configured identity.
func (c *CLIConn) Identity() Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Identity{Port: c.settings.Port, User: c.settings.User, Client: c.settings.Client}
}

// SetClient changes the workspace used by later commands.
func (c *CLIConn) SetClient(name string) {
	c.mu.Lock()
	c.settings.Client = strings.TrimSpace(name)
	c.mu.Unlock()
}

// Close is a no-op; each command is its own process.
func (c *CLIConn) Close() error {
	return nil
}

func globalArgs(settings Settings, untagged bool) []string {
	args := make([]string, 0, 10)
	if settings.Port != "" {
		args = append(args, "-p", settings.Port)
	}
	if settings.User != "" {
		args = append(args, "-u", settings.User)
	}
	if settings.Client != "" {
		args = append(args, "-c", settings.Client)
	}
	args = append(args, "-zprog="+ProgramName, "-zversion="+ProgramVersion)
	if !untagged {
		args = append(args, "-ztag")
	}
	return append(args, "-Mj")
}

func runProcess(ctx context.Context, binary string, args []string, stdin []byte) (execResult, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	result := execResult{
		Stdout: stdoutBuf.Bytes(),
		Stderr: stderrBuf.Bytes(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return execResult{}, err
	}
	return result, nil
}

// Package connection owns the single backend connection shared by every tool call.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/p4mcp/p4-mcp-server/internal/p4"
)

// ConnectionError reports that no live connection could be established.
type ConnectionError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *ConnectionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("p4 connection %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Session is the snapshot recorded after a successful connect.
type Session struct {
	SessionID      string            `json:"session_id"`
	StartTime      time.Time         `json:"start_time"`
	ConnectionTime time.Time         `json:"connection_time"`
	Identity       p4.Identity       `json:"connection_info"`
	ServerInfo     map[string]string `json:"server_info,omitempty"`
	ServerVersion  string            `json:"server_version,omitempty"`
	PID            int               `json:"pid"`
}

// Options configures a Manager.
type Options struct {
	Settings p4.Settings
	Dialer   p4.Dialer
	// SessionDir, when set, receives p4session_<id>.json while connected.
	SessionDir string
	Logger     zerolog.Logger
	// Reconnects counts reconnect attempts by outcome; optional.
	Reconnects *prometheus.CounterVec
}

// Manager holds at most one connection and serializes access to it.
type Manager struct {
	mu         sync.Mutex
	settings   p4.Settings
	dial       p4.Dialer
	conn       p4.Conn
	session    *Session
	sessionID  string
	started    time.Time
	sessionDir string
	reconnects *prometheus.CounterVec
	logger     zerolog.Logger
}

// NewManager creates a Manager. No connection is opened until first use.
func NewManager(opts Options) *Manager {
	logger := opts.Logger.With().Str("component", "connection").Logger()
	settings := opts.Settings

	missing := false
	if strings.TrimSpace(settings.Port) == "" {
		missing = true
		logger.Warn().Msg("P4PORT not specified; falling back to P4CONFIG file or environment variables")
	}
	if strings.TrimSpace(settings.User) == "" {
		missing = true
		logger.Warn().Msg("P4USER not specified; falling back to P4CONFIG file or environment variables")
	}
	if !missing {
		logger.Info().Str("p4port", settings.Port).Str("p4user", settings.User).Msg("using p4 connection parameters")
	}

	return &Manager{
		settings:   settings,
		dial:       opts.Dialer,
		sessionID:  uuid.NewString(),
		started:    time.Now(),
		sessionDir: strings.TrimSpace(opts.SessionDir),
		reconnects: opts.Reconnects,
		logger:     logger,
	}
}

// Handle is a connection borrowed for the duration of one Acquire callback.
type Handle struct {
	conn    p4.Conn
	manager *Manager
}

// Run executes one backend command.
func (h *Handle) Run(ctx context.Context, cmd p4.Command) ([]p4.Record, error) {
	return h.conn.Run(ctx, cmd)
}

// Identity returns the identity of the borrowed connection.
func (h *Handle) Identity() p4.Identity {
	return h.conn.Identity()
}

// SwitchClient makes name the workspace for this and later calls.
func (h *Handle) SwitchClient(name string) {
	h.manager.settings.Client = strings.TrimSpace(name)
	h.conn.SetClient(name)
	h.manager.logger.Info().Str("client", name).Msg("switched active workspace")
}

// Acquire runs fn with the live connection, connecting or reconnecting
// first when needed. Callers are serialized.
func (m *Manager) Acquire(ctx context.Context, fn func(*Handle) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureLocked(ctx); err != nil {
		return err
	}

	err := fn(&Handle{conn: m.conn, manager: m})
	if err != nil && p4.IsConnectFailure(err) {
		m.logger.Warn().Err(err).Msg("backend connection lost; reconnecting on next use")
		_ = m.dropLocked()
	}
	return err
}

// Session returns the current session snapshot, if connected.
func (m *Manager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// ServerVersion returns the parsed server release, or "" before connect.
func (m *Manager) ServerVersion() string {
	session, ok := m.Session()
	if !ok {
		return ""
	}
	return session.ServerVersion
}

// SessionID identifies this manager's session.
func (m *Manager) SessionID() string {
	return m.sessionID
}

// Ping verifies the backend is reachable, connecting if necessary.
func (m *Manager) Ping(ctx context.Context) error {
	return m.Acquire(ctx, func(*Handle) error { return nil })
}

// Close ends the session and discards the snapshot.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	m.logger.Info().
		Str("session_id", m.sessionID).
		Dur("duration", time.Since(m.started)).
		Msg("p4 session ended")
	return m.dropLocked()
}

func (m *Manager) ensureLocked(ctx context.Context) error {
	if m.conn == nil {
		if err := m.connectLocked(ctx); err != nil {
			return &ConnectionError{Op: "connect", Err: err}
		}
		return nil
	}

	pingErr := m.conn.Ping(ctx)
	if pingErr == nil {
		return nil
	}
	m.logger.Warn().Err(pingErr).Msg("backend connection is not alive; reconnecting")
	_ = m.dropLocked()
	if err := m.connectLocked(ctx); err != nil {
		m.countReconnect("failure")
		return &ConnectionError{Op: "reconnect", Err: err}
	}
	m.countReconnect("success")
	return nil
}

func (m *Manager) connectLocked(ctx context.Context) error {
	if m.dial == nil {
		return errors.New("no dialer configured")
	}
	m.logger.Info().Msg("connecting to p4 server")
	conn, err := m.dial(ctx, m.settings)
	if err != nil {
		return err
	}

	if m.settings.TicketAuth {
		if _, err := conn.Run(ctx, p4.Cmd("login", "-s")); err != nil {
			_ = conn.Close()
			return fmt.Errorf("checking login ticket: %w", err)
		}
	}

	records, err := conn.Run(ctx, p4.Cmd("info"))
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("reading server info: %w", err)
	}
	var info p4.Info
	serverInfo := map[string]string{}
	if tagged := p4.TaggedOf(records); len(tagged) > 0 {
		if err := p4.Decode(tagged[0], &info); err != nil {
			_ = conn.Close()
			return err
		}
		serverInfo = tagged[0].StringFields()
	}

	m.conn = conn
	m.recordSessionLocked(info, serverInfo)
	return nil
}

func (m *Manager) recordSessionLocked(info p4.Info, serverInfo map[string]string) {
	now := time.Now()
	m.session = &Session{
		SessionID:      m.sessionID,
		StartTime:      m.started,
		ConnectionTime: now,
		Identity:       m.conn.Identity(),
		ServerInfo:     serverInfo,
		ServerVersion:  info.Release(),
		PID:            os.Getpid(),
	}
	m.logger.Info().
		Str("session_id", m.sessionID).
		Str("server_version", m.session.ServerVersion).
		Msg("p4 session established")

	if m.sessionDir == "" {
		return
	}
	encoded, err := json.MarshalIndent(m.session, "", "  ")
	if err != nil {
		m.logger.Error().Err(err).Msg("could not encode session file")
		return
	}
	if err := os.MkdirAll(m.sessionDir, 0o755); err != nil {
		m.logger.Error().Err(err).Msg("could not create session directory")
		return
	}
	if err := os.WriteFile(m.sessionFile(), encoded, 0o600); err != nil {
		m.logger.Error().Err(err).Msg("could not save session file")
	}
}

func (m *Manager) dropLocked() error {
	var closeErr error
	if m.conn != nil {
		closeErr = m.conn.Close()
	}
	m.conn = nil
	m.session = nil
	if m.sessionDir != "" {
		if err := os.Remove(m.sessionFile()); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn().Err(err).Msg("could not remove session file")
		}
	}
	return closeErr
}

func (m *Manager) sessionFile() string {
	return filepath.Join(m.sessionDir, fmt.Sprintf("p4session_%s.json", m.sessionID))
}

func (m *Manager) countReconnect(result string) {
	if m.reconnects != nil {
		m.reconnects.WithLabelValues(result).Inc()
	}
}

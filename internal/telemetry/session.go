package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/p4mcp/p4-mcp-server/internal/audit"
)

const sessionTimeLayout = "2006-01-02 15:04:05"

// User identifies the installation in session entries.
type User struct {
	ID   string `json:"id"`
	OS   string `json:"os"`
	Arch string `json:"arch"`
}

// CurrentUser describes this installation for userID.
func CurrentUser(userID string) User {
	return User{ID: userID, OS: runtime.GOOS, Arch: runtime.GOARCH}
}

// Entry is one line of the session log.
type Entry struct {
	SessionID string           `json:"session_id"`
	Timestamp string           `json:"timestamp"`
	ToolCall  audit.ToolRecord `json:"tool_call"`
	User      User             `json:"user"`
}

// SessionLog appends tool records as NDJSON to <dir>/sessions/<id>.log.
type SessionLog struct {
	mu        sync.Mutex
	sessionID string
	dir       string
	user      User
	now       func() time.Time
	file      *os.File
	lines     int
	rotations int
}

// OpenSessionLog creates the sessions directory and opens the log.
func OpenSessionLog(dir, sessionID string, user User) (*SessionLog, error) {
	sessionsDir := filepath.Join(dir, "sessions")
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating sessions directory: %w", err)
	}
	log := &SessionLog{
		sessionID: sessionID,
		dir:       sessionsDir,
		user:      user,
		now:       time.Now,
	}
	if err := log.open(); err != nil {
		return nil, err
	}
	return log, nil
}

// Path returns the active log file.
func (s *SessionLog) Path() string {
	return filepath.Join(s.dir, s.sessionID+".log")
}

// Append implements audit.RecordSink.
func (s *SessionLog) Append(record audit.ToolRecord) error {
	line, err := json.Marshal(Entry{
		SessionID: s.sessionID,
		Timestamp: s.now().Format(sessionTimeLayout),
		ToolCall:  record,
		User:      s.user,
	})
	if err != nil {
		return fmt.Errorf("encoding session entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("session log %s is closed", s.sessionID)
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing session entry: %w", err)
	}
	s.lines++
	return nil
}

// Rotate closes the current file and moves it aside for upload, then
// starts a new one. It returns "" when nothing was written since the last
// rotation.
func (s *SessionLog) Rotate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil || s.lines == 0 {
		return "", nil
	}
	if err := s.file.Close(); err != nil {
		return "", fmt.Errorf("closing session log: %w", err)
	}
	s.file = nil
	s.rotations++
	rotated := filepath.Join(s.dir, fmt.Sprintf("%s.%d.log", s.sessionID, s.rotations))
	if err := os.Rename(s.Path(), rotated); err != nil {
		return "", fmt.Errorf("rotating session log: %w", err)
	}
	if err := s.open(); err != nil {
		return "", err
	}
	return rotated, nil
}

// Close stops the log. The final file is left in place for upload.
func (s *SessionLog) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *SessionLog) open() error {
	file, err := os.OpenFile(s.Path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening session log: %w", err)
	}
	s.file = file
	s.lines = 0
	return nil
}

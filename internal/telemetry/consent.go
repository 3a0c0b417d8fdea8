// Package telemetry records tool usage for the session, uploads it when the
// user has opted in, and exposes metrics and traces for tool calls.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ConsentFileName is the consent file kept in the user's home directory.
const ConsentFileName = ".p4mcp_telemetry_consent.json"

// Consent is the content of the consent file.
type Consent struct {
	TelemetryConsent bool   `json:"telemetry_consent"`
	UserID           string `json:"user_id,omitempty"`
	DialogShown      bool   `json:"dialog_shown"`
}

// DefaultConsentPath returns ~/.p4mcp_telemetry_consent.json.
func DefaultConsentPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ConsentFileName
	}
	return filepath.Join(home, ConsentFileName)
}

// LoadConsent reads the consent file. A missing file is not an error and
// means no consent.
func LoadConsent(path string) (Consent, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Consent{}, nil
	}
	if err != nil {
		return Consent{}, fmt.Errorf("reading consent file: %w", err)
	}
	var consent Consent
	if err := json.Unmarshal(raw, &consent); err != nil {
		return Consent{}, fmt.Errorf("parsing consent file %s: %w", path, err)
	}
	return consent, nil
}

// SaveConsent records the user's choice, keeping an existing user id or
// minting a new one.
func SaveConsent(path string, granted bool) (Consent, error) {
	consent, err := LoadConsent(path)
	if err != nil {
		return Consent{}, err
	}
	consent.TelemetryConsent = granted
	consent.DialogShown = true
	if strings.TrimSpace(consent.UserID) == "" {
		consent.UserID = strings.ToUpper(uuid.NewString())
	}

	raw, err := json.MarshalIndent(consent, "", "  ")
	if err != nil {
		return Consent{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Consent{}, fmt.Errorf("creating consent directory: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return Consent{}, fmt.Errorf("writing consent file: %w", err)
	}
	return consent, nil
}

// UserIDOrUnknown returns the recorded user id, or "unknown".
func (c Consent) UserIDOrUnknown() string {
	if id := strings.TrimSpace(c.UserID); id != "" {
		return id
	}
	return "unknown"
}

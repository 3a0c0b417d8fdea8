package server

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/p4mcp/p4-mcp-server/internal/policy"
)

var (
	// ErrSessionTokenMissing indicates no MCP session token was configured.
	ErrSessionTokenMissing = errors.New("mcp session token is not configured")
	// ErrBearerTokenMissing indicates Authorization header did not contain a bearer token.
	ErrBearerTokenMissing = errors.New("missing or malformed Authorization bearer token")
	// ErrBearerTokenInvalid indicates provided bearer token did not match configured session token.
	ErrBearerTokenInvalid = errors.New("invalid bearer token for MCP session")
)

// SessionPrincipal carries caller identity for tool policy checks.
type SessionPrincipal struct {
	Subject string
	Scopes  []string
}

// SessionAuthenticator authenticates HTTP MCP calls.
type SessionAuthenticator interface {
	AuthenticateHTTP(r *http.Request) (SessionPrincipal, error)
}

// TokenSessionAuthenticator validates incoming bearer tokens against a configured
// MCP session token and exposes resolved principal scopes.
type TokenSessionAuthenticator struct {
	token     string
	principal SessionPrincipal
}

// NewTokenSessionAuthenticator creates a new session authenticator.
//
// Scope derivation:
// - JWT tokens use their scope claims.
// - Opaque tokens get p4:admin.
func NewTokenSessionAuthenticator(token string) *TokenSessionAuthenticator {
	trimmed := strings.TrimSpace(token)
	return &TokenSessionAuthenticator{
		token:     trimmed,
		principal: deriveSessionPrincipal(trimmed),
	}
}

// AuthenticateHTTP validates Authorization bearer token.
func (a *TokenSessionAuthenticator) AuthenticateHTTP(r *http.Request) (SessionPrincipal, error) {
	if strings.TrimSpace(a.token) == "" {
		return SessionPrincipal{}, fmt.Errorf("%w; set P4MCP_TOKEN", ErrSessionTokenMissing)
	}
	presented := parseBearerToken(r.Header.Get("Authorization"))
	if presented == "" {
		return SessionPrincipal{}, ErrBearerTokenMissing
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(a.token)) != 1 {
		return SessionPrincipal{}, ErrBearerTokenInvalid
	}
	return clonePrincipal(a.principal), nil
}

func clonePrincipal(p SessionPrincipal) SessionPrincipal {
	clonedScopes := make([]string, len(p.Scopes))
	copy(clonedScopes, p.Scopes)
	return SessionPrincipal{
		Subject: p.Subject,
		Scopes:  clonedScopes,
	}
}

func deriveSessionPrincipal(token string) SessionPrincipal {
	subject := "mcp-session"
	scopes := []string{policy.ScopeAdmin}

	if parsedSubject, parsedScopes, ok := parseJWTPrincipal(token); ok {
		if parsedSubject != "" {
			subject = parsedSubject
		}
		scopes = parsedScopes
	}

	if len(scopes) == 0 {
		scopes = nil
	}

	return SessionPrincipal{
		Subject: subject,
		Scopes:  scopes,
	}
}

func parseBearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// parseJWTPrincipal reads subject and scopes from a JWT. The signature is not
// checked: the token has already matched the configured session token.
func parseJWTPrincipal(token string) (string, []string, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return "", nil, false
	}

	subject, _ := claims.GetSubject()
	scopes := parseScopeClaims(claims["scope"])
	if len(scopes) == 0 {
		scopes = parseScopeClaims(claims["scopes"])
	}
	if len(scopes) == 0 {
		scopes = parseScopeClaims(claims["scp"])
	}
	for _, role := range parseScopeClaims(claims["roles"]) {
		if role == "admin" {
			scopes = append(scopes, policy.ScopeAdmin)
			break
		}
	}

	if len(scopes) > 0 {
		// De-duplicate while preserving order.
		normalized := make([]string, 0, len(scopes))
		seen := make(map[string]struct{}, len(scopes))
		for _, scope := range scopes {
			trimmed := strings.TrimSpace(scope)
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			normalized = append(normalized, trimmed)
		}
		scopes = normalized
	}

	return strings.TrimSpace(subject), scopes, true
}

func parseScopeClaims(value any) []string {
	switch typed := value.(type) {
	case nil:
		return nil
	case string:
		parts := strings.Fields(typed)
		if len(parts) == 0 {
			return nil
		}
		return parts
	case []string:
		result := make([]string, 0, len(typed))
		for _, scope := range typed {
			trimmed := strings.TrimSpace(scope)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	case []any:
		result := make([]string, 0, len(typed))
		for _, item := range typed {
			if asString, ok := item.(string); ok {
				trimmed := strings.TrimSpace(asString)
				if trimmed != "" {
					result = append(result, trimmed)
				}
			}
		}
		return result
	default:
		return nil
	}
}

func requireToolScopes(tool ToolSpec, principal SessionPrincipal) error {
	return policy.RequireScopes(tool.Name, tool.RequiredScopes, principal.Scopes)
}

package policy

import (
	"fmt"
	"slices"
	"strings"
)

// Scopes carried by HTTP session tokens.
const (
	ScopeRead   = "p4:read"
	ScopeWrite  = "p4:write"
	ScopeDelete = "p4:delete"
	ScopeAdmin  = "p4:admin"
)

// implied lists the scopes a granted scope also confers.
var implied = map[string][]string{
	ScopeWrite:  {ScopeRead},
	ScopeDelete: {ScopeRead},
}

// RequireScopes checks that granted scopes cover a tool's required scopes.
// No required scopes means no gate, and p4:admin grants everything.
func RequireScopes(toolName string, required, granted []string) error {
	requiredScopes := normalizeScopeList(required)
	if len(requiredScopes) == 0 {
		return nil
	}

	grantedScopes := expandScopes(normalizeScopeList(granted))
	if slices.Contains(grantedScopes, ScopeAdmin) {
		return nil
	}

	var missing []string
	for _, scope := range requiredScopes {
		if !slices.Contains(grantedScopes, scope) {
			missing = append(missing, scope)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	tool := strings.TrimSpace(toolName)
	if tool == "" {
		tool = "unknown"
	}
	grantedSummary := "none"
	if len(granted) > 0 {
		grantedSummary = strings.Join(normalizeScopeList(granted), ", ")
	}
	return fmt.Errorf("tool %s missing required scope(s): %s (granted: %s)",
		tool, strings.Join(missing, ", "), grantedSummary)
}

func expandScopes(scopes []string) []string {
	out := slices.Clone(scopes)
	for _, scope := range scopes {
		for _, extra := range implied[scope] {
			if !slices.Contains(out, extra) {
				out = append(out, extra)
			}
		}
	}
	return out
}

func normalizeScopeList(scopes []string) []string {
	result := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		trimmed := strings.ToLower(strings.TrimSpace(scope))
		if trimmed == "" || slices.Contains(result, trimmed) {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}

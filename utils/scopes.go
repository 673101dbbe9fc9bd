package utils

import (
	"sort"
	"strings"
)

// SplitScopes parses a space-delimited scope string (RFC 6749 §3.3). An
// empty or all-whitespace input yields nil, not an empty slice.
func SplitScopes(s string) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// JoinScopes encodes a scope list as a space-delimited string.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ScopesCover reports whether every required scope is present in granted.
func ScopesCover(granted, required []string) bool {
	return len(MissingScopes(granted, required)) == 0
}

// MissingScopes returns the required scopes absent from granted, sorted.
func MissingScopes(granted, required []string) []string {
	have := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		have[s] = struct{}{}
	}
	var missing []string
	seen := make(map[string]struct{}, len(required))
	for _, s := range required {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if _, ok := have[s]; !ok {
			missing = append(missing, s)
		}
	}
	sort.Strings(missing)
	return missing
}

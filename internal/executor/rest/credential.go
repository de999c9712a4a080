package rest

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeyInfo describes a Supabase style API key. Only the claims are read; the
// signature is checked by the server.
type KeyInfo struct {
	Role      string
	Ref       string
	ExpiresAt time.Time
}

type keyClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
	Ref  string `json:"ref"`
}

// InspectKey decodes a JWT API key. ok is false for opaque keys such as
// sb_secret_... which carry no claims.
func InspectKey(credential string) (info KeyInfo, ok bool, err error) {
	credential = strings.TrimSpace(credential)
	if strings.Count(credential, ".") != 2 {
		return KeyInfo{}, false, nil
	}

	var claims keyClaims
	if _, _, err := jwt.NewParser().ParseUnverified(credential, &claims); err != nil {
		return KeyInfo{}, false, fmt.Errorf("rest: malformed API key: %w", err)
	}

	info = KeyInfo{Role: claims.Role, Ref: claims.Ref}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, true, nil
}

// KeyWarnings lists problems with the credential that make RPC calls fail
// in ways that are hard to diagnose from the server response alone.
func KeyWarnings(credential, execFunction string, now time.Time) []string {
	info, ok, err := InspectKey(credential)
	if err != nil {
		return []string{err.Error()}
	}
	if !ok {
		return nil
	}

	var warnings []string
	if !info.ExpiresAt.IsZero() && now.After(info.ExpiresAt) {
		warnings = append(warnings, fmt.Sprintf("API key expired at %s", info.ExpiresAt.UTC().Format(time.RFC3339)))
	}
	if info.Role == "anon" || info.Role == "authenticated" {
		warnings = append(warnings, fmt.Sprintf("API key has role %q; %s must be executable by that role or DDL will be rejected", info.Role, execFunction))
	}
	return warnings
}

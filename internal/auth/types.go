package auth

import (
	"strings"
	"time"
)

// Token represents an API token for transport-level access.
type Token struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Scope      string     `json:"scope"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// Scope constants
const (
	ScopeAdmin    = "admin"
	ScopeAdminRO  = "admin:ro"
	ScopeReadOnly = "read-only" // Deprecated: use ScopeAdminRO
)

// ScopeManifest returns a manifest-scoped scope string: a token carrying it
// may only realize sessions for the named manifest.
func ScopeManifest(manifestName string) string {
	return "manifest:" + manifestName
}

// ScopeManifestRO returns a read-only manifest-scoped scope string.
func ScopeManifestRO(manifestName string) string {
	return "manifest:" + manifestName + ":ro"
}

// IsAdminScope returns true if scope is admin or admin:ro
func IsAdminScope(scope string) bool {
	return scope == ScopeAdmin || scope == ScopeAdminRO || scope == ScopeReadOnly
}

// IsManifestScope returns true if scope is manifest:<name> or manifest:<name>:ro
func IsManifestScope(scope string) bool {
	return strings.HasPrefix(scope, "manifest:")
}

// IsReadOnlyScope returns true if scope is read-only (admin:ro, manifest:*:ro, or legacy read-only)
func IsReadOnlyScope(scope string) bool {
	return scope == ScopeAdminRO || scope == ScopeReadOnly || strings.HasSuffix(scope, ":ro")
}

// ExtractManifestName extracts the manifest name from a manifest scope,
// returning empty if scope isn't manifest-scoped.
func ExtractManifestName(scope string) string {
	if !strings.HasPrefix(scope, "manifest:") {
		return ""
	}
	rest := scope[len("manifest:"):]
	if strings.HasSuffix(rest, ":ro") {
		return rest[:len(rest)-3]
	}
	return rest
}

// AuthType represents the type of authentication used
type AuthType int

const (
	AuthTypeToken AuthType = iota
)

// AuthContext holds authentication information for a request
type AuthContext struct {
	Type  AuthType
	Token *Token
}

// CanAccessManifest checks if the auth context allows realizing sessions
// for the named manifest.
func (a *AuthContext) CanAccessManifest(manifestName string) bool {
	if a.Token == nil {
		return false
	}
	// Admin scopes (admin, admin:ro, read-only) can access any manifest
	if IsAdminScope(a.Token.Scope) {
		return true
	}
	if IsManifestScope(a.Token.Scope) {
		return ExtractManifestName(a.Token.Scope) == manifestName
	}
	return false
}

// CanWrite checks if the auth context allows write operations
func (a *AuthContext) CanWrite() bool {
	if a.Token == nil {
		return false
	}
	return !IsReadOnlyScope(a.Token.Scope)
}

// IsAdmin checks if the auth context has admin scope (full admin, not read-only)
func (a *AuthContext) IsAdmin() bool {
	if a.Type != AuthTypeToken || a.Token == nil {
		return false
	}
	return a.Token.Scope == ScopeAdmin
}

package auth

import (
	"testing"
)

func TestAuthContext_CanAccessManifest(t *testing.T) {
	tests := []struct {
		name         string
		authCtx      *AuthContext
		manifestName string
		want         bool
	}{
		{
			name:         "nil token",
			authCtx:      &AuthContext{Type: AuthTypeToken, Token: nil},
			manifestName: "manifest-1",
			want:         false,
		},
		{
			name:         "admin scope can access any manifest",
			authCtx:      &AuthContext{Type: AuthTypeToken, Token: &Token{Scope: ScopeAdmin}},
			manifestName: "manifest-1",
			want:         true,
		},
		{
			name:         "admin:ro scope can access any manifest",
			authCtx:      &AuthContext{Type: AuthTypeToken, Token: &Token{Scope: ScopeAdminRO}},
			manifestName: "manifest-1",
			want:         true,
		},
		{
			name:         "manifest scope can access matching manifest",
			authCtx:      &AuthContext{Type: AuthTypeToken, Token: &Token{Scope: "manifest:manifest-1"}},
			manifestName: "manifest-1",
			want:         true,
		},
		{
			name:         "manifest scope cannot access different manifest",
			authCtx:      &AuthContext{Type: AuthTypeToken, Token: &Token{Scope: "manifest:manifest-1"}},
			manifestName: "manifest-2",
			want:         false,
		},
		{
			name:         "unknown scope cannot access manifest",
			authCtx:      &AuthContext{Type: AuthTypeToken, Token: &Token{Scope: "invalid"}},
			manifestName: "manifest-1",
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.authCtx.CanAccessManifest(tt.manifestName); got != tt.want {
				t.Errorf("CanAccessManifest() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthContext_CanWrite(t *testing.T) {
	tests := []struct {
		name    string
		authCtx *AuthContext
		want    bool
	}{
		{
			name:    "nil token",
			authCtx: &AuthContext{Type: AuthTypeToken, Token: nil},
			want:    false,
		},
		{
			name:    "admin scope can write",
			authCtx: &AuthContext{Type: AuthTypeToken, Token: &Token{Scope: ScopeAdmin}},
			want:    true,
		},
		{
			name:    "admin:ro scope cannot write",
			authCtx: &AuthContext{Type: AuthTypeToken, Token: &Token{Scope: ScopeAdminRO}},
			want:    false,
		},
		{
			name:    "manifest scope can write",
			authCtx: &AuthContext{Type: AuthTypeToken, Token: &Token{Scope: "manifest:manifest-1"}},
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.authCtx.CanWrite(); got != tt.want {
				t.Errorf("CanWrite() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthContext_IsAdmin(t *testing.T) {
	tests := []struct {
		name    string
		authCtx *AuthContext
		want    bool
	}{
		{
			name:    "nil token",
			authCtx: &AuthContext{Type: AuthTypeToken, Token: nil},
			want:    false,
		},
		{
			name:    "admin scope is admin",
			authCtx: &AuthContext{Type: AuthTypeToken, Token: &Token{Scope: ScopeAdmin}},
			want:    true,
		},
		{
			name:    "admin:ro scope is not admin",
			authCtx: &AuthContext{Type: AuthTypeToken, Token: &Token{Scope: ScopeAdminRO}},
			want:    false,
		},
		{
			name:    "manifest scope is not admin",
			authCtx: &AuthContext{Type: AuthTypeToken, Token: &Token{Scope: "manifest:manifest-1"}},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.authCtx.IsAdmin(); got != tt.want {
				t.Errorf("IsAdmin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScopeManifest(t *testing.T) {
	scope := ScopeManifest("my-manifest")
	if scope != "manifest:my-manifest" {
		t.Errorf("ScopeManifest() = %v, want manifest:my-manifest", scope)
	}
}

func TestScopeManifestRO(t *testing.T) {
	scope := ScopeManifestRO("my-manifest")
	if scope != "manifest:my-manifest:ro" {
		t.Errorf("ScopeManifestRO() = %v, want manifest:my-manifest:ro", scope)
	}
}

func TestIsAdminScope(t *testing.T) {
	tests := []struct {
		scope string
		want  bool
	}{
		{ScopeAdmin, true},
		{ScopeAdminRO, true},
		{"manifest:abc", false},
		{"manifest:abc:ro", false},
		{"invalid", false},
	}
	for _, tt := range tests {
		if got := IsAdminScope(tt.scope); got != tt.want {
			t.Errorf("IsAdminScope(%q) = %v, want %v", tt.scope, got, tt.want)
		}
	}
}

func TestIsManifestScope(t *testing.T) {
	tests := []struct {
		scope string
		want  bool
	}{
		{"manifest:abc", true},
		{"manifest:abc:ro", true},
		{"manifest:", true}, // edge case: prefix match
		{ScopeAdmin, false},
		{ScopeAdminRO, false},
		{"invalid", false},
	}
	for _, tt := range tests {
		if got := IsManifestScope(tt.scope); got != tt.want {
			t.Errorf("IsManifestScope(%q) = %v, want %v", tt.scope, got, tt.want)
		}
	}
}

func TestIsReadOnlyScope(t *testing.T) {
	tests := []struct {
		scope string
		want  bool
	}{
		{ScopeAdmin, false},
		{ScopeAdminRO, true},
		{"manifest:abc", false},
		{"manifest:abc:ro", true},
		{"invalid", false},
		{"invalid:ro", true}, // ends with :ro
	}
	for _, tt := range tests {
		if got := IsReadOnlyScope(tt.scope); got != tt.want {
			t.Errorf("IsReadOnlyScope(%q) = %v, want %v", tt.scope, got, tt.want)
		}
	}
}

func TestExtractManifestName(t *testing.T) {
	tests := []struct {
		scope string
		want  string
	}{
		{"manifest:abc-123", "abc-123"},
		{"manifest:abc-123:ro", "abc-123"},
		{"manifest:", ""},
		{"manifest::ro", ""}, // empty manifest name
		{ScopeAdmin, ""},
		{"invalid", ""},
	}
	for _, tt := range tests {
		if got := ExtractManifestName(tt.scope); got != tt.want {
			t.Errorf("ExtractManifestName(%q) = %q, want %q", tt.scope, got, tt.want)
		}
	}
}

func TestAuthContext_CanAccessManifest_NewScopes(t *testing.T) {
	tests := []struct {
		name         string
		scope        string
		manifestName string
		want         bool
	}{
		{"admin:ro can access any manifest", ScopeAdminRO, "manifest-1", true},
		{"manifest:ro can access own manifest", "manifest:manifest-1:ro", "manifest-1", true},
		{"manifest:ro cannot access other manifest", "manifest:manifest-1:ro", "manifest-2", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authCtx := &AuthContext{Type: AuthTypeToken, Token: &Token{Scope: tt.scope}}
			if got := authCtx.CanAccessManifest(tt.manifestName); got != tt.want {
				t.Errorf("CanAccessManifest() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthContext_CanWrite_NewScopes(t *testing.T) {
	tests := []struct {
		name  string
		scope string
		want  bool
	}{
		{"admin:ro cannot write", ScopeAdminRO, false},
		{"manifest:ro cannot write", "manifest:manifest-1:ro", false},
		{"manifest can write", "manifest:manifest-1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authCtx := &AuthContext{Type: AuthTypeToken, Token: &Token{Scope: tt.scope}}
			if got := authCtx.CanWrite(); got != tt.want {
				t.Errorf("CanWrite() = %v, want %v", got, tt.want)
			}
		})
	}
}

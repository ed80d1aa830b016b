// Package validation holds string-format checks for identifiers that flow
// from untrusted manifest input into filesystem and shared-memory channel
// names (internal/ipc's naming helpers), where an unsanitized node or
// session id would otherwise let a crafted manifest escape the scratch
// directory.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// safeIDRegex matches identifiers safe to embed directly in a filesystem or
// shared-memory segment name: alphanumeric, dash, underscore, dot.
var safeIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ValidateNodeID checks that a manifest node id is non-empty and safe to use
// as a path/channel-name component.
func ValidateNodeID(id string) error {
	if id == "" {
		return fmt.Errorf("node id must not be empty")
	}
	return validateIDComponent(id)
}

// ValidateSessionID checks that a session id is safe to use as a path/
// channel-name component. Session ids the router itself generates are
// always UUIDs and always pass; this exists for transports that accept a
// caller-supplied session id for resumption.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id must not be empty")
	}
	return validateIDComponent(id)
}

func validateIDComponent(id string) error {
	if strings.Contains(id, "..") {
		return fmt.Errorf("path traversal detected in id: %s", id)
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("id must not contain path separators: %s", id)
	}
	if !safeIDRegex.MatchString(id) {
		return fmt.Errorf("unsafe id format: %s", id)
	}
	return nil
}

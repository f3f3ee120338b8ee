// Package validation checks externally supplied identifiers before they
// reach storage or the filesystem. Everything here is format-only: a
// valid tenant ID may still name a tenant that does not exist.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// uuidRegex matches standard UUID format
	uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

	// tenantIDRegex matches tenant slugs: lowercase alphanumeric with
	// dash/underscore, starting with a letter or digit
	tenantIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

	// safePathRegex matches safe path components (alphanumeric, dash, underscore, dot)
	safePathRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

	// safePatternRegex additionally allows glob metacharacters
	safePatternRegex = regexp.MustCompile(`^[a-zA-Z0-9_.*?-]+$`)
)

// ValidateTenantID checks a tenant slug. Tenant IDs appear in URIs,
// log lines and database keys, so the character set is deliberately
// narrow.
func ValidateTenantID(id string) error {
	if id == "" {
		return fmt.Errorf("tenant ID cannot be empty")
	}
	if !tenantIDRegex.MatchString(id) {
		return fmt.Errorf("invalid tenant ID format: %s", id)
	}
	return nil
}

// ValidateSessionID checks a protocol session ID. Sessions are minted
// server-side as UUIDs; anything else arriving in a session header is
// rejected before map lookup.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if !uuidRegex.MatchString(id) {
		return fmt.Errorf("invalid session ID format: %s", id)
	}
	return nil
}

// ValidateCredentialName checks a credential provider or key name
// (single component, no slashes).
func ValidateCredentialName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if !safePathRegex.MatchString(name) {
		return fmt.Errorf("invalid name: %s", name)
	}
	return nil
}

// SanitizePath removes path traversal attempts and validates path components
func SanitizePath(path string) (string, error) {
	return sanitize(path, safePathRegex)
}

// SanitizePattern is SanitizePath for glob patterns: components may
// contain * and ?, traversal and absolute paths are still rejected.
func SanitizePattern(pattern string) (string, error) {
	return sanitize(pattern, safePatternRegex)
}

func sanitize(path string, component *regexp.Regexp) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	// Reject obvious traversal attempts
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path traversal detected: %s", path)
	}

	// Reject absolute paths when relative expected
	if strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("absolute paths not allowed: %s", path)
	}

	// Split and validate each component
	parts := strings.Split(path, "/")
	for _, part := range parts {
		if part == "" {
			continue // Allow trailing/leading slashes
		}
		if !component.MatchString(part) {
			return "", fmt.Errorf("unsafe path component: %s", part)
		}
	}

	return path, nil
}

package errors

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// ValidateResourceID validates a resource id for safety and correctness.
// Ids become file names under the install directory, so the rules reject
// anything usable for path traversal or injection:
//   - No empty ids
//   - No control characters
//   - No path separators or traversal sequences
//   - Maximum length of 128 characters
func ValidateResourceID(id string) error {
	if id == "" {
		return New(ErrCodeInvalidInput, "resource id cannot be empty")
	}

	if len(id) > 128 {
		return New(ErrCodeInvalidInput, "resource id too long (max 128 characters)")
	}

	for _, r := range id {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "resource id contains invalid control characters")
		}
	}

	if !resourceIDRegex.MatchString(id) {
		return New(ErrCodeInvalidInput, "invalid resource id: %q", id)
	}

	return nil
}

// resourceIDRegex matches ids like "code-reviewer", "git.commit", "mcp_postgres".
var resourceIDRegex = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9._-]*[A-Za-z0-9])?$`)

// ValidatePath validates an install path relative to the base directory.
// It prevents path traversal attacks and ensures reasonable path length.
//
// Validation rules:
//   - Path cannot be empty
//   - Maximum length of 500 characters
//   - No null bytes or control characters
//   - No absolute paths (must be relative)
//   - No path traversal segments (..)
//   - No backslashes (Windows-style paths)
func ValidatePath(path string) error {
	if path == "" {
		return New(ErrCodeInvalidPath, "path cannot be empty")
	}

	const maxPathLength = 500
	if len(path) > maxPathLength {
		return New(ErrCodeInvalidPath, "path too long (max %d characters)", maxPathLength)
	}

	for _, r := range path {
		if r == '\x00' || unicode.IsControl(r) {
			return New(ErrCodeInvalidPath, "path contains invalid characters")
		}
	}

	if strings.HasPrefix(path, "/") {
		return New(ErrCodeSecurity, "path must be relative (cannot start with /)")
	}

	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return New(ErrCodeSecurity, "path cannot contain path traversal sequences (..)")
		}
	}

	if strings.Contains(path, "\\") {
		return New(ErrCodeInvalidPath, "path cannot contain backslashes")
	}

	return nil
}

// ValidateURL validates a resource source URL.
// Only absolute https URLs with a host are accepted; anything else is a
// security error so that no plaintext fetch is ever attempted.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return New(ErrCodeInvalidInput, "URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return Wrap(ErrCodeInvalidInput, err, "malformed URL %q", rawURL)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return New(ErrCodeSecurity, "URL must use https scheme: %q", rawURL)
	}
	if u.Host == "" {
		return New(ErrCodeInvalidInput, "URL has no host: %q", rawURL)
	}

	return nil
}

// sha256Regex matches a hex-encoded SHA-256 digest.
var sha256Regex = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)

// ValidateSHA256 validates a hex-encoded SHA-256 checksum. Empty is allowed
// since checksums are optional.
func ValidateSHA256(sum string) error {
	if sum == "" {
		return nil
	}
	if !sha256Regex.MatchString(sum) {
		return New(ErrCodeInvalidInput, "invalid sha256 checksum: %q", sum)
	}
	return nil
}

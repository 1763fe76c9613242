package validate

import (
	"strings"
)

// ValidateStoragePath screens an input or output URI before backend
// resolution. Traversal sequences and shell metacharacters are
// rejected here so they never reach a backend or a command line.
func ValidateStoragePath(field, path string) error {
	if path == "" {
		return newError(field, "path must not be empty")
	}
	if len(path) > maxPathLength {
		return newError(field, "path too long (max %d)", maxPathLength)
	}
	if strings.Contains(path, "..") {
		return newSecurityError("path traversal detected in %s", field)
	}
	if err := checkDangerous(field, path); err != nil {
		return err
	}
	for _, r := range path {
		if r < 32 {
			return newSecurityError("control character in %s", field)
		}
	}
	return nil
}

package workspace

import (
	"fmt"
	"path"
	"strings"

	"github.com/conneroisu/playground/internal/errors"
	"golang.org/x/text/unicode/norm"
)

// allowedExtensions is the set of file extensions a user may create.
var allowedExtensions = map[string]bool{
	".ts":   true,
	".tsx":  true,
	".mts":  true,
	".cts":  true,
	".js":   true,
	".jsx":  true,
	".mjs":  true,
	".cjs":  true,
	".json": true,
	".md":   true,
	".css":  true,
	".html": true,
	".txt":  true,
	".yaml": true,
	".yml":  true,
	".toml": true,
	".sh":   true,
}

// allowedDotfiles are extensionless configuration files users may create.
var allowedDotfiles = map[string]bool{
	".npmrc":     true,
	".gitignore": true,
	".env":       true,
}

// ValidateName checks a node name before any I/O happens and returns its NFC
// normalised form. Files must also have an allowed type.
func ValidateName(name string, kind Kind) (string, error) {
	normalized, err := normalizeName(name)
	if err != nil {
		return "", err
	}
	if kind == KindFile && !allowedFileName(normalized) {
		return "", errors.NewValidationError(errors.ReasonUnsupportedType,
			fmt.Sprintf("unsupported file type: %s", normalized))
	}
	return normalized, nil
}

// normalizeName NFC-normalises name and rejects names that cannot be a
// path segment. Template files skip the type check and only go through this.
func normalizeName(name string) (string, error) {
	normalized := norm.NFC.String(strings.TrimSpace(name))

	switch {
	case normalized == "", normalized == ".", normalized == "..":
		return "", errors.NewValidationError(errors.ReasonInvalidName,
			fmt.Sprintf("invalid name %q", name))
	case strings.ContainsAny(normalized, `/\`):
		return "", errors.NewValidationError(errors.ReasonInvalidName,
			fmt.Sprintf("name %q must not contain a path separator", name))
	case strings.ContainsRune(normalized, 0):
		return "", errors.NewValidationError(errors.ReasonInvalidName,
			fmt.Sprintf("name %q contains a NUL byte", name))
	}
	return normalized, nil
}

func allowedFileName(name string) bool {
	if allowedDotfiles[name] {
		return true
	}
	return allowedExtensions[strings.ToLower(path.Ext(name))]
}

// LanguageFor returns the editor language tag for a file name.
func LanguageFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".ts", ".tsx", ".mts", ".cts":
		return "typescript"
	case ".js", ".jsx", ".mjs", ".cjs":
		return "javascript"
	case ".json":
		return "json"
	case ".md":
		return "markdown"
	case ".css":
		return "css"
	case ".html":
		return "html"
	case ".yaml", ".yml":
		return "yaml"
	case ".sh":
		return "shell"
	default:
		return "plaintext"
	}
}

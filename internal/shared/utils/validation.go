package utils

import (
	"fmt"
	"regexp"
	"strings"
)

// String length limits
const (
	MaxModuleIDLength    = 253
	MaxNameLength        = 256
	MaxDescriptionLength = 2048
	MaxDeepLinkLength    = 256
	MaxDeepLinkCount     = 32
	MaxCategoryCount     = 16
)

var (
	// moduleLabelPattern is one dotted label of a module id
	moduleLabelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
	// deepLinkPattern is "scheme:" optionally followed by an action
	deepLinkPattern = regexp.MustCompile(`^[a-z][a-z0-9+.-]*:[^\s]*$`)
)

// ValidationError describes which field failed and why
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// ValidateModuleID checks the dotted-domain form of a module id,
// e.g. "dns.std.dweb": two or more labels of [a-z0-9-].
func ValidateModuleID(id string) error {
	if id == "" {
		return &ValidationError{Field: "id", Message: "must not be empty"}
	}
	if len(id) > MaxModuleIDLength {
		return &ValidationError{Field: "id", Message: fmt.Sprintf("exceeds %d characters", MaxModuleIDLength)}
	}
	labels := strings.Split(id, ".")
	if len(labels) < 2 {
		return &ValidationError{Field: "id", Message: "needs at least two dotted labels"}
	}
	for _, label := range labels {
		if !moduleLabelPattern.MatchString(label) {
			return &ValidationError{Field: "id", Message: fmt.Sprintf("invalid label %q", label)}
		}
	}
	return nil
}

// ValidateDeepLink checks a "scheme:action" prefix
func ValidateDeepLink(prefix string) error {
	if len(prefix) > MaxDeepLinkLength {
		return &ValidationError{Field: "deep_links", Message: fmt.Sprintf("exceeds %d characters", MaxDeepLinkLength)}
	}
	if !deepLinkPattern.MatchString(prefix) {
		return &ValidationError{Field: "deep_links", Message: fmt.Sprintf("invalid prefix %q", prefix)}
	}
	if strings.HasPrefix(prefix, "file:") {
		return &ValidationError{Field: "deep_links", Message: "file: is reserved for virtual hosts"}
	}
	return nil
}

// ValidateString checks length bounds of a free-form field
func ValidateString(field, value string, max int) error {
	if len(value) > max {
		return &ValidationError{Field: field, Message: fmt.Sprintf("exceeds %d characters", max)}
	}
	return nil
}

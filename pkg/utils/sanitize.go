package utils

import (
	"regexp"
	"strings"
)

var invalidPathChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`) // Characters invalid in Windows/Unix filenames
var consecutiveUnderscores = regexp.MustCompile(`_+`)

const maxFilenameLength = 100

// SanitizeFilename cleans a string (a domain, a page object name) so it can
// be used as one path component under the state or fixtures directory.
func SanitizeFilename(name string) string {
	sanitized := invalidPathChars.ReplaceAllString(name, "_")
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_ .")

	if len(sanitized) > maxFilenameLength {
		sanitized = strings.Trim(sanitized[:maxFilenameLength], "_ .")
	}

	if sanitized == "" {
		sanitized = "untitled"
	}
	return sanitized
}

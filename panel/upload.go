package panel

import (
	"errors"
	"path/filepath"
	"strings"
)

// MetadataPromptFilename is the suggested name for a downloaded prompt.
const MetadataPromptFilename = "metadata-generation-prompt.md"

var (
	// ErrNotMarkdown rejects uploads without a .md extension.
	ErrNotMarkdown = errors.New("File must have .md extension")
	// ErrNoVersion rejects uploads not named <component_name>-<version>.md.
	ErrNoVersion = errors.New("Filename must be in format <component_name>-<version>.md")
)

// ValidateUploadName checks a documentation file name before it is sent to
// the host. Only the base name is inspected.
func ValidateUploadName(filename string) error {
	name := filepath.Base(filename)
	if !strings.HasSuffix(name, ".md") {
		return ErrNotMarkdown
	}
	if !strings.Contains(strings.TrimSuffix(name, ".md"), "-") {
		return ErrNoVersion
	}
	return nil
}

package ingest

import (
	"path"
	"strings"

	"github.com/joseph-ayodele/loan-extractor/constants"
)

// AllowedExt checks if a file extension is in the allowed set.
func AllowedExt(ext string) bool {
	ext = constants.NormalizeExt(ext)
	_, ok := constants.AllowedExtensions[ext]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(p string) bool {
	base := path.Base(strings.ReplaceAll(p, "\\", "/"))
	return strings.HasPrefix(base, ".")
}

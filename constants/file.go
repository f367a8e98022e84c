package constants

import "strings"

// Document formats understood by the local parser.
const (
	PDF   = "PDF"
	DOCX  = "DOCX"
	XLSX  = "XLSX"
	IMAGE = "IMAGE"
	TXT   = "TXT"
)

// FileTypes holds the allowed values for the format column of a document run.
var FileTypes = []string{PDF, DOCX, XLSX, IMAGE, TXT}

// AllowedExtensions holds the file extensions accepted for ingestion.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"docx": {},
	"xlsx": {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"tif":  {},
	"tiff": {},
	"txt":  {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MapExtToFormat maps a (normalized or dotted) extension to a document format, "" if unknown.
func MapExtToFormat(ext string) string {
	switch NormalizeExt(ext) {
	case "pdf":
		return PDF
	case "docx":
		return DOCX
	case "xlsx":
		return XLSX
	case "jpg", "jpeg", "png", "tif", "tiff":
		return IMAGE
	case "txt":
		return TXT
	}
	return ""
}

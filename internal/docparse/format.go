package docparse

import (
	"archive/zip"
	"bytes"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/loan-extractor/constants"
)

var (
	magicPDF  = []byte("%PDF-")
	magicZIP  = []byte("PK\x03\x04")
	magicPNG  = []byte("\x89PNG\r\n\x1a\n")
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicTIFL = []byte("II*\x00")
	magicTIFB = []byte("MM\x00*")
)

// DetectFormat sniffs content first and falls back to the file extension.
// It returns "" for content it cannot read.
func DetectFormat(data []byte, filename string) string {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	switch {
	case bytes.Contains(head, magicPDF):
		return constants.PDF
	case bytes.HasPrefix(data, magicZIP):
		return sniffOOXML(data)
	case bytes.HasPrefix(data, magicPNG), bytes.HasPrefix(data, magicJPEG),
		bytes.HasPrefix(data, magicTIFL), bytes.HasPrefix(data, magicTIFB):
		return constants.IMAGE
	}

	byExt := constants.MapExtToFormat(filepath.Ext(filename))
	switch byExt {
	case constants.TXT, "":
		if len(data) > 0 && utf8.Valid(data) {
			return constants.TXT
		}
		return ""
	default:
		// Extension claims a binary format the content does not match.
		return ""
	}
}

func sniffOOXML(data []byte) string {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}
	for _, f := range zr.File {
		switch {
		case strings.EqualFold(f.Name, "word/document.xml"):
			return constants.DOCX
		case strings.EqualFold(f.Name, "xl/workbook.xml"):
			return constants.XLSX
		}
	}
	return ""
}

package constants

import "strings"

// OCRMode controls whether the OCR router runs optical character recognition.
type OCRMode string

const (
	OCRModeAuto  OCRMode = "auto"  // OCR only pages flagged as scanned
	OCRModeForce OCRMode = "force" // OCR every page
	OCRModeSkip  OCRMode = "skip"  // never OCR
)

// OCRMethod records which OCR path produced a document's OCR'd pages.
type OCRMethod string

const (
	OCRMethodNone  OCRMethod = "none"
	OCRMethodLocal OCRMethod = "local"
	OCRMethodGPU   OCRMethod = "gpu"
)

// ExtractionMethod selects the extraction engine.
type ExtractionMethod string

const (
	MethodDocling     ExtractionMethod = "docling"     // deterministic, page-level provenance
	MethodLangExtract ExtractionMethod = "langextract" // grounded, character-level provenance
	MethodAuto        ExtractionMethod = "auto"        // grounded first, docling as the safety net
)

var (
	ocrModes          = []string{string(OCRModeAuto), string(OCRModeForce), string(OCRModeSkip)}
	extractionMethods = []string{string(MethodDocling), string(MethodLangExtract), string(MethodAuto)}
)

// OCRModes returns the accepted ocr_mode values.
func OCRModes() []string { return append([]string(nil), ocrModes...) }

// ExtractionMethods returns the accepted method values.
func ExtractionMethods() []string { return append([]string(nil), extractionMethods...) }

// ParseOCRMode parses user input; empty input means auto.
func ParseOCRMode(s string) (OCRMode, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return OCRModeAuto, true
	}
	for _, m := range ocrModes {
		if s == m {
			return OCRMode(s), true
		}
	}
	return "", false
}

// ParseExtractionMethod parses user input; empty input means auto.
func ParseExtractionMethod(s string) (ExtractionMethod, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return MethodAuto, true
	}
	for _, m := range extractionMethods {
		if s == m {
			return ExtractionMethod(s), true
		}
	}
	return "", false
}

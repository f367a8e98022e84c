package ocr

import (
	"regexp"
	"strings"
)

// LowConfidence is the score under which a recognized page gets a warning.
const LowConfidence = 0.4

var (
	reDate   = regexp.MustCompile(`\b(0?[1-9]|1[0-2])[/-](0?[1-9]|[12]\d|3[01])[/-](19|20)\d{2}\b|\b(19|20)\d{2}\b`)
	reCurr   = regexp.MustCompile(`\busd\b|\$`)
	reAmount = regexp.MustCompile(`\b\d{1,3}(,\d{3})*(\.\d{2})\b|\b\d+\.\d{2}\b`)
	reSSN    = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	reLabel  = regexp.MustCompile(`\b(borrower|employer|income|wages|account|loan|ssn|address)\b`)
)

// heuristicConfidence scores recognized text by the loan-document artifacts it contains.
func heuristicConfidence(txt string) float32 {
	txtL := strings.ToLower(txt)
	score := float32(0.2) // base
	if reDate.MatchString(txtL) {
		score += 0.15
	}
	if reCurr.MatchString(txtL) {
		score += 0.1
	}
	if reAmount.MatchString(txtL) {
		score += 0.15
	}
	if reSSN.MatchString(txtL) {
		score += 0.1
	}
	if reLabel.MatchString(txtL) {
		score += 0.15
	}
	if len(txt) > 120 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

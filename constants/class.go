package constants

import (
	"strings"
)

type ExtractionClass string

const (
	ClassBorrower ExtractionClass = "borrower"
	ClassIncome   ExtractionClass = "income"
	ClassAccount  ExtractionClass = "account"
	ClassLoan     ExtractionClass = "loan"
	ClassOther    ExtractionClass = "other"
)

var allClasses = []ExtractionClass{
	ClassBorrower,
	ClassIncome,
	ClassAccount,
	ClassLoan,
}

func ClassesAsStringSlice() []string {
	result := make([]string, len(allClasses))
	for i, c := range allClasses {
		result[i] = string(c)
	}
	return result
}

// CanonicalClass maps a free-form extraction class onto the known set.
func CanonicalClass(input string) (ExtractionClass, bool) {
	if input == "" {
		return ClassOther, false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	// synonyms map
	synonyms := map[string]ExtractionClass{
		"applicant":      ClassBorrower,
		"co-borrower":    ClassBorrower,
		"coborrower":     ClassBorrower,
		"borrower_name":  ClassBorrower,
		"employee":       ClassBorrower,
		"taxpayer":       ClassBorrower,
		"salary":         ClassIncome,
		"wages":          ClassIncome,
		"employment":     ClassIncome,
		"earnings":       ClassIncome,
		"bank_account":   ClassAccount,
		"bank account":   ClassAccount,
		"account_number": ClassAccount,
		"loan_number":    ClassLoan,
		"mortgage":       ClassLoan,
	}

	if c, ok := synonyms[normalized]; ok {
		return c, true
	}

	for _, c := range allClasses {
		if normalized == string(c) {
			return c, true
		}
	}

	return ClassOther, false
}

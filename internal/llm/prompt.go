package llm

import (
	"strings"

	"github.com/joseph-ayodele/loan-extractor/constants"
)

// BuildPrompt composes the task description sent with every extraction request.
func BuildPrompt() string {
	parts := []string{
		"Extract borrower information from this loan document.",
		"Allowed extraction classes: " + strings.Join(constants.ClassesAsStringSlice(), ", ") + ".",
		"Use 'borrower' for each person applying for the loan; put ssn, address, phone, email and employer in its attributes when present.",
		"Use 'income' for each income amount; include amount, period (annual, monthly, biweekly, weekly, hourly), year, source and employer attributes when visible.",
		"Use 'account' for bank account numbers with type and institution attributes; use 'loan' for loan numbers.",
		"When a document names more than one borrower, set a 'borrower' attribute on income, account and loan entities naming the person they belong to.",
		"extraction_text MUST be copied exactly from the document text. Do not paraphrase, reformat numbers or merge separate spans.",
		"Extract entities in order of appearance and do not overlap spans.",
	}
	return strings.Join(parts, " ")
}

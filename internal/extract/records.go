package extract

import (
	"strconv"
	"strings"

	"github.com/joseph-ayodele/loan-extractor/constants"
	"github.com/joseph-ayodele/loan-extractor/internal/entity"
)

// Borrower attribute classes. Engines may emit them as standalone entities;
// they are folded into the current borrower.
const (
	classSSN      = "ssn"
	classAddress  = "address"
	classPhone    = "phone"
	classEmail    = "email"
	classEmployer = "employer"
)

// located is an extracted field together with where it came from.
type located struct {
	field entity.ExtractedField
	ref   entity.SourceReference
}

// assembler groups fields into borrower records in document order.
// A borrower field opens (or reopens) a record. Other fields attach to the record
// named by their "borrower" attribute, else to the most recent one. Fields seen
// before any borrower wait for the first one.
type assembler struct {
	records []*entity.BorrowerRecord
	byName  map[string]*entity.BorrowerRecord
	current *entity.BorrowerRecord
	pending []located
}

func newAssembler() *assembler {
	return &assembler{byName: map[string]*entity.BorrowerRecord{}}
}

func (a *assembler) add(l located) {
	class := l.field.ExtractionClass
	if class == string(constants.ClassBorrower) {
		a.openBorrower(l)
		return
	}
	target := a.current
	if name := nameKey(l.field.Attributes["borrower"]); name != "" {
		if rec, ok := a.byName[name]; ok {
			target = rec
		}
	}
	if target == nil {
		a.pending = append(a.pending, l)
		return
	}
	apply(target, l)
}

func (a *assembler) openBorrower(l located) {
	key := nameKey(l.field.Text)
	rec, ok := a.byName[key]
	if !ok {
		rec = entity.NewBorrowerRecord(strings.TrimSpace(l.field.Text))
		a.records = append(a.records, rec)
		a.byName[key] = rec
	}
	a.current = rec
	apply(rec, l)
	for _, p := range a.pending {
		apply(rec, p)
	}
	a.pending = nil
}

// result returns the records. Orphan fields land in one unnamed record.
func (a *assembler) result() []entity.BorrowerRecord {
	if len(a.pending) > 0 {
		rec := entity.NewBorrowerRecord("")
		for _, p := range a.pending {
			apply(rec, p)
		}
		a.records = append(a.records, rec)
		a.pending = nil
	}
	out := make([]entity.BorrowerRecord, len(a.records))
	for i, r := range a.records {
		out[i] = *r
	}
	return out
}

func apply(rec *entity.BorrowerRecord, l located) {
	f := l.field
	attrs := f.Attributes
	text := strings.TrimSpace(f.Text)

	switch f.ExtractionClass {
	case string(constants.ClassBorrower):
		setIfEmpty(&rec.SSN, attrs["ssn"])
		setIfEmpty(&rec.Address, attrs["address"])
		setIfEmpty(&rec.Phone, attrs["phone"])
		setIfEmpty(&rec.Email, attrs["email"])
		setIfEmpty(&rec.Employer, attrs["employer"])
	case classSSN:
		setIfEmpty(&rec.SSN, text)
	case classAddress:
		setIfEmpty(&rec.Address, text)
	case classPhone:
		setIfEmpty(&rec.Phone, text)
	case classEmail:
		setIfEmpty(&rec.Email, text)
	case classEmployer:
		setIfEmpty(&rec.Employer, text)
	case string(constants.ClassIncome):
		amount := attrs["amount"]
		if amount == "" {
			amount = text
		}
		inc := entity.IncomeRecord{
			Amount:   parseAmount(amount),
			Period:   attrs["period"],
			Source:   attrs["source"],
			Employer: attrs["employer"],
			Raw:      text,
		}
		if y, err := strconv.Atoi(attrs["year"]); err == nil {
			inc.Year = y
		}
		rec.Income = append(rec.Income, inc)
		setIfEmpty(&rec.Employer, inc.Employer)
	case string(constants.ClassAccount):
		number := attrs["number"]
		if number == "" {
			number = text
		}
		if !hasAccount(rec, number) {
			rec.Accounts = append(rec.Accounts, entity.AccountRecord{
				Number:      number,
				Type:        attrs["type"],
				Institution: attrs["institution"],
			})
		}
	case string(constants.ClassLoan):
		if !contains(rec.LoanNumbers, text) {
			rec.LoanNumbers = append(rec.LoanNumbers, text)
		}
	}
	rec.SourceReferences = append(rec.SourceReferences, l.ref)
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = strings.TrimSpace(v)
	}
}

func nameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func hasAccount(rec *entity.BorrowerRecord, number string) bool {
	for _, a := range rec.Accounts {
		if a.Number == number {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// parseAmount reads "$84,120.55" style amounts. Unparseable input yields 0.
func parseAmount(s string) float64 {
	s = strings.NewReplacer("$", "", ",", "", " ", "", "USD", "").Replace(strings.TrimSpace(s))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

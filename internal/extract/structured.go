package extract

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/loan-extractor/constants"
	"github.com/joseph-ayodele/loan-extractor/internal/entity"
)

var (
	reBorrower = regexp.MustCompile(`(?i:co-?borrower(?:'s)?(?: name)?|borrower(?:'s)?(?: name)?|applicant(?:'s)?(?: name)?|employee(?:'s)? name|name of borrower)\s*[:#]\s*([A-Z][A-Za-z.'\-]*(?:[ ][A-Z][A-Za-z.'\-]*){1,3})`)
	reSSN      = regexp.MustCompile(`\b(\d{3}-\d{2}-\d{4})\b`)
	rePhone    = regexp.MustCompile(`(?i:phone|tel(?:ephone)?)[^:\n\d]{0,20}[:#]?\s*(\(?\d{3}\)?[ .\-]?\d{3}[ .\-]\d{4})`)
	reEmail    = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	reAddress  = regexp.MustCompile(`(?i:present address|current address|mailing address|home address|address)\s*[:#]\s*([^\t\n]+?)(?:[ ]{2,}|\t|$)`)
	reEmployer = regexp.MustCompile(`(?i:employer(?:'s)? name|name of employer|employer)\s*[:#]\s*([^\t\n]+?)(?:[ ]{2,}|\t|$)`)
	reIncome   = regexp.MustCompile(`(?i)\b(base|gross|annual|monthly|total|overtime|bonus|commission|net)?\s*(?:monthly\s+|annual\s+)?(income|salary|wages|pay|earnings|compensation)\b`)
	reMoney    = regexp.MustCompile(`\$?\s?(\d{1,3}(?:,\d{3})+(?:\.\d{2})?|\d+\.\d{2}|\$\s?\d+)`)
	reAccount  = regexp.MustCompile(`(?i:account(?:\s+(?:number|no\.?|#))?|acct\.?(?:\s*(?:#|no\.?))?)\s*[:#]?\s*([A-Za-z0-9][A-Za-z0-9\-]{3,})`)
	reLoan     = regexp.MustCompile(`(?i:loan\s*(?:number|no\.?|#))\s*[:#]?\s*([A-Za-z0-9][A-Za-z0-9\-]{3,})`)
	reInst     = regexp.MustCompile(`\b(?:at|with)\s+([A-Z][A-Za-z&.' ]*?(?:Bank|Credit Union|Savings|Financial|Trust)(?: [A-Z][A-Za-z]*)*)`)
	reYear     = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
	rePageYear = regexp.MustCompile(`(?i)(?:tax year|form w-2|wage and tax statement|year to date)\D{0,30}((?:19|20)\d{2})`)
	reDigit    = regexp.MustCompile(`\d`)
)

// StructuredExtractor is the deterministic engine. It reads labelled values from page text
// and table rows and gives every field page-level provenance only.
type StructuredExtractor struct {
	logger *slog.Logger
}

var _ Engine = (*StructuredExtractor)(nil)

// NewStructuredExtractor builds the docling engine.
func NewStructuredExtractor(logger *slog.Logger) *StructuredExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &StructuredExtractor{logger: logger}
}

// Method implements Engine.
func (s *StructuredExtractor) Method() constants.ExtractionMethod { return constants.MethodDocling }

// Extract implements Engine. It never calls a remote service.
func (s *StructuredExtractor) Extract(ctx context.Context, doc entity.DocumentContent, documentID uuid.UUID) (*entity.ExtractionResult, error) {
	start := time.Now()
	asm := newAssembler()
	fields := 0
	for _, page := range doc.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, l := range extractPage(page, documentID) {
			asm.add(l)
			fields++
		}
	}
	res := newResult(documentID, constants.MethodDocling)
	res.Borrowers = asm.result()
	s.logger.Info("extract.structured.done",
		"document_id", documentID,
		"pages", len(doc.Pages),
		"fields", fields,
		"borrowers", len(res.Borrowers),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

type match struct {
	pos int
	l   located
}

func extractPage(page entity.PageContent, documentID uuid.UUID) []located {
	text := page.Text
	if strings.TrimSpace(text) == "" {
		text = page.Markdown
	}
	lines := strings.Split(text, "\n")
	for _, t := range page.Tables {
		for _, row := range t.Rows {
			lines = append(lines, tableLine(row))
		}
	}

	pageYear := ""
	if m := rePageYear.FindStringSubmatch(text); m != nil {
		pageYear = m[1]
	}

	seen := map[string]bool{}
	var out []located
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var ms []match
		emit := func(pos int, class, value string, attrs map[string]string) {
			value = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(value), ",;"))
			if value == "" {
				return
			}
			key := class + "\x00" + value
			if seen[key] {
				return
			}
			seen[key] = true
			ms = append(ms, match{pos: pos, l: located{
				field: entity.ExtractedField{ExtractionClass: class, Text: value, Attributes: attrs},
				ref: entity.SourceReference{
					DocumentID: documentID,
					PageNumber: page.PageNumber,
					Snippet:    value,
				},
			}})
		}

		if loc := reBorrower.FindStringSubmatchIndex(line); loc != nil {
			emit(loc[0], string(constants.ClassBorrower), cleanName(line[loc[2]:loc[3]]), nil)
		}
		for _, loc := range reSSN.FindAllStringSubmatchIndex(line, -1) {
			emit(loc[0], classSSN, line[loc[2]:loc[3]], nil)
		}
		if loc := rePhone.FindStringSubmatchIndex(line); loc != nil {
			emit(loc[0], classPhone, line[loc[2]:loc[3]], nil)
		}
		if loc := reEmail.FindStringIndex(line); loc != nil {
			emit(loc[0], classEmail, line[loc[0]:loc[1]], nil)
		}
		if loc := reAddress.FindStringSubmatchIndex(line); loc != nil && !labelPrefixed(line, loc[0], "employer", "email", "property") {
			emit(loc[0], classAddress, line[loc[2]:loc[3]], nil)
		}
		if loc := reEmployer.FindStringSubmatchIndex(line); loc != nil {
			emit(loc[0], classEmployer, line[loc[2]:loc[3]], nil)
		}
		if pos, value, attrs, ok := incomeOn(line, pageYear); ok {
			emit(pos, string(constants.ClassIncome), value, attrs)
		}
		if loc := reLoan.FindStringSubmatchIndex(line); loc != nil && reDigit.MatchString(line[loc[2]:loc[3]]) {
			emit(loc[0], string(constants.ClassLoan), line[loc[2]:loc[3]], nil)
		}
		for _, loc := range reAccount.FindAllStringSubmatchIndex(line, -1) {
			number := line[loc[2]:loc[3]]
			if !reDigit.MatchString(number) || labelPrefixed(line, loc[0], "loan") {
				continue
			}
			emit(loc[0], string(constants.ClassAccount), number, accountAttrs(line))
		}

		sort.SliceStable(ms, func(i, j int) bool { return ms[i].pos < ms[j].pos })
		for _, m := range ms {
			out = append(out, m.l)
		}
	}
	return out
}

// incomeOn finds the first amount following an income keyword.
func incomeOn(line, pageYear string) (int, string, map[string]string, bool) {
	kw := reIncome.FindStringSubmatchIndex(line)
	if kw == nil {
		return 0, "", nil, false
	}
	rest := line[kw[1]:]
	m := reMoney.FindStringIndex(rest)
	if m == nil {
		return 0, "", nil, false
	}
	value := strings.TrimSpace(rest[m[0]:m[1]])
	lower := strings.ToLower(line)

	attrs := map[string]string{
		"amount": strings.TrimLeft(strings.NewReplacer(",", "", " ", "").Replace(value), "$"),
		"source": strings.ToLower(strings.TrimSpace(line[kw[0]:kw[1]])),
	}
	if p := periodOf(lower); p != "" {
		attrs["period"] = p
	}
	if y := reYear.FindString(line); y != "" {
		attrs["year"] = y
	} else if pageYear != "" {
		attrs["year"] = pageYear
	}
	return kw[0], value, attrs, true
}

func periodOf(lower string) string {
	switch {
	case strings.Contains(lower, "bi-weekly") || strings.Contains(lower, "biweekly"):
		return "biweekly"
	case strings.Contains(lower, "monthly") || strings.Contains(lower, "per month") || strings.Contains(lower, "/mo"):
		return "monthly"
	case strings.Contains(lower, "weekly"):
		return "weekly"
	case strings.Contains(lower, "hourly") || strings.Contains(lower, "per hour"):
		return "hourly"
	case strings.Contains(lower, "annual") || strings.Contains(lower, "yearly") || strings.Contains(lower, "per year") ||
		strings.Contains(lower, "w-2") || strings.Contains(lower, "wages, tips"):
		return "annual"
	}
	return ""
}

func accountAttrs(line string) map[string]string {
	lower := strings.ToLower(line)
	attrs := map[string]string{}
	for _, t := range []string{"checking", "savings", "money market", "brokerage", "retirement"} {
		if strings.Contains(lower, t) {
			attrs["type"] = t
			break
		}
	}
	if m := reInst.FindStringSubmatch(line); m != nil {
		attrs["institution"] = strings.TrimSpace(m[1])
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// labelPrefixed reports whether the label at pos is qualified by one of the given words,
// as in "Employer Address" or "Loan Account".
func labelPrefixed(line string, pos int, words ...string) bool {
	prefix := strings.ToLower(strings.TrimSpace(line[:pos]))
	for _, w := range words {
		if strings.HasSuffix(prefix, w) {
			return true
		}
	}
	return false
}

var nameStopWords = map[string]bool{
	"ssn": true, "social": true, "dob": true, "date": true, "phone": true, "tel": true,
	"address": true, "employer": true, "email": true, "loan": true, "account": true, "age": true,
}

// cleanName cuts a captured name at the first word that starts the next label.
func cleanName(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if nameStopWords[strings.ToLower(strings.Trim(w, ".:#"))] {
			words = words[:i]
			break
		}
	}
	return strings.Join(words, " ")
}

// tableLine renders a table row as "label: value ..." so label patterns match it.
func tableLine(row []string) string {
	cells := make([]string, 0, len(row))
	for _, c := range row {
		if c = strings.TrimSpace(c); c != "" {
			cells = append(cells, c)
		}
	}
	switch len(cells) {
	case 0:
		return ""
	case 1:
		return cells[0]
	}
	label := strings.TrimRight(cells[0], ":")
	return label + ": " + strings.Join(cells[1:], "  ")
}

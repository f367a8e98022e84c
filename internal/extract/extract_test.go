package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/loan-extractor/constants"
	"github.com/joseph-ayodele/loan-extractor/internal/common"
	"github.com/joseph-ayodele/loan-extractor/internal/entity"
	"github.com/joseph-ayodele/loan-extractor/internal/llm"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeService struct {
	fields []entity.ExtractedField
	err    error
	calls  int
	last   llm.ExtractRequest
}

func (f *fakeService) Extract(_ context.Context, req llm.ExtractRequest) ([]entity.ExtractedField, error) {
	f.calls++
	f.last = req
	return f.fields, f.err
}

func interval(s, e int) *entity.CharInterval { return &entity.CharInterval{Start: s, End: e} }

func singlePage(text string) entity.DocumentContent {
	return entity.NewDocumentContent([]entity.PageContent{{PageNumber: 1, Text: text}}, constants.OCRMethodNone)
}

const applicationText = `UNIFORM RESIDENTIAL LOAN APPLICATION
Borrower: John A. Smith  SSN: 123-45-6789
Present Address: 742 Evergreen Terrace, Springfield, IL 62704
Employer: Acme Manufacturing Inc.  Base Monthly Income: $6,250.00
Checking Account #: 0045-221-987 at First National Bank
Loan Number: LN-2024-00917`

const w2Text = `Form W-2 Wage and Tax Statement 2023
Employee's name: Maria Garcia
Employee's social security number: 987-65-4321
Employer: Riverside Health Partners
Wages, tips, other compensation: 84,120.55`

func TestStructuredExtractor(t *testing.T) {
	doc := entity.NewDocumentContent([]entity.PageContent{
		{PageNumber: 1, Text: applicationText},
		{PageNumber: 2, Text: w2Text},
	}, constants.OCRMethodNone)
	id := uuid.New()

	res, err := NewStructuredExtractor(quietLogger()).Extract(context.Background(), doc, id)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.MethodUsed != constants.MethodDocling {
		t.Errorf("method = %s", res.MethodUsed)
	}
	if len(res.Borrowers) != 2 {
		t.Fatalf("borrowers = %+v", res.Borrowers)
	}

	john := res.Borrowers[0]
	if john.Name != "John A. Smith" || john.SSN != "123-45-6789" {
		t.Errorf("john = %+v", john)
	}
	if john.Address != "742 Evergreen Terrace, Springfield, IL 62704" || john.Employer != "Acme Manufacturing Inc." {
		t.Errorf("john address/employer = %q / %q", john.Address, john.Employer)
	}
	if len(john.Income) != 1 || john.Income[0].Amount != 6250 || john.Income[0].Period != "monthly" {
		t.Errorf("john income = %+v", john.Income)
	}
	if len(john.Accounts) != 1 || john.Accounts[0].Number != "0045-221-987" ||
		john.Accounts[0].Type != "checking" || john.Accounts[0].Institution != "First National Bank" {
		t.Errorf("john accounts = %+v", john.Accounts)
	}
	if len(john.LoanNumbers) != 1 || john.LoanNumbers[0] != "LN-2024-00917" {
		t.Errorf("john loans = %v", john.LoanNumbers)
	}

	maria := res.Borrowers[1]
	if maria.Name != "Maria Garcia" || maria.SSN != "987-65-4321" || maria.Employer != "Riverside Health Partners" {
		t.Errorf("maria = %+v", maria)
	}
	if len(maria.Income) != 1 || maria.Income[0].Amount != 84120.55 || maria.Income[0].Year != 2023 || maria.Income[0].Period != "annual" {
		t.Errorf("maria income = %+v", maria.Income)
	}

	for _, b := range res.Borrowers {
		for _, ref := range b.SourceReferences {
			if ref.HasOffsets() {
				t.Errorf("structured reference carries offsets: %+v", ref)
			}
			if ref.DocumentID != id || ref.PageNumber == 0 {
				t.Errorf("reference = %+v", ref)
			}
		}
	}
	if p := maria.SourceReferences[0].PageNumber; p != 2 {
		t.Errorf("maria page = %d, want 2", p)
	}
}

func TestStructuredExtractorTables(t *testing.T) {
	doc := entity.NewDocumentContent([]entity.PageContent{{
		PageNumber: 1,
		Text:       "Applicant summary",
		Tables: []entity.Table{{Rows: [][]string{
			{"Borrower", "Jane Doe"},
			{"Account Number", "998877", ""},
			{"Account Holder", "Jane Doe"},
		}}},
	}}, constants.OCRMethodNone)

	res, err := NewStructuredExtractor(quietLogger()).Extract(context.Background(), doc, uuid.New())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Borrowers) != 1 || res.Borrowers[0].Name != "Jane Doe" {
		t.Fatalf("borrowers = %+v", res.Borrowers)
	}
	if acc := res.Borrowers[0].Accounts; len(acc) != 1 || acc[0].Number != "998877" {
		t.Errorf("accounts = %+v", acc)
	}
}

func TestGroundedExtractorVerification(t *testing.T) {
	text := "Borrower: John Smith, SSN: 123-45-6789"
	svc := &fakeService{fields: []entity.ExtractedField{
		{ExtractionClass: "borrower", Text: "John Smith", CharInterval: interval(10, 20)},
		{ExtractionClass: "ssn", Text: "123-45-6789", CharInterval: interval(27, 38)},
	}}
	g := NewGroundedExtractor(svc, GroundedConfig{Examples: llm.DefaultExamples(), Logger: quietLogger()})

	res, err := g.Extract(context.Background(), singlePage(text), uuid.New())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if svc.last.Text != text || len(svc.last.Examples) == 0 || svc.last.Prompt == "" {
		t.Errorf("request = %+v", svc.last)
	}
	if len(res.AlignmentWarnings) != 0 {
		t.Errorf("warnings = %v", res.AlignmentWarnings)
	}
	if len(res.Borrowers) != 1 || res.Borrowers[0].SSN != "123-45-6789" {
		t.Fatalf("borrowers = %+v", res.Borrowers)
	}
	for _, ref := range res.Borrowers[0].SourceReferences {
		if !ref.HasOffsets() {
			t.Fatalf("missing offsets: %+v", ref)
		}
		if got := string([]rune(text)[*ref.CharStart:*ref.CharEnd]); got != ref.Snippet {
			t.Errorf("text[%d:%d] = %q, want %q", *ref.CharStart, *ref.CharEnd, got, ref.Snippet)
		}
		if ref.PageNumber != 1 {
			t.Errorf("page = %d", ref.PageNumber)
		}
	}
}

func TestGroundedExtractorDegradesSpans(t *testing.T) {
	text := "Borrower: John Smith, SSN: 123-45-6789"
	cases := []struct {
		name        string
		field       entity.ExtractedField
		wantStart   int
		wantOffsets bool
		wantWarning string
	}{
		{"fuzzy kept", entity.ExtractedField{ExtractionClass: "borrower", Text: "John Smith", CharInterval: interval(10, 21)}, 10, true, "fuzzy match"},
		{"mismatch relocated", entity.ExtractedField{ExtractionClass: "borrower", Text: "John Smith", CharInterval: interval(0, 8)}, 10, true, "relocated"},
		{"out of range dropped", entity.ExtractedField{ExtractionClass: "borrower", Text: "Jane Doe", CharInterval: interval(30, 90)}, 0, false, "offsets dropped"},
		{"no span located", entity.ExtractedField{ExtractionClass: "borrower", Text: "John Smith"}, 10, true, ""},
		{"no span missing", entity.ExtractedField{ExtractionClass: "borrower", Text: "Jane Doe"}, 0, false, "no unique occurrence"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{fields: []entity.ExtractedField{tc.field}}
			res, err := NewGroundedExtractor(svc, GroundedConfig{Logger: quietLogger()}).Extract(context.Background(), singlePage(text), uuid.New())
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			ref := res.Borrowers[0].SourceReferences[0]
			if ref.HasOffsets() != tc.wantOffsets {
				t.Fatalf("offsets = %v, want %v", ref.HasOffsets(), tc.wantOffsets)
			}
			if tc.wantOffsets && *ref.CharStart != tc.wantStart {
				t.Errorf("start = %d, want %d", *ref.CharStart, tc.wantStart)
			}
			if tc.wantWarning == "" {
				if len(res.AlignmentWarnings) != 0 {
					t.Errorf("warnings = %v", res.AlignmentWarnings)
				}
				return
			}
			if len(res.AlignmentWarnings) != 1 || !strings.Contains(res.AlignmentWarnings[0], tc.wantWarning) {
				t.Errorf("warnings = %v, want %q", res.AlignmentWarnings, tc.wantWarning)
			}
		})
	}
}

func TestGroundedExtractorPagesAndGrouping(t *testing.T) {
	doc := entity.NewDocumentContent([]entity.PageContent{
		{PageNumber: 1, Text: "Borrower: John Smith\nCo-Borrower: Mary Smith"},
		{PageNumber: 2, Text: "Annual income $90,000.00 (John)\nMonthly income $4,100.00 (Mary)"},
	}, constants.OCRMethodGPU)
	svc := &fakeService{fields: []entity.ExtractedField{
		{ExtractionClass: "borrower", Text: "John Smith"},
		{ExtractionClass: "borrower", Text: "Mary Smith"},
		{ExtractionClass: "income", Text: "$90,000.00", Attributes: map[string]string{"borrower": "John Smith", "period": "annual"}},
		{ExtractionClass: "income", Text: "$4,100.00", Attributes: map[string]string{"amount": "4100", "period": "monthly"}},
	}}
	res, err := NewGroundedExtractor(svc, GroundedConfig{Logger: quietLogger()}).Extract(context.Background(), doc, uuid.New())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Borrowers) != 2 {
		t.Fatalf("borrowers = %+v", res.Borrowers)
	}
	john, mary := res.Borrowers[0], res.Borrowers[1]
	if len(john.Income) != 1 || john.Income[0].Amount != 90000 {
		t.Errorf("john income = %+v", john.Income)
	}
	if len(mary.Income) != 1 || mary.Income[0].Amount != 4100 || mary.Income[0].Period != "monthly" {
		t.Errorf("mary income = %+v", mary.Income)
	}
	if p := john.SourceReferences[1].PageNumber; p != 2 {
		t.Errorf("income page = %d, want 2", p)
	}
	if p := mary.SourceReferences[0].PageNumber; p != 1 {
		t.Errorf("borrower page = %d, want 1", p)
	}
}

func TestGroundedExtractorMarkdownPages(t *testing.T) {
	doc := entity.NewDocumentContent([]entity.PageContent{
		{PageNumber: 1, Text: "Borrower: John Smith", Markdown: "**Borrower:** John Smith"},
		{PageNumber: 2, Text: "SSN 123-45-6789", Markdown: "| SSN | 123-45-6789 |"},
	}, constants.OCRMethodNone)
	svc := &fakeService{fields: []entity.ExtractedField{
		{ExtractionClass: "borrower", Text: "John Smith"},
		{ExtractionClass: "ssn", Text: "123-45-6789"},
	}}
	res, err := NewGroundedExtractor(svc, GroundedConfig{Logger: quietLogger()}).Extract(context.Background(), doc, uuid.New())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	refs := res.Borrowers[0].SourceReferences
	if refs[0].PageNumber != 1 || refs[1].PageNumber != 2 {
		t.Errorf("pages = %d, %d", refs[0].PageNumber, refs[1].PageNumber)
	}
	full := []rune(doc.FullText)
	for _, ref := range refs {
		if got := string(full[*ref.CharStart:*ref.CharEnd]); got != ref.Snippet {
			t.Errorf("full_text[%d:%d] = %q, want %q", *ref.CharStart, *ref.CharEnd, got, ref.Snippet)
		}
	}
}

func TestGroundedExtractorServiceError(t *testing.T) {
	svc := &fakeService{err: &common.ExtractionServiceError{StatusCode: 503, Cause: errors.New("unavailable")}}
	_, err := NewGroundedExtractor(svc, GroundedConfig{Logger: quietLogger()}).Extract(context.Background(), singlePage("Borrower: John Smith"), uuid.New())
	if !common.IsExtractionServiceError(err) {
		t.Fatalf("want ExtractionServiceError, got %v", err)
	}

	empty := &fakeService{}
	res, err := NewGroundedExtractor(empty, GroundedConfig{Logger: quietLogger()}).Extract(context.Background(), singlePage("  "), uuid.New())
	if err != nil || empty.calls != 0 || len(res.Borrowers) != 0 {
		t.Fatalf("blank document: res=%+v err=%v calls=%d", res, err, empty.calls)
	}
}

type fakeEngine struct {
	method constants.ExtractionMethod
	err    error
	calls  int
}

func (f *fakeEngine) Method() constants.ExtractionMethod { return f.method }

func (f *fakeEngine) Extract(_ context.Context, _ entity.DocumentContent, id uuid.UUID) (*entity.ExtractionResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return newResult(id, f.method), nil
}

func TestRouter(t *testing.T) {
	serviceErr := &common.ExtractionServiceError{StatusCode: 500, Cause: errors.New("boom")}
	otherErr := errors.New("unexpected")

	cases := []struct {
		name           string
		method         constants.ExtractionMethod
		groundedErr    error
		wantMethod     constants.ExtractionMethod
		wantErr        bool
		wantGrounded   int
		wantStructured int
		wantWarning    bool
	}{
		{"docling direct", constants.MethodDocling, nil, constants.MethodDocling, false, 0, 1, false},
		{"langextract ok", constants.MethodLangExtract, nil, constants.MethodLangExtract, false, 1, 0, false},
		{"langextract service failure", constants.MethodLangExtract, serviceErr, constants.MethodDocling, false, 1, 1, true},
		{"langextract other failure", constants.MethodLangExtract, otherErr, "", true, 1, 0, false},
		{"auto ok", constants.MethodAuto, nil, constants.MethodLangExtract, false, 1, 0, false},
		{"auto any failure", constants.MethodAuto, otherErr, constants.MethodDocling, false, 1, 1, true},
		{"auto cancelled", constants.MethodAuto, context.Canceled, "", true, 1, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			structured := &fakeEngine{method: constants.MethodDocling}
			grounded := &fakeEngine{method: constants.MethodLangExtract, err: tc.groundedErr}
			r := NewRouter(structured, grounded, quietLogger())

			id := uuid.New()
			res, err := r.Extract(context.Background(), singlePage("x"), id, "a.pdf", tc.method)
			if tc.wantErr {
				if err == nil {
					t.Fatal("want error")
				}
			} else {
				if err != nil {
					t.Fatalf("Extract: %v", err)
				}
				if res.MethodUsed != tc.wantMethod || res.DocumentID != id || res.Filename != "a.pdf" {
					t.Errorf("result = %+v", res)
				}
				if got := len(res.AlignmentWarnings) > 0; got != tc.wantWarning {
					t.Errorf("warnings = %v", res.AlignmentWarnings)
				}
			}
			if grounded.calls != tc.wantGrounded || structured.calls != tc.wantStructured {
				t.Errorf("calls grounded=%d structured=%d", grounded.calls, structured.calls)
			}
		})
	}

	t.Run("unknown method", func(t *testing.T) {
		r := NewRouter(&fakeEngine{}, &fakeEngine{}, quietLogger())
		if _, err := r.Extract(context.Background(), singlePage("x"), uuid.New(), "", "ocr"); err == nil {
			t.Fatal("want error")
		}
	})
}

// A service that always fails never makes langextract raise.
func TestRouterFallbackDeterminism(t *testing.T) {
	svc := &fakeService{err: &common.ExtractionServiceError{Cause: errors.New("model overloaded")}}
	r := NewRouter(
		NewStructuredExtractor(quietLogger()),
		NewGroundedExtractor(svc, GroundedConfig{Logger: quietLogger()}),
		quietLogger(),
	)
	for i := 0; i < 3; i++ {
		res, err := r.Extract(context.Background(), singlePage(applicationText), uuid.New(), "app.pdf", constants.MethodLangExtract)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if res.MethodUsed != constants.MethodDocling {
			t.Fatalf("method_used = %s", res.MethodUsed)
		}
		if len(res.AlignmentWarnings) == 0 {
			t.Fatal("fallback left no warning")
		}
		if len(res.Borrowers) != 1 || res.Borrowers[0].Name != "John A. Smith" {
			t.Fatalf("borrowers = %+v", res.Borrowers)
		}
	}

	r = NewRouter(NewStructuredExtractor(quietLogger()), nil, quietLogger())
	res, err := r.Extract(context.Background(), singlePage(applicationText), uuid.New(), "app.pdf", constants.MethodAuto)
	if err != nil || res.MethodUsed != constants.MethodDocling {
		t.Fatalf("no grounded engine: res=%+v err=%v", res, err)
	}
}

// longPacket builds a multi-page document whose raw page text carries ragged
// whitespace and whose rendering has it collapsed, as native PDFs do.
func longPacket(pages int) entity.DocumentContent {
	var out []entity.PageContent
	for p := 1; p <= pages; p++ {
		var b strings.Builder
		fmt.Fprintf(&b, "Page  %d  of  %d \n", p, pages)
		fmt.Fprintf(&b, "Borrower:   Applicant%02d   Loan  Number:  LN-2024-%05d  \n\n\n", p, p)
		for l := 0; l < 25; l++ {
			fmt.Fprintf(&b, "  Item %d\tpayment   of  $%d.%02d  is  due  on  the  first  \n", l, p*50+l, l)
		}
		raw := b.String()
		lines := strings.Split(raw, "\n")
		for i, line := range lines {
			lines[i] = strings.Join(strings.Fields(line), " ")
		}
		out = append(out, entity.PageContent{PageNumber: p, Text: raw, Markdown: strings.TrimSpace(strings.Join(lines, "\n"))})
	}
	return entity.NewDocumentContent(out, constants.OCRMethodNone)
}

func TestGroundedExtractorLongDocumentPages(t *testing.T) {
	doc := longPacket(22)
	if !doc.HasDistinctRaw() {
		t.Fatal("packet rendering should differ from raw text")
	}
	full := doc.FullText
	var fields []entity.ExtractedField
	for _, p := range []int{2, 13, 22} {
		name := fmt.Sprintf("Applicant%02d", p)
		idx := utf8.RuneCountInString(full[:strings.Index(full, name)])
		fields = append(fields, entity.ExtractedField{
			ExtractionClass: "borrower",
			Text:            name,
			CharInterval:    interval(idx, idx+len(name)),
		})
	}
	svc := &fakeService{fields: fields}

	begin := time.Now()
	res, err := NewGroundedExtractor(svc, GroundedConfig{Logger: quietLogger()}).Extract(context.Background(), doc, uuid.New())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 5*time.Second {
		t.Fatalf("grounded extraction over %d pages took %v", len(doc.Pages), elapsed)
	}
	if len(res.AlignmentWarnings) != 0 {
		t.Errorf("warnings = %v", res.AlignmentWarnings)
	}
	if len(res.Borrowers) != 3 {
		t.Fatalf("borrowers = %d, want 3", len(res.Borrowers))
	}
	want := map[string]int{"Applicant02": 2, "Applicant13": 13, "Applicant22": 22}
	for _, b := range res.Borrowers {
		ref := b.SourceReferences[0]
		if ref.PageNumber != want[ref.Snippet] {
			t.Errorf("%s on page %d, want %d", ref.Snippet, ref.PageNumber, want[ref.Snippet])
		}
	}
}

func TestGroundedExtractorCancelledAlignment(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := &fakeService{fields: []entity.ExtractedField{{ExtractionClass: "borrower", Text: "Applicant01"}}}
	_, err := NewGroundedExtractor(svc, GroundedConfig{Logger: quietLogger()}).Extract(ctx, longPacket(2), uuid.New())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Extract = %v, want context.Canceled", err)
	}
}

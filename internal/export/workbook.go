// Package export renders extraction results as spreadsheets.
package export

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/loan-extractor/internal/entity"
)

const (
	SheetBorrowers = "Borrowers"
	SheetIncome    = "Income"
	SheetAccounts  = "Accounts"
	SheetSources   = "Sources"
)

type sheetWriter struct {
	f     *excelize.File
	sheet string
	row   int
}

func (w *sheetWriter) write(values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, w.row)
		_ = w.f.SetCellValue(w.sheet, cell, v)
	}
	w.row++
}

// WorkbookXLSX returns an XLSX workbook (as bytes) with one row per borrower, income line,
// account and source reference across results. Null offsets are written as blank cells.
func WorkbookXLSX(results []*entity.ExtractionResult) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	writers := map[string]*sheetWriter{}
	for i, name := range []string{SheetBorrowers, SheetIncome, SheetAccounts, SheetSources} {
		if i == 0 {
			// reuse the default sheet so the workbook has no empty "Sheet1"
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
		writers[name] = &sheetWriter{f: f, sheet: name, row: 1}
	}
	f.SetActiveSheet(0)

	writers[SheetBorrowers].write("Document ID", "Filename", "Borrower ID", "Name", "SSN", "Address", "Phone", "Email", "Employer", "Loan Numbers", "Method", "OCR Method")
	writers[SheetIncome].write("Document ID", "Borrower ID", "Borrower", "Amount", "Period", "Year", "Source", "Employer", "Raw")
	writers[SheetAccounts].write("Document ID", "Borrower ID", "Borrower", "Number", "Type", "Institution")
	writers[SheetSources].write("document_id", "borrower_id", "page_number", "snippet", "char_start", "char_end")

	for _, res := range results {
		if res == nil {
			continue
		}
		doc := res.DocumentID.String()
		for _, b := range res.Borrowers {
			id := b.ID.String()
			writers[SheetBorrowers].write(doc, res.Filename, id, b.Name, b.SSN, b.Address, b.Phone, b.Email, b.Employer,
				strings.Join(b.LoanNumbers, ", "), string(res.MethodUsed), string(res.OCRMethod))
			for _, inc := range b.Income {
				year := any("")
				if inc.Year != 0 {
					year = inc.Year
				}
				writers[SheetIncome].write(doc, id, b.Name, inc.Amount, inc.Period, year, inc.Source, inc.Employer, truncate(inc.Raw, 140))
			}
			for _, acc := range b.Accounts {
				writers[SheetAccounts].write(doc, id, b.Name, acc.Number, acc.Type, acc.Institution)
			}
			for _, ref := range b.SourceReferences {
				writers[SheetSources].write(ref.DocumentID.String(), id, ref.PageNumber, truncate(ref.Snippet, 140), intCell(ref.CharStart), intCell(ref.CharEnd))
			}
		}
	}

	// Widen a few columns
	_ = f.SetColWidth(SheetBorrowers, "A", "C", 38)
	_ = f.SetColWidth(SheetBorrowers, "D", "J", 24)
	_ = f.SetColWidth(SheetIncome, "I", "I", 48)
	_ = f.SetColWidth(SheetSources, "A", "B", 38)
	_ = f.SetColWidth(SheetSources, "D", "D", 48)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func intCell(p *int) any {
	if p == nil {
		return ""
	}
	return *p
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

package docparse

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// ReadPDFPages returns the embedded text layer of every page, index 0 being page 1.
// Pages whose content cannot be decoded yield "" rather than failing the document.
func ReadPDFPages(data []byte) (pages []string, err error) {
	if len(data) == 0 {
		return nil, errors.New("empty pdf")
	}
	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("read pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	n := r.NumPage()
	pages = make([]string, n)
	for i := 1; i <= n; i++ {
		pages[i-1] = pageText(r, i)
	}
	return pages, nil
}

func pageText(r *pdf.Reader, num int) (txt string) {
	defer func() {
		if rec := recover(); rec != nil {
			txt = ""
		}
	}()
	p := r.Page(num)
	if p.V.IsNull() {
		return ""
	}
	s, err := p.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return s
}

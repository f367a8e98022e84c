package detect

import (
	"errors"
	"reflect"
	"testing"

	"github.com/joseph-ayodele/loan-extractor/internal/common"
	"github.com/joseph-ayodele/loan-extractor/internal/testutil"
)

func TestDetectMixedDocument(t *testing.T) {
	data := testutil.PDF(
		"Uniform Residential Loan Application\nBorrower: John Smith",
		"",
		"Employer: Acme Corporation\nGross monthly income: $7,083.33",
	)
	res, err := New(0, nil).Detect(data)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !reflect.DeepEqual(res.ScannedPages, []int{2}) {
		t.Fatalf("ScannedPages = %v, want [2]", res.ScannedPages)
	}
	if res.TotalPages != 3 || !res.NeedsOCR {
		t.Fatalf("result = %+v", res)
	}
	if res.ScannedRatio < 0.33 || res.ScannedRatio > 0.34 {
		t.Fatalf("ScannedRatio = %v", res.ScannedRatio)
	}
}

func TestDetectThreshold(t *testing.T) {
	data := testutil.PDF("Page 1 of 3", "A full line of native text here")
	res, err := New(0, nil).Detect(data)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	// Eight visible characters is a stamp, not a text layer.
	if !reflect.DeepEqual(res.ScannedPages, []int{1}) {
		t.Fatalf("ScannedPages = %v, want [1]", res.ScannedPages)
	}

	res, _ = New(5, nil).Detect(data)
	if res.NeedsOCR {
		t.Fatalf("custom threshold ignored: %+v", res)
	}
}

func TestDetectAllNativeAndEmpty(t *testing.T) {
	res, err := New(0, nil).Detect(testutil.PDF("Borrower: Jane Doe, SSN 987-65-4321"))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.NeedsOCR || res.ScannedRatio != 0 || len(res.ScannedPages) != 0 {
		t.Fatalf("result = %+v", res)
	}

	res, err = New(0, nil).Detect(testutil.PDF())
	if err != nil {
		t.Fatalf("Detect empty: %v", err)
	}
	if res.TotalPages != 0 || res.NeedsOCR || res.ScannedRatio != 0 {
		t.Fatalf("empty result = %+v", res)
	}
}

func TestDetectInvalidPDF(t *testing.T) {
	_, err := New(0, nil).Detect([]byte("this is not a pdf"))
	var perr *common.DocumentParseError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want DocumentParseError", err)
	}
	_, err = New(0, nil).DetectFile([]byte("%PDF-1.7 truncated"), "loan.pdf")
	if !errors.As(err, &perr) || perr.Filename != "loan.pdf" {
		t.Fatalf("err = %v, want DocumentParseError naming the file", err)
	}
}

func TestDetectFileImage(t *testing.T) {
	res, err := New(0, nil).DetectFile([]byte("\x89PNG\r\n\x1a\n..."), "w2.png")
	if err != nil {
		t.Fatalf("DetectFile: %v", err)
	}
	if !reflect.DeepEqual(res.ScannedPages, []int{1}) || res.ScannedRatio != 1 {
		t.Fatalf("result = %+v", res)
	}
}

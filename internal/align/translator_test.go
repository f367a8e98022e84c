package align

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"testing"
	"time"
)

const borrowerLine = "Borrower: John Smith, SSN: 123-45-6789"

func TestVerifyOffsetExact(t *testing.T) {
	tr := New(borrowerLine, "")
	v := tr.Verify(10, 20, "John Smith")
	if !v.OK || !v.Exact || v.Ratio != 1 {
		t.Fatalf("Verify = %+v, want exact match", v)
	}
	if !tr.VerifyOffset(10, 20, "John Smith") {
		t.Fatal("VerifyOffset = false")
	}
}

func TestVerifyOffsetFuzzyOffByOne(t *testing.T) {
	tr := New(borrowerLine, "")
	v := tr.Verify(10, 21, "John Smith")
	if v.Exact {
		t.Fatal("off-by-one span must not be exact")
	}
	if !v.OK {
		t.Fatalf("Verify = %+v, want fuzzy pass", v)
	}
	if v.Actual != "John Smith," {
		t.Fatalf("Actual = %q", v.Actual)
	}
	if want := 20.0 / 21.0; math.Abs(v.Ratio-want) > 1e-9 {
		t.Fatalf("Ratio = %v, want %v", v.Ratio, want)
	}
}

func TestVerifyOffsetRejects(t *testing.T) {
	tr := New(borrowerLine, "")
	cases := []struct {
		name       string
		start, end int
		expected   string
	}{
		{"wrong text", 27, 38, "John Smith"},
		{"negative start", -1, 5, "Borr"},
		{"past end", 30, 100, "6789"},
		{"empty span", 10, 10, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tr.VerifyOffset(tc.start, tc.end, tc.expected) {
				t.Fatalf("VerifyOffset(%d,%d,%q) = true", tc.start, tc.end, tc.expected)
			}
		})
	}
}

func TestThresholdOption(t *testing.T) {
	tr := New(borrowerLine, "", WithThreshold(0.99))
	if tr.VerifyOffset(10, 21, "John Smith") {
		t.Fatal("fuzzy match passed a 0.99 threshold")
	}
	if New("x", "", WithThreshold(7)).Threshold() != DefaultFuzzyThreshold {
		t.Fatal("out-of-range threshold was accepted")
	}
}

func TestMarkdownToRaw(t *testing.T) {
	md := "**Borrower:** John Smith\n\n| SSN | 123-45-6789 |"
	raw := "Borrower: John Smith\nSSN 123-45-6789"
	tr := New(md, raw)

	start, end, ok := tr.FindUnique("John Smith")
	if !ok {
		t.Fatal("FindUnique failed")
	}
	rs, re, ok := tr.MarkdownToRaw(start, end)
	if !ok {
		t.Fatal("MarkdownToRaw reported no mapping")
	}
	if got := string([]rune(raw)[rs:re]); got != "John Smith" {
		t.Fatalf("raw span = %q (%d,%d)", got, rs, re)
	}

	start, end, _ = tr.FindUnique("123-45-6789")
	rs, re, ok = tr.MarkdownToRaw(start, end)
	if !ok || string([]rune(raw)[rs:re]) != "123-45-6789" {
		t.Fatalf("ssn mapping = (%d,%d,%v)", rs, re, ok)
	}
}

func TestMarkdownToRawUnavailable(t *testing.T) {
	if _, _, ok := New(borrowerLine, "").MarkdownToRaw(10, 20); ok {
		t.Fatal("mapping without raw text")
	}

	tr := New("XXXX hello", "hello")
	if _, _, ok := tr.MarkdownToRaw(0, 4); ok {
		t.Fatal("span outside every matched block was mapped")
	}
	if rs, re, ok := tr.MarkdownToRaw(5, 10); !ok || rs != 0 || re != 5 {
		t.Fatalf("MarkdownToRaw(5,10) = (%d,%d,%v)", rs, re, ok)
	}
}

func TestMarkdownToRawInterpolates(t *testing.T) {
	// The middle word differs, so its position comes from the neighbouring anchors.
	tr := New("alpha XXXX omega", "alpha YYYY omega")
	rs, re, ok := tr.MarkdownToRaw(4, 8)
	if !ok {
		t.Fatal("no mapping")
	}
	if rs != 4 || re != 8 {
		t.Fatalf("MarkdownToRaw(4,8) = (%d,%d)", rs, re)
	}
}

func TestFindUniqueRunes(t *testing.T) {
	tr := New("Né: José Núñez, José", "")
	if _, _, ok := tr.FindUnique("José"); ok {
		t.Fatal("duplicate occurrence reported as unique")
	}
	start, end, ok := tr.FindUnique("Núñez")
	if !ok || start != 9 || end != 14 {
		t.Fatalf("FindUnique = (%d,%d,%v)", start, end, ok)
	}
	if got, _ := tr.Slice(start, end); got != "Núñez" {
		t.Fatalf("Slice = %q", got)
	}
}

func TestSimilarity(t *testing.T) {
	if Similarity("", "") != 1 {
		t.Fatal("empty strings should be identical")
	}
	if got := Similarity("abcd", "wxyz"); got != 0 {
		t.Fatalf("Similarity = %v, want 0", got)
	}
}

// loanPacket returns a raw multi-page text with ragged whitespace, its
// whitespace-collapsed rendering, and the rune offset where each raw page starts.
func loanPacket(pages int) (md, raw string, rawStarts []int) {
	var rawPages, mdPages []string
	for p := 1; p <= pages; p++ {
		var b strings.Builder
		fmt.Fprintf(&b, "Page  %d   of  %d  \n", p, pages)
		fmt.Fprintf(&b, "Borrower:   Applicant%02d    SSN:  %03d-45-%04d \n\n\n", p, p, 1000+p)
		for l := 0; l < 30; l++ {
			fmt.Fprintf(&b, "  Line %d\tthe  amount  of  $%d.%02d  and  the  balance   is  due  \n", l, p*100+l, l)
		}
		r := b.String()
		rawPages = append(rawPages, r)

		lines := strings.Split(r, "\n")
		for i, line := range lines {
			lines[i] = strings.Join(strings.Fields(line), " ")
		}
		mdPages = append(mdPages, strings.TrimSpace(strings.Join(lines, "\n")))
	}
	off := 0
	for _, r := range rawPages {
		rawStarts = append(rawStarts, off)
		off += len([]rune(r)) + 2
	}
	return strings.Join(mdPages, "\n\n"), strings.Join(rawPages, "\n\n"), rawStarts
}

func TestMarkdownToRawLongDocument(t *testing.T) {
	const pages = 24
	md, raw, rawStarts := loanPacket(pages)
	if len([]rune(raw)) < 40000 {
		t.Fatalf("packet too small: %d runes", len([]rune(raw)))
	}

	begin := time.Now()
	tr := New(md, raw)
	for _, p := range []int{1, 9, 17, 24} {
		name := fmt.Sprintf("Applicant%02d", p)
		start, end, ok := tr.FindUnique(name)
		if !ok {
			t.Fatalf("FindUnique(%q) failed", name)
		}
		rs, re, ok := tr.MarkdownToRaw(start, end)
		if !ok {
			t.Fatalf("MarkdownToRaw(%q) reported no mapping", name)
		}
		if got := string([]rune(raw)[rs:re]); got != name {
			t.Fatalf("raw span for %q = %q", name, got)
		}
		page := sort.SearchInts(rawStarts, rs+1)
		if page != p {
			t.Fatalf("%q mapped to raw page %d, want %d", name, page, p)
		}
	}
	if elapsed := time.Since(begin); elapsed > 5*time.Second {
		t.Fatalf("aligning %d pages took %v", pages, elapsed)
	}
}

func TestPrepareHonoursContext(t *testing.T) {
	md, raw, _ := loanPacket(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := New(md, raw)
	if err := tr.Prepare(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Prepare = %v, want context.Canceled", err)
	}
	start, end, _ := tr.FindUnique("Applicant02")
	if _, _, ok := tr.MarkdownToRaw(start, end); ok {
		t.Fatal("mapping served after a cancelled alignment")
	}
	if err := New(md, "").Prepare(ctx); err != nil {
		t.Fatalf("Prepare without raw text = %v", err)
	}
}

func TestVerifyLengthBound(t *testing.T) {
	tr := New(strings.Repeat("John Smith ", 500), "")
	v := tr.Verify(0, tr.Len(), "John Smith")
	if v.OK || v.Ratio > 0.01 {
		t.Fatalf("Verify over the whole text = %+v", v)
	}
}

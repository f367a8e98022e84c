// Package align reconciles two renderings of the same document text and
// verifies claimed character spans against them.
//
// All offsets are rune offsets, half-open and 0-indexed.
package align

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultFuzzyThreshold is the minimum similarity ratio at which a non-exact
// span still counts as verified.
const DefaultFuzzyThreshold = 0.85

// MaxAlignRunes caps the combined length of the two texts an alignment is built for.
const MaxAlignRunes = 4 << 20

// gapRefineLimit bounds the character-level pass between token anchors.
const gapRefineLimit = 1024

// similarityJunkAbove is the combined rune length past which Similarity lets
// the matcher discard popular characters.
const similarityJunkAbove = 4096

// ErrAlignmentTooLarge is returned by Prepare for texts above MaxAlignRunes.
var ErrAlignmentTooLarge = errors.New("align: texts too large to align")

// Verification is the outcome of checking one claimed span.
type Verification struct {
	OK     bool
	Exact  bool
	Ratio  float64
	Actual string // text found at the claimed span, empty when the span is out of range
}

// Translator is read-only over both texts. The alignment map between them is
// built on first use and reused for every lookup.
type Translator struct {
	transformed []rune
	raw         []rune
	hasRaw      bool
	threshold   float64

	once     sync.Once
	blocks   []difflib.Match
	alignErr error
}

// Option configures a Translator.
type Option func(*Translator)

// WithThreshold overrides DefaultFuzzyThreshold.
func WithThreshold(threshold float64) Option {
	return func(t *Translator) {
		if threshold > 0 && threshold <= 1 {
			t.threshold = threshold
		}
	}
}

// New builds a Translator over transformed text and, optionally, the raw text it was
// derived from. An empty raw means no raw text is available.
func New(transformed, raw string, opts ...Option) *Translator {
	t := &Translator{
		transformed: []rune(transformed),
		raw:         []rune(raw),
		hasRaw:      raw != "",
		threshold:   DefaultFuzzyThreshold,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Threshold returns the fuzzy acceptance threshold in use.
func (t *Translator) Threshold() float64 { return t.threshold }

// Len returns the rune length of the transformed text.
func (t *Translator) Len() int { return len(t.transformed) }

// Slice returns transformed[start:end], or "" and false when the span is out of range.
func (t *Translator) Slice(start, end int) (string, bool) {
	if start < 0 || end > len(t.transformed) || start >= end {
		return "", false
	}
	return string(t.transformed[start:end]), true
}

// VerifyOffset reports whether transformed[start:end] reproduces expected,
// exactly or with a similarity ratio at or above the threshold.
func (t *Translator) VerifyOffset(start, end int, expected string) bool {
	return t.Verify(start, end, expected).OK
}

// Verify is VerifyOffset with the details a caller needs to emit a warning.
func (t *Translator) Verify(start, end int, expected string) Verification {
	actual, ok := t.Slice(start, end)
	if !ok {
		return Verification{}
	}
	if actual == expected {
		return Verification{OK: true, Exact: true, Ratio: 1, Actual: actual}
	}
	// 2*min/(la+lb) bounds the ratio from above.
	la, lb := end-start, utf8.RuneCountInString(expected)
	if bound := 2 * float64(min(la, lb)) / float64(la+lb); bound < t.threshold {
		return Verification{Ratio: bound, Actual: actual}
	}
	ratio := Similarity(actual, expected)
	return Verification{OK: ratio >= t.threshold, Ratio: ratio, Actual: actual}
}

// FindUnique returns the span of the only exact occurrence of text in the
// transformed text. It reports false for zero or several occurrences.
func (t *Translator) FindUnique(text string) (int, int, bool) {
	if text == "" {
		return 0, 0, false
	}
	s := string(t.transformed)
	idx := strings.Index(s, text)
	if idx < 0 {
		return 0, 0, false
	}
	if strings.Contains(s[idx+1:], text) {
		return 0, 0, false
	}
	start := len([]rune(s[:idx]))
	return start, start + len([]rune(text)), true
}

// MarkdownToRaw maps a span of the transformed text onto the raw text. It
// reports false when no raw text was supplied, when the alignment could not be
// built, or when the span does not overlap any aligned region.
func (t *Translator) MarkdownToRaw(start, end int) (int, int, bool) {
	if !t.hasRaw || start < 0 || end > len(t.transformed) || start >= end {
		return 0, 0, false
	}
	if err := t.Prepare(context.Background()); err != nil {
		return 0, 0, false
	}
	blocks := t.blocks
	if !overlaps(blocks, start, end) {
		return 0, 0, false
	}

	rawStart := t.mapPos(blocks, start)
	rawEnd := t.mapPos(blocks, end-1) + 1
	if rawEnd > len(t.raw) {
		rawEnd = len(t.raw)
	}
	if rawStart >= rawEnd {
		return 0, 0, false
	}
	return rawStart, rawEnd, true
}

// Prepare builds the alignment map between the transformed and raw texts. It
// runs once; later calls return the first outcome. Texts above MaxAlignRunes
// yield ErrAlignmentTooLarge, and a done ctx aborts with ctx.Err().
func (t *Translator) Prepare(ctx context.Context) error {
	if !t.hasRaw {
		return nil
	}
	t.once.Do(func() {
		t.blocks, t.alignErr = t.align(ctx)
	})
	return t.alignErr
}

// align anchors on whitespace-separated tokens and refines by characters only
// inside the short gaps between anchored tokens. Wider gaps are left to
// interpolation in mapPos.
func (t *Translator) align(ctx context.Context) ([]difflib.Match, error) {
	if n := len(t.transformed) + len(t.raw); n > MaxAlignRunes {
		return nil, fmt.Errorf("%w: %d runes", ErrAlignmentTooLarge, n)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ta, tb := tokenize(t.transformed), tokenize(t.raw)
	m := difflib.NewMatcher(tokenStrings(ta), tokenStrings(tb))

	var blocks []difflib.Match
	add := func(b difflib.Match) {
		if b.Size <= 0 {
			return
		}
		if n := len(blocks); n > 0 {
			last := &blocks[n-1]
			if last.A+last.Size == b.A && last.B+last.Size == b.B {
				last.Size += b.Size
				return
			}
		}
		blocks = append(blocks, b)
	}

	prevA, prevB := 0, 0
	for i, tm := range m.GetMatchingBlocks() {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		nextA, nextB := len(t.transformed), len(t.raw)
		if tm.Size > 0 {
			nextA, nextB = ta[tm.A].start, tb[tm.B].start
		}
		for _, g := range t.refine(prevA, nextA, prevB, nextB) {
			add(g)
		}
		if tm.Size == 0 {
			break
		}
		for k := 0; k < tm.Size; k++ {
			a, b := ta[tm.A+k], tb[tm.B+k]
			add(difflib.Match{A: a.start, B: b.start, Size: a.end - a.start})
			if k+1 < tm.Size {
				na, nb := ta[tm.A+k+1], tb[tm.B+k+1]
				for _, g := range t.refine(a.end, na.start, b.end, nb.start) {
					add(g)
				}
			}
		}
		prevA, prevB = ta[tm.A+tm.Size-1].end, tb[tm.B+tm.Size-1].end
	}
	return blocks, nil
}

// refine aligns transformed[a0:a1] with raw[b0:b1] character by character.
// Identical gaps match whole; gaps wider than gapRefineLimit are skipped.
func (t *Translator) refine(a0, a1, b0, b1 int) []difflib.Match {
	la, lb := a1-a0, b1-b0
	if la <= 0 || lb <= 0 || la > gapRefineLimit || lb > gapRefineLimit {
		return nil
	}
	ga, gb := t.transformed[a0:a1], t.raw[b0:b1]
	if string(ga) == string(gb) {
		return []difflib.Match{{A: a0, B: b0, Size: la}}
	}
	m := difflib.NewMatcherWithJunk(runeStrings(ga), runeStrings(gb), false, nil)
	var out []difflib.Match
	for _, b := range m.GetMatchingBlocks() {
		if b.Size > 0 {
			out = append(out, difflib.Match{A: a0 + b.A, B: b0 + b.B, Size: b.Size})
		}
	}
	return out
}

type token struct {
	text       string
	start, end int
}

func tokenize(rs []rune) []token {
	var out []token
	start := -1
	for i, r := range rs {
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, token{text: string(rs[start:i]), start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, token{text: string(rs[start:]), start: start, end: len(rs)})
	}
	return out
}

func tokenStrings(ts []token) []string {
	out := make([]string, len(ts))
	for i, tk := range ts {
		out[i] = tk.text
	}
	return out
}

func overlaps(blocks []difflib.Match, start, end int) bool {
	// First block that ends after start.
	i := sort.Search(len(blocks), func(i int) bool { return blocks[i].A+blocks[i].Size > start })
	return i < len(blocks) && blocks[i].A < end
}

// mapPos maps one transformed position to raw, exactly inside a matched block
// and by linear interpolation between the surrounding anchors otherwise.
func (t *Translator) mapPos(blocks []difflib.Match, pos int) int {
	i := sort.Search(len(blocks), func(i int) bool { return blocks[i].A+blocks[i].Size > pos })
	if i < len(blocks) && blocks[i].A <= pos {
		return blocks[i].B + (pos - blocks[i].A)
	}

	prevA, prevB := 0, 0
	if i > 0 {
		prevA = blocks[i-1].A + blocks[i-1].Size
		prevB = blocks[i-1].B + blocks[i-1].Size
	}
	nextA, nextB := len(t.transformed), len(t.raw)
	if i < len(blocks) {
		nextA, nextB = blocks[i].A, blocks[i].B
	}
	if nextA <= prevA {
		return prevB
	}
	frac := float64(pos-prevA) / float64(nextA-prevA)
	return prevB + int(frac*float64(nextB-prevB)+0.5)
}

// Similarity is the character-level ratio 2*M/T of a and b, in [0,1]. Long
// inputs use the matcher's popularity heuristic, which can only lower M.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra)+len(rb) == 0 {
		return 1
	}
	autojunk := len(ra)+len(rb) > similarityJunkAbove
	m := difflib.NewMatcherWithJunk(runeStrings(ra), runeStrings(rb), autojunk, nil)
	return m.Ratio()
}

func runeStrings(rs []rune) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}

package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/loan-extractor/constants"
	"github.com/joseph-ayodele/loan-extractor/internal/align"
	"github.com/joseph-ayodele/loan-extractor/internal/entity"
	"github.com/joseph-ayodele/loan-extractor/internal/llm"
)

// GroundedConfig configures the grounded engine.
type GroundedConfig struct {
	Examples  []llm.Example // validated at startup
	Prompt    string        // defaults to llm.BuildPrompt()
	Threshold float64       // fuzzy acceptance ratio; defaults to align.DefaultFuzzyThreshold
	Logger    *slog.Logger
}

// GroundedExtractor sends the document text to the structured extraction service and
// verifies every returned span against that text before attaching it.
type GroundedExtractor struct {
	service llm.Service
	cfg     GroundedConfig
	logger  *slog.Logger
}

var _ Engine = (*GroundedExtractor)(nil)

// NewGroundedExtractor builds the langextract engine.
func NewGroundedExtractor(service llm.Service, cfg GroundedConfig) *GroundedExtractor {
	if cfg.Prompt == "" {
		cfg.Prompt = llm.BuildPrompt()
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = align.DefaultFuzzyThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GroundedExtractor{service: service, cfg: cfg, logger: logger}
}

// Method implements Engine.
func (g *GroundedExtractor) Method() constants.ExtractionMethod { return constants.MethodLangExtract }

// Extract implements Engine. Service failures are returned unchanged; span
// verification failures only produce warnings.
func (g *GroundedExtractor) Extract(ctx context.Context, doc entity.DocumentContent, documentID uuid.UUID) (*entity.ExtractionResult, error) {
	start := time.Now()
	res := newResult(documentID, constants.MethodLangExtract)
	if strings.TrimSpace(doc.FullText) == "" {
		return res, nil
	}

	fields, err := g.service.Extract(ctx, llm.ExtractRequest{
		DocumentID: documentID.String(),
		Text:       doc.FullText,
		Prompt:     g.cfg.Prompt,
		Examples:   g.cfg.Examples,
	})
	if err != nil {
		return nil, err
	}

	raw := ""
	if doc.HasDistinctRaw() {
		raw = doc.RawText
	}
	tr := align.New(doc.FullText, raw, align.WithThreshold(g.cfg.Threshold))
	if err := tr.Prepare(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		g.logger.Warn("extract.grounded.align_failed", "document_id", documentID, "error", err)
		res.AlignmentWarnings = append(res.AlignmentWarnings,
			fmt.Sprintf("raw text alignment unavailable (%v), pages resolved on rendered text", err))
	}

	asm := newAssembler()
	grounded := 0
	for _, f := range fields {
		if strings.TrimSpace(f.Text) == "" {
			continue
		}
		ref, warning := g.ground(doc, tr, documentID, f)
		if warning != "" {
			res.AlignmentWarnings = append(res.AlignmentWarnings, warning)
		}
		if ref.HasOffsets() {
			grounded++
		}
		asm.add(located{field: f, ref: ref})
	}
	res.Borrowers = asm.result()

	g.logger.Info("extract.grounded.done",
		"document_id", documentID,
		"fields", len(fields),
		"grounded", grounded,
		"warnings", len(res.AlignmentWarnings),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// ground builds the source reference for one field. Offsets are kept only when the
// text at them reproduces the field exactly or within the fuzzy threshold.
func (g *GroundedExtractor) ground(doc entity.DocumentContent, tr *align.Translator, documentID uuid.UUID, f entity.ExtractedField) (entity.SourceReference, string) {
	ref := entity.SourceReference{DocumentID: documentID, Snippet: f.Text}
	label := fmt.Sprintf("%s %q", f.ExtractionClass, snippet(f.Text))

	var warning string
	if iv := f.CharInterval; iv != nil {
		v := tr.Verify(iv.Start, iv.End, f.Text)
		switch {
		case v.Exact:
			setSpan(&ref, iv.Start, iv.End)
		case v.OK:
			setSpan(&ref, iv.Start, iv.End)
			warning = fmt.Sprintf("%s: fuzzy match at [%d,%d) ratio %.2f, found %q", label, iv.Start, iv.End, v.Ratio, snippet(v.Actual))
		default:
			if s, e, ok := tr.FindUnique(f.Text); ok {
				setSpan(&ref, s, e)
				warning = fmt.Sprintf("%s: claimed span [%d,%d) did not match, relocated to [%d,%d)", label, iv.Start, iv.End, s, e)
			} else {
				warning = fmt.Sprintf("%s: claimed span [%d,%d) did not match (ratio %.2f), offsets dropped", label, iv.Start, iv.End, v.Ratio)
			}
		}
	} else if s, e, ok := tr.FindUnique(f.Text); ok {
		setSpan(&ref, s, e)
	} else {
		warning = fmt.Sprintf("%s: no span returned and no unique occurrence in text, offsets dropped", label)
	}

	ref.PageNumber = g.page(doc, tr, ref, f)
	return ref, warning
}

// page resolves the page of a field. Spans map through the raw text when it differs
// from the rendering, since page boundaries are defined on the raw stream.
func (g *GroundedExtractor) page(doc entity.DocumentContent, tr *align.Translator, ref entity.SourceReference, f entity.ExtractedField) int {
	if ref.HasOffsets() {
		if doc.HasDistinctRaw() {
			if rs, _, ok := tr.MarkdownToRaw(*ref.CharStart, *ref.CharEnd); ok {
				if p := doc.PageAtRaw(rs); p != 0 {
					return p
				}
			}
		}
		return doc.PageAt(*ref.CharStart)
	}
	if iv := f.CharInterval; iv != nil && iv.Start >= 0 && iv.Start < tr.Len() {
		return doc.PageAt(iv.Start)
	}
	if idx := strings.Index(doc.FullText, f.Text); idx >= 0 {
		return doc.PageAt(utf8.RuneCountInString(doc.FullText[:idx]))
	}
	if idx := strings.Index(doc.RawText, f.Text); idx >= 0 {
		return doc.PageAtRaw(utf8.RuneCountInString(doc.RawText[:idx]))
	}
	return 0
}

func setSpan(ref *entity.SourceReference, start, end int) {
	s, e := start, end
	ref.CharStart, ref.CharEnd = &s, &e
}

func snippet(s string) string {
	const limit = 60
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}

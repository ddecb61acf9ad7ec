package segmenter_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/valpere/transfold/internal/segmenter"
)

func mustSplit(t *testing.T, text string, opts segmenter.Options) *segmenter.SegmentedDocument {
	t.Helper()
	doc, err := segmenter.Split(text, opts)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	return doc
}

// --- round trip ---

func TestSplit_RoundTrip(t *testing.T) {
	text := "---\ntitle: Guide\n---\n# Heading\n\nFirst paragraph here.\n\n```go\nfunc main() {}\n```\n\nSecond paragraph.\n"
	doc := mustSplit(t, text, segmenter.Options{
		MaxChars:            20,
		PreserveCode:        true,
		PreserveFrontMatter: true,
	})
	if got := doc.Merge(); got != text {
		t.Errorf("merge does not reproduce input:\ngot:  %q\nwant: %q", got, text)
	}
}

func TestSplit_RoundTrip_NoTrailingNewline(t *testing.T) {
	text := "One paragraph. Another sentence here. And a third one."
	doc := mustSplit(t, text, segmenter.Options{MaxChars: 25})
	if got := doc.Merge(); got != text {
		t.Errorf("merge does not reproduce input: %q", got)
	}
}

func TestSplit_Deterministic(t *testing.T) {
	text := "---\nt: x\n---\nPara one.\n\n```\ncode\n```\n\n" + strings.Repeat("A sentence. ", 30)
	opts := segmenter.Options{MaxChars: 40, PreserveCode: true, PreserveFrontMatter: true}
	first := mustSplit(t, text, opts)
	second := mustSplit(t, text, opts)
	if len(first.Segments) != len(second.Segments) {
		t.Fatalf("segment counts differ: %d vs %d", len(first.Segments), len(second.Segments))
	}
	for i := range first.Segments {
		if first.Segments[i].Content != second.Segments[i].Content {
			t.Errorf("segment %d boundaries differ", i)
		}
	}
}

func TestSplit_SecondPassIdempotent(t *testing.T) {
	text := strings.Repeat("A sentence of modest length here. ", 40)
	doc := mustSplit(t, text, segmenter.Options{MaxChars: 100})
	for _, seg := range doc.Segments {
		inner := mustSplit(t, seg.Content, segmenter.Options{MaxChars: 100})
		if len(inner.Segments) != 1 {
			t.Errorf("segment %d re-splits into %d pieces: %q", seg.Index, len(inner.Segments), seg.Content)
		}
	}
}

// --- sizing ---

func TestSplit_SizeLimitRespected(t *testing.T) {
	text := strings.Repeat("Short sentence here. ", 50)
	doc := mustSplit(t, text, segmenter.Options{MaxChars: 60})
	for _, seg := range doc.Segments {
		if n := utf8.RuneCountInString(seg.Content); n > 60 {
			t.Errorf("segment %d has %d runes, limit 60: %q", seg.Index, n, seg.Content)
		}
	}
}

func TestSplit_UnicodeRuneCounting(t *testing.T) {
	// 30 three-byte runes; a 15-rune limit must cut at rune boundaries.
	text := strings.Repeat("あ", 30)
	doc := mustSplit(t, text, segmenter.Options{MaxChars: 15})
	if got := doc.Merge(); got != text {
		t.Fatalf("merge does not reproduce input")
	}
	for _, seg := range doc.Segments {
		if !utf8.ValidString(seg.Content) {
			t.Errorf("segment %d cut inside a rune", seg.Index)
		}
		if n := utf8.RuneCountInString(seg.Content); n > 15 {
			t.Errorf("segment %d has %d runes, limit 15", seg.Index, n)
		}
	}
}

func TestSplit_LimitZeroMeansUnlimited(t *testing.T) {
	text := strings.Repeat("word ", 1000)
	doc := mustSplit(t, text, segmenter.Options{MaxChars: 0})
	if len(doc.Segments) != 1 {
		t.Errorf("expected 1 segment with no limit, got %d", len(doc.Segments))
	}
}

func TestSplit_HardWrapTinyLimit(t *testing.T) {
	text := "abcdefghijklmnopqrstuvwxyzabcdefghijklmnop"
	doc := mustSplit(t, text, segmenter.Options{MaxChars: 12})
	if got := doc.Merge(); got != text {
		t.Fatalf("merge does not reproduce input: %q", got)
	}
	for _, seg := range doc.Segments {
		if n := utf8.RuneCountInString(seg.Content); n > 12 {
			t.Errorf("segment exceeds hard wrap: %d runes", n)
		}
	}
}

func TestSplit_MixedSentenceAndHardWrap(t *testing.T) {
	text := "First line.\nSecond line that is longer.\nThird line."
	doc := mustSplit(t, text, segmenter.Options{
		MaxChars:            12,
		PreserveCode:        true,
		PreserveFrontMatter: true,
	})
	if len(doc.Segments) < 2 {
		t.Fatalf("expected multiple segments, got %d", len(doc.Segments))
	}
	for _, seg := range doc.Segments {
		if !seg.Translate {
			t.Errorf("segment %d should be translatable", seg.Index)
		}
		if n := utf8.RuneCountInString(seg.Content); n > 12 {
			t.Errorf("segment %d has %d runes, limit 12: %q", seg.Index, n, seg.Content)
		}
	}
	if got := doc.Merge(); got != text {
		t.Fatalf("merge does not reproduce input: %q", got)
	}
	// A per-segment transform merged back must equal transforming each piece
	// of the same segmentation independently.
	for _, seg := range doc.Segments {
		seg.SetTranslation(strings.ToUpper(seg.Content))
	}
	if got := doc.Merge(); got != strings.ToUpper(text) {
		t.Errorf("transformed merge mismatch: %q", got)
	}
}

func TestSplit_ParagraphBoundaryPreferred(t *testing.T) {
	para1 := "First paragraph content goes right here."
	para2 := "Second paragraph content goes right here."
	doc := mustSplit(t, para1+"\n\n"+para2, segmenter.Options{MaxChars: 50})
	if len(doc.Segments) < 2 {
		t.Fatalf("expected split at paragraph boundary, got %d segments", len(doc.Segments))
	}
	if !strings.Contains(doc.Segments[0].Content, "First") {
		t.Errorf("first segment should hold the first paragraph: %q", doc.Segments[0].Content)
	}
}

// --- split threshold ---

func TestSplit_ThresholdSkipsSplitting(t *testing.T) {
	text := strings.Repeat("Sentence here. ", 20) // 300 runes
	doc := mustSplit(t, text, segmenter.Options{MaxChars: 50, SplitThreshold: 1000})
	if len(doc.Segments) != 1 {
		t.Errorf("document under threshold should stay whole, got %d segments", len(doc.Segments))
	}
}

func TestSplit_ThresholdExceededSplitsNormally(t *testing.T) {
	text := strings.Repeat("Sentence here. ", 20)
	doc := mustSplit(t, text, segmenter.Options{MaxChars: 50, SplitThreshold: 100})
	if len(doc.Segments) < 2 {
		t.Errorf("document over threshold should split, got %d segments", len(doc.Segments))
	}
}

// --- front matter ---

func TestSplit_FrontMatterPreserved(t *testing.T) {
	text := "---\ntitle: Test\nlang: en\n---\nBody text.\n"
	doc := mustSplit(t, text, segmenter.Options{PreserveFrontMatter: true})
	if len(doc.Segments) < 2 {
		t.Fatalf("expected front matter plus body, got %d segments", len(doc.Segments))
	}
	fm := doc.Segments[0]
	if fm.Kind != segmenter.KindFrontMatter {
		t.Errorf("first segment kind = %q, want front_matter", fm.Kind)
	}
	if fm.Translate {
		t.Error("front matter must not be translatable")
	}
	if fm.Content != "---\ntitle: Test\nlang: en\n---\n" {
		t.Errorf("unexpected front matter content: %q", fm.Content)
	}
}

func TestSplit_UnclosedFrontMatterIsBody(t *testing.T) {
	text := "---\ntitle: Test\nno closing delimiter\n"
	doc := mustSplit(t, text, segmenter.Options{PreserveFrontMatter: true})
	for _, seg := range doc.Segments {
		if seg.Kind == segmenter.KindFrontMatter {
			t.Error("unterminated front matter should not be extracted")
		}
	}
	if got := doc.Merge(); got != text {
		t.Errorf("merge does not reproduce input: %q", got)
	}
}

func TestSplit_FrontMatterDisabled(t *testing.T) {
	text := "---\ntitle: Test\n---\nBody.\n"
	doc := mustSplit(t, text, segmenter.Options{PreserveFrontMatter: false})
	for _, seg := range doc.Segments {
		if seg.Kind == segmenter.KindFrontMatter {
			t.Error("front matter extracted despite being disabled")
		}
	}
}

// --- code fences ---

func TestSplit_CodeFencePreserved(t *testing.T) {
	text := "Before.\n\n```python\nprint('hi')\n```\n\nAfter.\n"
	doc := mustSplit(t, text, segmenter.Options{PreserveCode: true})
	var code *segmenter.Segment
	for _, seg := range doc.Segments {
		if seg.Kind == segmenter.KindCode {
			code = seg
		}
	}
	if code == nil {
		t.Fatal("no code segment produced")
	}
	if code.Translate {
		t.Error("code segment must not be translatable")
	}
	if code.Content != "```python\nprint('hi')\n```\n" {
		t.Errorf("unexpected code content: %q", code.Content)
	}
	if got := doc.Merge(); got != text {
		t.Errorf("merge does not reproduce input: %q", got)
	}
}

func TestSplit_TildeFence(t *testing.T) {
	text := "~~~\nraw block\n~~~\n"
	doc := mustSplit(t, text, segmenter.Options{PreserveCode: true})
	if len(doc.Segments) != 1 || doc.Segments[0].Kind != segmenter.KindCode {
		t.Fatalf("tilde fence not recognized: %+v", doc.Segments)
	}
}

func TestSplit_LongerFenceClosesOnPrefix(t *testing.T) {
	// A four-backtick fence contains a three-backtick block; it closes only
	// at a run of at least four.
	text := "````\n```\ninner\n```\n````\ntail\n"
	doc := mustSplit(t, text, segmenter.Options{PreserveCode: true})
	if doc.Segments[0].Kind != segmenter.KindCode {
		t.Fatalf("expected leading code segment")
	}
	if !strings.Contains(doc.Segments[0].Content, "inner") {
		t.Errorf("outer fence should swallow inner block: %q", doc.Segments[0].Content)
	}
	if got := doc.Merge(); got != text {
		t.Errorf("merge does not reproduce input: %q", got)
	}
}

func TestSplit_UnterminatedFenceRunsToEnd(t *testing.T) {
	text := "Intro text here.\n\n```\nnever closed\nstill code\n"
	doc := mustSplit(t, text, segmenter.Options{PreserveCode: true})
	last := doc.Segments[len(doc.Segments)-1]
	if last.Kind != segmenter.KindCode {
		t.Fatalf("trailing segment kind = %q, want code", last.Kind)
	}
	if !strings.HasSuffix(last.Content, "still code\n") {
		t.Errorf("unterminated fence should run to end of document: %q", last.Content)
	}
	if got := doc.Merge(); got != text {
		t.Errorf("merge does not reproduce input: %q", got)
	}
}

func TestSplit_CodeDisabledTranslatesFence(t *testing.T) {
	text := "```\ncode\n```\n"
	doc := mustSplit(t, text, segmenter.Options{PreserveCode: false})
	for _, seg := range doc.Segments {
		if seg.Kind == segmenter.KindCode {
			t.Error("code segment produced despite PreserveCode=false")
		}
	}
}

// --- misc ---

func TestSplit_EmptyInput(t *testing.T) {
	doc := mustSplit(t, "", segmenter.Options{MaxChars: 100})
	if len(doc.Segments) != 0 {
		t.Errorf("expected no segments for empty input, got %d", len(doc.Segments))
	}
	if doc.Merge() != "" {
		t.Error("merge of empty document should be empty")
	}
}

func TestSplit_UnsupportedStrategy(t *testing.T) {
	_, err := segmenter.Split("text", segmenter.Options{Strategy: "html"})
	if err == nil {
		t.Fatal("expected error for unsupported strategy")
	}
	if !strings.Contains(err.Error(), "unsupported segmentation strategy") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSplit_IndexesAreDense(t *testing.T) {
	text := "---\na: b\n---\npara one\n\n```\nc\n```\n\npara two\n"
	doc := mustSplit(t, text, segmenter.Options{PreserveCode: true, PreserveFrontMatter: true})
	for i, seg := range doc.Segments {
		if seg.Index != i {
			t.Errorf("segment %d has index %d", i, seg.Index)
		}
	}
}

func TestSegment_OutputBeforeAndAfterResolve(t *testing.T) {
	seg := &segmenter.Segment{Content: "original", Translate: true}
	if seg.Output() != "original" {
		t.Errorf("unresolved output = %q", seg.Output())
	}
	if seg.Resolved() {
		t.Error("segment resolved before SetTranslation")
	}
	seg.SetTranslation("translated")
	if !seg.Resolved() || seg.Output() != "translated" {
		t.Errorf("resolved output = %q", seg.Output())
	}
}

func TestTranslatable_SkipsPassThroughAndWhitespace(t *testing.T) {
	text := "---\nx: y\n---\nReal text.\n\n```\ncode\n```\n"
	doc := mustSplit(t, text, segmenter.Options{PreserveCode: true, PreserveFrontMatter: true})
	if got := doc.Translatable(); got != 1 {
		t.Errorf("Translatable() = %d, want 1", got)
	}
}

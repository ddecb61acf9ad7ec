// Package segmenter splits documents into ordered, typed segments that can be
// translated independently and reassembled byte-for-byte. Fenced code blocks
// and YAML front matter are carved out as pass-through segments; the remaining
// text is sized against a character limit by splitting at paragraph
// boundaries first, then sentences, then a hard wrap.
package segmenter

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Kind classifies a segment by the structure it was cut from.
type Kind string

const (
	KindText        Kind = "text"
	KindCode        Kind = "code"
	KindFrontMatter Kind = "front_matter"
)

// StrategyMarkdown is the only supported segmentation strategy.
const StrategyMarkdown = "markdown"

// Segment is a slice of a document that may or may not require translation.
// Index is a dense 0-based position in original document order.
type Segment struct {
	Index     int
	Content   string
	Translate bool
	Kind      Kind

	translation string
	resolved    bool
}

// SetTranslation resolves the segment. It is called exactly once per segment,
// by whichever path resolved it (batch, fallback, cache hit, or pass-through).
func (s *Segment) SetTranslation(text string) {
	s.translation = text
	s.resolved = true
}

// Resolved reports whether a translation has been recorded.
func (s *Segment) Resolved() bool { return s.resolved }

// Output returns the translation when resolved, otherwise the original content.
func (s *Segment) Output() string {
	if s.resolved {
		return s.translation
	}
	return s.Content
}

// SegmentedDocument is the ordered segment list produced from one document.
type SegmentedDocument struct {
	Segments []*Segment
}

// Merge concatenates every segment's output. When all segments are resolved
// (or none are) the result reconstructs the full document.
func (d *SegmentedDocument) Merge() string {
	var sb strings.Builder
	for _, seg := range d.Segments {
		sb.WriteString(seg.Output())
	}
	return sb.String()
}

// Translatable counts segments that will be sent to the translation service.
func (d *SegmentedDocument) Translatable() int {
	n := 0
	for _, seg := range d.Segments {
		if seg.Translate && strings.TrimSpace(seg.Content) != "" {
			n++
		}
	}
	return n
}

// Options controls how Split cuts a document.
type Options struct {
	// Strategy names the segmentation algorithm; only "markdown" is supported.
	Strategy string
	// MaxChars is the per-segment character limit. Zero or negative disables
	// size enforcement.
	MaxChars int
	// PreserveCode keeps fenced code blocks as pass-through segments.
	PreserveCode bool
	// PreserveFrontMatter keeps a leading --- delimited block as pass-through.
	PreserveFrontMatter bool
	// SplitThreshold, when positive, disables splitting for documents whose
	// body is at or below the threshold: the whole body becomes one segment
	// regardless of MaxChars.
	SplitThreshold int
}

var (
	codeFenceRe      = regexp.MustCompile("^([`~]{3,})")
	paragraphBreakRe = regexp.MustCompile(`\n\s*\n`)
	// A sentence runs up to terminal punctuation followed by whitespace, or to
	// end of text. The trailing whitespace is kept with the sentence so that
	// concatenating sentences loses nothing.
	sentenceRe = regexp.MustCompile(`(?s).+?(?:[.!?。！？；;](?:\s|$)|$)`)
)

// Split cuts text into an ordered SegmentedDocument. Empty input yields an
// empty segment list. An unsupported strategy is a fatal error.
func Split(text string, opts Options) (*SegmentedDocument, error) {
	if opts.Strategy == "" {
		opts.Strategy = StrategyMarkdown
	}
	if opts.Strategy != StrategyMarkdown {
		return nil, fmt.Errorf("unsupported segmentation strategy: %s", opts.Strategy)
	}

	doc := &SegmentedDocument{}
	remaining := text

	if opts.PreserveFrontMatter && strings.HasPrefix(remaining, "---") {
		if front, rest, ok := splitFrontMatter(remaining); ok {
			doc.Segments = append(doc.Segments, &Segment{
				Content: front,
				Kind:    KindFrontMatter,
			})
			remaining = rest
		}
	}

	doc.Segments = append(doc.Segments, splitBody(remaining, opts)...)

	for i, seg := range doc.Segments {
		seg.Index = i
	}
	return doc, nil
}

// splitFrontMatter extracts a leading --- block up to and including its
// closing delimiter line. Without a closing delimiter no front matter is
// extracted.
func splitFrontMatter(text string) (front, rest string, ok bool) {
	lines := splitLinesKeepEnds(text)
	if len(lines) == 0 || !strings.HasPrefix(strings.TrimSpace(lines[0]), "---") {
		return "", text, false
	}
	var sb strings.Builder
	sb.WriteString(lines[0])
	for i := 1; i < len(lines); i++ {
		sb.WriteString(lines[i])
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "---") {
			return sb.String(), strings.Join(lines[i+1:], ""), true
		}
	}
	return "", text, false
}

// splitBody scans lines, carving fenced code blocks into pass-through
// segments and flushing accumulated text through size enforcement.
func splitBody(text string, opts Options) []*Segment {
	lines := splitLinesKeepEnds(text)

	singlePass := opts.SplitThreshold > 0 && utf8.RuneCountInString(text) <= opts.SplitThreshold
	effectiveLimit := opts.MaxChars
	if singlePass && utf8.RuneCountInString(text) > effectiveLimit {
		effectiveLimit = utf8.RuneCountInString(text)
	}

	var segments []*Segment
	var buffer strings.Builder

	flush := func() {
		if buffer.Len() == 0 {
			return
		}
		for _, part := range enforceMaxChars(buffer.String(), effectiveLimit) {
			segments = append(segments, &Segment{
				Content:   part,
				Translate: true,
				Kind:      KindText,
			})
		}
		buffer.Reset()
	}

	for i := 0; i < len(lines); {
		line := lines[i]
		fence := codeFenceRe.FindStringSubmatch(strings.TrimLeft(line, " \t"))
		if opts.PreserveCode && fence != nil {
			flush()
			var code strings.Builder
			code.WriteString(line)
			i++
			// Scan to the closing fence; an unterminated fence consumes the
			// rest of the document.
			for i < len(lines) {
				code.WriteString(lines[i])
				closing := strings.HasPrefix(strings.TrimLeft(lines[i], " \t"), fence[1])
				i++
				if closing {
					break
				}
			}
			segments = append(segments, &Segment{
				Content: code.String(),
				Kind:    KindCode,
			})
			continue
		}
		buffer.WriteString(line)
		i++
	}
	flush()
	return segments
}

// enforceMaxChars splits a text block into pieces of at most maxChars runes.
// Splits prefer blank-line paragraph boundaries; an oversized paragraph is
// split into sentences; an oversized sentence is hard-wrapped. Pieces
// accumulate greedily up to the limit without exceeding it.
func enforceMaxChars(text string, maxChars int) []string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return []string{text}
	}

	var parts []string
	var current strings.Builder

	appendCurrent := func() {
		if current.Len() > 0 {
			parts = append(parts, current.String())
			current.Reset()
		}
	}

	for _, token := range splitParagraphTokens(text) {
		tokenLen := utf8.RuneCountInString(token)
		if tokenLen > maxChars {
			appendCurrent()
			for _, sentence := range sentenceRe.FindAllString(token, -1) {
				sentenceLen := utf8.RuneCountInString(sentence)
				if sentenceLen > maxChars {
					appendCurrent()
					parts = append(parts, hardWrap(sentence, maxChars)...)
					continue
				}
				if utf8.RuneCountInString(current.String())+sentenceLen > maxChars {
					appendCurrent()
				}
				current.WriteString(sentence)
			}
			appendCurrent()
			continue
		}

		if utf8.RuneCountInString(current.String())+tokenLen > maxChars {
			appendCurrent()
		}
		current.WriteString(token)
	}

	appendCurrent()
	return parts
}

// splitParagraphTokens splits text at blank-line runs, returning content and
// separator tokens interleaved so that concatenation reproduces the input.
func splitParagraphTokens(text string) []string {
	var tokens []string
	prev := 0
	for _, loc := range paragraphBreakRe.FindAllStringIndex(text, -1) {
		if loc[0] > prev {
			tokens = append(tokens, text[prev:loc[0]])
		}
		tokens = append(tokens, text[loc[0]:loc[1]])
		prev = loc[1]
	}
	if prev < len(text) {
		tokens = append(tokens, text[prev:])
	}
	return tokens
}

// hardWrap cuts text into size-rune pieces at rune boundaries.
func hardWrap(text string, size int) []string {
	runes := []rune(text)
	var parts []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[i:end]))
	}
	return parts
}

// splitLinesKeepEnds splits text into lines, each retaining its trailing
// newline, so that joining the slice reproduces the input exactly.
func splitLinesKeepEnds(text string) []string {
	if text == "" {
		return nil
	}
	var lines []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		lines = append(lines, text[start:])
	}
	return lines
}

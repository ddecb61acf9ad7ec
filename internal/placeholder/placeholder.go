// Package placeholder protects inline markup inside a text segment (inline
// code spans, HTML tags, link and image targets) during translation by
// replacing it with numbered markers ([PH0], [PH1], …) that the model is
// instructed to preserve. After translation, Restore substitutes the markers
// back. Fenced code blocks never reach this package; the segmenter carves
// them out as pass-through segments before translation.
package placeholder

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// inline code spans: `...`
	reInlineCode = regexp.MustCompile("`[^`]+`")

	// HTML/XML tags: opening, closing, and self-closing
	reHTMLTag = regexp.MustCompile(`<[^>]+>`)

	// markdown link and image targets: the "(url)" part of [text](url),
	// protected so paths and anchors survive untouched while the link text
	// is still translated
	reLinkTarget = regexp.MustCompile(`\]\([^)\s]+\)`)

	// placeholder reference in translated text
	rePlaceholder = regexp.MustCompile(`\[PH(\d+)\]`)
)

// Protect replaces inline markup with numbered placeholders [PH0], [PH1], …
// in the order they appear in text. It returns the modified text and the
// slice of captured originals so Restore can put them back.
func Protect(text string) (string, []string) {
	var markers []string
	counter := 0

	replace := func(match string) string {
		id := fmt.Sprintf("[PH%d]", counter)
		markers = append(markers, match)
		counter++
		return id
	}

	// Code spans first so a span containing a tag or parenthesis is captured
	// whole, then tags, then link targets.
	text = reInlineCode.ReplaceAllStringFunc(text, replace)
	text = reHTMLTag.ReplaceAllStringFunc(text, replace)
	text = reLinkTarget.ReplaceAllStringFunc(text, func(match string) string {
		// Keep the closing bracket of the link text outside the marker.
		return "]" + replace(match[1:])
	})

	return text, markers
}

// Restore substitutes [PHn] markers in text back with the originals captured
// by Protect. Unrecognised indices leave the placeholder as-is.
func Restore(text string, markers []string) string {
	return rePlaceholder.ReplaceAllStringFunc(text, func(match string) string {
		sub := rePlaceholder.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		idx := 0
		fmt.Sscanf(sub[1], "%d", &idx)
		if idx < 0 || idx >= len(markers) {
			return match
		}
		return markers[idx]
	})
}

// InstructionHint returns a short sentence to append to an LLM prompt so the
// model knows to leave placeholders intact.
func InstructionHint() string {
	return "Preserve all [PHn] markers exactly as they appear. Do not translate, move, or remove them."
}

// Validate checks whether every marker created by Protect is still present
// in the translated text. It returns the list of missing indices; a
// non-empty result means the model dropped markup and the translation
// cannot be restored faithfully.
func Validate(text string, markers []string) []int {
	var missing []int
	for i := range markers {
		if !strings.Contains(text, fmt.Sprintf("[PH%d]", i)) {
			missing = append(missing, i)
		}
	}
	return missing
}

// Package detector identifies a document's source language so that runs
// started with --source auto can pin an explicit language before any
// segment is submitted.
package detector

import (
	"strings"

	lingua "github.com/pemistahl/lingua-go"
)

// sampleRunes bounds how much of a document is fed to the classifier.
// Accuracy plateaus well below this; whole books would only add latency.
const sampleRunes = 2000

type Detector struct {
	detector lingua.LanguageDetector
}

func New() *Detector {
	detector := lingua.NewLanguageDetectorBuilder().
		FromAllLanguages().
		Build()

	return &Detector{detector: detector}
}

// Detect classifies a sample of text. Empty or whitespace-only input is
// never classified.
func (d *Detector) Detect(text string) (lingua.Language, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return lingua.Unknown, false
	}
	runes := []rune(text)
	if len(runes) > sampleRunes {
		text = string(runes[:sampleRunes])
	}
	return d.detector.DetectLanguageOf(text)
}

// DetectISO returns the detected language as a lowercase ISO 639-1 code.
func (d *Detector) DetectISO(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}

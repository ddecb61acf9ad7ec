package detector

import (
	"strings"
	"testing"
)

func TestDetector_DetectISO(t *testing.T) {
	d := New()

	tests := []struct {
		name     string
		text     string
		wantCode string
		wantOK   bool
	}{
		{
			name:     "empty text",
			text:     "",
			wantCode: "",
			wantOK:   false,
		},
		{
			name:     "whitespace only",
			text:     "  \n\t ",
			wantCode: "",
			wantOK:   false,
		},
		{
			name:     "english text",
			text:     "Hello, this is a test document written in English.",
			wantCode: "en",
			wantOK:   true,
		},
		{
			name:     "ukrainian text",
			text:     "Привіт, це тестовий документ українською мовою.",
			wantCode: "uk",
			wantOK:   true,
		},
		{
			name:     "german text",
			text:     "Hallo, das ist ein Testdokument auf Deutsch.",
			wantCode: "de",
			wantOK:   true,
		},
		{
			name:     "french text",
			text:     "Bonjour, ceci est un document de test en français.",
			wantCode: "fr",
			wantOK:   true,
		},
		{
			name:     "spanish text",
			text:     "Hola, esto es un documento de prueba en español.",
			wantCode: "es",
			wantOK:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := d.DetectISO(tt.text)
			if ok != tt.wantOK {
				t.Errorf("DetectISO(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
				return
			}
			if tt.wantOK && code != tt.wantCode {
				t.Errorf("DetectISO(%q) = %q, want %q", tt.text, code, tt.wantCode)
			}
		})
	}
}

func TestDetector_MarkdownDocument(t *testing.T) {
	d := New()

	text := "# Getting Started\n\nThis guide explains how to install and configure the service on a fresh machine.\n"
	code, ok := d.DetectISO(text)
	if !ok || code != "en" {
		t.Errorf("DetectISO = (%q, %v), want (en, true)", code, ok)
	}
}

func TestDetector_LongDocumentSampled(t *testing.T) {
	d := New()

	// Far beyond the sample window; detection must still terminate promptly
	// and classify from the head.
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 2000)
	code, ok := d.DetectISO(text)
	if !ok || code != "en" {
		t.Errorf("DetectISO on long document = (%q, %v), want (en, true)", code, ok)
	}
}

func TestDetector_ShortText(t *testing.T) {
	d := New()

	// Short text may or may not be detected, just check it doesn't panic.
	code, ok := d.DetectISO("Hi")
	_ = code
	_ = ok
}

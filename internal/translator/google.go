package translator

import (
	"context"
	"fmt"

	translate "cloud.google.com/go/translate"
	"golang.org/x/text/language"
	"google.golang.org/api/option"
)

// GooglePort translates through the Google Cloud Translation API, which
// accepts a batch of texts natively, so no delimiter machinery is needed.
type GooglePort struct {
	credentials string
}

// NewGooglePort creates a Google-backed Port. credentials is an optional
// service-account file path; when empty, application default credentials are
// used.
func NewGooglePort(credentials string) *GooglePort {
	return &GooglePort{credentials: credentials}
}

func (p *GooglePort) Name() string { return "google" }

// Submit implements Port. Google does not report token usage.
func (p *GooglePort) Submit(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, Usage, error) {
	if len(texts) == 0 {
		return nil, Usage{}, nil
	}

	targetTag, err := language.Parse(targetLang)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("invalid target language: %w", err)
	}

	var opts []option.ClientOption
	if p.credentials != "" {
		opts = append(opts, option.WithCredentialsFile(p.credentials))
	}
	client, err := translate.NewClient(ctx, opts...)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("failed to create client: %w", err)
	}
	defer client.Close()

	var translateOpts *translate.Options
	if sourceLang != "" && sourceLang != "auto" {
		sourceTag, err := language.Parse(sourceLang)
		if err != nil {
			return nil, Usage{}, fmt.Errorf("invalid source language: %w", err)
		}
		translateOpts = &translate.Options{Source: sourceTag}
	}

	results, err := client.Translate(ctx, texts, targetTag, translateOpts)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("translation failed: %w", err)
	}
	if len(results) != len(texts) {
		return nil, Usage{}, &MismatchError{Expected: len(texts), Actual: len(results)}
	}

	translations := make([]string, len(results))
	for i, r := range results {
		translations[i] = r.Text
	}
	return translations, Usage{}, nil
}

package translator

import (
	"context"
	"fmt"
	"time"
)

// Usage carries token accounting returned by a remote service. Services that
// do not meter tokens report zeros.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Port is the remote translation service boundary: submit a batch of texts,
// receive a matching-length batch of translations (in order) plus usage, or
// an error. Multi-text submissions use a reserved delimiter-joined response
// format internally; that machinery never leaks past the implementation.
type Port interface {
	Name() string
	Submit(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, Usage, error)
}

// Cache resolves previously produced translations by fingerprint. The
// fingerprint couples the segment content with every translation-affecting
// parameter so that identical keys imply identical expected translations.
type Cache interface {
	Key(content, targetLang, model, sourceLang string) string
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, translation string, metadata map[string]string) error
}

// Stats counts work performed during one translation run. All counters are
// monotonically increasing and mutated only under the scheduler's lock.
type Stats struct {
	TotalSegments    int64
	CachedSegments   int64
	APICalls         int64
	Batches          int64
	Retries          int64
	PromptTokens     int64
	CompletionTokens int64
}

// ProgressObserver is notified as segments resolve, with the number of newly
// resolved segments.
type ProgressObserver interface {
	OnProgress(segments int)
}

// RetryObserver is notified before each backoff sleep.
type RetryObserver interface {
	OnRetry(attempt int, err error, delay time.Duration)
}

// NopProgress is the default progress observer.
type NopProgress struct{}

func (NopProgress) OnProgress(int) {}

// NopRetry is the default retry observer.
type NopRetry struct{}

func (NopRetry) OnRetry(int, error, time.Duration) {}

// TranslationError is the terminal failure for a batch or segment after the
// retry budget is exhausted. It wraps the last observed cause.
type TranslationError struct {
	Err error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("translation failed: %v", e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }

// MismatchError reports a batch response whose translation count differs from
// the request. It is a distinct condition, not a generic failure: the batch
// is decomposed into per-segment requests instead of being retried. Usage
// from the mismatched call is still attributed to statistics once.
type MismatchError struct {
	Expected int
	Actual   int
	Usage    Usage
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("batch response returned %d translations, expected %d", e.Actual, e.Expected)
}

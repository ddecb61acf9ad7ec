package translator

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"github.com/valpere/transfold/internal/segmenter"
)

const (
	// DefaultMaxBatchChars bounds the total content length of one request.
	DefaultMaxBatchChars = 16000
	// DefaultMaxBatchSegments bounds the segment count of one request.
	DefaultMaxBatchSegments = 6
	// backoffCap is the ceiling applied to the exponential delay before
	// jitter is added.
	backoffCap = 30 * time.Second
)

// SegmentFunc is invoked once per segment resolution, whichever path resolved
// it. Invocations are serialized by the scheduler.
type SegmentFunc func(*segmenter.Segment)

// Config parameterizes a Scheduler for one translation run.
type Config struct {
	Model      string
	TargetLang string
	SourceLang string

	// Timeout bounds each remote call. A call exceeding it fails like any
	// other transient error.
	Timeout time.Duration
	// Retry is the total attempts per request including the first.
	Retry int
	// Concurrency caps simultaneous outbound network calls.
	Concurrency int
	// MaxPendingBatches caps batches in flight awaiting a final result.
	MaxPendingBatches int

	MaxBatchChars    int
	MaxBatchSegments int

	Progress ProgressObserver
	Retries  RetryObserver
}

// Scheduler packs translatable segments into batches, dispatches them under a
// pending-batch limit and a request-concurrency limit, retries failures with
// capped exponential backoff plus jitter, and falls back to per-segment
// requests when a batch response count mismatches.
type Scheduler struct {
	port  Port
	cache Cache
	cfg   Config

	pendingSem *semaphore.Weighted
	requestSem *semaphore.Weighted

	mu    sync.Mutex
	stats Stats

	// sleep is swapped out by tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewScheduler creates a Scheduler. cache may be nil to disable the lookup.
func NewScheduler(port Port, cache Cache, cfg Config) *Scheduler {
	if cfg.Retry < 1 {
		cfg.Retry = 1
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxPendingBatches < 1 {
		cfg.MaxPendingBatches = cfg.Concurrency * 2
	}
	if cfg.MaxBatchChars <= 0 {
		cfg.MaxBatchChars = DefaultMaxBatchChars
	}
	if cfg.MaxBatchSegments <= 0 {
		cfg.MaxBatchSegments = DefaultMaxBatchSegments
	}
	if cfg.Progress == nil {
		cfg.Progress = NopProgress{}
	}
	if cfg.Retries == nil {
		cfg.Retries = NopRetry{}
	}
	return &Scheduler{
		port:       port,
		cache:      cache,
		cfg:        cfg,
		pendingSem: semaphore.NewWeighted(int64(cfg.MaxPendingBatches)),
		requestSem: semaphore.NewWeighted(int64(cfg.Concurrency)),
		sleep:      sleepContext,
	}
}

// Stats returns a snapshot of the run counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Translate resolves every segment's translation in place. Non-translatable
// and whitespace-only segments are resolved immediately with their own
// content. onSegment (optional) is invoked once per resolution. The first
// terminal batch or segment failure is returned after all in-flight work has
// finished; already-resolved segments are left intact.
func (s *Scheduler) Translate(ctx context.Context, segments []*segmenter.Segment, onSegment SegmentFunc) error {
	var (
		wg         sync.WaitGroup
		errMu      sync.Mutex
		firstErr   error
		batch      []*segmenter.Segment
		batchChars int
	)

	record := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	// Pending slot is acquired here, before the request slot inside the
	// dispatch goroutine, and held until the batch fully resolves. Keeping
	// the acquisition order fixed rules out deadlock between the two
	// limiters regardless of their relative sizes.
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		b := batch
		batch = nil
		batchChars = 0
		if err := s.pendingSem.Acquire(ctx, 1); err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.pendingSem.Release(1)
			if err := s.dispatchBatch(ctx, b, onSegment); err != nil {
				record(err)
			}
		}()
		return nil
	}

	for _, seg := range segments {
		if !seg.Translate || strings.TrimSpace(seg.Content) == "" {
			s.resolve(seg, seg.Content, onSegment)
			continue
		}

		s.mu.Lock()
		s.stats.TotalSegments++
		s.mu.Unlock()

		if s.cache != nil {
			key := s.cacheKey(seg.Content)
			if cached, ok, err := s.cache.Get(ctx, key); err == nil && ok {
				s.mu.Lock()
				s.stats.CachedSegments++
				s.mu.Unlock()
				s.resolve(seg, cached, onSegment)
				continue
			}
		}

		length := utf8.RuneCountInString(seg.Content)
		if len(batch) > 0 && (len(batch) >= s.cfg.MaxBatchSegments || batchChars+length > s.cfg.MaxBatchChars) {
			if err := flush(); err != nil {
				record(err)
				break
			}
		}
		batch = append(batch, seg)
		batchChars += length
	}

	if err := flush(); err != nil {
		record(err)
	}
	wg.Wait()

	errMu.Lock()
	defer errMu.Unlock()
	return firstErr
}

// dispatchBatch submits one batch, falling back to per-segment requests on a
// count mismatch.
func (s *Scheduler) dispatchBatch(ctx context.Context, batch []*segmenter.Segment, onSegment SegmentFunc) error {
	if len(batch) == 1 {
		return s.dispatchSingle(ctx, batch[0], onSegment)
	}

	texts := make([]string, len(batch))
	for i, seg := range batch {
		texts[i] = seg.Content
	}

	s.mu.Lock()
	s.stats.Batches++
	s.mu.Unlock()

	translations, usage, err := s.submitWithRetry(ctx, texts)
	if err != nil {
		var mismatch *MismatchError
		if !asMismatch(err, &mismatch) {
			return err
		}
		// Token usage from the mismatched call is attributed exactly once,
		// then each segment is retried independently.
		s.addUsage(mismatch.Usage)
		for _, seg := range batch {
			if err := s.dispatchSingle(ctx, seg, onSegment); err != nil {
				return err
			}
		}
		return nil
	}

	s.addUsage(usage)
	for i, seg := range batch {
		s.storeTranslation(ctx, seg, translations[i])
		s.resolve(seg, translations[i], onSegment)
	}
	return nil
}

func (s *Scheduler) dispatchSingle(ctx context.Context, seg *segmenter.Segment, onSegment SegmentFunc) error {
	translations, usage, err := s.submitWithRetry(ctx, []string{seg.Content})
	if err != nil {
		return err
	}
	s.addUsage(usage)
	s.storeTranslation(ctx, seg, translations[0])
	s.resolve(seg, translations[0], onSegment)
	return nil
}

// submitWithRetry performs one remote call with the configured attempt
// budget. The request-concurrency slot is held only for the duration of the
// call, never across a backoff sleep. A MismatchError aborts immediately:
// retrying the same batch shape would not help.
func (s *Scheduler) submitWithRetry(ctx context.Context, texts []string) ([]string, Usage, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.Retry; attempt++ {
		translations, usage, err := s.submitOnce(ctx, texts)
		if err == nil {
			if len(translations) != len(texts) {
				err = &MismatchError{Expected: len(texts), Actual: len(translations), Usage: usage}
			} else {
				s.mu.Lock()
				s.stats.APICalls++
				s.mu.Unlock()
				return translations, usage, nil
			}
		}

		var mismatch *MismatchError
		if asMismatch(err, &mismatch) {
			s.mu.Lock()
			s.stats.APICalls++
			s.mu.Unlock()
			return nil, Usage{}, err
		}

		lastErr = err
		if attempt >= s.cfg.Retry {
			break
		}

		s.mu.Lock()
		s.stats.Retries++
		s.mu.Unlock()

		delay := backoffDelay(attempt)
		s.cfg.Retries.OnRetry(attempt, err, delay)
		if err := s.sleep(ctx, delay); err != nil {
			return nil, Usage{}, err
		}
	}
	return nil, Usage{}, &TranslationError{Err: lastErr}
}

func (s *Scheduler) submitOnce(ctx context.Context, texts []string) ([]string, Usage, error) {
	if err := s.requestSem.Acquire(ctx, 1); err != nil {
		return nil, Usage{}, err
	}
	defer s.requestSem.Release(1)

	callCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	return s.port.Submit(callCtx, texts, s.cfg.SourceLang, s.cfg.TargetLang)
}

// resolve records the translation and notifies observers. The scheduler's
// lock serializes every resolution, so callbacks observe segments in a
// consistent state.
func (s *Scheduler) resolve(seg *segmenter.Segment, translation string, onSegment SegmentFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg.SetTranslation(translation)
	s.cfg.Progress.OnProgress(1)
	if onSegment != nil {
		onSegment(seg)
	}
}

func (s *Scheduler) storeTranslation(ctx context.Context, seg *segmenter.Segment, translation string) {
	if s.cache == nil {
		return
	}
	key := s.cacheKey(seg.Content)
	_ = s.cache.Set(ctx, key, translation, map[string]string{
		"source_lang": s.cfg.SourceLang,
		"target_lang": s.cfg.TargetLang,
		"model":       s.cfg.Model,
	})
}

func (s *Scheduler) cacheKey(content string) string {
	return s.cache.Key(content, s.cfg.TargetLang, s.cfg.Model, s.cfg.SourceLang)
}

func (s *Scheduler) addUsage(usage Usage) {
	s.mu.Lock()
	s.stats.PromptTokens += int64(usage.PromptTokens)
	s.stats.CompletionTokens += int64(usage.CompletionTokens)
	s.mu.Unlock()
}

// backoffDelay computes min(cap, 2^(attempt-1) seconds) plus uniform jitter
// in [100ms, 500ms). The jitter is added after the cap so concurrent batches
// never sleep in lockstep.
func backoffDelay(attempt int) time.Duration {
	delay := time.Duration(1<<uint(attempt-1)) * time.Second
	if delay > backoffCap {
		delay = backoffCap
	}
	jitter := time.Duration(100+rand.Intn(400)) * time.Millisecond
	return delay + jitter
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// asMismatch unwraps err looking for a MismatchError.
func asMismatch(err error, target **MismatchError) bool {
	return errors.As(err, target)
}

// Package runner drives a translation run: it gathers input documents,
// segments them off the dispatch path, translates them on a fixed worker
// pool, and streams or batches output through the write worker. Failures are
// isolated per document and reported in the end-of-run summary.
package runner

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/valpere/transfold/internal/emitter"
	"github.com/valpere/transfold/internal/files"
	"github.com/valpere/transfold/internal/segmenter"
	"github.com/valpere/transfold/internal/translator"
	"github.com/valpere/transfold/internal/writer"
)

// Settings selects inputs and controls segmentation and output behavior for
// one run.
type Settings struct {
	InputDir  string
	OutputDir string // empty translates in place

	Extensions []string
	Include    []string
	Exclude    []string

	MaxChars             int
	SplitThreshold       int
	TranslateCode        bool
	TranslateFrontMatter bool

	Concurrency  int
	StreamWrites bool
	Backup       bool
	DryRun       bool
}

// Failure records one document that could not be translated.
type Failure struct {
	Path string
	Err  error
}

// Summary reports what a run did.
type Summary struct {
	RunID    string
	Files    int
	Segments int
	Failures []Failure
	Stats    translator.Stats
	Elapsed  time.Duration
}

// Runner executes translation runs.
type Runner struct {
	settings  Settings
	scheduler *translator.Scheduler
	sink      *writer.Writer
	log       *zap.SugaredLogger
}

// New creates a Runner. sink may be nil only for dry runs. log may be nil.
func New(settings Settings, scheduler *translator.Scheduler, sink *writer.Writer, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if settings.Concurrency < 1 {
		settings.Concurrency = 1
	}
	return &Runner{settings: settings, scheduler: scheduler, sink: sink, log: log}
}

type document struct {
	relPath  string
	original string
	doc      *segmenter.SegmentedDocument
}

// Run processes every matching document under InputDir. Per-document
// failures are collected into the summary; Run itself errs only on setup
// problems (unreadable input root, cancelled context).
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	runID := uuid.New().String()
	log := r.log.With("run_id", runID)

	paths, err := files.Gather(r.settings.InputDir, r.settings.Extensions, r.settings.Include, r.settings.Exclude)
	if err != nil {
		return nil, err
	}
	log.Infow("gathered input files", "count", len(paths))

	summary := &Summary{RunID: runID}
	var mu sync.Mutex
	fail := func(rel string, err error) {
		mu.Lock()
		summary.Failures = append(summary.Failures, Failure{Path: rel, Err: err})
		mu.Unlock()
	}

	if r.settings.DryRun {
		for _, rel := range paths {
			doc, _, err := r.readAndSegment(rel)
			if err != nil {
				fail(rel, err)
				continue
			}
			translatable := doc.Translatable()
			summary.Files++
			summary.Segments += translatable
			log.Infow("dry run", "path", rel, "segments", translatable)
		}
		summary.Elapsed = time.Since(start)
		return summary, nil
	}

	queue := make(chan document, r.settings.Concurrency*2)

	var producerWG sync.WaitGroup
	producerWG.Add(1)
	go func() {
		defer producerWG.Done()
		defer close(queue)
		for _, rel := range paths {
			doc, original, err := r.readAndSegment(rel)
			if err != nil {
				fail(rel, err)
				continue
			}
			mu.Lock()
			summary.Files++
			summary.Segments += doc.Translatable()
			mu.Unlock()
			select {
			case queue <- document{relPath: rel, original: original, doc: doc}:
			case <-ctx.Done():
				return
			}
		}
	}()

	var workerWG sync.WaitGroup
	for i := 0; i < r.settings.Concurrency; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for item := range queue {
				if err := r.processDocument(ctx, item); err != nil {
					log.Warnw("document failed", "path", item.relPath, "error", err)
					fail(item.relPath, err)
				} else {
					log.Infow("document translated", "path", item.relPath)
				}
			}
		}()
	}

	producerWG.Wait()
	workerWG.Wait()

	summary.Stats = r.scheduler.Stats()
	summary.Elapsed = time.Since(start)
	return summary, ctx.Err()
}

func (r *Runner) readAndSegment(rel string) (*segmenter.SegmentedDocument, string, error) {
	text, err := files.ReadText(filepath.Join(r.settings.InputDir, filepath.FromSlash(rel)))
	if err != nil {
		return nil, "", err
	}
	doc, err := segmenter.Split(text, segmenter.Options{
		Strategy:            segmenter.StrategyMarkdown,
		MaxChars:            r.settings.MaxChars,
		PreserveCode:        !r.settings.TranslateCode,
		PreserveFrontMatter: !r.settings.TranslateFrontMatter,
		SplitThreshold:      r.settings.SplitThreshold,
	})
	if err != nil {
		return nil, "", err
	}
	return doc, text, nil
}

// processDocument translates one document. In streaming mode each completed
// prefix goes straight to the sink: the first chunk replaces the destination
// (taking the backup when translating in place), the rest append. A terminal
// translation failure after partial writes rolls the destination back to the
// original content.
func (r *Runner) processDocument(ctx context.Context, item document) error {
	source := filepath.Join(r.settings.InputDir, filepath.FromSlash(item.relPath))
	destination := source
	if r.settings.OutputDir != "" {
		destination = filepath.Join(r.settings.OutputDir, filepath.FromSlash(item.relPath))
	}
	inPlace := destination == source
	backupRequired := r.settings.Backup && inPlace

	writes := 0
	var onSegment translator.SegmentFunc
	if r.settings.StreamWrites {
		em := emitter.New(item.doc, func(chunk string) {
			mode := writer.Append
			backup := false
			if writes == 0 {
				mode = writer.Replace
				backup = backupRequired
			}
			r.sink.Submit(writer.Task{Path: destination, Content: chunk, Backup: backup, Mode: mode})
			writes++
		})
		onSegment = em.SegmentResolved
	}

	if err := r.scheduler.Translate(ctx, item.doc.Segments, onSegment); err != nil {
		if writes > 0 {
			// Partial output was streamed; restore the original rather than
			// leaving the destination inconsistent.
			r.sink.Submit(writer.Task{Path: destination, Content: item.original, Mode: writer.Replace})
		}
		return err
	}

	if writes == 0 {
		rendered := item.doc.Merge()
		if destination != source || rendered != item.original {
			r.sink.Submit(writer.Task{Path: destination, Content: rendered, Backup: backupRequired, Mode: writer.Replace})
		}
	}
	return nil
}

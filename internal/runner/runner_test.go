package runner_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/valpere/transfold/internal/runner"
	"github.com/valpere/transfold/internal/translator"
	"github.com/valpere/transfold/internal/writer"
)

// upperPort upper-cases every text; inputs containing failOn always error.
type upperPort struct {
	failOn string
}

func (p *upperPort) Name() string { return "upper" }

func (p *upperPort) Submit(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, translator.Usage, error) {
	out := make([]string, len(texts))
	for i, t := range texts {
		if p.failOn != "" && strings.Contains(t, p.failOn) {
			return nil, translator.Usage{}, fmt.Errorf("refusing to translate")
		}
		out[i] = strings.ToUpper(t)
	}
	return out, translator.Usage{}, nil
}

func writeInput(t *testing.T, root string, docs map[string]string) {
	t.Helper()
	for rel, content := range docs {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func readOutput(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func newRunner(t *testing.T, settings runner.Settings, port translator.Port) (*runner.Runner, *writer.Writer) {
	t.Helper()
	scheduler := translator.NewScheduler(port, nil, translator.Config{
		TargetLang: "uk",
		Retry:      1,
	})
	sink := writer.New(nil)
	return runner.New(settings, scheduler, sink, nil), sink
}

func TestRunner_TranslatesIntoOutputDir(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()
	writeInput(t, input, map[string]string{
		"readme.md":     "Hello world.\n\n```\ncode stays\n```\n\nGoodbye.\n",
		"docs/guide.md": "A short guide.\n",
	})

	run, sink := newRunner(t, runner.Settings{
		InputDir:    input,
		OutputDir:   output,
		Extensions:  []string{"md"},
		Concurrency: 2,
	}, &upperPort{})

	summary, err := run.Run(context.Background())
	sink.Close()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Files != 2 || len(summary.Failures) != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	got := readOutput(t, filepath.Join(output, "readme.md"))
	want := "HELLO WORLD.\n\n```\ncode stays\n```\n\nGOODBYE.\n"
	if got != want {
		t.Errorf("readme.md:\ngot:  %q\nwant: %q", got, want)
	}
	if readOutput(t, filepath.Join(output, "docs", "guide.md")) != "A SHORT GUIDE.\n" {
		t.Error("nested file not translated")
	}

	// Source tree stays untouched.
	if readOutput(t, filepath.Join(input, "readme.md")) != "Hello world.\n\n```\ncode stays\n```\n\nGoodbye.\n" {
		t.Error("input file was modified")
	}
}

func TestRunner_InPlaceBacksUpOriginal(t *testing.T) {
	input := t.TempDir()
	writeInput(t, input, map[string]string{"doc.md": "Hello.\n"})

	run, sink := newRunner(t, runner.Settings{
		InputDir:   input,
		Extensions: []string{"md"},
		Backup:     true,
	}, &upperPort{})

	if _, err := run.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	sink.Close()

	if got := readOutput(t, filepath.Join(input, "doc.md")); got != "HELLO.\n" {
		t.Errorf("in-place content = %q", got)
	}
	if got := readOutput(t, filepath.Join(input, "doc.md.bak")); got != "Hello.\n" {
		t.Errorf("backup = %q, want original", got)
	}
}

func TestRunner_IdentityTranslationSkipsWrite(t *testing.T) {
	input := t.TempDir()
	writeInput(t, input, map[string]string{"doc.md": "```\nonly code\n```\n"})

	run, sink := newRunner(t, runner.Settings{
		InputDir:   input,
		Extensions: []string{"md"},
		Backup:     true,
	}, &upperPort{})

	if _, err := run.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	sink.Close()

	// Nothing translatable changed, so no write and no backup.
	if _, err := os.Stat(filepath.Join(input, "doc.md.bak")); !os.IsNotExist(err) {
		t.Error("backup created for an unchanged document")
	}
	if got := readOutput(t, filepath.Join(input, "doc.md")); got != "```\nonly code\n```\n" {
		t.Errorf("content changed: %q", got)
	}
}

func TestRunner_StreamWritesProduceCompleteDocument(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()
	text := "Paragraph one.\n\nParagraph two.\n\nParagraph three.\n"
	writeInput(t, input, map[string]string{"doc.md": text})

	port := &upperPort{}
	scheduler := translator.NewScheduler(port, nil, translator.Config{
		TargetLang:       "uk",
		Retry:            1,
		Concurrency:      4,
		MaxBatchSegments: 1,
	})
	sink := writer.New(nil)
	run := runner.New(runner.Settings{
		InputDir:     input,
		OutputDir:    output,
		Extensions:   []string{"md"},
		MaxChars:     20,
		StreamWrites: true,
	}, scheduler, sink, nil)

	if _, err := run.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	sink.Close()

	got := readOutput(t, filepath.Join(output, "doc.md"))
	if got != strings.ToUpper(text) {
		t.Errorf("streamed output:\ngot:  %q\nwant: %q", got, strings.ToUpper(text))
	}
}

func TestRunner_StreamFailureRollsBack(t *testing.T) {
	input := t.TempDir()
	text := "Good paragraph.\n\nbadword paragraph.\n"
	writeInput(t, input, map[string]string{"doc.md": text})

	port := &upperPort{failOn: "badword"}
	scheduler := translator.NewScheduler(port, nil, translator.Config{
		TargetLang:       "uk",
		Retry:            1,
		MaxBatchSegments: 1,
	})
	sink := writer.New(nil)
	run := runner.New(runner.Settings{
		InputDir:     input,
		Extensions:   []string{"md"},
		MaxChars:     20,
		StreamWrites: true,
	}, scheduler, sink, nil)

	summary, err := run.Run(context.Background())
	sink.Close()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(summary.Failures) != 1 || summary.Failures[0].Path != "doc.md" {
		t.Fatalf("expected doc.md failure, got %+v", summary.Failures)
	}

	if got := readOutput(t, filepath.Join(input, "doc.md")); got != text {
		t.Errorf("failed document must be restored:\ngot:  %q\nwant: %q", got, text)
	}
}

func TestRunner_FailureIsolatedPerDocument(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()
	writeInput(t, input, map[string]string{
		"good.md": "Fine text.\n",
		"bad.md":  "badword text.\n",
	})

	run, sink := newRunner(t, runner.Settings{
		InputDir:   input,
		OutputDir:  output,
		Extensions: []string{"md"},
	}, &upperPort{failOn: "badword"})

	summary, err := run.Run(context.Background())
	sink.Close()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Files != 2 || len(summary.Failures) != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Failures[0].Path != "bad.md" {
		t.Errorf("failed path = %q", summary.Failures[0].Path)
	}
	if readOutput(t, filepath.Join(output, "good.md")) != "FINE TEXT.\n" {
		t.Error("healthy document should still translate")
	}
	if _, err := os.Stat(filepath.Join(output, "bad.md")); !os.IsNotExist(err) {
		t.Error("failed document must not produce output")
	}
}

func TestRunner_DryRunWritesNothing(t *testing.T) {
	input := t.TempDir()
	writeInput(t, input, map[string]string{
		"a.md": "One.\n\nTwo.\n",
		"b.md": "Three.\n",
	})

	scheduler := translator.NewScheduler(&upperPort{}, nil, translator.Config{TargetLang: "uk"})
	run := runner.New(runner.Settings{
		InputDir:   input,
		Extensions: []string{"md"},
		MaxChars:   4,
		DryRun:     true,
	}, scheduler, nil, nil)

	summary, err := run.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Files != 2 {
		t.Errorf("Files = %d, want 2", summary.Files)
	}
	if summary.Segments == 0 {
		t.Error("dry run should report segment counts")
	}
	if got := readOutput(t, filepath.Join(input, "a.md")); got != "One.\n\nTwo.\n" {
		t.Errorf("dry run modified input: %q", got)
	}
}

/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/valpere/transfold/internal/cache"
	"github.com/valpere/transfold/internal/detector"
	"github.com/valpere/transfold/internal/files"
	"github.com/valpere/transfold/internal/runner"
	"github.com/valpere/transfold/internal/translator"
	"github.com/valpere/transfold/internal/writer"
)

var (
	inputDir  string
	outputDir string

	extensions []string
	include    []string
	exclude    []string

	sourceLang string
	targetLang string

	service     string
	model       string
	apiKey      string
	baseURL     string
	credentials string

	glossaryPath string

	concurrency    int
	maxChars       int
	splitThreshold int
	batchChars     int
	batchSegments  int
	pendingBatches int
	retryAttempts  int
	timeout        time.Duration

	streamWrites  bool
	noBackup      bool
	dryRun        bool
	translateCode bool
	translateFM   bool

	dbPath  string
	noCache bool
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate a folder of documents",
	Long: `Translate every matching document under the input folder.

Documents are split into markdown-aware segments; code blocks and front
matter pass through untouched. Segments are packed into batched API requests
up to the character and segment limits, and completed translations are
cached in SQLite keyed by content, language pair, and model.

Available services:
  - openrouter  OpenRouter chat completions (requires API key)
  - google      Google Cloud Translation (requires credentials)

With --stream-writes each output file is written incrementally as the
leading run of its segments completes; a failed document is rolled back to
its original content.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, key := range []string{
			"input", "output", "target", "source", "service", "model",
			"api-key", "base-url", "credentials", "glossary",
			"concurrency", "max-chars", "split-threshold",
			"batch-chars", "batch-segments", "pending-batches",
			"retry", "timeout", "db",
		} {
			if err := viper.BindPFlag(key, cmd.Flags().Lookup(key)); err != nil {
				return err
			}
		}

		inputDir = viper.GetString("input")
		outputDir = viper.GetString("output")
		targetLang = viper.GetString("target")
		sourceLang = viper.GetString("source")
		service = viper.GetString("service")
		model = viper.GetString("model")
		apiKey = viper.GetString("api-key")
		baseURL = viper.GetString("base-url")
		credentials = viper.GetString("credentials")
		glossaryPath = viper.GetString("glossary")
		concurrency = viper.GetInt("concurrency")
		maxChars = viper.GetInt("max-chars")
		splitThreshold = viper.GetInt("split-threshold")
		batchChars = viper.GetInt("batch-chars")
		batchSegments = viper.GetInt("batch-segments")
		pendingBatches = viper.GetInt("pending-batches")
		retryAttempts = viper.GetInt("retry")
		timeout = viper.GetDuration("timeout")
		dbPath = viper.GetString("db")

		if inputDir == "" {
			return fmt.Errorf("input folder is required")
		}
		if targetLang == "" {
			return fmt.Errorf("target language is required")
		}
		if info, err := os.Stat(inputDir); err != nil || !info.IsDir() {
			return fmt.Errorf("input folder does not exist: %s", inputDir)
		}
		if outputDir != "" {
			abs1, _ := filepath.Abs(inputDir)
			abs2, _ := filepath.Abs(outputDir)
			if abs1 == abs2 {
				outputDir = ""
			}
		}

		log := newLogger()
		defer log.Sync()

		ctx := context.Background()

		if sourceLang == "auto" {
			detected, err := detectSourceLanguage()
			if err != nil {
				return err
			}
			if detected != "" {
				sourceLang = detected
				fmt.Fprintf(os.Stderr, "Detected source language: %s\n", sourceLang)
			} else {
				sourceLang = ""
			}
		}

		port, err := buildPort()
		if err != nil {
			return err
		}

		var store *cache.Store
		var schedulerCache translator.Cache
		if !noCache && dbPath != "" {
			store, err = cache.Open(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open cache database: %w", err)
			}
			defer store.Close()
			schedulerCache = store
		}

		scheduler := translator.NewScheduler(port, schedulerCache, translator.Config{
			Model:             model,
			TargetLang:        targetLang,
			SourceLang:        sourceLang,
			Timeout:           timeout,
			Retry:             retryAttempts,
			Concurrency:       concurrency,
			MaxPendingBatches: pendingBatches,
			MaxBatchChars:     batchChars,
			MaxBatchSegments:  batchSegments,
			Progress:          progressLogger{log: log},
			Retries:           retryLogger{log: log},
		})

		var sink *writer.Writer
		if !dryRun {
			sink = writer.New(log)
		}

		run := runner.New(runner.Settings{
			InputDir:             inputDir,
			OutputDir:            outputDir,
			Extensions:           extensions,
			Include:              include,
			Exclude:              exclude,
			MaxChars:             maxChars,
			SplitThreshold:       splitThreshold,
			TranslateCode:        translateCode,
			TranslateFrontMatter: translateFM,
			Concurrency:          concurrency,
			StreamWrites:         streamWrites,
			Backup:               !noBackup,
			DryRun:               dryRun,
		}, scheduler, sink, log)

		summary, err := run.Run(ctx)
		if sink != nil {
			sink.Close()
		}
		if err != nil {
			return err
		}

		printSummary(summary)
		if len(summary.Failures) > 0 {
			return fmt.Errorf("%d of %d files failed", len(summary.Failures), summary.Files)
		}
		return nil
	},
}

// detectSourceLanguage samples the first matching document.
func detectSourceLanguage() (string, error) {
	paths, err := files.Gather(inputDir, extensions, include, exclude)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", nil
	}
	text, err := files.ReadText(filepath.Join(inputDir, filepath.FromSlash(paths[0])))
	if err != nil {
		return "", nil
	}
	det := detector.New()
	if iso, ok := det.DetectISO(text); ok {
		return iso, nil
	}
	return "", nil
}

func buildPort() (translator.Port, error) {
	switch service {
	case "openrouter":
		if apiKey == "" {
			apiKey = os.Getenv("OPENROUTER_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("OpenRouter API key is required (--api-key or OPENROUTER_API_KEY)")
		}
		var opts []translator.OpenRouterOption
		if glossaryPath != "" {
			terms, err := files.ReadGlossary(glossaryPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read glossary: %w", err)
			}
			opts = append(opts, translator.WithGlossary(terms))
		}
		return translator.NewOpenRouterPort(apiKey, baseURL, model, opts...), nil
	case "google":
		return translator.NewGooglePort(credentials), nil
	default:
		return nil, fmt.Errorf("unknown translation service: %s", service)
	}
}

func printSummary(s *runner.Summary) {
	fmt.Printf("Files processed:    %d\n", s.Files)
	fmt.Printf("Segments:           %d\n", s.Stats.TotalSegments)
	fmt.Printf("  from cache:       %d\n", s.Stats.CachedSegments)
	fmt.Printf("API calls:          %d\n", s.Stats.APICalls)
	fmt.Printf("  batched requests: %d\n", s.Stats.Batches)
	fmt.Printf("  retries:          %d\n", s.Stats.Retries)
	if s.Stats.PromptTokens > 0 || s.Stats.CompletionTokens > 0 {
		fmt.Printf("Tokens:             %d prompt / %d completion\n", s.Stats.PromptTokens, s.Stats.CompletionTokens)
	}
	fmt.Printf("Elapsed:            %s\n", s.Elapsed.Round(time.Millisecond))
	if len(s.Failures) > 0 {
		fmt.Printf("Failed files:       %d\n", len(s.Failures))
		for _, f := range s.Failures {
			fmt.Printf("  %s: %v\n", f.Path, f.Err)
		}
	}
}

type progressLogger struct {
	log *zap.SugaredLogger
}

func (p progressLogger) OnProgress(segments int) {
	p.log.Debugw("segments resolved", "count", segments)
}

type retryLogger struct {
	log *zap.SugaredLogger
}

func (r retryLogger) OnRetry(attempt int, err error, delay time.Duration) {
	r.log.Warnw("retrying request", "attempt", attempt, "delay", delay, "error", err)
}

func init() {
	rootCmd.AddCommand(translateCmd)

	translateCmd.Flags().StringVarP(&inputDir, "input", "i", "", "Input folder to translate (required)")
	translateCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output folder (default: translate in place)")
	translateCmd.Flags().StringVarP(&sourceLang, "source", "s", "auto", "Source language code")
	translateCmd.Flags().StringVarP(&targetLang, "target", "t", "", "Target language code (required)")

	translateCmd.Flags().StringSliceVar(&extensions, "ext", []string{"md", "markdown", "txt"}, "File extensions to translate")
	translateCmd.Flags().StringSliceVar(&include, "include", nil, "Glob patterns of relative paths to include")
	translateCmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Glob patterns of relative paths to exclude")

	translateCmd.Flags().StringVar(&service, "service", "openrouter", "Translation service (openrouter, google)")
	translateCmd.Flags().StringVarP(&model, "model", "m", "openai/gpt-4o-mini", "Model name")
	translateCmd.Flags().StringVar(&apiKey, "api-key", "", "API key (or OPENROUTER_API_KEY)")
	translateCmd.Flags().StringVar(&baseURL, "base-url", translator.DefaultOpenRouterBaseURL, "OpenRouter base URL")
	translateCmd.Flags().StringVarP(&credentials, "credentials", "c", "", "Path to Google Cloud credentials")
	translateCmd.Flags().StringVarP(&glossaryPath, "glossary", "g", "", "Glossary file (.json or .csv)")

	translateCmd.Flags().IntVar(&concurrency, "concurrency", 4, "Maximum simultaneous API requests")
	translateCmd.Flags().IntVar(&maxChars, "max-chars", 4000, "Maximum characters per segment")
	translateCmd.Flags().IntVar(&splitThreshold, "split-threshold", 0, "Only split documents longer than this many characters (0 = always split)")
	translateCmd.Flags().IntVar(&batchChars, "batch-chars", translator.DefaultMaxBatchChars, "Maximum characters per batched request")
	translateCmd.Flags().IntVar(&batchSegments, "batch-segments", translator.DefaultMaxBatchSegments, "Maximum segments per batched request")
	translateCmd.Flags().IntVar(&pendingBatches, "pending-batches", 0, "Maximum batches in flight (0 = 2x concurrency)")
	translateCmd.Flags().IntVar(&retryAttempts, "retry", 3, "Total attempts per request including the first (1 = no retries)")
	translateCmd.Flags().DurationVar(&timeout, "timeout", 120*time.Second, "Per-request timeout")

	translateCmd.Flags().BoolVar(&streamWrites, "stream-writes", false, "Write each file incrementally as leading segments complete")
	translateCmd.Flags().BoolVar(&noBackup, "no-backup", false, "Skip .bak backups when translating in place")
	translateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "List files and segment counts without translating")
	translateCmd.Flags().BoolVar(&translateCode, "translate-code", false, "Translate fenced code blocks instead of preserving them")
	translateCmd.Flags().BoolVar(&translateFM, "translate-front-matter", false, "Translate YAML front matter instead of preserving it")

	translateCmd.Flags().StringVar(&dbPath, "db", "./data/transfold.db", "SQLite cache path")
	translateCmd.Flags().BoolVar(&noCache, "no-cache", false, "Disable the translation cache")

	// input and target are validated in RunE rather than marked required so
	// the config file and TRANSFOLD_* environment variables can supply them.
}

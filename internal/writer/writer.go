// Package writer owns all durable output. A single background goroutine
// serializes writes to each destination, keeping filesystem latency off the
// translation path. Replace-mode writes are atomic (temp file + rename) and
// may take a one-time backup of a pre-existing destination; append mode
// extends a file already initialised by a replace.
package writer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Mode selects how a task touches its destination.
type Mode int

const (
	// Replace atomically swaps in the new content, optionally backing up an
	// existing file the first time that destination is replaced.
	Replace Mode = iota
	// Append extends the destination. Append never takes a backup.
	Append
)

// Task is one durable write.
type Task struct {
	Path    string
	Content string
	Backup  bool
	Mode    Mode
}

// Writer runs write tasks on one background goroutine. Submit order is
// preserved, so per-destination writes are serialized.
type Writer struct {
	tasks    chan Task
	done     chan struct{}
	log      *zap.SugaredLogger
	closed   sync.Once
	backedUp map[string]struct{}
}

// New starts the write worker. log may be nil.
func New(log *zap.SugaredLogger) *Writer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	w := &Writer{
		tasks:    make(chan Task, 128),
		done:     make(chan struct{}),
		log:      log,
		backedUp: make(map[string]struct{}),
	}
	go w.loop()
	return w
}

// Submit enqueues a task. It blocks only when the queue is full.
func (w *Writer) Submit(task Task) {
	w.tasks <- task
}

// Close drains pending tasks and stops the worker.
func (w *Writer) Close() {
	w.closed.Do(func() {
		close(w.tasks)
	})
	<-w.done
}

func (w *Writer) loop() {
	defer close(w.done)
	for task := range w.tasks {
		if err := w.execute(task); err != nil {
			w.log.Errorw("write failed", "path", task.Path, "error", err)
		}
	}
}

func (w *Writer) execute(task Task) error {
	if task.Mode == Append {
		if err := ensureParent(task.Path); err != nil {
			return err
		}
		f, err := os.OpenFile(task.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		if _, err := f.WriteString(task.Content); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}

	_, seen := w.backedUp[task.Path]
	backup := task.Backup && !seen
	if err := atomicWrite(task.Path, task.Content, backup); err != nil {
		return err
	}
	if backup {
		w.backedUp[task.Path] = struct{}{}
	}
	return nil
}

// atomicWrite writes content to a temp file in the destination directory and
// renames it over path. When backup is true and path already exists, the old
// file is first copied to path.bak.
func atomicWrite(path, content string, backup bool) error {
	if err := ensureParent(path); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if backup {
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, path+".bak"); err != nil {
				os.Remove(tmpName)
				return fmt.Errorf("failed to create backup: %w", err)
			}
		}
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func ensureParent(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

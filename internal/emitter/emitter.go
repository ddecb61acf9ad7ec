// Package emitter releases document output as contiguous, in-order prefixes.
// Segments resolve in arbitrary order across batches; the emitter tracks the
// lowest unresolved index and flushes the maximal newly contiguous run each
// time a segment resolves. It never reorders, gaps, or repeats output.
package emitter

import (
	"strings"
	"sync"

	"github.com/valpere/transfold/internal/segmenter"
)

// Emitter streams resolved prefixes of one document to an emit function.
type Emitter struct {
	mu   sync.Mutex
	doc  *segmenter.SegmentedDocument
	next int
	emit func(chunk string)
}

// New creates an Emitter over doc. emit is called with each newly completed
// prefix chunk, under the emitter's lock, so calls are serialized and in
// document order.
func New(doc *segmenter.SegmentedDocument, emit func(chunk string)) *Emitter {
	return &Emitter{doc: doc, emit: emit}
}

// SegmentResolved is called once per segment resolution, from whichever path
// resolved it. Safe for concurrent use.
func (e *Emitter) SegmentResolved(*segmenter.Segment) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var sb strings.Builder
	for e.next < len(e.doc.Segments) {
		seg := e.doc.Segments[e.next]
		if seg.Translate && !seg.Resolved() {
			break
		}
		sb.WriteString(seg.Output())
		e.next++
	}
	if sb.Len() > 0 {
		e.emit(sb.String())
	}
}

// Emitted reports how many leading segments have been flushed so far.
func (e *Emitter) Emitted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next
}

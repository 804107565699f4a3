package ingest

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// Progress receives human readable messages as documents, suites and tests
// are visited. It never influences ingestion.
type Progress interface {
	Notify(msg string)
}

// NopProgress discards all messages.
type NopProgress struct{}

// Notify implements Progress.
func (NopProgress) Notify(string) {}

type logProgress struct {
	log logrus.FieldLogger
}

// NewLogProgress returns a Progress that writes messages at info level.
func NewLogProgress(log logrus.FieldLogger) Progress {
	return &logProgress{log: log.WithField("component", "progress")}
}

func (p *logProgress) Notify(msg string) {
	p.log.Info(msg)
}

type writerProgress struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterProgress returns a Progress that writes one line per message to w.
// It is safe for use by concurrent ingestions.
func NewWriterProgress(w io.Writer) Progress {
	return &writerProgress{w: w}
}

func (p *writerProgress) Notify(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, _ = fmt.Fprintln(p.w, msg)
}

func documentMessage(path string) string {
	return "- Parsing " + path
}

func suiteMessage(name string) string {
	return "`--> Parsing suite: " + name
}

func testMessage(name string) string {
	return "  `--> Parsing test: " + name
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethpandaops/dbbot/pkg/digest"
	"github.com/ethpandaops/dbbot/pkg/robot"
	"github.com/ethpandaops/dbbot/pkg/source"
	"github.com/ethpandaops/dbbot/pkg/store"
)

const tracerName = "github.com/ethpandaops/dbbot/pkg/ingest"

// Report describes the outcome of ingesting one document.
type Report struct {
	// Document is the declared source path recorded for the run.
	Document  string
	TestRunID uint
	Hash      string
	// NewRun is false when the document resolved to an existing run.
	NewRun bool
	Suites int
	Tests  int
}

// Engine ingests parsed result documents into a store.
type Engine struct {
	log       logrus.FieldLogger
	store     store.Store
	parser    robot.Parser
	progress  Progress
	alg       digest.Algorithm
	blockSize int
	loc       *time.Location
	clock     func() time.Time
	tracer    trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithProgress sets the sink notified as documents, suites and tests are
// visited.
func WithProgress(p Progress) Option {
	return func(e *Engine) { e.progress = p }
}

// WithHashAlgorithm sets the content hash algorithm.
func WithHashAlgorithm(alg digest.Algorithm) Option {
	return func(e *Engine) { e.alg = alg }
}

// WithBlockSize sets the read block size used while hashing.
func WithBlockSize(n int) Option {
	return func(e *Engine) { e.blockSize = n }
}

// WithLocation sets the time zone import instants are recorded in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// WithClock overrides the source of the import instant.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine creates an Engine writing to st and reading documents with
// parser.
func NewEngine(
	log logrus.FieldLogger,
	st store.Store,
	parser robot.Parser,
	opts ...Option,
) *Engine {
	e := &Engine{
		log:       log.WithField("component", "ingest"),
		store:     st,
		parser:    parser,
		progress:  NopProgress{},
		alg:       digest.SHA1,
		blockSize: digest.DefaultBlockSize,
		loc:       time.UTC,
		clock:     time.Now,
		tracer:    otel.Tracer(tracerName),
	}

	for _, o := range opts {
		o(e)
	}

	return e
}

// Ingest records the document at path. Ingesting the same document again
// creates no new rows.
func (e *Engine) Ingest(ctx context.Context, path string) (*Report, error) {
	return e.IngestDocument(ctx, source.Local(path))
}

// IngestDocument records doc. When doc.Source is set it is stored as the
// run's source path in place of the parsed document's own path.
func (e *Engine) IngestDocument(ctx context.Context, doc source.Document) (*Report, error) {
	ctx, span := e.tracer.Start(ctx, "ingest.Document",
		trace.WithAttributes(attribute.String("document", doc.Path)),
	)
	defer span.End()

	report, err := e.ingest(ctx, doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, err
	}

	span.SetAttributes(
		attribute.String("hash", report.Hash),
		attribute.Int64("test_run_id", int64(report.TestRunID)),
		attribute.Bool("new_run", report.NewRun),
	)

	return report, nil
}

func (e *Engine) ingest(ctx context.Context, doc source.Document) (*Report, error) {
	e.progress.Notify(documentMessage(doc.Path))

	result, err := e.parser.Parse(doc.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	info, err := os.Stat(doc.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHash, err)
	}

	hash, err := digest.HashFile(doc.Path, e.alg, e.blockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHash, err)
	}

	startedAt, err := digest.ParseTimestamp(result.Suite.StartTime())
	if err != nil {
		return nil, fmt.Errorf("%w: suite start time: %w", ErrParse, err)
	}

	finishedAt, err := digest.ParseTimestamp(result.Suite.EndTime())
	if err != nil {
		return nil, fmt.Errorf("%w: suite end time: %w", ErrParse, err)
	}

	sourceFile := result.Source
	if doc.Source != "" {
		sourceFile = doc.Source
	}

	log := e.log.WithFields(logrus.Fields{
		"document": sourceFile,
		"hash":     hash,
	})

	runID, created, err := e.resolveRun(ctx, &store.TestRun{
		Hash:       hash,
		ImportedAt: e.clock().In(e.loc),
		SourceFile: sourceFile,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Passed:     result.Statistics.Passed,
		Failed:     result.Statistics.Failed,
		Skipped:    result.Statistics.Skipped,
	})
	if err != nil {
		return nil, err
	}

	log = log.WithField("test_run_id", runID)

	if !created {
		log.Debug("Document matches an existing run")
	}

	w := &walker{
		store:    e.store,
		progress: e.progress,
		tracer:   e.tracer,
		runID:    runID,
	}

	if err := w.walkSuite(ctx, result.Suite, nil); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"size":    units.HumanSize(float64(info.Size())),
		"suites":  w.suites,
		"tests":   w.tests,
		"new_run": created,
	}).Info("Ingested document")

	return &Report{
		Document:  sourceFile,
		TestRunID: runID,
		Hash:      hash,
		NewRun:    created,
		Suites:    w.suites,
		Tests:     w.tests,
	}, nil
}

// resolveRun creates run or locates the existing run it collides with. The
// fallback lookup uses the (source, start, end) key. A byte-identical
// document recorded under another source path only collides on hash, so the
// hash is tried last.
func (e *Engine) resolveRun(ctx context.Context, run *store.TestRun) (uint, bool, error) {
	id, created, err := createOrLocate(ctx, e.store, run, map[string]any{
		"source_file": run.SourceFile,
		"started_at":  nullable(run.StartedAt),
		"finished_at": nullable(run.FinishedAt),
	})
	if err == nil {
		return id, created, nil
	}

	if !errors.Is(err, store.ErrNotFound) {
		return 0, false, err
	}

	id, err = e.store.FetchID(ctx, store.TableTestRuns, map[string]any{"hash": run.Hash})
	if err != nil {
		return 0, false, fmt.Errorf("%w: locating run by hash: %w", ErrStore, err)
	}

	return id, false, nil
}

// nullable turns a nil *time.Time into an untyped nil so a key lookup
// matches NULL.
func nullable(t *time.Time) any {
	if t == nil {
		return nil
	}

	return *t
}

package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/dbbot/pkg/source"
)

// Failure is a document that could not be ingested.
type Failure struct {
	Ref string
	Err error
}

// Summary aggregates the outcome of a batch.
type Summary struct {
	Documents int
	Ingested  int
	NewRuns   int
	Failures  []Failure
}

// Batch ingests many documents with bounded concurrency. Documents are
// independent of each other.
type Batch struct {
	log             logrus.FieldLogger
	engine          *Engine
	resolver        source.Resolver
	concurrency     int
	continueOnError bool
}

// NewBatch creates a Batch. With continueOnError unset, the first failing
// document cancels the documents not yet started.
func NewBatch(
	log logrus.FieldLogger,
	engine *Engine,
	resolver source.Resolver,
	concurrency int,
	continueOnError bool,
) *Batch {
	if concurrency < 1 {
		concurrency = 1
	}

	return &Batch{
		log:             log.WithField("component", "batch"),
		engine:          engine,
		resolver:        resolver,
		concurrency:     concurrency,
		continueOnError: continueOnError,
	}
}

// Run expands args into documents and ingests each of them.
func (b *Batch) Run(ctx context.Context, args []string) (*Summary, error) {
	refs, err := b.resolver.Expand(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("expanding arguments: %w", err)
	}

	summary := &Summary{Documents: len(refs)}

	b.log.WithFields(logrus.Fields{
		"documents":   len(refs),
		"concurrency": b.concurrency,
	}).Info("Starting ingestion")

	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for _, ref := range refs {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}

			report, err := b.ingestRef(gCtx, ref)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				summary.Failures = append(summary.Failures, Failure{Ref: ref, Err: err})

				b.log.WithError(err).
					WithField("document", ref).
					Warn("Failed to ingest document")

				if b.continueOnError {
					return nil
				}

				return fmt.Errorf("ingesting %s: %w", ref, err)
			}

			summary.Ingested++

			if report.NewRun {
				summary.NewRuns++
			}

			return nil
		})
	}

	err = g.Wait()

	sort.Slice(summary.Failures, func(i, j int) bool {
		return summary.Failures[i].Ref < summary.Failures[j].Ref
	})

	return summary, err
}

func (b *Batch) ingestRef(ctx context.Context, ref string) (*Report, error) {
	doc, err := b.resolver.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	return b.engine.IngestDocument(ctx, doc)
}

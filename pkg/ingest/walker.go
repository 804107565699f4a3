package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethpandaops/dbbot/pkg/robot"
	"github.com/ethpandaops/dbbot/pkg/store"
)

// createOrLocate inserts row and returns its id. When the insert breaches a
// unique constraint the id of the existing row matching naturalKey is
// returned instead and created is false. Every other failure is an ErrStore.
func createOrLocate(
	ctx context.Context,
	st store.Store,
	row store.Row,
	naturalKey map[string]any,
) (id uint, created bool, err error) {
	id, err = st.Insert(ctx, row)
	if err == nil {
		return id, true, nil
	}

	if !errors.Is(err, store.ErrUniqueViolation) {
		return 0, false, fmt.Errorf("%w: %w", ErrStore, err)
	}

	id, err = st.FetchID(ctx, row.TableName(), naturalKey)
	if err != nil {
		return 0, false, fmt.Errorf("%w: locating existing row: %w", ErrStore, err)
	}

	return id, false, nil
}

// walker records one suite tree against a resolved run.
type walker struct {
	store    store.Store
	progress Progress
	tracer   trace.Tracer
	runID    uint

	suites int
	tests  int
}

// walkSuite records suite, its descendants and its tests depth-first.
// Suites are keyed on (name, source) only, so a suite seen under another
// parent in an earlier run keeps that parent.
func (w *walker) walkSuite(ctx context.Context, suite *robot.Suite, parentID *uint) error {
	ctx, span := w.tracer.Start(ctx, "ingest.Suite",
		trace.WithAttributes(attribute.String("suite", suite.Name)),
	)
	defer span.End()

	w.progress.Notify(suiteMessage(suite.Name))

	suiteID, _, err := createOrLocate(ctx, w.store, &store.Suite{
		SuiteID: parentID,
		XMLID:   suite.ID,
		Name:    suite.Name,
		Source:  suite.Source,
		Doc:     suite.Doc,
	}, map[string]any{
		"name":   suite.Name,
		"source": suite.Source,
	})
	if err != nil {
		return fmt.Errorf("suite %q: %w", suite.Name, err)
	}

	w.suites++

	for _, child := range suite.Suites {
		if err := w.walkSuite(ctx, child, &suiteID); err != nil {
			return err
		}
	}

	for _, test := range suite.Tests {
		if err := w.recordTest(ctx, suiteID, test); err != nil {
			return fmt.Errorf("test %q: %w", test.Name, err)
		}
	}

	return nil
}

func (w *walker) recordTest(ctx context.Context, suiteID uint, test *robot.Test) error {
	w.progress.Notify(testMessage(test.Name))

	testID, _, err := createOrLocate(ctx, w.store, &store.Test{
		SuiteID: suiteID,
		XMLID:   test.ID,
		Name:    test.Name,
		Timeout: test.Timeout,
		Doc:     test.Doc,
	}, map[string]any{
		"suite_id": suiteID,
		"name":     test.Name,
	})
	if err != nil {
		return err
	}

	w.tests++

	// An existing status for this run and test is left untouched.
	if err := w.store.InsertOrIgnore(ctx, &store.TestStatus{
		TestRunID: w.runID,
		TestID:    testID,
		Status:    test.Status.Status,
		Elapsed:   test.Elapsed(),
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrStore, err)
	}

	return nil
}

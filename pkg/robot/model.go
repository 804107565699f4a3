package robot

import (
	"time"

	"github.com/ethpandaops/dbbot/pkg/digest"
)

// Test status values written by Robot Framework.
const (
	StatusPass   = "PASS"
	StatusFail   = "FAIL"
	StatusSkip   = "SKIP"
	StatusNotRun = "NOT RUN"
)

// Result is one parsed output document.
type Result struct {
	// Source is the canonical path of the document the result was read from.
	Source     string
	Generator  string
	Suite      *Suite
	Statistics Totals
}

// Totals holds aggregate test counts for a run.
type Totals struct {
	Passed  int
	Failed  int
	Skipped int
}

// Status is the outcome recorded on a suite, test or keyword.
type Status struct {
	Status    string
	StartTime string
	EndTime   string

	// elapsedMs is set when the document records elapsed time directly.
	elapsedMs *int64
}

// Suite is a node of the suite tree.
type Suite struct {
	ID     string
	Name   string
	Source string
	Doc    string
	Status Status
	Suites []*Suite
	Tests  []*Test
}

// StartTime returns the suite start timestamp text.
func (s *Suite) StartTime() string { return s.Status.StartTime }

// EndTime returns the suite end timestamp text.
func (s *Suite) EndTime() string { return s.Status.EndTime }

// Test is a leaf test case.
type Test struct {
	ID       string
	Name     string
	Doc      string
	Timeout  string
	Tags     []string
	Status   Status
	Keywords []*Keyword
}

// Keyword is a keyword call, kept only when keywords are included.
type Keyword struct {
	Name     string
	Library  string
	Type     string
	Status   Status
	Keywords []*Keyword
}

// Elapsed returns the test duration in milliseconds, or 0 when it cannot be
// determined.
func (t *Test) Elapsed() int64 {
	return t.Status.Elapsed()
}

// Elapsed returns the duration in milliseconds, or 0 when unknown.
func (s Status) Elapsed() int64 {
	if s.elapsedMs != nil {
		return *s.elapsedMs
	}

	start, err := digest.ParseTimestamp(s.StartTime)
	if err != nil || start == nil {
		return 0
	}

	end, err := digest.ParseTimestamp(s.EndTime)
	if err != nil || end == nil {
		return 0
	}

	return end.Sub(*start).Milliseconds()
}

// Walk visits s and every descendant suite depth-first, parents first.
func (s *Suite) Walk(fn func(*Suite)) {
	fn(s)

	for _, child := range s.Suites {
		child.Walk(fn)
	}
}

// countTotals derives aggregate counts from test statuses.
func (s *Suite) countTotals() Totals {
	var totals Totals

	s.Walk(func(suite *Suite) {
		for _, test := range suite.Tests {
			switch test.Status.Status {
			case StatusPass:
				totals.Passed++
			case StatusFail:
				totals.Failed++
			case StatusSkip, StatusNotRun:
				totals.Skipped++
			}
		}
	})

	return totals
}

// formatTimestamp renders t in the document timestamp format.
func formatTimestamp(t time.Time) string {
	return t.Format(digest.TimestampLayout + ".000000")
}

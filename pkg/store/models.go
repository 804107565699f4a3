package store

import "time"

// Table names.
const (
	TableTestRuns   = "test_runs"
	TableSuites     = "suites"
	TableTests      = "tests"
	TableTestStatus = "test_status"
)

// Row is a model with a store-assigned identity.
type Row interface {
	TableName() string
	PrimaryKey() uint
}

// TestRun is one ingested result document.
type TestRun struct {
	ID         uint       `gorm:"primaryKey"`
	Hash       string     `gorm:"not null;uniqueIndex:idx_test_runs_hash"`
	ImportedAt time.Time  `gorm:"not null"`
	SourceFile string     `gorm:"not null;uniqueIndex:idx_test_runs_source_span"`
	StartedAt  *time.Time `gorm:"uniqueIndex:idx_test_runs_source_span"`
	FinishedAt *time.Time `gorm:"uniqueIndex:idx_test_runs_source_span"`
	Passed     int        `gorm:"not null"`
	Failed     int        `gorm:"not null"`
	Skipped    int        `gorm:"not null"`
}

// TableName implements Row.
func (TestRun) TableName() string { return TableTestRuns }

// PrimaryKey implements Row.
func (r *TestRun) PrimaryKey() uint { return r.ID }

// Suite is a node of the suite tree, shared across runs.
type Suite struct {
	ID uint `gorm:"primaryKey"`
	// SuiteID references the parent suite; nil for a root suite.
	SuiteID *uint  `gorm:"index"`
	XMLID   string `gorm:"column:xml_id;not null"`
	Name    string `gorm:"not null;uniqueIndex:idx_suites_name_source"`
	Source  string `gorm:"not null;uniqueIndex:idx_suites_name_source"`
	Doc     string `gorm:"type:text"`
}

// TableName implements Row.
func (Suite) TableName() string { return TableSuites }

// PrimaryKey implements Row.
func (s *Suite) PrimaryKey() uint { return s.ID }

// Test is a test definition under exactly one suite.
type Test struct {
	ID      uint   `gorm:"primaryKey"`
	SuiteID uint   `gorm:"not null;uniqueIndex:idx_tests_suite_name"`
	XMLID   string `gorm:"column:xml_id;not null"`
	Name    string `gorm:"not null;uniqueIndex:idx_tests_suite_name"`
	Timeout string
	Doc     string `gorm:"type:text"`
}

// TableName implements Row.
func (Test) TableName() string { return TableTests }

// PrimaryKey implements Row.
func (t *Test) PrimaryKey() uint { return t.ID }

// TestStatus is the outcome of one test within one run.
type TestStatus struct {
	TestRunID uint   `gorm:"primaryKey;autoIncrement:false"`
	TestID    uint   `gorm:"primaryKey;autoIncrement:false;index"`
	Status    string `gorm:"not null"`
	// Elapsed is the test duration in milliseconds.
	Elapsed int64 `gorm:"not null"`
}

// TableName returns the test status table name.
func (TestStatus) TableName() string { return TableTestStatus }

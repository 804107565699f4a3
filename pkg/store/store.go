package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/ethpandaops/dbbot/pkg/config"
)

// Store is the relational store result documents are ingested into.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Insert creates row and returns its identity. Breaching a unique
	// constraint yields an error matching ErrUniqueViolation.
	Insert(ctx context.Context, row Row) (uint, error)

	// FetchID returns the identity of the row in table whose columns equal
	// key. Nil values match NULL. Returns ErrNotFound when no row matches.
	FetchID(ctx context.Context, table string, key map[string]any) (uint, error)

	// InsertOrIgnore creates row unless it conflicts with an existing one,
	// in which case nothing happens.
	InsertOrIgnore(ctx context.Context, row any) error

	// Count returns the number of rows in table.
	Count(ctx context.Context, table string) (int64, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and, when enabled, creates the schema.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(&s.cfg.SQLite))
	case "postgres":
		dialector = postgres.Open(s.cfg.Postgres.DSN())
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if s.cfg.AutoMigrate {
		if err := s.db.WithContext(ctx).AutoMigrate(
			&TestRun{},
			&Suite{},
			&Test{},
			&TestStatus{},
		); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

func (s *store) Insert(ctx context.Context, row Row) (uint, error) {
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("inserting into %s: %w",
				row.TableName(), errors.Join(ErrUniqueViolation, err))
		}

		return 0, fmt.Errorf("inserting into %s: %w", row.TableName(), err)
	}

	return row.PrimaryKey(), nil
}

func (s *store) FetchID(
	ctx context.Context, table string, key map[string]any,
) (uint, error) {
	var ids []uint

	result := s.db.WithContext(ctx).
		Table(table).
		Where(key).
		Order("id ASC").
		Limit(1).
		Pluck("id", &ids)
	if result.Error != nil {
		return 0, fmt.Errorf("fetching id from %s: %w", table, result.Error)
	}

	if len(ids) == 0 {
		return 0, fmt.Errorf("fetching id from %s: %w", table, ErrNotFound)
	}

	return ids[0], nil
}

func (s *store) InsertOrIgnore(ctx context.Context, row any) error {
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row).Error; err != nil {
		return fmt.Errorf("inserting or ignoring: %w", err)
	}

	return nil
}

func (s *store) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).
		Table(table).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}

	return n, nil
}

// sqliteDSN appends pragmas so concurrent writers wait on the database lock
// instead of failing with SQLITE_BUSY.
func sqliteDSN(cfg *config.SQLiteDatabaseConfig) string {
	if cfg.Path == ":memory:" {
		return cfg.Path
	}

	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", timeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")

	return cfg.Path + "?" + q.Encode()
}

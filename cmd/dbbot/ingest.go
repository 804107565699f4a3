package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/dbbot/pkg/config"
	"github.com/ethpandaops/dbbot/pkg/digest"
	"github.com/ethpandaops/dbbot/pkg/ingest"
	"github.com/ethpandaops/dbbot/pkg/robot"
	"github.com/ethpandaops/dbbot/pkg/source"
	"github.com/ethpandaops/dbbot/pkg/store"
)

var (
	databasePath    string
	includeKeywords bool
	verbose         bool
	concurrency     int
	failFast        bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [flags] PATH...",
	Short: "Ingest Robot Framework output documents",
	Long: `Ingest one or more Robot Framework output.xml documents.

Each PATH may be a file, a directory (every *.xml file below it is ingested)
or, when the S3 source is enabled, an s3://bucket/key object or an
s3://bucket/prefix/ listing.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVarP(&databasePath, "database", "b", "",
		"SQLite database file (overrides database.sqlite.path)")
	ingestCmd.Flags().BoolVarP(&includeKeywords, "include-keywords", "k", false,
		"Parse keywords as well as suites and tests")
	ingestCmd.Flags().BoolVarP(&verbose, "verbose", "v", false,
		"Print progress for every document, suite and test")
	ingestCmd.Flags().IntVar(&concurrency, "concurrency", 0,
		"Number of documents ingested at once (overrides ingest.concurrency)")
	ingestCmd.Flags().BoolVar(&failFast, "fail-fast", false,
		"Stop at the first document that fails")
}

func runIngest(cmd *cobra.Command, args []string) error {
	applyIngestFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig).Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}()

	engine, err := newEngine(st)
	if err != nil {
		return err
	}

	var s3Reader *source.S3Reader
	if cfg.Sources.S3.Enabled {
		s3Reader = source.NewS3Reader(log, &cfg.Sources.S3)
	}

	batch := ingest.NewBatch(
		log,
		engine,
		source.NewResolver(log, s3Reader),
		cfg.Ingest.Concurrency,
		cfg.Ingest.ContinueOnError,
	)

	summary, err := batch.Run(ctx, args)
	if summary != nil {
		printSummary(ctx, st, summary)
	}

	if err != nil {
		return err
	}

	if n := len(summary.Failures); n > 0 {
		return fmt.Errorf("%d of %d documents failed", n, summary.Documents)
	}

	return nil
}

// applyIngestFlags layers explicitly set flags over the loaded config.
func applyIngestFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("database") {
		c.Database.Driver = "sqlite"
		c.Database.SQLite.Path = databasePath
	}

	if flags.Changed("include-keywords") {
		c.Ingest.IncludeKeywords = includeKeywords
	}

	if flags.Changed("verbose") {
		c.Global.Verbose = verbose
	}

	if flags.Changed("concurrency") {
		c.Ingest.Concurrency = concurrency
	}

	if flags.Changed("fail-fast") {
		c.Ingest.ContinueOnError = !failFast
	}
}

func newEngine(st store.Store) (*ingest.Engine, error) {
	alg, err := digest.ParseAlgorithm(cfg.Ingest.HashAlgorithm)
	if err != nil {
		return nil, err
	}

	blockSize, err := cfg.Ingest.BlockSize()
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Ingest.Location()
	if err != nil {
		return nil, err
	}

	opts := []ingest.Option{
		ingest.WithHashAlgorithm(alg),
		ingest.WithBlockSize(blockSize),
		ingest.WithLocation(loc),
	}

	if cfg.Global.Verbose {
		opts = append(opts, ingest.WithProgress(ingest.NewWriterProgress(os.Stdout)))
	}

	parser := robot.NewParser(robot.Options{IncludeKeywords: cfg.Ingest.IncludeKeywords})

	return ingest.NewEngine(log, st, parser, opts...), nil
}

func printSummary(ctx context.Context, st store.Store, summary *ingest.Summary) {
	fields := logrus.Fields{
		"documents": summary.Documents,
		"ingested":  summary.Ingested,
		"new_runs":  summary.NewRuns,
		"failed":    len(summary.Failures),
	}

	for _, table := range []string{store.TableTestRuns, store.TableSuites, store.TableTests} {
		n, err := st.Count(ctx, table)
		if err != nil {
			log.WithError(err).WithField("table", table).Debug("Failed to count rows")

			continue
		}

		fields["total_"+table] = n
	}

	log.WithFields(fields).Info("Ingestion complete")

	for _, f := range summary.Failures {
		log.WithError(f.Err).WithField("document", f.Ref).Error("Document failed")
	}
}

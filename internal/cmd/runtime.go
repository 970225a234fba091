package cmd

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/3leaps/trackside/internal/awsconfig"
	"github.com/3leaps/trackside/internal/config"
	"github.com/3leaps/trackside/internal/observability"
	"github.com/3leaps/trackside/internal/runner"
	"github.com/3leaps/trackside/pkg/execution"
	"github.com/3leaps/trackside/pkg/finalizer"
	"github.com/3leaps/trackside/pkg/itemstore"
	"github.com/3leaps/trackside/pkg/ledger"
	"github.com/3leaps/trackside/pkg/logarchive"
	"github.com/3leaps/trackside/pkg/provider"
	"github.com/3leaps/trackside/pkg/provider/file"
	"github.com/3leaps/trackside/pkg/provider/s3"
	"github.com/3leaps/trackside/pkg/ranking"
	"github.com/3leaps/trackside/pkg/runjournal"
	"github.com/3leaps/trackside/pkg/s3path"
	"github.com/3leaps/trackside/pkg/scoring"
	"github.com/3leaps/trackside/pkg/videostream"
)

// engine holds everything a command needs to finalize jobs.
type engine struct {
	store   *itemstore.Store
	bucket  provider.Provider
	journal *runjournal.Store
	runner  *runner.Runner
	metrics *observability.JobMetrics
}

func (e *engine) Close() {
	if e.bucket != nil {
		_ = e.bucket.Close()
	}
	if e.store != nil {
		_ = e.store.Close()
	}
}

// openBucket returns the model data bucket: a local directory when
// bucket.local_dir is set, S3 otherwise.
func openBucket(cfg config.BucketConfig, awsCfg aws.Config) (provider.Provider, error) {
	if cfg.LocalDir != "" {
		p, err := file.New(file.Config{BaseDir: cfg.LocalDir, Bucket: cfg.Name})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	p, err := s3.New(awsCfg, s3.Config{
		Bucket:         cfg.Name,
		Endpoint:       cfg.Endpoint,
		ForcePathStyle: cfg.ForcePathStyle,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// buildEngine wires the finalizer from cfg. Job metrics register with
// registerer.
func buildEngine(ctx context.Context, cfg *config.Config, registerer prometheus.Registerer, logger *zap.Logger) (*engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, usageError("invalid configuration", err)
	}

	awsCfg, err := awsconfig.Load(ctx, cfg.AWS.Options())
	if err != nil {
		return nil, usageError("aws config", err)
	}

	e := &engine{}
	ok := false
	defer func() {
		if !ok {
			e.Close()
		}
	}()

	e.bucket, err = openBucket(cfg.Bucket, awsCfg)
	if err != nil {
		return nil, usageError("open bucket", err)
	}
	e.store, err = itemstore.Open(ctx, cfg.Store.ItemStore())
	if err != nil {
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "open item store", err)
	}

	copier, err := logarchive.NewCloudWatchCopierFromConfig(awsCfg, e.bucket, cfg.Archive.Copier(), logger)
	if err != nil {
		return nil, usageError("log copier", err)
	}
	layout := s3path.Layout{Bucket: e.bucket.Bucket()}
	reader := scoring.NewMetricsReader(e.bucket, logger)
	e.metrics = observability.NewJobMetrics(registerer, logger)

	fin, err := finalizer.New(finalizer.Deps{
		Execution: execution.New(awsCfg, execution.WithLogger(logger)),
		Streams:   videostream.New(awsCfg, logger),
		Archiver:  logarchive.NewArchiver(copier, e.store, layout, cfg.Archive.LogGroups, logger),
		Ledger:    ledger.New(e.store, ledger.WithRounding(cfg.Ledger.Rounding), ledger.WithLogger(logger)),
		Store:     e.store,
		Metrics:   reader,
		Scorer:    scoring.NewEngine(reader),
		Ranker:    ranking.New(e.store, logger),
		Recorder:  e.metrics,
	}, finalizer.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	e.journal = runjournal.NewStore(cfg.Journal.Dir)
	e.runner = runner.New(fin, e.journal, logger)
	ok = true
	return e, nil
}

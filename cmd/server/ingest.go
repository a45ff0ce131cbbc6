package main

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/outcomeops/outcomeops-analytics/internal/logger"
	"github.com/outcomeops/outcomeops-analytics/internal/logparser"
	"github.com/outcomeops/outcomeops-analytics/internal/storage"
)

var (
	ingestBackfill bool
	ingestPrefix   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Parse access-log objects as they land in the log bucket",
	Long: `ingest subscribes to object-created notifications on LOG_BUCKET and parses
each new access-log object into Events. With --backfill it instead processes
every existing object under --prefix once and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context())
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestBackfill, "backfill", false, "process existing objects and exit")
	ingestCmd.Flags().StringVar(&ingestPrefix, "prefix", "", "only consider keys with this prefix (e.g. example.com/)")
	rootCmd.AddCommand(ingestCmd)
}

// objectProcessor is the part of logparser.Processor the ingest loop uses.
type objectProcessor interface {
	ProcessObject(ctx context.Context, bucket, key string) (logparser.Result, error)
}

// ingestor runs one Processor invocation per object with its own deadline.
type ingestor struct {
	processor objectProcessor
	timeout   time.Duration
	totals    logparser.Result
	objects   int
	failed    int
}

func (in *ingestor) handle(ctx context.Context, ref storage.ObjectRef) {
	if in.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.timeout)
		defer cancel()
	}
	res, err := in.processor.ProcessObject(ctx, ref.Bucket, ref.Key)
	in.totals.Add(res)
	in.objects++
	if err != nil {
		in.failed++
		logger.Component("ingest").Error("log object processing failed",
			"bucket", ref.Bucket, "key", ref.Key, "error", err)
	}
}

func runIngest(ctx context.Context) error {
	defer setupTracing()()

	config := loadConfig()
	if config.S3Config == nil {
		logger.Fatal("missing required env var", "var", "S3_ENDPOINT", "hint", "ingest needs object storage")
	}

	store, closeStore, err := openStore(ctx, config)
	if err != nil {
		logger.Fatal("failed to open store", "error", err)
	}
	defer closeStore()

	processor, objects, err := newProcessor(config, store)
	if err != nil {
		logger.Fatal("failed to configure log ingestion", "error", err)
	}
	in := &ingestor{processor: processor, timeout: config.InvocationTimeout}

	if ingestBackfill {
		return backfill(ctx, objects, in, config.ObjectSuffix)
	}
	return listen(ctx, objects, in, config.ObjectSuffix)
}

// backfill processes every stored object once.
func backfill(ctx context.Context, objects *storage.S3Storage, in *ingestor, suffix string) error {
	keys, err := objects.ListKeys(ctx, ingestPrefix, suffix)
	if err != nil {
		return err
	}
	logger.Info("backfill starting", "objects", len(keys), "prefix", ingestPrefix)

	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		in.handle(ctx, storage.ObjectRef{Bucket: objects.Bucket(), Key: key})
	}
	logger.Info("backfill finished",
		"objects", in.objects,
		"failed", in.failed,
		"lines", in.totals.Lines,
		"written", in.totals.Written,
		"lost", in.totals.Lost,
	)
	return ctx.Err()
}

// listen consumes bucket notifications until ctx is cancelled, reconnecting
// with exponential backoff when the stream drops.
func listen(ctx context.Context, objects *storage.S3Storage, in *ingestor, suffix string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		err := objects.ListenObjectCreated(ctx, ingestPrefix, suffix, in.handle)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		logger.Warn("notification stream ended, reconnecting", "error", err)
		return err
	}, backoff.WithContext(b, ctx))

	if errors.Is(err, context.Canceled) {
		logger.Info("ingest listener stopped", "objects", in.objects, "failed", in.failed)
		return nil
	}
	return err
}

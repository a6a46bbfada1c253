// Command fetcher runs the data-acquisition engine: `run <data_registry_id>`
// executes one recipe to completion, `health` probes the configured
// collaborators and reports readiness.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	awssdkconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/dataforge/fetcher/internal/config"
	"github.com/dataforge/fetcher/internal/credentials"
	"github.com/dataforge/fetcher/internal/kvstore"
	"github.com/dataforge/fetcher/internal/logging"
	"github.com/dataforge/fetcher/internal/model"
	"github.com/dataforge/fetcher/internal/notify"
	"github.com/dataforge/fetcher/internal/ocerrors"
	"github.com/dataforge/fetcher/internal/queue"
	"github.com/dataforge/fetcher/internal/recipe"
	"github.com/dataforge/fetcher/internal/scheduler"
	"github.com/dataforge/fetcher/internal/storage"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	app := kingpin.New("fetcher", "Configurable data-acquisition engine")
	app.HelpFlag.Short('h')
	app.Terminate(nil) // we own the exit code

	credProvider := app.Flag("credentials-provider", "Credential provider backend").Default("aws").Enum("aws", "environment")
	storageBackend := app.Flag("storage", "Object storage backend").Default("file").Enum("s3", "file")
	kvBackend := app.Flag("kvstore", "Key-value store backend").Default("memory").Enum("memory", "redis")
	devMode := app.Flag("dev-mode", "Enable development mode (verbose logging, relaxed defaults)").Bool()
	logLevel := app.Flag("log-level", "Minimum log level").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag("log-format", "Log line format").Default("text").Enum("text", "json")

	runCmd := app.Command("run", "Execute one recipe to completion")
	registryID := runCmd.Arg("data_registry_id", "Recipe registry id to run").Required().String()
	concurrency := runCmd.Flag("concurrency", "Worker goroutine count").Default("4").Int()
	targetQueueSize := runCmd.Flag("queue-size", "Target in-flight queue depth").Default("8").Int()

	healthCmd := app.Command("health", "Probe configured collaborators and report readiness")

	parsed, err := app.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		app.Usage(args)
		return 2
	}

	logger := buildLogger(*logLevel, *logFormat)

	cfg, err := appconfig.New(
		appconfig.WithCredentialProvider(*credProvider),
		appconfig.WithStorage(*storageBackend),
		appconfig.WithKVStore(*kvBackend),
		appconfig.WithDevMode(*devMode),
	)
	if err != nil {
		logger.Error("configuration error", logging.Fields{"error": err.Error()})
		return 1
	}

	ctx := context.Background()

	switch parsed {
	case runCmd.FullCommand():
		return doRun(ctx, cfg, *registryID, *concurrency, *targetQueueSize, logger)
	case healthCmd.FullCommand():
		return doHealth(ctx, cfg, logger)
	default:
		app.Usage(args)
		return 2
	}
}

func buildLogger(level, format string) logging.Logger {
	lvl := logging.LevelInfo
	switch level {
	case "debug":
		lvl = logging.LevelDebug
	case "warn":
		lvl = logging.LevelWarn
	case "error":
		lvl = logging.LevelError
	}
	fmtKind := logging.FormatText
	if format == "json" {
		fmtKind = logging.FormatJSON
	}
	return logging.NewStructuredLogger(os.Stderr, lvl, fmtKind)
}

// collaborators bundles everything built from cfg that both `run` and
// `health` need.
type collaborators struct {
	kvStore kvstore.Store
	storage storage.BundleStorage
	region  string
}

func buildCollaborators(ctx context.Context, cfg *appconfig.Config, logger logging.Logger) (*collaborators, error) {
	kvStore, err := buildKVStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	region := cfg.ResolveRegion()
	bundleStorage, err := buildStorage(ctx, cfg, region, logger)
	if err != nil {
		return nil, err
	}

	return &collaborators{kvStore: kvStore, storage: bundleStorage, region: region}, nil
}

func buildKVStore(cfg *appconfig.Config, logger logging.Logger) (kvstore.Store, error) {
	switch cfg.KVStore {
	case "redis":
		url := fmt.Sprintf("redis://:%s@%s:%d/%d", cfg.RedisPass, cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)
		return kvstore.NewRedisStore(kvstore.RedisStoreOptions{URL: url, DB: cfg.RedisDB, Namespace: cfg.KeyPrefix, Logger: logger})
	default:
		return kvstore.NewMemoryStore(logger), nil
	}
}

func buildStorage(ctx context.Context, cfg *appconfig.Config, region string, logger logging.Logger) (storage.BundleStorage, error) {
	switch cfg.Storage {
	case "s3":
		awsCfg, err := awssdkconfig.LoadDefaultConfig(ctx, awssdkconfig.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.S3EndpointURL != "" {
				o.BaseEndpoint = &cfg.S3EndpointURL
			}
		})
		return storage.NewS3Sink(client, cfg.S3Bucket, cfg.S3Prefix, 0, logger), nil
	default:
		return storage.NewFileSink(cfg.FileStorageDir, "", logger), nil
	}
}

func buildNotifier(ctx context.Context, cfg *appconfig.Config, store kvstore.Store, region string, logger logging.Logger) (notify.Publisher, error) {
	if cfg.SQSQueueURL == "" {
		return nil, nil
	}
	awsCfg, err := awssdkconfig.LoadDefaultConfig(ctx, awssdkconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := sqs.NewFromConfig(awsCfg)
	return notify.NewSQSPublisher(cfg.SQSQueueURL, store, notify.NewSQSSender(client), logger), nil
}

func doRun(ctx context.Context, cfg *appconfig.Config, registryID string, concurrency, targetQueueSize int, logger logging.Logger) int {
	collab, err := buildCollaborators(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build collaborators", logging.Fields{"error": err.Error()})
		return 1
	}
	defer collab.kvStore.Close()

	notifier, err := buildNotifier(ctx, cfg, collab.kvStore, collab.region, logger)
	if err != nil {
		logger.Error("failed to build notifier", logging.Fields{"error": err.Error()})
		return 1
	}

	var credProvider model.CredentialProvider
	if cfg.CredentialProvider == "aws" {
		credProvider = credentials.NewAWSProvider()
	} else {
		credProvider = credentials.NewEnvironmentProvider()
	}

	registry := recipe.NewRegistry()
	// Concrete recipes are an operator concern (see internal/recipe/examples.go
	// for the pattern); none are hardwired here.

	built, err := registry.Build(registryID)
	if err != nil {
		logger.Error("failed to build recipe", logging.Fields{"recipe": registryID, "error": err.Error()})
		return 1
	}

	runID := fmt.Sprintf("%s-%d", registryID, time.Now().UTC().UnixNano())
	runCtx := model.NewFetchRunContext(runID, model.AppConfig{
		CredentialProvider: credProvider,
		KVStore:            collab.kvStore,
		Storage:            collab.storage,
	})

	q := queue.New(collab.kvStore, runID, logger)
	sched := scheduler.New(q, logger)

	result, err := sched.Run(ctx, scheduler.Plan{
		Recipe:          built,
		RunCtx:          runCtx,
		Concurrency:     concurrency,
		TargetQueueSize: targetQueueSize,
		Notifier:        notifier,
	})
	if err != nil {
		logger.Error("run failed", logging.Fields{"recipe": registryID, "error": err.Error()})
		return 1
	}

	logger.Info("run complete", logging.Fields{"recipe": registryID, "processed": result.ProcessedCount, "errors": len(result.Errors)})
	if len(result.Errors) > 0 {
		for _, e := range result.Errors {
			logger.Warn("processing error", logging.Fields{"detail": e})
		}
	}
	return 0
}

type healthStatus struct {
	OK      bool              `json:"ok"`
	Checks  map[string]string `json:"checks"`
	Elapsed string            `json:"elapsed"`
}

func doHealth(ctx context.Context, cfg *appconfig.Config, logger logging.Logger) int {
	start := time.Now()
	status := healthStatus{OK: true, Checks: make(map[string]string)}

	collab, err := buildCollaborators(ctx, cfg, logger)
	if err != nil {
		status.OK = false
		status.Checks["collaborators"] = err.Error()
		status.Elapsed = time.Since(start).String()
		printHealth(status)
		return 1
	}
	defer collab.kvStore.Close()

	if _, err := collab.kvStore.Exists(ctx, "fetcher:health:probe"); err != nil {
		status.OK = false
		status.Checks["kvstore"] = err.Error()
	} else {
		status.Checks["kvstore"] = "ok"
	}

	if err := probeStorage(ctx, cfg, collab, logger); err != nil {
		status.OK = false
		status.Checks["storage"] = err.Error()
	} else {
		status.Checks["storage"] = "ok"
	}

	status.Elapsed = time.Since(start).String()
	printHealth(status)
	if !status.OK {
		return 1
	}
	return 0
}

func probeStorage(ctx context.Context, cfg *appconfig.Config, collab *collaborators, logger logging.Logger) error {
	if cfg.Storage != "s3" {
		if _, err := os.Stat(cfg.FileStorageDir); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	awsCfg, err := awssdkconfig.LoadDefaultConfig(ctx, awssdkconfig.WithRegion(collab.region))
	if err != nil {
		return err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3EndpointURL != "" {
			o.BaseEndpoint = &cfg.S3EndpointURL
		}
	})
	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &cfg.S3Bucket})
	if err != nil {
		return fmt.Errorf("s3 bucket %q unreachable: %w", cfg.S3Bucket, ocerrors.ErrStorageFailed)
	}
	return nil
}

func printHealth(status healthStatus) {
	data, _ := json.Marshal(status)
	fmt.Println(string(data))
}

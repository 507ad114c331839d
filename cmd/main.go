package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsbedrock "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hackthon-glue/backend/handler"
	"github.com/hackthon-glue/backend/internal/cache"
	"github.com/hackthon-glue/backend/internal/config"
	"github.com/hackthon-glue/backend/internal/integrations/bedrock"
	"github.com/hackthon-glue/backend/internal/integrations/objectstore"
	"github.com/hackthon-glue/backend/internal/integrations/paramstore"
	"github.com/hackthon-glue/backend/internal/logging"
	"github.com/hackthon-glue/backend/internal/repository"
	"github.com/hackthon-glue/backend/internal/usecase"
)

const evictionInterval = time.Minute

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	// ---- AWS SDK config ----
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		fatal("failed to load AWS config", err)
	}
	if cfg.AWSRegion == "" {
		cfg.AWSRegion = awsCfg.Region
	}

	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		fatal("failed to create SSM client", err)
	}
	if err := cfg.ResolveAgentSettings(ctx, params); err != nil {
		fatal("failed to resolve agent settings", err)
	}

	// ---- Metrics and cache ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	backend, stopCache, err := newCache(cfg)
	if err != nil {
		fatal("failed to create cache", err)
	}
	defer stopCache()
	shared := cache.Instrument(backend, cache.NewMetrics(reg), cfg.CacheBackend)

	loader, err := cache.NewLoader(shared, cache.WithLoadTimeout(cfg.UpstreamTimeout))
	if err != nil {
		fatal("failed to create cache loader", err)
	}

	// ---- Clients ----
	store, err := objectstore.New(awss3.NewFromConfig(awsCfg), cfg.ResultsBucket)
	if err != nil {
		fatal("failed to create object store client", err)
	}
	agent, err := bedrock.New(awsbedrock.NewFromConfig(awsCfg), bedrock.Config{
		AgentID:         cfg.AgentID,
		AgentAliasID:    cfg.AgentAliasID,
		KnowledgeBaseID: cfg.KnowledgeBaseID,
		ModelARN:        cfg.ModelARN(),
	})
	if err != nil {
		fatal("failed to create bedrock client", err)
	}
	transcripts, err := newTranscriptStore(cfg, awsdynamodb.NewFromConfig(awsCfg), shared)
	if err != nil {
		fatal("failed to create transcript store", err)
	}

	// ---- Handler ----
	panel, err := usecase.NewPanelService(store, loader)
	if err != nil {
		fatal("failed to create panel service", err)
	}
	chat, err := usecase.NewChatService(agent, transcripts, cfg.MaxMessageLen)
	if err != nil {
		fatal("failed to create chat service", err)
	}

	h, err := handler.NewHandler(panel, chat,
		handler.WithTimeout(cfg.UpstreamTimeout),
		handler.WithLogger(logger),
		handler.WithRegistry(reg),
	)
	if err != nil {
		fatal("failed to create handler", err)
	}

	logger.Info("starting insights handler",
		"bucket", cfg.ResultsBucket,
		"cache_backend", cfg.CacheBackend,
		"session_table", cfg.SessionTable,
		"knowledge_base", agent.KnowledgeBaseConfigured(),
	)
	lambda.Start(h.Handle)
}

// newCache returns the configured backend and a function releasing it.
func newCache(cfg *config.Config) (cache.Cache, func(), error) {
	if cfg.CacheBackend == config.CacheRedis {
		rdb, err := cache.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		c, err := cache.NewRedis(rdb, "insights")
		if err != nil {
			return nil, nil, err
		}
		return c, func() { _ = rdb.Close() }, nil
	}

	mem := cache.NewMemory(clockwork.NewRealClock())
	return mem, mem.StartEvictionTimer(evictionInterval), nil
}

func newTranscriptStore(cfg *config.Config, api *awsdynamodb.Client, shared cache.Cache) (usecase.TranscriptStore, error) {
	if cfg.SessionTable != "" {
		return repository.New(api, cfg.SessionTable, repository.WithTTL(cache.TranscriptTTL))
	}
	return cache.NewTranscripts(shared, cache.TranscriptTTL)
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}

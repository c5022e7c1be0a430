// Package wire 提供依赖注入配置
package wire

import (
	"context"
	"fmt"
	"os"

	"rag-retrieval-api/internal/application/retrieval"
	"rag-retrieval-api/internal/config"
	"rag-retrieval-api/internal/infrastructure/embedding"
	"rag-retrieval-api/internal/infrastructure/extraction"
	"rag-retrieval-api/internal/infrastructure/messaging"
	"rag-retrieval-api/internal/infrastructure/persistence/milvus"
	"rag-retrieval-api/internal/infrastructure/persistence/postgres"
	"rag-retrieval-api/internal/infrastructure/persistence/redis"
	"rag-retrieval-api/internal/infrastructure/tokenizer"
	"rag-retrieval-api/internal/infrastructure/vectorstore"
	"rag-retrieval-api/internal/interfaces/http/handler"
	"rag-retrieval-api/internal/interfaces/http/middleware"
	"rag-retrieval-api/internal/interfaces/http/router"
	"rag-retrieval-api/internal/interfaces/worker"
	"rag-retrieval-api/pkg/logger"
)

const (
	BackendSnapshot = "snapshot"
	BackendMilvus   = "milvus"
)

// App API 进程依赖
type App struct {
	Router *router.Router
	// Consumer 仅在 snapshot 后端时用于进程内消费任务
	Consumer *messaging.Consumer
	Jobs     *worker.FileJobHandler
}

// Worker 异步任务进程依赖
type Worker struct {
	Consumer *messaging.Consumer
	Jobs     *worker.FileJobHandler
}

// Bootstrap 初始化进程依赖
type Bootstrap struct {
	PgClient *postgres.Client
	Milvus   []*milvus.Store
}

// ProvidePostgresClient 提供 PostgreSQL 客户端
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClient 提供 Redis 客户端
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideMessagingProducer 提供消息生产者
func ProvideMessagingProducer(redisClient *redis.Client, cfg *config.Config) *messaging.Producer {
	maxLen := cfg.Messaging.RedisStream.MaxLen
	if maxLen <= 0 {
		maxLen = 100000
	}
	return messaging.NewProducer(redisClient.Redis(), int64(maxLen))
}

// ProvideJobPublisher 将生产者暴露为任务投递端口
func ProvideJobPublisher(p *messaging.Producer) retrieval.JobPublisher {
	if p == nil {
		return nil
	}
	return p
}

// ProvideConsumer 提供文件任务消费者
func ProvideConsumer(redisClient *redis.Client, cfg *config.Config) *messaging.Consumer {
	rs := cfg.Messaging.RedisStream
	return messaging.NewConsumer(redisClient.Redis(), messaging.ConsumerConfig{
		Stream:        messaging.StreamFileJobs,
		Group:         messaging.ConsumerGroupIngestWorker,
		ConsumerName:  hostnameConsumerName(),
		BlockTimeout:  rs.BlockTimeout,
		ClaimInterval: rs.ClaimInterval,
		RetryLimit:    rs.RetryLimit,
		Backoff: messaging.BackoffConfig{
			Initial:    rs.RetryBackoff.Initial,
			Max:        rs.RetryBackoff.Max,
			Multiplier: rs.RetryBackoff.Multiplier,
		},
	})
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// ProvideMilvusClient 仅在 milvus 后端时连接
func ProvideMilvusClient(ctx context.Context, cfg *config.Config) (*milvus.Client, func(), error) {
	if cfg.Vector.Backend != BackendMilvus {
		return nil, func() {}, nil
	}
	client, err := milvus.NewClient(ctx, &cfg.Vector.Milvus)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideGenerator 注册可用的 Embedding 提供方；不可用的提供方记录告警后跳过
func ProvideGenerator(ctx context.Context, cfg *config.Config) *retrieval.Generator {
	var embedders []retrieval.Embedder

	openai, err := embedding.NewOpenAIClient(&cfg.Embedding.OpenAI)
	if err != nil {
		logger.Warn(ctx, "openai embeddings not available", "error", err.Error())
	} else {
		embedders = append(embedders, openai)
	}

	if cfg.Embedding.Local.Endpoint == "" {
		logger.Warn(ctx, "local embeddings not configured")
	} else if local, err := embedding.NewLocalClient(&cfg.Embedding.Local); err != nil {
		logger.Warn(ctx, "local embeddings not available", "error", err.Error())
	} else {
		embedders = append(embedders, local)
	}

	return retrieval.NewGenerator(embedders...)
}

// ProvideVectorStores 为每个已注册的提供方打开一个向量库
func ProvideVectorStores(ctx context.Context, cfg *config.Config, gen *retrieval.Generator, milvusClient *milvus.Client) (retrieval.VectorStores, error) {
	stores := retrieval.VectorStores{}
	for _, p := range []retrieval.Provider{retrieval.ProviderOpenAI, retrieval.ProviderLocal} {
		emb, err := gen.For(p)
		if err != nil {
			continue
		}

		switch cfg.Vector.Backend {
		case BackendMilvus:
			stores[p] = milvus.NewStore(milvusClient, p, emb.Dimension())
		case "", BackendSnapshot:
			storage, err := vectorstore.OpenStorage(ctx, cfg.Vector.Snapshot.Location, string(p), &cfg.Storage.S3)
			if err != nil {
				return nil, fmt.Errorf("open %s snapshot storage: %w", p, err)
			}
			store, err := vectorstore.Open(ctx, string(p), storage)
			if err != nil {
				return nil, fmt.Errorf("load %s snapshot: %w", p, err)
			}
			stores[p] = store
		default:
			return nil, fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
		}
	}
	return stores, nil
}

// ProvideMilvusStores 返回需要建表的 Milvus 集合
func ProvideMilvusStores(cfg *config.Config, gen *retrieval.Generator, milvusClient *milvus.Client) []*milvus.Store {
	if milvusClient == nil {
		return nil
	}
	var out []*milvus.Store
	for _, p := range []retrieval.Provider{retrieval.ProviderOpenAI, retrieval.ProviderLocal} {
		if emb, err := gen.For(p); err == nil {
			out = append(out, milvus.NewStore(milvusClient, p, emb.Dimension()))
		}
	}
	return out
}

// ProvideTokenizer 提供切分使用的 Tokenizer
func ProvideTokenizer(cfg *config.Config) (retrieval.Tokenizer, error) {
	return tokenizer.New(cfg.Chunking.Tokenizer)
}

// ProvideChunker 提供切分器
func ProvideChunker(cfg *config.Config, tok retrieval.Tokenizer) (*retrieval.Chunker, error) {
	return retrieval.NewChunker(tok, cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
}

// ProvideExtractor 提供按格式抽取页的解析器
func ProvideExtractor() retrieval.Extractor {
	return extraction.New()
}

// ProvideEngineOptions 由配置生成检索参数
func ProvideEngineOptions(cfg *config.Config) (retrieval.EngineOptions, error) {
	mode, err := retrieval.ParseMode(cfg.Retrieval.DefaultMode, cfg.Retrieval.MMRLambda)
	if err != nil {
		return retrieval.EngineOptions{}, fmt.Errorf("retrieval.default_mode: %w", err)
	}
	return retrieval.EngineOptions{
		Backend:            cfg.Retrieval.Backend,
		CutoffRatio:        cfg.Retrieval.CutoffRatio,
		DefaultSourceCount: cfg.Retrieval.DefaultSourceCount,
		MaxSourceCount:     cfg.Retrieval.MaxSourceCount,
		DefaultMode:        mode,
		QueryCacheTTL:      cfg.Embedding.QueryCacheTTL,
	}, nil
}

// ProvideRetrievalHandler 提供检索处理器
func ProvideRetrievalHandler(cfg *config.Config, indexer *retrieval.Indexer, engine *retrieval.Engine, jobs retrieval.JobPublisher, opts retrieval.EngineOptions) *handler.RetrievalHandler {
	lambda := cfg.Retrieval.MMRLambda
	return handler.NewRetrievalHandler(indexer, engine, jobs, handler.RetrievalHandlerConfig{
		MaxUploadSize: cfg.Server.HTTP.MaxUploadSize,
		DefaultMode:   opts.DefaultMode,
		MMRLambda:     &lambda,
	})
}

// ProvideHealthHandler 提供健康检查处理器
func ProvideHealthHandler(cfg *config.Config, pg *postgres.Client, rdb *redis.Client, milvusClient *milvus.Client, stores retrieval.VectorStores) *handler.HealthHandler {
	deps := []handler.Dependency{
		{Name: "postgres", Checker: pg, Required: true},
		{Name: "redis", Checker: rdb, Required: true},
	}
	if milvusClient != nil {
		deps = append(deps, handler.Dependency{Name: "milvus", Checker: milvusClient, Required: true})
	} else {
		deps = append(deps, handler.Dependency{
			Name: "vector_store",
			Checker: handler.HealthCheckerFunc(func(context.Context) error {
				if len(stores) == 0 {
					return retrieval.ErrVectorDisabled
				}
				return nil
			}),
		})
	}
	return handler.NewHealthHandler(cfg.App.Version, deps...)
}

// ProvideAuthConfig 提供认证配置
func ProvideAuthConfig(cfg *config.Config) middleware.AuthConfig {
	return middleware.AuthConfig{
		Secret:    cfg.Security.JWT.Secret,
		Issuer:    cfg.Security.JWT.Issuer,
		SkipPaths: middleware.DefaultSkipPaths,
		Enabled:   cfg.Security.JWT.Enabled,
	}
}

// ProvideRouterDeps 提供路由中间件依赖
func ProvideRouterDeps(auth middleware.AuthConfig, limiter *redis.RateLimiter) router.RouterDeps {
	return router.RouterDeps{
		Auth:     auth,
		Limiter:  limiter,
		LimitKey: redis.BuildUserRateLimitKey,
	}
}

// ProvideApp 组装 API 进程；snapshot 后端下任务由 API 进程自行消费
func ProvideApp(cfg *config.Config, r *router.Router, consumer *messaging.Consumer, jobs *worker.FileJobHandler) *App {
	app := &App{Router: r}
	if cfg.Vector.Backend == "" || cfg.Vector.Backend == BackendSnapshot {
		app.Consumer = consumer
		app.Jobs = jobs
	}
	return app
}

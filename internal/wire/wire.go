//go:build wireinject
// +build wireinject

package wire

import (
	"context"

	"github.com/google/wire"

	"rag-retrieval-api/internal/application/retrieval"
	"rag-retrieval-api/internal/config"
	"rag-retrieval-api/internal/domain/repository"
	"rag-retrieval-api/internal/infrastructure/persistence/postgres"
	"rag-retrieval-api/internal/infrastructure/persistence/redis"
	"rag-retrieval-api/internal/interfaces/http/router"
	"rag-retrieval-api/internal/interfaces/worker"
)

// InitializeApp 初始化 API 进程（带路由器）
func InitializeApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	wire.Build(
		RepoSet,
		RedisSet,
		MessagingSet,
		VectorSet,
		RetrievalSet,
		WorkerSet,
		RouterSet,
		ProvideApp,
	)
	return nil, nil, nil
}

// InitializeWorker 初始化异步任务进程
func InitializeWorker(ctx context.Context, cfg *config.Config) (*Worker, func(), error) {
	wire.Build(
		RepoSet,
		RedisSet,
		VectorSet,
		RetrievalSet,
		WorkerSet,
		wire.Struct(new(Worker), "*"),
	)
	return nil, nil, nil
}

// InitializeBootstrap 初始化建表所需依赖
func InitializeBootstrap(ctx context.Context, cfg *config.Config) (*Bootstrap, func(), error) {
	wire.Build(
		ProvidePostgresClient,
		ProvideMilvusClient,
		ProvideGenerator,
		ProvideMilvusStores,
		wire.Struct(new(Bootstrap), "*"),
	)
	return nil, nil, nil
}

// PostgresSet PostgreSQL 提供者集合
var PostgresSet = wire.NewSet(
	ProvidePostgresClient,
	postgres.NewTxManager,
	postgres.NewFileRepository,
	postgres.NewFileItemRepository,
)

// RepoSet 整合了具体实现与接口绑定的集合
var RepoSet = wire.NewSet(
	PostgresSet,
	wire.Bind(new(repository.Transactor), new(*postgres.TxManager)),
	wire.Bind(new(repository.FileRepository), new(*postgres.FileRepository)),
	wire.Bind(new(repository.FileItemRepository), new(*postgres.FileItemRepository)),
)

// RedisSet Redis 提供者集合
var RedisSet = wire.NewSet(
	ProvideRedisClient,
	redis.NewQueryCache,
	redis.NewFileLocker,
	wire.Bind(new(retrieval.QueryCache), new(*redis.QueryCache)),
	wire.Bind(new(retrieval.FileLocker), new(*redis.FileLocker)),
)

// MessagingSet 消息队列提供者集合
var MessagingSet = wire.NewSet(
	ProvideMessagingProducer,
	ProvideJobPublisher,
)

// VectorSet 向量库提供者集合
var VectorSet = wire.NewSet(
	ProvideMilvusClient,
	ProvideGenerator,
	ProvideVectorStores,
)

// RetrievalSet 写路径与读路径
var RetrievalSet = wire.NewSet(
	ProvideTokenizer,
	ProvideChunker,
	ProvideExtractor,
	ProvideEngineOptions,
	retrieval.NewIndexer,
	retrieval.NewEngine,
)

// WorkerSet 文件任务消费
var WorkerSet = wire.NewSet(
	ProvideConsumer,
	worker.NewFileJobHandler,
	wire.Bind(new(worker.FileIndexer), new(*retrieval.Indexer)),
)

// RouterSet 路由器提供者集合
var RouterSet = wire.NewSet(
	redis.NewRateLimiter,
	ProvideAuthConfig,
	ProvideRouterDeps,
	ProvideHealthHandler,
	ProvideRetrievalHandler,
	wire.Struct(new(router.RouterHandlers), "*"),
	router.NewWithDeps,
)

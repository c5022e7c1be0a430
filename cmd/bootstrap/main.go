package main

import (
	"context"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"rag-retrieval-api/internal/config"
	"rag-retrieval-api/internal/domain/entity"
	"rag-retrieval-api/internal/wire"
	"rag-retrieval-api/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	fmt.Println("Starting system bootstrap...")

	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	ctx := context.Background()

	// 2. 初始化数据层
	deps, cleanup, err := wire.InitializeBootstrap(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize data layer: %v", err)
	}
	defer cleanup()

	// 3. pgvector 扩展与表结构
	if err := deps.PgClient.EnsureVectorExtension(ctx); err != nil {
		log.Fatalf("failed to create vector extension: %v", err)
	}
	if err := deps.PgClient.AutoMigrate(ctx, &entity.File{}, &entity.FileItem{}); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}
	fmt.Println("Postgres schema is up to date")

	// 4. Milvus 集合
	for _, store := range deps.Milvus {
		if err := store.EnsureCollection(ctx); err != nil {
			log.Fatalf("failed to ensure milvus collection: %v", err)
		}
	}
	if len(deps.Milvus) > 0 {
		fmt.Printf("Milvus collections ready: %d\n", len(deps.Milvus))
	}

	fmt.Println("System bootstrap completed successfully!")
}

// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"

	"rag-retrieval-api/internal/interfaces/http/handler"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(v1 *gin.RouterGroup, retrievalHandler *handler.RetrievalHandler) {
	// 文档入库与检索
	retrieval := v1.Group("/retrieval")
	{
		retrieval.POST("/process", retrievalHandler.Process)
		retrieval.POST("/retrieve", retrievalHandler.Retrieve)
		retrieval.POST("/debug", retrievalHandler.Debug)

		// 文件生命周期
		retrieval.DELETE("/files/:fid", retrievalHandler.DeleteFile)
		retrieval.POST("/files/:fid/reindex", retrievalHandler.Reindex)
	}
}

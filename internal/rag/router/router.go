// Package router registers the medrag HTTP routes.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/medrag/internal/rag/handler"
)

// Register registers the medrag routes on engine.
func Register(engine gin.IRouter, h *handler.RAGHandler) {
	logger.Info("Registering RAG routes...")

	engine.GET("/", h.Root)
	engine.GET("/health", h.Health)
	engine.GET("/metrics", h.Metrics)
	engine.GET("/stats", h.Stats)

	engine.POST("/query", h.Query)

	docs := engine.Group("/documents")
	{
		docs.POST("", h.AddDocument)
		docs.POST("/async", h.AddDocumentAsync)
		docs.PUT("/:id", h.UpdateDocument)
	}

	engine.GET("/tasks/:id", h.GetTask)
	engine.POST("/webhook", h.Webhook)

	logger.Info("HTTP routes registered")
}

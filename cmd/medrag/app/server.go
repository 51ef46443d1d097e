// Package app provides the medrag server application.
package app

import (
	"context"
	"fmt"

	"github.com/kart-io/medrag/cmd/medrag/app/options"
	ragsvc "github.com/kart-io/medrag/internal/rag"
	"github.com/kart-io/medrag/pkg/infra/app"
)

// commandDesc is the description of the command.
const commandDesc = `medrag answers questions about patient medical notes.

The server provides:
  - Document ingestion with chunking and vector embeddings
  - Retrieval-augmented question answering over the indexed notes
  - Asynchronous ingestion tasks and a database change webhook
  - Vector stores backed by Milvus, PostgreSQL/pgvector or memory

Every flag can also be set in configs/medrag.yaml or through an environment
variable such as MEDRAG_HTTP_ADDR.`

// NewApp creates and returns a new App object with default parameters.
func NewApp() *app.App {
	opts := options.NewServerOptions()
	return app.NewApp(
		app.WithName(ragsvc.Name),
		app.WithShortDescription("Medical notes RAG service"),
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithRunFunc(run(opts)),
	)
}

// run contains the main logic for initializing and running the server.
func run(opts *options.ServerOptions) app.RunFunc {
	return func() error {
		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		// Signals are handled by the server manager.
		ctx := context.Background()

		server, err := cfg.NewServer(ctx)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}
		return server.Run(ctx)
	}
}

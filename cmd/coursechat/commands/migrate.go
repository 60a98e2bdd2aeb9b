package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/coursechat-go/internal/logging"
)

// NewMigrateCmd constructs `coursechat migrate`, which creates the
// relational schema and the configured vector store's collection or table.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create database tables and the vector collection",
		Long: `Open the relational store and the configured vector store, creating any
missing tables, indexes, the pgvector extension or the Qdrant collection.
Every command does this on startup; migrate does only that and exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New()

			a, err := openApp(ctx, log, appOptions{})
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer func() { _ = a.Close() }()

			for _, p := range a.pingers {
				if err := p.Ping(ctx); err != nil {
					return fmt.Errorf("migrate: %s: %w", p.Name(), err)
				}
			}
			log.Info("migration complete",
				slog.String("db", a.rt.DBPath),
				slog.String("vector_store", a.rt.VectorBackend),
			)
			return nil
		},
	}
}

package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/54b3r/coursechat-go/internal/apperr"
	"github.com/54b3r/coursechat-go/internal/ingestion"
	"github.com/54b3r/coursechat-go/internal/logging"
)

// NewIngestCmd constructs the `coursechat ingest` command, which uploads and
// processes course materials synchronously, without a running server.
func NewIngestCmd() *cobra.Command {
	var actor, course, kind string
	var materialIDs []string
	var pending bool

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Upload and process course materials synchronously",
		Long: `Upload files to a course and run the ingestion pipeline on them in the
foreground, printing one report per material.

Files are uploaded as --as, who must own --course. --material reprocesses
existing materials (stale chunks are dropped first). --pending processes every
material a previous run left unfinished.

Examples:
  coursechat ingest --as prof-1 --course cs101 syllabus.pdf week1.md
  coursechat ingest --as prof-1 --course cs101 --type slides lecture3.pdf
  coursechat ingest --as prof-1 --material 4b0c...
  coursechat ingest --pending`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if len(args) == 0 && len(materialIDs) == 0 && !pending {
				return fmt.Errorf("ingest: give files, --material or --pending")
			}
			if (len(args) > 0 || len(materialIDs) > 0) && actor == "" {
				return fmt.Errorf("ingest: --as is required")
			}
			if len(args) > 0 && course == "" {
				return fmt.Errorf("ingest: --course is required when uploading files")
			}

			a, err := openApp(ctx, log, appOptions{})
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = a.Close() }()

			out := cmd.OutOrStdout()
			var failed int
			report := func(id string, r *ingestion.Report, err error) {
				printReport(out, id, r, err)
				if err != nil {
					failed++
				}
			}

			for _, path := range args {
				id, r, err := uploadAndIngest(cmd, a, actor, course, kind, path)
				report(id, r, err)
			}
			for _, id := range materialIDs {
				r, err := a.pipeline.Reingest(ctx, actor, id)
				report(id, r, err)
			}
			if pending {
				ms, err := a.store.PendingMaterials(ctx)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				log.Info("processing pending materials", slog.Int("count", len(ms)))
				for _, m := range ms {
					r, err := a.pipeline.IngestMaterial(ctx, m.ID)
					report(m.ID, r, err)
				}
			}

			if failed > 0 {
				return fmt.Errorf("ingest: %d material(s) did not fully ingest", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "as", "", "User id performing the upload (must own the course)")
	cmd.Flags().StringVarP(&course, "course", "c", "", "Course id the files belong to")
	cmd.Flags().StringVarP(&kind, "type", "t", "", "Material type (syllabus, notes, slides, transcript, handout, assignment, other); inferred from the file name when empty")
	cmd.Flags().StringArrayVarP(&materialIDs, "material", "m", nil, "Existing material id to reprocess (repeatable)")
	cmd.Flags().BoolVar(&pending, "pending", false, "Process every unfinished material")

	return cmd
}

// uploadAndIngest stores path as a new material and processes it.
func uploadAndIngest(cmd *cobra.Command, a *app, actor, course, kind, path string) (string, *ingestion.Report, error) {
	ctx := cmd.Context()
	f, err := os.Open(path)
	if err != nil {
		return path, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	m, err := a.pipeline.Upload(ctx, actor, course, filepath.Base(path), kind, f)
	if err != nil {
		return path, nil, err
	}
	r, err := a.pipeline.IngestMaterial(ctx, m.ID)
	return m.ID, r, err
}

// printReport writes one line per material outcome.
func printReport(w io.Writer, id string, r *ingestion.Report, err error) {
	switch {
	case err == nil:
		fmt.Fprintf(w, "%s: processed, %d chunk(s) stored\n", id, r.Stored)
	case errors.Is(err, apperr.ErrPartialIngestion) && r != nil:
		fmt.Fprintf(w, "%s: partial, %s\n", id, r.Summary())
		for _, f := range r.Failed {
			fmt.Fprintf(w, "  %s: %s\n", f.ChunkID, f.Reason())
		}
	default:
		fmt.Fprintf(w, "%s: failed: %v\n", id, err)
	}
}

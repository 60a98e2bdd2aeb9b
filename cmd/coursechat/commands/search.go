package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/coursechat-go/internal/logging"
)

// NewSearchCmd constructs the `coursechat search` command, which prints the
// chunks retrieval would hand to the model, without calling it.
func NewSearchCmd() *cobra.Command {
	var actor, course string
	var k int

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Show the course chunks most similar to a query",
		Long: `Run authorized similarity search over a course's chunks and print them in
rank order with their scores. Useful for checking what an answer would be
grounded on.

Examples:
  coursechat search --as prof-1 --course cs101 -k 10 "grading policy"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if actor == "" || course == "" {
				return fmt.Errorf("search: --as and --course are required")
			}

			a, err := openApp(ctx, log, appOptions{})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer func() { _ = a.Close() }()

			results, err := a.retriever.Search(ctx, actor, course, strings.Join(args, " "), k)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "no matching chunks")
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(out, "%d. %.3f  %s  %s (%s)\n   %s\n", i+1, r.Score, r.ChunkID, r.Title, r.Kind,
					strings.ReplaceAll(truncate(r.Content, 200), "\n", " "))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "as", "", "User id performing the search")
	cmd.Flags().StringVarP(&course, "course", "c", "", "Course id to search")
	cmd.Flags().IntVarP(&k, "k", "k", 0, "Number of results (default from RETRIEVAL_TOP_K)")

	return cmd
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

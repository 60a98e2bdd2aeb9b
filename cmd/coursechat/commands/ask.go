package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/coursechat-go/internal/logging"
)

// NewAskCmd constructs the `coursechat ask` command, which answers one
// question from a course's materials as the given student.
func NewAskCmd() *cobra.Command {
	var actor, course string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about a course's materials",
		Long: `Answer a question from the materials of --course, as user --as.

The same checks as the HTTP API apply: --as must own the course or be
enrolled in it. The exchange is recorded in the user's query history.

Examples:
  coursechat ask --as stu-7 --course cs101 "when is the midterm?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if actor == "" || course == "" {
				return fmt.Errorf("ask: --as and --course are required")
			}

			a, err := openApp(ctx, log, appOptions{chat: true})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = a.Close() }()

			ans, err := a.chat.Answer(ctx, actor, course, strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ans.Answer)
			if len(ans.Sources) > 0 {
				fmt.Fprintln(out, "\nSources:")
				for i, s := range ans.Sources {
					fmt.Fprintf(out, "  [%d] %s (%s): %s\n", i+1, s.Title, s.Kind, s.Excerpt)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "as", "", "User id asking the question")
	cmd.Flags().StringVarP(&course, "course", "c", "", "Course id to answer from")

	return cmd
}

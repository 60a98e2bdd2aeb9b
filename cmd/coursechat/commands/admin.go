package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/54b3r/coursechat-go/internal/config"
	"github.com/54b3r/coursechat-go/internal/logging"
	"github.com/54b3r/coursechat-go/internal/store"
)

// NewAdminCmd constructs `coursechat admin`, which manages the user, course
// and enrollment directory the authorization gate reads.
func NewAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage users, courses and enrollments",
	}
	cmd.AddCommand(newAdminUserCmd(), newAdminCourseCmd(), newAdminEnrollCmd())
	return cmd
}

// withStore opens only the relational store.
func withStore(fn func(*store.SQLiteStore) error) error {
	rt := config.FromEnv()
	if err := os.MkdirAll(filepath.Dir(rt.DBPath), 0o700); err != nil {
		return fmt.Errorf("store: could not create %s: %w", filepath.Dir(rt.DBPath), err)
	}
	st, err := store.Open(rt.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	return fn(st)
}

func newAdminUserCmd() *cobra.Command {
	var role, email string
	cmd := &cobra.Command{
		Use:   "user <id>",
		Short: "Create or update a user",
		Example: `  coursechat admin user prof-1 --role professor --email ada@example.edu
  coursechat admin user stu-7 --role student`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(st *store.SQLiteStore) error {
				u := &store.User{ID: args[0], Role: store.Role(role), Email: email}
				if err := st.PutUser(cmd.Context(), u); err != nil {
					return fmt.Errorf("admin user: %w", err)
				}
				logging.New().Info("user saved", slog.String("user_id", u.ID), slog.String("role", role))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", string(store.RoleStudent), "professor or student")
	cmd.Flags().StringVar(&email, "email", "", "Contact email")
	return cmd
}

func newAdminCourseCmd() *cobra.Command {
	var professor, title string
	cmd := &cobra.Command{
		Use:     "course <id>",
		Short:   "Create or update a course owned by a professor",
		Example: `  coursechat admin course cs101 --professor prof-1 --title "Intro to CS"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if professor == "" {
				return fmt.Errorf("admin course: --professor is required")
			}
			return withStore(func(st *store.SQLiteStore) error {
				c := &store.Course{ID: args[0], ProfessorID: professor, Title: title}
				if err := st.PutCourse(cmd.Context(), c); err != nil {
					return fmt.Errorf("admin course: %w", err)
				}
				logging.New().Info("course saved", slog.String("course_id", c.ID), slog.String("professor_id", professor))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&professor, "professor", "", "Owning professor's user id")
	cmd.Flags().StringVar(&title, "title", "", "Course title")
	return cmd
}

func newAdminEnrollCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "enroll <student-id> <course-id>",
		Short:   "Enroll a student in a course",
		Example: `  coursechat admin enroll stu-7 cs101`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(st *store.SQLiteStore) error {
				if err := st.Enroll(cmd.Context(), args[0], args[1]); err != nil {
					return fmt.Errorf("admin enroll: %w", err)
				}
				logging.New().Info("student enrolled", slog.String("student_id", args[0]), slog.String("course_id", args[1]))
				return nil
			})
		},
	}
}

// Package commands defines all Cobra CLI commands for the coursechat binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/coursechat-go/internal/audit"
	"github.com/54b3r/coursechat-go/internal/config"
	"github.com/54b3r/coursechat-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// envFile holds the --env-file flag value.
var envFile string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "coursechat",
		Short: "Course-material assistant: professors upload, students ask",
		Long: `coursechat answers student questions from the materials their professor
uploaded for a course, and refuses anyone who is not the owner or an
enrolled student.

Configuration comes from environment variables, a .env file and an optional
YAML file (~/.coursechat/config.yaml). Environment variables always win.
See 'coursechat --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// .env first so its values count as environment and beat YAML.
			dotenv, err := config.LoadDotEnv(envFile)
			if err != nil {
				return err
			}

			// Logger before YAML so Load can report; rebuilt after so YAML
			// logging settings apply.
			path, err := config.Load(configPath, logging.New())
			if err != nil {
				return err
			}
			log := logging.New()
			slog.SetDefault(log)
			if dotenv {
				log.Debug("config: loaded .env file")
			}

			audit.LogCommandStart(log, cmd.CommandPath(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.coursechat/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file (default: ./.env)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewAskCmd(),
		NewSearchCmd(),
		NewAdminCmd(),
		NewTokenCmd(),
		NewMigrateCmd(),
		NewVersionCmd(),
	)

	return root
}

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kovancilartr/learnapp-api/internal/models"
	"github.com/kovancilartr/learnapp-api/internal/repository"
	"github.com/kovancilartr/learnapp-api/migrations"
	"github.com/kovancilartr/learnapp-api/pkg/config"
	"github.com/kovancilartr/learnapp-api/pkg/database"
	"github.com/kovancilartr/learnapp-api/pkg/logger"
)

const defaultPurgeAge = 90 * 24 * time.Hour

// adminEnv is resolved once per invocation by the root command.
type adminEnv struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	env := &adminEnv{}
	root := &cobra.Command{
		Use:          "learnapp-admin",
		Short:        "Operational tasks for the LearnApp API",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logr, err := logger.New(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			env.cfg = cfg
			env.logger = logr
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if env.logger != nil {
				_ = env.logger.Sync()
			}
		},
	}
	root.AddCommand(newMigrateCmd(env), newRequestsCmd(env))
	return root
}

func (e *adminEnv) openDB() (*sqlx.DB, error) {
	db, err := database.NewPostgres(e.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

func newMigrateCmd(env *adminEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	run := func(action func(m *database.Migrator, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			db, err := env.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			migrator, err := database.NewMigrator(db, migrations.FS, ".")
			if err != nil {
				return err
			}
			return action(migrator, cmd)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: run(func(m *database.Migrator, cmd *cobra.Command) error {
				if err := m.Up(cmd.Context()); err != nil {
					return err
				}
				version, err := m.Version(cmd.Context())
				if err != nil {
					return err
				}
				env.logger.Info("migrations applied", zap.Int64("version", version))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: run(func(m *database.Migrator, cmd *cobra.Command) error {
				if err := m.Down(cmd.Context()); err != nil {
					return err
				}
				env.logger.Info("migration rolled back")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print applied and pending migrations",
			RunE: run(func(m *database.Migrator, cmd *cobra.Command) error {
				return m.Status(cmd.Context())
			}),
		},
	)
	return cmd
}

func newRequestsCmd(env *adminEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Maintain enrollment requests",
	}

	var (
		olderThan time.Duration
		statuses  []string
	)
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete reviewed requests older than a cutoff",
		Long: `Deletes enrollment requests in the selected reviewed statuses whose last
update is older than --older-than. Pending requests are never purged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parsePurgeStatuses(statuses)
			if err != nil {
				return err
			}
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			db, err := env.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			cutoff := time.Now().UTC().Add(-olderThan)
			removed, err := repository.NewEnrollmentRequestRepository(db).PurgeReviewedBefore(cmd.Context(), cutoff, parsed)
			if err != nil {
				return err
			}
			env.logger.Info("enrollment requests purged",
				zap.Int64("removed", removed),
				zap.Time("cutoff", cutoff),
				zap.Strings("statuses", statuses),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d enrollment requests reviewed before %s\n", removed, cutoff.Format(time.RFC3339))
			return nil
		},
	}
	purge.Flags().DurationVar(&olderThan, "older-than", defaultPurgeAge, "minimum age of the review decision")
	purge.Flags().StringSliceVar(&statuses, "status", []string{string(models.EnrollmentRequestRejected)}, "statuses to purge (APPROVED, REJECTED)")

	cmd.AddCommand(purge)
	return cmd
}

// parsePurgeStatuses accepts reviewed statuses only.
func parsePurgeStatuses(raw []string) ([]models.EnrollmentRequestStatus, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("at least one --status is required")
	}
	out := make([]models.EnrollmentRequestStatus, 0, len(raw))
	for _, value := range raw {
		status := models.EnrollmentRequestStatus(strings.ToUpper(strings.TrimSpace(value)))
		switch status {
		case models.EnrollmentRequestApproved, models.EnrollmentRequestRejected:
			out = append(out, status)
		default:
			return nil, fmt.Errorf("cannot purge requests in status %q", value)
		}
	}
	return out, nil
}

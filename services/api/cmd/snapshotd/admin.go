package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"snapshotd/pkg/db"
	"snapshotd/services/api"
	"snapshotd/services/api/internal/config"
	"snapshotd/services/dispatch"
	"snapshotd/services/snapshots"
)

func newMigrateCommand() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if dsn == "" {
				cfg, err := config.Load(ctx)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				dsn = cfg.DatabaseDSN
			}
			if dsn == "" {
				return errors.New("DATABASE_DSN or --dsn is required")
			}

			sqlDB, err := db.Open(ctx, dsn)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer sqlDB.Close()

			if err := db.Migrate(ctx, sqlDB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVar(&dsn, "dsn", "", "Postgres DSN (defaults to DATABASE_DSN)")
	return cmd
}

func newInspectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print stored records as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "share <id>",
		Short: "Show a share record without counting a view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(rt *runtime) (any, error) {
				if !snapshots.ValidShareID(args[0]) {
					return nil, snapshots.ErrNotFound
				}
				return rt.driver.GetShare(cmd.Context(), args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "job <id>",
		Short: "Show a share job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(rt *runtime) (any, error) {
				return rt.jobs.GetJob(cmd.Context(), args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "generation <visitor|user> <owner-id> <id>",
		Short: "Show a generation record",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := snapshots.Owner{Type: snapshots.OwnerType(args[0]), ID: args[1]}
			if !owner.Valid() {
				return fmt.Errorf("invalid owner %s/%s", args[0], args[1])
			}
			return withRuntime(cmd, func(rt *runtime) (any, error) {
				if !snapshots.ValidGenerationID(args[2]) {
					return nil, snapshots.ErrNotFound
				}
				return rt.driver.GetGeneration(cmd.Context(), owner, args[2])
			})
		},
	})
	return cmd
}

func withRuntime(cmd *cobra.Command, fn func(rt *runtime) (any, error)) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	cfg.AutoMigrate = false

	rt, err := openRuntime(ctx, cfg, newLogger(cfg, "inspect"))
	if err != nil {
		return err
	}
	defer rt.Close()

	v, err := fn(rt)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint session and worker tokens for testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var (
		email string
		ttl   time.Duration
	)
	session := &cobra.Command{
		Use:   "session <user-id>",
		Short: "Sign a session cookie value with SESSION_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			token, err := api.IssueSessionToken(cfg.SessionSecret, args[0], email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	session.Flags().StringVar(&email, "email", "", "Email claim")
	session.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")

	worker := &cobra.Command{
		Use:   "worker",
		Short: "Sign a worker identity token with WORKER_SIGNING_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.WorkerSigningKey == "" {
				return errors.New("WORKER_SIGNING_KEY is required")
			}
			key, err := dispatch.ParsePrivateKey(cfg.WorkerSigningKey)
			if err != nil {
				return err
			}
			signer, err := dispatch.NewSigner(key, cfg.WorkerIdentity, cfg.WorkerAudience())
			if err != nil {
				return err
			}
			token, err := signer.Token()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.AddCommand(session, worker)
	return cmd
}

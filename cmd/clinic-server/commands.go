package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/clinic/clinic/internal/backup"
	"github.com/clinic/clinic/internal/domain/account"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/migrations"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationSource prefers an on-disk directory when --dir is given.
func migrationSource(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := cmd.Context()
			_, logger, pool, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrationSource(dir)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.Info().Int("applied", count).Msg("migrations complete")
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := cmd.Context()
			_, _, pool, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationSource(dir)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
			for _, s := range statuses {
				status, at := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						at = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(w, "%03d\t%s\t%s\t%s\n", s.Version, s.Name, status, at)
			}
			return w.Flush()
		},
	}
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage staff accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			role, _ := cmd.Flags().GetString("role")
			if password == "" {
				password = os.Getenv("CLINIC_USER_PASSWORD")
			}

			ctx := cmd.Context()
			_, logger, pool, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := account.NewService(account.NewRepo(pool), nil, nil, logger)
			u, err := svc.CreateUser(ctx, username, password, role)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s user %s (%s)\n", u.Role, u.Username, u.ID)
			return nil
		},
	}
	createCmd.Flags().String("username", "", "Login name")
	createCmd.Flags().String("password", "", "Password (defaults to $CLINIC_USER_PASSWORD)")
	createCmd.Flags().String("role", auth.RoleStaff, "admin or staff")
	_ = createCmd.MarkFlagRequired("username")
	cmd.AddCommand(createCmd)

	return cmd
}

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list and restore database backups",
	}

	// withService opens the pool and builds the backup service for one command.
	withService := func(ctx context.Context, fn func(*backup.Service) error) error {
		cfg, logger, pool, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		svc, err := newBackupService(ctx, cfg, pool, db.NewTxManager(pool), logger)
		if err != nil {
			return err
		}
		return fn(svc)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Write a new backup archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(svc *backup.Service) error {
				info, err := svc.Create(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes, mirrored: %t)\n", info.Name, info.Size, info.Remote)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List backup archives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(svc *backup.Service) error {
				items, err := svc.List(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tCREATED\tSIZE\tLOCAL\tREMOTE")
				for _, in := range items {
					fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%t\n", in.Name, in.CreatedAt.Format("2006-01-02 15:04:05"), in.Size, in.Local, in.Remote)
				}
				return w.Flush()
			})
		},
	})

	restoreCmd := &cobra.Command{
		Use:   "restore NAME",
		Short: "Replace the database contents with a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return fmt.Errorf("restore deletes all current data; pass --yes to confirm")
			}
			return withService(cmd.Context(), func(svc *backup.Service) error {
				m, err := svc.Restore(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %s (schema %d, %v)\n", args[0], m.SchemaVersion, m.Counts.Data())
				return nil
			})
		},
	}
	restoreCmd.Flags().Bool("yes", false, "Confirm the restore")
	cmd.AddCommand(restoreCmd)

	return cmd
}

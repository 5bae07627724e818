package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	dbfiles "github.com/garnizeh/initiatives/db"
	"github.com/garnizeh/initiatives/internal/config"
	"github.com/garnizeh/initiatives/internal/db"
	"github.com/garnizeh/initiatives/internal/repository/sqlite"
)

var (
	backupOut   string
	restoreFrom string
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Apply migrations, then import seed_path when it is set",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDBInit(cmd.Context(), cmd.OutOrStdout(), cfg)
	},
}

var dbBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Copy the database file (default <database_path>.bak)",
	RunE: func(cmd *cobra.Command, args []string) error {
		dst := backupOut
		if dst == "" {
			dst = cfg.DatabasePath + ".bak"
		}
		if err := copyFile(cfg.DatabasePath, dst); err != nil {
			return fmt.Errorf("backup: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Database backup completed: %s\n", dst)
		return nil
	},
}

var dbRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the database file with a backup (default <database_path>.bak)",
	RunE: func(cmd *cobra.Command, args []string) error {
		src := restoreFrom
		if src == "" {
			src = cfg.DatabasePath + ".bak"
		}
		if err := copyFile(src, cfg.DatabasePath); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Database restored from %s\n", src)
		return nil
	},
}

func init() {
	dbBackupCmd.Flags().StringVar(&backupOut, "out", "", "backup file path")
	dbRestoreCmd.Flags().StringVar(&restoreFrom, "from", "", "backup file to restore")
	dbCmd.AddCommand(dbInitCmd, dbBackupCmd, dbRestoreCmd)
	rootCmd.AddCommand(dbCmd)
}

func runDBInit(ctx context.Context, out io.Writer, cfg *config.Config) error {
	conn, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn, dbfiles.Migrations); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintf(out, "Migrations applied to %s\n", cfg.DatabasePath)

	if cfg.SeedPath == "" {
		return nil
	}
	res, err := runSeed(ctx, sqlite.New(conn, logger), cfg.SeedPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d users (%d already present, %d participations)\n", res.Created, res.Skipped, res.Participations)
	return nil
}

// copyFile writes src to dst through a temp file so a failed copy never
// leaves a truncated dst behind.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

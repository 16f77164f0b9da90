package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/aipolicy/internal/adapter/outbound/sqlite"
	"github.com/Sentinel-Gate/aipolicy/internal/config"
)

var auditDBPath string

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the hash chain of a sqlite audit trail",
	Long: `Recompute the hash chain of a sqlite audit trail and report the first
broken link, if any.

The database defaults to audit.backend from the config.

Example:
  aipolicy audit verify
  aipolicy audit verify --db /var/lib/aipolicy/audit.db`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := auditDBPath
		if path == "" {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			path = cfg.SQLitePath()
		}
		if path == "" {
			return fmt.Errorf("no sqlite audit backend configured (use --db or audit.backend: %s<path>)", config.SQLitePrefix)
		}
		return verifyAuditDB(cmd.Context(), path, cmd.OutOrStdout())
	},
}

func verifyAuditDB(ctx context.Context, path string, out io.Writer) error {
	path = strings.TrimPrefix(path, config.SQLitePrefix)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("audit database: %w", err)
	}

	trail, err := sqlite.Open(ctx, path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}
	defer trail.Close()

	entries, err := trail.Entries(ctx)
	if err != nil {
		return fmt.Errorf("read entries: %w", err)
	}
	if err := trail.Verify(ctx); err != nil {
		return fmt.Errorf("audit trail is broken: %w", err)
	}
	fmt.Fprintf(out, "audit trail ok: %d entries\n", len(entries))
	return nil
}

func init() {
	auditVerifyCmd.Flags().StringVar(&auditDBPath, "db", "", "path to the sqlite audit database")
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}

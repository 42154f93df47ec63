package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"stamp-cli/internal/domain"
)

func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Inspect the local store",
		Long:  "Inspect the local store. Pending migrations are applied automatically on every run.",
	}
	cmd.AddCommand(dbStatusCmd())
	return cmd
}

// dbStatusCmd はマイグレーションの適用状況を表示する。
func dbStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := application
			migrations, err := a.migrations.GetMigrationStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			if jsonOutput() {
				return printJSON(migrations)
			}

			fmt.Printf("Driver: %s\nDatabase: %s\n\n", a.cfg.DatabaseDriver, displayURL(a.cfg.DatabaseDriver, a.cfg.DatabaseURL))

			// テーブル形式で出力
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
			fmt.Fprintln(w, "-------\t----\t------\t----------")

			for _, migration := range migrations {
				appliedAt := "-"
				if migration.AppliedAt != nil {
					appliedAt = migration.AppliedAt.Format("2006-01-02 15:04:05")
				}

				status := "pending"
				if migration.Status == domain.MigrationStatusApplied {
					status = "applied"
				}

				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", migration.Version, migration.Name, status, appliedAt)
			}

			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to flush output: %w", err)
			}
			return nil
		},
	}
}

// displayURL はMySQLのDSNから認証情報を隠す。
func displayURL(driver, url string) string {
	if driver != "mysql" {
		return url
	}
	if i := strings.LastIndex(url, "@"); i >= 0 {
		return "***" + url[i:]
	}
	return url
}

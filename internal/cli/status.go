package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/apiwatch/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted status of all monitored connections",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("status needs database.url; connections are not persisted in memory mode")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	conns, err := postgres.NewConnectionRepo(db).List(ctx)
	if err != nil {
		slog.Error("Failed to list connections", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "NAME\tKIND\tSTATUS\tLATENCY\tERRORS\tUPDATED")
	for _, c := range conns {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			c.Name, c.Kind, c.Status, c.LastLatency.Round(time.Millisecond),
			c.ErrorLog.Len(), c.UpdatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}

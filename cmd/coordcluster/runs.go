package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/coordcluster/internal/db"
)

func (a *app) runs(ctx context.Context, args []string) error {
	fs := a.newFlagSet("runs")
	dbPath := fs.String("db", "coordcluster.db", "SQLite database path")
	limit := fs.Int("limit", 20, "maximum runs to list")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	runs, err := database.ListRuns(ctx, *limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tCREATED\tSOURCE\tPOINTS\tK\tSIZES\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%v\t%dms\n",
			r.RunID, r.CreatedAt.Format(time.RFC3339), r.Source, r.NumPoints, r.OptimalK, r.ClusterSizes, r.DurationMS)
	}
	return tw.Flush()
}

func (a *app) migrate(args []string) error {
	fs := a.newFlagSet("migrate")
	dbPath := fs.String("db", "coordcluster.db", "SQLite database path")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: coordcluster migrate [-db path] up|down|status")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}

	database, err := db.OpenDB(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	switch action := fs.Arg(0); action {
	case "up":
		if err := database.MigrateUp(); err != nil {
			return err
		}
	case "down":
		if err := database.MigrateDown(); err != nil {
			return err
		}
	case "status":
	default:
		fmt.Fprintf(a.stderr, "Unknown migrate action: %s\n", action)
		fs.Usage()
		return errUsage
	}

	current, dirty, err := database.MigrateVersion()
	if err != nil {
		return err
	}
	latest, err := db.LatestMigrationVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "schema version %d (latest %d, dirty %t)\n", current, latest, dirty)
	return nil
}

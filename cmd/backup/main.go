// Command backup lists, takes and restores encrypted Stride database
// backups from the command line. Restores are written to a separate file;
// stop the service before swapping it in.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dukerupert/stride/internal/backup"
	"github.com/dukerupert/stride/internal/config"
	"github.com/dukerupert/stride/internal/database"
	"github.com/dukerupert/stride/internal/logging"
	"github.com/dukerupert/stride/internal/store"
)

func main() {
	list := flag.Bool("list", false, "list recent backups")
	run := flag.Bool("run", false, "take a backup now")
	restoreID := flag.Int64("restore", 0, "restore the backup with this id")
	out := flag.String("out", "stride-restored.db", "destination file for -restore")
	limit := flag.Int("limit", 20, "number of backups shown by -list")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	mgr := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		},
		Passphrase:    cfg.BackupPassphrase,
		RetentionDays: cfg.BackupRetentionDays,
	}, db, store.NewBackupStore(db), logger.With("component", "backup"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	switch {
	case *list:
		err = printBackups(mgr, *limit)
	case *run:
		var id int64
		if id, err = mgr.RunNow(ctx); err == nil {
			fmt.Printf("backup %d uploaded\n", id)
		}
	case *restoreID > 0:
		if err = mgr.Restore(ctx, *restoreID, *out); err == nil {
			fmt.Printf("backup %d restored to %s\n", *restoreID, *out)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		db.Close()
		slog.Error("backup command failed", "error", err)
		os.Exit(1)
	}
}

func printBackups(mgr *backup.Manager, limit int) error {
	backups, err := mgr.List(limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSIZE\tCREATED\tFILE")
	for _, b := range backups {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", b.ID, b.Status, b.SizeBytes, b.CreatedAt.Format(time.RFC3339), b.Filename)
	}
	return tw.Flush()
}

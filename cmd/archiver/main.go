// cmd/archiver is the thin CLI shell over the Logged-Point Archiver
// (§4.5, §6.7): argument parsing and dispatch only, all behavior lives
// in internal/archiver.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dpaw/resource-tracking/internal/archiver"
	"github.com/dpaw/resource-tracking/internal/blobstore"
	"github.com/dpaw/resource-tracking/internal/config"
	"github.com/dpaw/resource-tracking/internal/dbgateway"
	"github.com/dpaw/resource-tracking/internal/logging"
	"github.com/dpaw/resource-tracking/internal/utils"
)

var (
	flagCheck          bool
	flagDelete         bool
	flagMaxArchiveDays int
	flagPreserveID     bool
	flagRestoreToOrigin bool
)

var rootCmd = &cobra.Command{
	Use:   "archiver",
	Short: "Logged-point archive, restore, and delete pipeline",
}

var archiveCmd = &cobra.Command{
	Use:   "archive year month [day]",
	Short: "Archive one day or every day of a month",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runArchive,
}

var continuousArchiveCmd = &cobra.Command{
	Use:   "continuous_archive",
	Short: "Archive every eligible day since the last archived window",
	Args:  cobra.NoArgs,
	RunE:  runContinuousArchive,
}

var restoreCmd = &cobra.Command{
	Use:   "restore year month [day]",
	Short: "Restore an archived day or month back into the database",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runRestore,
}

var deleteArchiveCmd = &cobra.Command{
	Use:   "delete_archive year month [day]",
	Short: "Delete an archived day or month from storage",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runDeleteArchive,
}

func init() {
	archiveCmd.Flags().BoolVar(&flagCheck, "check", false, "Verify the uploaded archive by re-downloading it")
	archiveCmd.Flags().BoolVar(&flagDelete, "delete", false, "Delete the archived rows from the source table on success")

	continuousArchiveCmd.Flags().BoolVar(&flagCheck, "check", false, "Verify each uploaded archive by re-downloading it")
	continuousArchiveCmd.Flags().BoolVar(&flagDelete, "delete", false, "Delete archived rows from the source table on success")
	continuousArchiveCmd.Flags().IntVar(&flagMaxArchiveDays, "max-archive-days", 0, "Archive at most this many windows (0 = unbounded)")

	restoreCmd.Flags().BoolVar(&flagPreserveID, "preserve-id", false, "Keep the original row id when restoring to the origin table")
	restoreCmd.Flags().BoolVar(&flagRestoreToOrigin, "restore-to-origin-table", false, "Fold the restored rows into tracking_loggedpoint")

	rootCmd.AddCommand(archiveCmd, continuousArchiveCmd, restoreCmd, deleteArchiveCmd)
}

func newArchiver(cfg *config.Config) (*archiver.Archiver, *dbgateway.Gateway, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, nil, err
	}
	db, err := dbgateway.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	blobClient, err := blobstore.NewAzureClient(cfg.StorageConnection, cfg.Container)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("connecting to blob storage: %w", err)
	}
	return archiver.New(cfg, db, blobClient), db, nil
}

func parseYearMonthDay(args []string) (year, month int, day *time.Time, err error) {
	if year, err = parseInt(args[0], "year"); err != nil {
		return 0, 0, nil, err
	}
	if month, err = parseInt(args[1], "month"); err != nil {
		return 0, 0, nil, err
	}
	if len(args) == 3 {
		d, derr := parseInt(args[2], "day")
		if derr != nil {
			return 0, 0, nil, derr
		}
		dateStr := fmt.Sprintf("%04d-%02d-%02d", year, month, d)
		if err := utils.ValidateDate(dateStr, "day", "archiver"); err != nil {
			return 0, 0, nil, err
		}
		t := time.Date(year, time.Month(month), d, 0, 0, 0, 0, time.UTC)
		day = &t
	}
	return year, month, day, nil
}

func parseInt(s, field string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return n, nil
}

func runArchive(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Configure(cfg.Debug)

	year, month, day, err := parseYearMonthDay(args)
	if err != nil {
		return err
	}

	a, db, err := newArchiver(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	opts := archiver.ArchiveOptions{Check: flagCheck, DeleteAfterArchive: flagDelete}
	ctx := cmd.Context()
	if day != nil {
		return a.ArchiveByDate(ctx, *day, opts)
	}
	return a.ArchiveByMonth(ctx, year, month, opts)
}

func runContinuousArchive(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Configure(cfg.Debug)

	a, db, err := newArchiver(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	opts := archiver.ContinuousArchiveOptions{
		ArchiveOptions: archiver.ArchiveOptions{Check: flagCheck, DeleteAfterArchive: flagDelete},
		MaxArchiveDays: flagMaxArchiveDays,
	}
	return a.ContinuousArchive(cmd.Context(), opts)
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Configure(cfg.Debug)

	year, month, day, err := parseYearMonthDay(args)
	if err != nil {
		return err
	}

	a, db, err := newArchiver(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	opts := archiver.RestoreOptions{PreserveID: flagPreserveID, RestoreToOriginTable: flagRestoreToOrigin}
	ctx := cmd.Context()
	var table string
	if day != nil {
		table, err = a.RestoreByDate(ctx, *day, opts)
	} else {
		table, err = a.RestoreByMonth(ctx, year, month, opts)
	}
	if err != nil {
		return err
	}
	tp := utils.NewTablePrinterTo(cmd.OutOrStdout())
	tp.Header("YEAR", "MONTH", "RESTORED_TABLE")
	tp.Row(fmt.Sprint(year), fmt.Sprint(month), table)
	tp.Flush()
	return nil
}

func runDeleteArchive(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Configure(cfg.Debug)

	year, month, day, err := parseYearMonthDay(args)
	if err != nil {
		return err
	}

	a, db, err := newArchiver(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	in, out := cmd.InOrStdin(), cmd.OutOrStdout()
	if day != nil {
		return a.DeleteArchiveByDate(ctx, *day, in, out)
	}
	return a.DeleteArchiveByMonth(ctx, year, month, in, out)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package archiver

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dpaw/resource-tracking/internal/dbgateway"
)

// RestoreOptions controls how a restored GeoPackage/VRT is reapplied.
type RestoreOptions struct {
	// RestoreToOriginTable inserts the restored rows into
	// tracking_loggedpoint instead of leaving them in the staging table
	// ogr2ogr created.
	RestoreToOriginTable bool
	// PreserveID keeps the original row id when RestoreToOriginTable is set.
	PreserveID bool
}

// RestoreByMonth downloads a whole archived group (via its VRT) and
// imports it, per §4.5.4.
func (a *Archiver) RestoreByMonth(ctx context.Context, year, month int, opts RestoreOptions) (string, error) {
	loc := a.cfg.TimeZone
	d := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, loc)
	if err := a.requireBeforeToday(d, "restore by month"); err != nil {
		return "", err
	}
	group := archiveGroupName(d)

	workFolder, err := newWorkFolder("restore_loggedpoint")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(workFolder)

	storage := a.resourceStorage()
	a.log.Debugf("begin restore archived loggedpoint, group=%s", group)
	if _, _, err := storage.DownloadGroup(ctx, group, workFolder, true); err != nil {
		return "", fmt.Errorf("restore by month: %w", err)
	}

	imported, err := a.restoreData(ctx, workFolder+"/"+group+".vrt", opts)
	if err != nil {
		return "", err
	}
	a.log.Debugf("end restore archived loggedpoint, group=%s imported_table=%s", group, imported)
	return imported, nil
}

// RestoreByDate downloads a single archived day and imports it, per §4.5.4.
func (a *Archiver) RestoreByDate(ctx context.Context, d time.Time, opts RestoreOptions) (string, error) {
	loc := a.cfg.TimeZone
	if err := a.requireBeforeToday(d, "restore by date"); err != nil {
		return "", err
	}
	day := truncateToDate(d.In(loc), loc)
	group := archiveGroupName(day)
	id := archiveIDName(day)

	workFolder, err := newWorkFolder("restore_loggedpoint")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(workFolder)

	storage := a.resourceStorage()
	a.log.Debugf("begin restore archived loggedpoint, group=%s id=%s", group, id)
	filename := workFolder + "/" + id + ".gpkg"
	if _, _, err := storage.Download(ctx, id, filename, true, group, "current"); err != nil {
		return "", fmt.Errorf("restore by date: %w", err)
	}

	imported, err := a.restoreData(ctx, filename, opts)
	if err != nil {
		return "", err
	}
	a.log.Debugf("end restore archived loggedpoint, group=%s id=%s imported_table=%s", group, id, imported)
	return imported, nil
}

// restoreData is the one implementation _restore_data generalizes to:
// import via the external spatial tool, then optionally fold the staged
// rows into tracking_loggedpoint.
func (a *Archiver) restoreData(ctx context.Context, filename string, opts RestoreOptions) (string, error) {
	importedTable, err := a.db.ImportSpatialData(ctx, filename, "", "", false)
	if err != nil {
		return "", fmt.Errorf("restore data: %w", err)
	}

	if !opts.RestoreToOriginTable {
		return importedTable, nil
	}

	sql := fmt.Sprintf(missingDeviceSQLTemplate, importedTable)
	rows, err := a.db.Update(ctx, sql, dbgateway.UpdateOptions{AutoCommit: true})
	if err != nil {
		return "", fmt.Errorf("restore data: creating missing devices: %w", err)
	}
	if rows > 0 {
		a.log.Debugf("created %d missing devices from imported table %s", rows, importedTable)
	} else {
		a.log.Debugf("all devices referenced from imported table %s already exist", importedTable)
	}

	restoreSQL := restoreSQLTemplate
	if opts.PreserveID {
		restoreSQL = restoreWithIDSQLTemplate
	}
	rows, err = a.db.Update(ctx, fmt.Sprintf(restoreSQL, importedTable), dbgateway.UpdateOptions{AutoCommit: true})
	if err != nil {
		return "", fmt.Errorf("restore data: restoring points: %w", err)
	}
	a.log.Debugf("%d records restored from %s to tracking_loggedpoint", rows, importedTable)

	if err := a.db.ExecuteDDL(ctx, fmt.Sprintf(`DROP TABLE "%s"`, importedTable)); err != nil {
		a.log.Errorf("failed to drop temporary imported table %s: %v", importedTable, err)
	}
	return "tracking_loggedpoint", nil
}

// Package archiver is the Logged-Point Archiver (§4.5, component F): a
// date-window orchestrator that exports a day's spatial rows, pushes them
// through the Resource Storage Layer, rebuilds the group's union VRT, and
// optionally verifies the round trip or deletes the archived rows. It is
// grounded on resource_tracking/archive.py.
package archiver

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dpaw/resource-tracking/internal/apperrors"
	"github.com/dpaw/resource-tracking/internal/blobstore"
	"github.com/dpaw/resource-tracking/internal/codec"
	"github.com/dpaw/resource-tracking/internal/config"
	"github.com/dpaw/resource-tracking/internal/dbgateway"
	"github.com/dpaw/resource-tracking/internal/logging"
	"github.com/dpaw/resource-tracking/internal/resource"
)

const (
	earliestArchiveDateSQL = "SELECT min(seen) FROM tracking_loggedpoint"

	archiveSQLTemplate = "SELECT a.id,a.point,a.heading,a.velocity,a.altitude,a.message,a.source_device_type,a.raw," +
		"extract(epoch from a.seen)::bigint as seen,b.deviceid,b.registration " +
		"FROM tracking_loggedpoint a JOIN tracking_device b ON a.device_id = b.id " +
		"WHERE a.seen >= '%s' AND a.seen < '%s'"

	deleteWindowSQLTemplate = "DELETE FROM tracking_loggedpoint WHERE seen >= '%s' AND seen < '%s'"

	missingDeviceSQLTemplate = "INSERT INTO tracking_device (deviceid) SELECT distinct a.deviceid FROM %s a " +
		"WHERE NOT EXISTS(SELECT 1 FROM tracking_device b WHERE a.deviceid = b.deviceid)"

	restoreWithIDSQLTemplate = "INSERT INTO tracking_loggedpoint (id,device_id,point,heading,velocity,altitude,seen,message,source_device_type,raw) " +
		"SELECT a.id,b.id,a.point,a.heading,a.velocity,a.altitude,to_timestamp(a.seen),a.message,a.source_device_type,a.raw " +
		"FROM %s a JOIN tracking_device b on a.deviceid = b.deviceid"

	restoreSQLTemplate = "INSERT INTO tracking_loggedpoint (device_id,point,heading,velocity,altitude,seen,message,source_device_type,raw) " +
		"SELECT b.id,a.point,a.heading,a.velocity,a.altitude,a.seen,a.message,a.source_device_type,a.raw " +
		"FROM %s a JOIN tracking_device b on a.deviceid = b.deviceid"

	// datetimeSQLLayout renders an explicit UTC offset, unlike the Python
	// source's "%Y-%m-%d %H:%M:%S %Z" (which relies on the DB session's
	// timezone to interpret a bare literal correctly); the offset pins the
	// configured timezone's day boundary regardless of session timezone.
	datetimeSQLLayout = "2006-01-02 15:04:05-07:00"
)

// dbClient is the slice of dbgateway.Gateway's surface the archiver needs.
// A narrow interface here (rather than *dbgateway.Gateway directly) lets
// tests exercise the pipeline against a fake without a live Postgres/GDAL.
type dbClient interface {
	ExportSpatialData(ctx context.Context, sqlText, filename, fileExt, layer string) (*dbgateway.LayerMetadata, string, error)
	ImportSpatialData(ctx context.Context, path, layer, table string, overwrite bool) (string, error)
	Update(ctx context.Context, query string, opts dbgateway.UpdateOptions) (int64, error)
	ExecuteDDL(ctx context.Context, ddl string) error
	Get(ctx context.Context, query string) ([]any, []string, error)
}

// Archiver drives the daily archive/restore/delete pipelines for one
// configured loggedpoint resource.
type Archiver struct {
	cfg *config.Config
	db  dbClient

	blobClient   blobstore.Client
	resourceOnce sync.Once
	resource     *resource.Storage

	log *logrus.Entry
}

// New builds an Archiver. blobClient is the object-store backend the
// resource storage client uploads/downloads against.
func New(cfg *config.Config, db dbClient, blobClient blobstore.Client) *Archiver {
	return &Archiver{
		cfg:        cfg,
		db:         db,
		blobClient: blobClient,
		log:        logging.Named(logging.LoggerResourceTracking),
	}
}

// resourceStorage is the memoized blob_resource() singleton: group_resource
// is always true, archive is always false (each day is one overwritable
// entry, not a history-retaining one — "archive" in this module's naming
// refers to archiving rows out of the database, not the storage variant).
func (a *Archiver) resourceStorage() *resource.Storage {
	a.resourceOnce.Do(func() {
		a.resource = resource.New(a.blobClient, resource.Options{
			ResourceName:  a.cfg.LoggedPointName,
			GroupResource: true,
			Archive:       false,
			TimeZone:      a.cfg.TimeZone,
		})
	})
	return a.resource
}

func archiveGroupName(d time.Time) string {
	return fmt.Sprintf("loggedpoint%04d-%02d", d.Year(), d.Month())
}

func archiveIDName(d time.Time) string {
	return fmt.Sprintf("loggedpoint%04d-%02d-%02d", d.Year(), d.Month(), d.Day())
}

func truncateToDate(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// requireBeforeToday enforces §8.2's "a date not strictly before today is
// rejected" rule, shared by the archive, restore, and delete_archive
// runners per command/restore.py and command/delete_archive.py both
// raising on "d >= today".
func (a *Archiver) requireBeforeToday(d time.Time, op string) error {
	loc := a.cfg.TimeZone
	today := truncateToDate(time.Now().In(loc), loc)
	day := truncateToDate(d.In(loc), loc)
	if !day.Before(today) {
		return fmt.Errorf("%s: can only operate on logged points that happened before today", op)
	}
	return nil
}

func archiveWindowSQL(start, end time.Time) string {
	return fmt.Sprintf(archiveSQLTemplate, start.Format(datetimeSQLLayout), end.Format(datetimeSQLLayout))
}

func newWorkFolder(prefix string) (string, error) {
	dir, err := os.MkdirTemp("", fmt.Sprintf("%s-%s-*", prefix, uuid.NewString()))
	if err != nil {
		return "", fmt.Errorf("creating working folder: %w", err)
	}
	return dir, nil
}

func (a *Archiver) checkWorkingHours() error {
	start, end := a.cfg.StartWorkingHour, a.cfg.EndWorkingHour
	hour := time.Now().In(a.cfg.TimeZone).Hour()

	if end != nil && hour <= *end {
		if start == nil || hour >= *start {
			return fmt.Errorf("continuous archive: refusing to run during configured working hours")
		}
	}
	if start != nil && hour >= *start {
		if end == nil || hour <= *end {
			return fmt.Errorf("continuous archive: refusing to run during configured working hours")
		}
	}
	return nil
}

// ArchiveOptions controls one archive window or a run of them.
type ArchiveOptions struct {
	DeleteAfterArchive bool
	Check              bool
	Overwrite          bool
}

// ArchiveByDate archives the single calendar day d, per §4.5.1.
func (a *Archiver) ArchiveByDate(ctx context.Context, d time.Time, opts ArchiveOptions) error {
	loc := a.cfg.TimeZone
	if err := a.requireBeforeToday(d, "archive by date"); err != nil {
		return err
	}
	day := truncateToDate(d.In(loc), loc)
	return a.archiveWindow(ctx, archiveGroupName(day), archiveIDName(day), day, day.AddDate(0, 0, 1), opts)
}

// ArchiveByMonth archives every day of year/month strictly before today.
func (a *Archiver) ArchiveByMonth(ctx context.Context, year, month int, opts ArchiveOptions) error {
	loc := a.cfg.TimeZone
	today := truncateToDate(time.Now().In(loc), loc)
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, loc)
	if err := a.requireBeforeToday(start, "archive by month"); err != nil {
		return err
	}

	var end time.Time
	if month < 12 {
		end = time.Date(year, time.Month(month+1), 1, 0, 0, 0, 0, loc)
	} else {
		end = time.Date(year+1, 1, 1, 0, 0, 0, 0, loc)
	}
	if !end.Before(today) {
		end = today
	}

	a.log.Infof("begin archive by month, month=%d/%d start=%s end=%s", year, month, start, end)

	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		if err := a.archiveWindow(ctx, archiveGroupName(d), archiveIDName(d), d, d.AddDate(0, 0, 1), opts); err != nil {
			return err
		}
	}
	return nil
}

// ContinuousArchiveOptions additionally bounds a continuous run.
type ContinuousArchiveOptions struct {
	ArchiveOptions
	MaxArchiveDays int
}

// ContinuousArchive walks from the earliest seen row up to
// today-ActiveDays, archiving at most MaxArchiveDays windows, per §4.5.1
// and the working-hours guard of §4.5.2.
func (a *Archiver) ContinuousArchive(ctx context.Context, opts ContinuousArchiveOptions) error {
	if err := a.checkWorkingHours(); err != nil {
		return err
	}

	row, _, err := a.db.Get(ctx, earliestArchiveDateSQL)
	if err != nil {
		return fmt.Errorf("continuous archive: %w", err)
	}
	if len(row) == 0 || row[0] == nil {
		a.log.Debug("continuous archive: no loggedpoint rows exist yet")
		return nil
	}
	earliest, ok := row[0].(time.Time)
	if !ok {
		return fmt.Errorf("continuous archive: unexpected min(seen) type %T", row[0])
	}

	loc := a.cfg.TimeZone
	today := truncateToDate(time.Now().In(loc), loc)
	lastArchiveDate := today.AddDate(0, 0, -a.cfg.ActiveDays)
	archiveDate := truncateToDate(earliest.In(loc), loc)

	a.log.Infof("begin continuous archive, earliest=%s last=%s delete_after_archive=%v check=%v max_archive_days=%d",
		archiveDate, lastArchiveDate, opts.DeleteAfterArchive, opts.Check, opts.MaxArchiveDays)

	archived := 0
	for archiveDate.Before(lastArchiveDate) && (opts.MaxArchiveDays <= 0 || archived < opts.MaxArchiveDays) {
		if err := a.archiveWindow(ctx, archiveGroupName(archiveDate), archiveIDName(archiveDate), archiveDate, archiveDate.AddDate(0, 0, 1), opts.ArchiveOptions); err != nil {
			return err
		}
		archiveDate = archiveDate.AddDate(0, 0, 1)
		archived++
	}
	return nil
}

// archiveWindow is the single implementation of the per-window pipeline
// (§4.5.3), shared by ArchiveByDate/ArchiveByMonth/ContinuousArchive — the
// Go counterpart of the Python source's single archive() function.
func (a *Archiver) archiveWindow(ctx context.Context, group, id string, start, end time.Time, opts ArchiveOptions) error {
	workFolder, err := newWorkFolder("archive_loggedpoint")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workFolder)

	a.log.Debugf("begin archive window, group=%s id=%s start=%s end=%s", group, id, start, end)
	storage := a.resourceStorage()

	if !opts.Overwrite {
		exists, err := storage.IsExist(ctx, id, group)
		if err != nil {
			return fmt.Errorf("archive window: %w", err)
		}
		if exists {
			return fmt.Errorf("%w: loggedpoint already archived, archive_id=%s", apperrors.ErrResourceAlreadyExist, id)
		}
	}

	sql := archiveWindowSQL(start, end)
	layerMeta, filename, err := a.db.ExportSpatialData(ctx, sql, workFolder+"/loggedpoint.gpkg", "", id)
	if err != nil {
		return fmt.Errorf("archive window: exporting spatial data: %w", err)
	}
	if layerMeta == nil {
		a.log.Debugf("no loggedpoints to archive, group=%s id=%s", group, id)
		return nil
	}

	md5sum, err := codec.FileMD5(filename)
	if err != nil {
		return fmt.Errorf("archive window: %w", err)
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("archive window: reading exported file: %w", err)
	}

	loc := a.cfg.TimeZone
	meta := &resource.Metadata{
		ResourceID:    id,
		ResourceGroup: group,
		ResourceFile:  id + ".gpkg",
		Extra: map[string]any{
			"start_archive":      codec.NewTime(time.Now().In(loc), loc),
			"start_archive_date": codec.NewTime(start, loc),
			"end_archive_date":   codec.NewTime(end, loc),
			"file_md5":           md5sum,
			"layer":              layerMeta.Layer,
			"features":           layerMeta.Features,
		},
	}
	postPush := func(m *resource.Metadata) {
		m.Extra["end_archive"] = codec.NewTime(time.Now().In(loc), loc)
	}

	a.log.Debugf("pushing loggedpoint archive file to blob storage, group=%s id=%s", group, id)
	if _, err := storage.PushResource(ctx, data, meta, postPush); err != nil {
		return fmt.Errorf("archive window: pushing archive file: %w", err)
	}

	if opts.Check {
		if err := a.checkArchiveUpload(ctx, storage, group, id, workFolder, md5sum, layerMeta.Features); err != nil {
			return err
		}
	}

	a.log.Debugf("rebuilding group vrt, group=%s id=%s", group, id)
	if err := a.rebuildGroupVRT(ctx, storage, group, workFolder, opts.Check); err != nil {
		return fmt.Errorf("archive window: %w", err)
	}

	if opts.DeleteAfterArchive {
		deleteSQL := fmt.Sprintf(deleteWindowSQLTemplate, start.Format(datetimeSQLLayout), end.Format(datetimeSQLLayout))
		n, err := a.db.Update(ctx, deleteSQL, dbgateway.UpdateOptions{Commit: true})
		if err != nil {
			return fmt.Errorf("archive window: deleting archived rows: %w", err)
		}
		a.log.Debugf("deleted %d rows from tracking_loggedpoint, group=%s id=%s", n, group, id)
	}

	a.log.Debugf("end archive window, group=%s id=%s", group, id)
	return nil
}

func (a *Archiver) checkArchiveUpload(ctx context.Context, storage *resource.Storage, group, id, workFolder, wantMD5 string, wantFeatures int) error {
	downloadPath := workFolder + "/loggedpoint_download.gpkg"
	if _, _, err := storage.Download(ctx, id, downloadPath, true, group, "current"); err != nil {
		return fmt.Errorf("archive window: verifying upload: %w", err)
	}
	gotMD5, err := codec.FileMD5(downloadPath)
	if err != nil {
		return fmt.Errorf("archive window: %w", err)
	}
	if gotMD5 != wantMD5 {
		return fmt.Errorf("%w: archive file md5 mismatch, source=%s uploaded=%s", apperrors.ErrIntegrityFailure, wantMD5, gotMD5)
	}
	gotMeta, err := dbgateway.InspectSpatialFile(ctx, downloadPath)
	if err != nil {
		return fmt.Errorf("archive window: %w", err)
	}
	if gotMeta.Features != wantFeatures {
		return fmt.Errorf("%w: archive file feature count mismatch, source=%d uploaded=%d", apperrors.ErrIntegrityFailure, wantFeatures, gotMeta.Features)
	}
	return nil
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}

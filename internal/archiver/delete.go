package archiver

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dpaw/resource-tracking/internal/resource"
)

func (a *Archiver) requireDeleteEnabled() error {
	if a.cfg.ArchiveDeleteDisabled {
		return fmt.Errorf("the feature to delete loggedpoint archives is disabled")
	}
	return nil
}

// DeleteAll deletes every archived loggedpoint file from storage, gated on
// LOGGEDPOINT_ARCHIVE_DELETE_DISABLED and an interactive Y/N confirmation.
func (a *Archiver) DeleteAll(ctx context.Context, in io.Reader, out io.Writer) error {
	if err := a.requireDeleteEnabled(); err != nil {
		return err
	}
	confirmed, err := Confirm(in, out, "Are you sure you want to delete all loggedpoint archives?(Y/N):")
	if err != nil {
		return err
	}
	if !confirmed {
		return nil
	}
	return a.resourceStorage().DeleteAll(ctx)
}

// DeleteArchiveByMonth deletes every archived file for a month.
func (a *Archiver) DeleteArchiveByMonth(ctx context.Context, year, month int, in io.Reader, out io.Writer) error {
	if err := a.requireDeleteEnabled(); err != nil {
		return err
	}
	d := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, a.cfg.TimeZone)
	if err := a.requireBeforeToday(d, "delete archive by month"); err != nil {
		return err
	}

	confirmed, err := Confirm(in, out, fmt.Sprintf("Are you sure you want to delete the loggedpoint archives for the month(%d/%d)?(Y/N):", year, month))
	if err != nil {
		return err
	}
	if !confirmed {
		return nil
	}

	group := archiveGroupName(d)
	_, err = a.resourceStorage().DeleteResource(ctx, "", group)
	return err
}

// DeleteArchiveByDate deletes one archived day and rebuilds (or removes)
// the group's VRT from whatever remains, per §4.5.5.
func (a *Archiver) DeleteArchiveByDate(ctx context.Context, d time.Time, in io.Reader, out io.Writer) error {
	if err := a.requireDeleteEnabled(); err != nil {
		return err
	}
	if err := a.requireBeforeToday(d, "delete archive by date"); err != nil {
		return err
	}
	confirmed, err := Confirm(in, out, fmt.Sprintf("Are you sure you want to delete the loggedpoint archives for the day(%s)?(Y/N):", d.Format("2006-01-02")))
	if err != nil {
		return err
	}
	if !confirmed {
		return nil
	}

	loc := a.cfg.TimeZone
	day := truncateToDate(d.In(loc), loc)
	group := archiveGroupName(day)
	id := archiveIDName(day)
	vrtID := group + ".vrt"
	storage := a.resourceStorage()

	if _, err := storage.DeleteResource(ctx, id, group); err != nil {
		return fmt.Errorf("delete archive by date: %w", err)
	}

	m, err := storage.GetMetadata(ctx, resource.GetMetadataOptions{ResourceGroup: group, ThrowException: true})
	if err != nil {
		return fmt.Errorf("delete archive by date: %w", err)
	}
	groupMap, ok := m.(map[string]any)
	if !ok {
		return fmt.Errorf("delete archive by date: unexpected metadata shape for group %s", group)
	}

	layers, features := collectVRTLayers(groupMap, vrtID)
	if len(layers) == 0 {
		_, err := storage.DeleteResource(ctx, vrtID, group)
		return err
	}
	_, err = a.pushGroupVRT(ctx, storage, group, layers, features)
	return err
}

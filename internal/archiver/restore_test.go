package archiver

import (
	"context"
	"testing"
	"time"
)

func TestRestoreByDateWithoutOriginTable(t *testing.T) {
	db := &fakeDB{features: 1, importTable: "loggedpoint2024_05_01"}
	a, _ := newTestArchiver(t, db)
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, a.cfg.TimeZone)

	if err := a.ArchiveByDate(ctx, day, ArchiveOptions{}); err != nil {
		t.Fatalf("archive: %v", err)
	}

	table, err := a.RestoreByDate(ctx, day, RestoreOptions{})
	if err != nil {
		t.Fatalf("RestoreByDate: %v", err)
	}
	if table != db.importTable {
		t.Errorf("expected staging table %q, got %q", db.importTable, table)
	}
	if len(db.updateQueries) != 0 {
		t.Error("restoring without origin table must not touch tracking_loggedpoint")
	}
	if len(db.execDDLQueries) != 0 {
		t.Error("staging table should be left in place when not restoring to origin")
	}
}

func TestRestoreByDateToOriginTablePreservingID(t *testing.T) {
	db := &fakeDB{features: 1, importTable: "staging_table", updateRows: 3}
	a, _ := newTestArchiver(t, db)
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, a.cfg.TimeZone)

	if err := a.ArchiveByDate(ctx, day, ArchiveOptions{}); err != nil {
		t.Fatalf("archive: %v", err)
	}

	table, err := a.RestoreByDate(ctx, day, RestoreOptions{RestoreToOriginTable: true, PreserveID: true})
	if err != nil {
		t.Fatalf("RestoreByDate: %v", err)
	}
	if table != "tracking_loggedpoint" {
		t.Errorf("expected tracking_loggedpoint, got %q", table)
	}
	if len(db.updateQueries) != 2 {
		t.Fatalf("expected missing-device insert + restore insert, got %d queries", len(db.updateQueries))
	}
	if len(db.execDDLQueries) != 1 {
		t.Errorf("expected the staging table to be dropped, got %d DDL calls", len(db.execDDLQueries))
	}
}

func TestRestoreByMonthDownloadsGroupAndImports(t *testing.T) {
	db := &fakeDB{features: 1, importTable: "staging"}
	a, _ := newTestArchiver(t, db)
	ctx := context.Background()

	day1 := time.Date(2024, 5, 1, 0, 0, 0, 0, a.cfg.TimeZone)
	day2 := time.Date(2024, 5, 2, 0, 0, 0, 0, a.cfg.TimeZone)
	if err := a.ArchiveByDate(ctx, day1, ArchiveOptions{}); err != nil {
		t.Fatalf("archive day1: %v", err)
	}
	if err := a.ArchiveByDate(ctx, day2, ArchiveOptions{}); err != nil {
		t.Fatalf("archive day2: %v", err)
	}

	table, err := a.RestoreByMonth(ctx, 2024, 5, RestoreOptions{})
	if err != nil {
		t.Fatalf("RestoreByMonth: %v", err)
	}
	if table != db.importTable {
		t.Errorf("expected staging table %q, got %q", db.importTable, table)
	}
}

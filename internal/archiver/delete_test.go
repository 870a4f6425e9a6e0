package archiver

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestDeleteArchiveByDateDisabledByDefault(t *testing.T) {
	a, _ := newTestArchiver(t, &fakeDB{features: 1})
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, a.cfg.TimeZone)

	err := a.DeleteArchiveByDate(context.Background(), day, strings.NewReader("Y\n"), &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected delete to be refused while ArchiveDeleteDisabled is true")
	}
}

func TestDeleteArchiveByDateDeniedConfirmationIsNoop(t *testing.T) {
	db := &fakeDB{features: 1}
	a, client := newTestArchiver(t, db)
	a.cfg.ArchiveDeleteDisabled = false
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, a.cfg.TimeZone)

	if err := a.ArchiveByDate(ctx, day, ArchiveOptions{}); err != nil {
		t.Fatalf("archive: %v", err)
	}

	if err := a.DeleteArchiveByDate(ctx, day, strings.NewReader("N\n"), &bytes.Buffer{}); err != nil {
		t.Fatalf("DeleteArchiveByDate: %v", err)
	}

	blobPath := "loggedpoint/data/loggedpoint2024-05/loggedpoint2024-05-01.gpkg"
	if exists, _ := client.Blob(blobPath).Exists(ctx); !exists {
		t.Error("declining the confirmation must leave the archive untouched")
	}
}

func TestDeleteArchiveByDateRebuildsVRTFromRemainingDays(t *testing.T) {
	db := &fakeDB{features: 1}
	a, client := newTestArchiver(t, db)
	a.cfg.ArchiveDeleteDisabled = false
	ctx := context.Background()

	day1 := time.Date(2024, 5, 1, 0, 0, 0, 0, a.cfg.TimeZone)
	day2 := time.Date(2024, 5, 2, 0, 0, 0, 0, a.cfg.TimeZone)
	if err := a.ArchiveByDate(ctx, day1, ArchiveOptions{}); err != nil {
		t.Fatalf("archive day1: %v", err)
	}
	if err := a.ArchiveByDate(ctx, day2, ArchiveOptions{}); err != nil {
		t.Fatalf("archive day2: %v", err)
	}

	if err := a.DeleteArchiveByDate(ctx, day1, strings.NewReader("Y\n"), &bytes.Buffer{}); err != nil {
		t.Fatalf("DeleteArchiveByDate: %v", err)
	}

	if exists, _ := client.Blob("loggedpoint/data/loggedpoint2024-05/loggedpoint2024-05-01.gpkg").Exists(ctx); exists {
		t.Error("deleted day's blob should be gone")
	}
	vrtData, err := client.Blob("loggedpoint/data/loggedpoint2024-05/loggedpoint2024-05.vrt").Read(ctx)
	if err != nil {
		t.Fatalf("reading vrt: %v", err)
	}
	if strings.Contains(string(vrtData), "loggedpoint2024-05-01") {
		t.Error("vrt should no longer reference the deleted day")
	}
	if !strings.Contains(string(vrtData), "loggedpoint2024-05-02") {
		t.Error("vrt should still reference the remaining day")
	}
}

func TestDeleteArchiveByDateRemovesVRTWhenGroupEmptied(t *testing.T) {
	db := &fakeDB{features: 1}
	a, client := newTestArchiver(t, db)
	a.cfg.ArchiveDeleteDisabled = false
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, a.cfg.TimeZone)

	if err := a.ArchiveByDate(ctx, day, ArchiveOptions{}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := a.DeleteArchiveByDate(ctx, day, strings.NewReader("Y\n"), &bytes.Buffer{}); err != nil {
		t.Fatalf("DeleteArchiveByDate: %v", err)
	}

	vrtPath := "loggedpoint/data/loggedpoint2024-05/loggedpoint2024-05.vrt"
	if exists, _ := client.Blob(vrtPath).Exists(ctx); exists {
		t.Error("vrt should be removed once the group has no remaining days")
	}
}

func TestDeleteAllRemovesMetadataDocument(t *testing.T) {
	db := &fakeDB{features: 1}
	a, client := newTestArchiver(t, db)
	a.cfg.ArchiveDeleteDisabled = false
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, a.cfg.TimeZone)

	if err := a.ArchiveByDate(ctx, day, ArchiveOptions{}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := a.DeleteAll(ctx, strings.NewReader("Y\n"), &bytes.Buffer{}); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if exists, _ := client.Blob("loggedpoint/metadata.json").Exists(ctx); exists {
		t.Error("expected the metadata document to be removed")
	}
}

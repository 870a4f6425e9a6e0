package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalBlobUpdateReadDelete(t *testing.T) {
	ctx := context.Background()
	client, err := NewLocalClient(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalClient: %v", err)
	}

	blob := client.Blob("data/loggedpoint2024-05/loggedpoint2024-05-01.gpkg")

	if ok, err := blob.Exists(ctx); err != nil || ok {
		t.Fatalf("Exists before write: ok=%v err=%v", ok, err)
	}

	if err := blob.Update(ctx, []byte("payload")); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if ok, err := blob.Exists(ctx); err != nil || !ok {
		t.Fatalf("Exists after write: ok=%v err=%v", ok, err)
	}

	got, err := blob.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Read = %q, want payload", got)
	}

	if err := blob.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := blob.Exists(ctx); ok {
		t.Error("blob should not exist after delete")
	}

	// deleting an already-absent blob is a no-op, matching update(None)
	// tolerating a prior delete.
	if err := blob.Delete(ctx); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestLocalBlobDownloadRefusesOverwrite(t *testing.T) {
	ctx := context.Background()
	client, err := NewLocalClient(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalClient: %v", err)
	}
	blob := client.Blob("loggedpoint/metadata.json")
	if err := blob.Update(ctx, []byte("{}")); err != nil {
		t.Fatalf("Update: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "metadata.json")
	if err := os.WriteFile(dest, []byte("existing"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := blob.Download(ctx, dest, false); err == nil {
		t.Error("expected error when overwrite=false and file exists")
	}
	if err := blob.Download(ctx, dest, true); err != nil {
		t.Errorf("Download with overwrite=true: %v", err)
	}
}

func TestLocalClientList(t *testing.T) {
	ctx := context.Background()
	client, err := NewLocalClient(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalClient: %v", err)
	}
	if err := client.Blob("data/a/1.json").Update(ctx, []byte("1")); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := client.Blob("data/b/2.json").Update(ctx, []byte("2")); err != nil {
		t.Fatalf("Update: %v", err)
	}

	names, err := client.List(ctx, "data/a")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 1 || names[0] != "data/a/1.json" {
		t.Errorf("List = %v, want [data/a/1.json]", names)
	}
}

package metadatastore

import (
	"context"
	"testing"

	"github.com/dpaw/resource-tracking/internal/blobstore"
)

type doc struct {
	Name string `json:"name"`
}

func TestStoreAbsentDocument(t *testing.T) {
	ctx := context.Background()
	client, _ := blobstore.NewLocalClient(t.TempDir())
	store := New(client.Blob("loggedpoint/metadata.json"), false)

	raw, err := store.JSON(ctx)
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if raw != nil {
		t.Errorf("expected nil for absent document, got %s", raw)
	}
}

func TestStoreUpdateAndDecode(t *testing.T) {
	ctx := context.Background()
	client, _ := blobstore.NewLocalClient(t.TempDir())
	store := New(client.Blob("loggedpoint/metadata.json"), false)

	if err := store.Update(ctx, doc{Name: "loggedpoint2024-05-01"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	var got doc
	ok, err := store.Decode(ctx, &got)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !ok {
		t.Fatal("expected document to be present")
	}
	if got.Name != "loggedpoint2024-05-01" {
		t.Errorf("Name = %q", got.Name)
	}
}

func TestStoreCacheServesWithoutReread(t *testing.T) {
	ctx := context.Background()
	client, _ := blobstore.NewLocalClient(t.TempDir())
	blob := client.Blob("loggedpoint/metadata.json")
	store := New(blob, true)

	if err := store.Update(ctx, doc{Name: "first"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Mutate the blob directly, bypassing the store, to prove the cached
	// read does not go back to storage.
	if err := blob.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var got doc
	ok, err := store.Decode(ctx, &got)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !ok || got.Name != "first" {
		t.Errorf("expected cached document, got ok=%v got=%+v", ok, got)
	}
}

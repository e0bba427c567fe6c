package images

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/oguzhanali/nft-marketplace/internal/errs"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "images.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SaveAndLoad(t *testing.T) {
	store := openTestStore(t)
	data := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 1, 2, 3}

	t.Run("RoundTrip", func(t *testing.T) {
		id, err := store.Save("cat.png", "image/png", data)
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		img, err := store.Load(id)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if img.Name != "cat.png" || img.ContentType != "image/png" {
			t.Errorf("metadata lost: %+v", img)
		}
		if !bytes.Equal(img.Data, data) {
			t.Error("blob bytes did not round trip")
		}
	})

	t.Run("SniffsContentType", func(t *testing.T) {
		id, err := store.Save("mystery", "", data)
		if err != nil {
			t.Fatal(err)
		}
		img, err := store.Load(id)
		if err != nil {
			t.Fatal(err)
		}
		if img.ContentType != "image/png" {
			t.Errorf("expected sniffed image/png, got %q", img.ContentType)
		}
	})

	t.Run("EmptyRejected", func(t *testing.T) {
		_, err := store.Save("empty.png", "image/png", nil)
		var vErr *errs.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("OversizeRejected", func(t *testing.T) {
		big := make([]byte, MaxUploadBytes+1)
		_, err := store.Save("big.png", "image/png", big)
		var vErr *errs.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := store.Load("missing"); !errors.Is(err, errs.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		id, err := store.Save("gone.png", "image/png", data)
		if err != nil {
			t.Fatal(err)
		}
		if err := store.Delete(id); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := store.Load(id); !errors.Is(err, errs.ErrNotFound) {
			t.Fatalf("deleted image still loads: %v", err)
		}
		// Unknown IDs are a no-op.
		if err := store.Delete("missing"); err != nil {
			t.Fatalf("deleting an unknown id should not error: %v", err)
		}
	})
}

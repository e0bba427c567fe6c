// Package images stores uploaded asset images in a local bbolt file and
// serves them back by ID.
package images

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/oguzhanali/nft-marketplace/internal/errs"
)

var (
	blobBucket = []byte("blobs")
	metaBucket = []byte("meta")
)

// MaxUploadBytes caps a single image upload.
const MaxUploadBytes = 8 << 20 // 8 MiB

// Image is a stored blob with its metadata.
type Image struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// Store is a bbolt-backed blob store.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the image database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open image store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(blobBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize image store: %w", err)
	}
	return &Store{db: db}, nil
}

// Save stores the image bytes and returns the assigned ID. The content
// type is sniffed when the caller did not provide one.
func (s *Store) Save(name, contentType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errs.Validation("image", "image is empty")
	}
	if len(data) > MaxUploadBytes {
		return "", errs.Validation("image", "image exceeds the upload size limit")
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	id := uuid.NewString()
	meta, err := json.Marshal(Image{ID: id, Name: name, ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to marshal image metadata: %w", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(blobBucket).Put([]byte(id), data); err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Put([]byte(id), meta)
	})
	if err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}
	return id, nil
}

// Load returns the stored image, or ErrNotFound.
func (s *Store) Load(id string) (*Image, error) {
	var img Image
	err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket).Get([]byte(id))
		data := tx.Bucket(blobBucket).Get([]byte(id))
		if meta == nil || data == nil {
			return errs.ErrNotFound
		}
		if err := json.Unmarshal(meta, &img); err != nil {
			return err
		}
		// Bolt values are only valid inside the transaction.
		img.Data = bytes.Clone(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// Delete removes the stored image. Deleting an unknown ID is a no-op; the
// caller is cleaning up and has nothing useful to do with the error.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(blobBucket).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Delete([]byte(id))
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/oguzhanali/nft-marketplace/internal/auction"
	"github.com/oguzhanali/nft-marketplace/internal/catalog"
	"github.com/oguzhanali/nft-marketplace/internal/errs"
	"github.com/oguzhanali/nft-marketplace/internal/events"
	"github.com/oguzhanali/nft-marketplace/internal/images"
	"github.com/oguzhanali/nft-marketplace/internal/models"
	"github.com/oguzhanali/nft-marketplace/internal/storage"
)

// pngHeader is the magic for a PNG file, enough for content sniffing.
var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

// spyImageStore wraps the real blob store and records IDs as they are
// saved and deleted.
type spyImageStore struct {
	*images.Store
	saved   []string
	deleted []string
}

func (s *spyImageStore) Save(name, contentType string, data []byte) (string, error) {
	id, err := s.Store.Save(name, contentType, data)
	if err == nil {
		s.saved = append(s.saved, id)
	}
	return id, err
}

func (s *spyImageStore) Delete(id string) error {
	s.deleted = append(s.deleted, id)
	return s.Store.Delete(id)
}

type testServer struct {
	router *mux.Router
	store  *storage.MemoryStore
	engine *auction.Engine
	images *spyImageStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := storage.NewMemoryStore()
	engine := auction.New(store, events.NopPublisher{}, zerolog.Nop())
	cat := catalog.New(store, engine, zerolog.Nop())

	imgs, err := images.Open(filepath.Join(t.TempDir(), "images.db"))
	if err != nil {
		t.Fatalf("images.Open failed: %v", err)
	}
	t.Cleanup(func() { imgs.Close() })

	spy := &spyImageStore{Store: imgs}
	handler := NewHandler(cat, engine, spy, zerolog.Nop())
	return &testServer{
		router: handler.SetupRoutes(),
		store:  store,
		engine: engine,
		images: spy,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) seedAsset(t *testing.T, endTime time.Time) string {
	t.Helper()
	now := time.Now().UTC()
	id, err := s.store.PutAsset(context.Background(), &models.Asset{
		Title:     "lot",
		Category:  models.CategoryArt,
		Creator:   "0xcreator",
		Image:     "/api/images/x",
		Status:    models.AssetStatusOpen,
		EndTime:   endTime,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestList(t *testing.T) {
	t.Run("EmptyPage", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.do(t, "POST", "/api/list", models.ListRequest{})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
		}
		var assets []*models.Asset
		if err := json.Unmarshal(rec.Body.Bytes(), &assets); err != nil {
			t.Fatalf("invalid response body: %v", err)
		}
		if len(assets) != 0 {
			t.Errorf("expected empty page, got %d", len(assets))
		}
	})

	t.Run("NegativeOffset", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.do(t, "POST", "/api/list", models.ListRequest{Offset: -1})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("UnknownCategory", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.do(t, "POST", "/api/list", models.ListRequest{Category: "memes"})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("CategoryFilter", func(t *testing.T) {
		s := newTestServer(t)
		future := time.Now().Add(time.Hour)
		s.seedAsset(t, future)
		rec := s.do(t, "POST", "/api/list", models.ListRequest{Category: "art"})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var assets []*models.Asset
		if err := json.Unmarshal(rec.Body.Bytes(), &assets); err != nil {
			t.Fatal(err)
		}
		if len(assets) != 1 {
			t.Fatalf("expected 1 asset, got %d", len(assets))
		}
	})
}

func TestMakeBid(t *testing.T) {
	t.Run("MissingID", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.do(t, "POST", "/api/makeBid", models.BidRequest{User: "alice", Price: 10})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("UnknownAsset", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.do(t, "POST", "/api/makeBid", models.BidRequest{ID: "missing", User: "alice", Price: 10})
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("Accepted", func(t *testing.T) {
		s := newTestServer(t)
		id := s.seedAsset(t, time.Now().Add(time.Hour))
		rec := s.do(t, "POST", "/api/makeBid", models.BidRequest{ID: id, User: "alice", Price: 10})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
		}
		var resp models.BidResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if !resp.Success || !resp.IsHighest || resp.CurrentBid != 10 || resp.Bidder != "alice" {
			t.Errorf("unexpected response: %+v", resp)
		}
	})

	t.Run("TooLow", func(t *testing.T) {
		s := newTestServer(t)
		id := s.seedAsset(t, time.Now().Add(time.Hour))
		s.do(t, "POST", "/api/makeBid", models.BidRequest{ID: id, User: "alice", Price: 10})

		rec := s.do(t, "POST", "/api/makeBid", models.BidRequest{ID: id, User: "bob", Price: 10})
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		var resp models.BidResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Success || resp.CurrentBid != 10 || resp.YourBid != 10 {
			t.Errorf("unexpected response: %+v", resp)
		}
	})

	t.Run("Closed", func(t *testing.T) {
		s := newTestServer(t)
		id := s.seedAsset(t, time.Now().Add(-time.Hour))
		rec := s.do(t, "POST", "/api/makeBid", models.BidRequest{ID: id, User: "alice", Price: 10})
		if rec.Code != http.StatusGone {
			t.Fatalf("expected 410, got %d", rec.Code)
		}
	})

	t.Run("MissingUser", func(t *testing.T) {
		s := newTestServer(t)
		id := s.seedAsset(t, time.Now().Add(time.Hour))
		rec := s.do(t, "POST", "/api/makeBid", models.BidRequest{ID: id, Price: 10})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestGetAsset(t *testing.T) {
	t.Run("Found", func(t *testing.T) {
		s := newTestServer(t)
		id := s.seedAsset(t, time.Now().Add(time.Hour))
		rec := s.do(t, "GET", "/api/assets/"+id, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var asset models.Asset
		if err := json.Unmarshal(rec.Body.Bytes(), &asset); err != nil {
			t.Fatal(err)
		}
		if asset.ID != id {
			t.Errorf("expected asset %s, got %s", id, asset.ID)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.do(t, "GET", "/api/assets/missing", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("ExpiredComesBackClosed", func(t *testing.T) {
		s := newTestServer(t)
		id := s.seedAsset(t, time.Now().Add(-time.Minute))
		rec := s.do(t, "GET", "/api/assets/"+id, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var asset models.Asset
		if err := json.Unmarshal(rec.Body.Bytes(), &asset); err != nil {
			t.Fatal(err)
		}
		if asset.Status != models.AssetStatusClosed {
			t.Errorf("expected closed status, got %s", asset.Status)
		}
	})
}

func TestCreate(t *testing.T) {
	buildForm := func(t *testing.T, fields map[string]string, image []byte) (*bytes.Buffer, string) {
		t.Helper()
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)
		for key, value := range fields {
			if err := writer.WriteField(key, value); err != nil {
				t.Fatal(err)
			}
		}
		if image != nil {
			part, err := writer.CreateFormFile("image", "upload.png")
			if err != nil {
				t.Fatal(err)
			}
			if _, err := part.Write(image); err != nil {
				t.Fatal(err)
			}
		}
		writer.Close()
		return &buf, writer.FormDataContentType()
	}

	validFields := func() map[string]string {
		return map[string]string{
			"title":    "Abstract Smoke",
			"category": "art",
			"creator":  "0xcreator",
			"endTime":  time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
		}
	}

	t.Run("Valid", func(t *testing.T) {
		s := newTestServer(t)
		body, contentType := buildForm(t, validFields(), pngHeader)
		req := httptest.NewRequest("POST", "/api/create", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
		}
		var asset models.Asset
		if err := json.Unmarshal(rec.Body.Bytes(), &asset); err != nil {
			t.Fatal(err)
		}
		if asset.ID == "" || asset.Status != models.AssetStatusOpen {
			t.Errorf("unexpected asset: %+v", asset)
		}
		if !strings.HasPrefix(asset.Image, "/api/images/") {
			t.Errorf("image URL not assigned: %q", asset.Image)
		}

		// The uploaded image is retrievable at the returned URL.
		imgRec := s.do(t, "GET", asset.Image, nil)
		if imgRec.Code != http.StatusOK {
			t.Fatalf("image fetch: expected 200, got %d", imgRec.Code)
		}
		if !bytes.Equal(imgRec.Body.Bytes(), pngHeader) {
			t.Error("image bytes did not round trip")
		}
	})

	t.Run("MissingImage", func(t *testing.T) {
		s := newTestServer(t)
		body, contentType := buildForm(t, validFields(), nil)
		req := httptest.NewRequest("POST", "/api/create", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("BadEndTime", func(t *testing.T) {
		s := newTestServer(t)
		fields := validFields()
		fields["endTime"] = "tomorrow"
		body, contentType := buildForm(t, fields, pngHeader)
		req := httptest.NewRequest("POST", "/api/create", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("BadCategory", func(t *testing.T) {
		s := newTestServer(t)
		fields := validFields()
		fields["category"] = "memes"
		body, contentType := buildForm(t, fields, pngHeader)
		req := httptest.NewRequest("POST", "/api/create", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("BadStartPrice", func(t *testing.T) {
		// Trailing garbage must not silently parse as a number.
		s := newTestServer(t)
		fields := validFields()
		fields["startPrice"] = "12abc"
		body, contentType := buildForm(t, fields, pngHeader)
		req := httptest.NewRequest("POST", "/api/create", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if len(s.images.saved) != 0 {
			t.Error("a malformed start price must be rejected before the image is stored")
		}
	})

	t.Run("RejectedCreateCleansUpImage", func(t *testing.T) {
		s := newTestServer(t)
		fields := validFields()
		fields["category"] = "memes"
		body, contentType := buildForm(t, fields, pngHeader)
		req := httptest.NewRequest("POST", "/api/create", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if len(s.images.saved) != 1 {
			t.Fatalf("expected one saved image, got %d", len(s.images.saved))
		}
		id := s.images.saved[0]
		if len(s.images.deleted) != 1 || s.images.deleted[0] != id {
			t.Fatalf("rejected create must delete the uploaded blob, deleted: %v", s.images.deleted)
		}
		if _, err := s.images.Load(id); !errors.Is(err, errs.ErrNotFound) {
			t.Errorf("orphaned blob still present: %v", err)
		}
	})
}

func TestBidHistoryEndpoint(t *testing.T) {
	s := newTestServer(t)
	id := s.seedAsset(t, time.Now().Add(time.Hour))
	s.do(t, "POST", "/api/makeBid", models.BidRequest{ID: id, User: "alice", Price: 5})
	s.do(t, "POST", "/api/makeBid", models.BidRequest{ID: id, User: "bob", Price: 9})

	rec := s.do(t, "GET", "/api/assets/"+id+"/bids", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var bids []*models.Bid
	if err := json.Unmarshal(rec.Body.Bytes(), &bids); err != nil {
		t.Fatal(err)
	}
	if len(bids) != 2 || bids[0].Bidder != "bob" || bids[1].Bidder != "alice" {
		t.Errorf("unexpected history: %+v", bids)
	}

	t.Run("UnknownAsset", func(t *testing.T) {
		rec := s.do(t, "GET", "/api/assets/missing/bids", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
}

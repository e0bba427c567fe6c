// Package api is the HTTP surface of the marketplace. It validates the
// shape of inbound requests and translates engine and catalog results to
// transport responses; business rules live below it.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/oguzhanali/nft-marketplace/internal/auction"
	"github.com/oguzhanali/nft-marketplace/internal/catalog"
	"github.com/oguzhanali/nft-marketplace/internal/errs"
	"github.com/oguzhanali/nft-marketplace/internal/images"
	"github.com/oguzhanali/nft-marketplace/internal/metrics"
	"github.com/oguzhanali/nft-marketplace/internal/models"
	"github.com/oguzhanali/nft-marketplace/internal/storage"
)

// ImageStore is the blob storage behind upload and serving; the bbolt
// images.Store satisfies it.
type ImageStore interface {
	Save(name, contentType string, data []byte) (string, error)
	Load(id string) (*images.Image, error)
	Delete(id string) error
}

// Handler contains the HTTP request handlers.
type Handler struct {
	catalog *catalog.Service
	engine  *auction.Engine
	images  ImageStore
	log     zerolog.Logger
	limiter *RateLimiter
}

// NewHandler creates the HTTP handler set.
func NewHandler(cat *catalog.Service, engine *auction.Engine, imgs ImageStore, log zerolog.Logger) *Handler {
	return &Handler{
		catalog: cat,
		engine:  engine,
		images:  imgs,
		log:     log,
		limiter: NewRateLimiter(20, 40, log),
	}
}

// SetupRoutes configures all HTTP routes.
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/list", h.List).Methods("POST")
	api.HandleFunc("/create", h.Create).Methods("POST")
	api.HandleFunc("/makeBid", h.MakeBid).Methods("POST")
	api.HandleFunc("/assets/{id}", h.GetAsset).Methods("GET")
	api.HandleFunc("/assets/{id}/bids", h.BidHistory).Methods("GET")
	api.HandleFunc("/images/{id}", h.GetImage).Methods("GET")

	router.Use(loggingMiddleware(h.log))
	router.Use(corsMiddleware)
	router.Use(metricsMiddleware)
	router.Use(h.limiter.Middleware)

	return router
}

// HealthCheck returns service health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "marketplace",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// List serves POST /api/list: one page of the asset listing.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var req models.ListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Offset < 0 {
		respondError(w, http.StatusBadRequest, "offset must not be negative")
		return
	}

	assets, err := h.catalog.List(r.Context(), req.Offset, req.Limit, req.Category)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, assets)
}

// Create serves POST /api/create: multipart upload of a new auction.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, images.MaxUploadBytes+64<<10)
	if err := r.ParseMultipartForm(images.MaxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		respondValidation(w, errs.Validation("image", "image file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read image")
		return
	}

	endTimeRaw := r.FormValue("endTime")
	endTime, err := time.Parse(time.RFC3339, endTimeRaw)
	if err != nil {
		respondValidation(w, errs.Validation("endTime", "must be an RFC 3339 timestamp"))
		return
	}

	var startPrice float64
	if raw := r.FormValue("startPrice"); raw != "" {
		startPrice, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			respondValidation(w, errs.Validation("startPrice", "must be a number"))
			return
		}
	}

	imageID, err := h.images.Save(header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	asset, err := h.catalog.CreateAsset(r.Context(), catalog.CreateInput{
		Title:      r.FormValue("title"),
		Category:   r.FormValue("category"),
		Creator:    r.FormValue("creator"),
		Image:      "/api/images/" + imageID,
		StartPrice: startPrice,
		EndTime:    endTime,
	})
	if err != nil {
		// A rejected create must not leave the uploaded blob behind.
		if delErr := h.images.Delete(imageID); delErr != nil {
			h.log.Warn().Err(delErr).Str("image_id", imageID).Msg("failed to delete orphaned image")
		}
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, asset)
}

// MakeBid serves POST /api/makeBid.
func (h *Handler) MakeBid(w http.ResponseWriter, r *http.Request) {
	var req models.BidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		respondValidation(w, errs.Validation("id", "asset id is required"))
		return
	}

	bid, err := h.engine.PlaceBid(r.Context(), req.ID, req.User, req.Price)
	if err != nil {
		var tooLow *errs.BidTooLowError
		if errors.As(err, &tooLow) {
			respondJSON(w, http.StatusConflict, models.BidResponse{
				Success:    false,
				Message:    tooLow.Error(),
				CurrentBid: tooLow.CurrentHighest,
				YourBid:    req.Price,
			})
			return
		}
		h.respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, models.BidResponse{
		Success:    true,
		Message:    "bid placed successfully",
		CurrentBid: bid.Price,
		Bidder:     bid.Bidder,
		YourBid:    bid.Price,
		IsHighest:  true,
		EventID:    bid.ID,
	})
}

// GetAsset serves GET /api/assets/{id}.
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.catalog.GetAsset(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, asset)
}

// BidHistory serves GET /api/assets/{id}/bids.
func (h *Handler) BidHistory(w http.ResponseWriter, r *http.Request) {
	bids, err := h.catalog.BidHistory(r.Context(), mux.Vars(r)["id"], storage.MaxLimit)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, bids)
}

// GetImage serves GET /api/images/{id}.
func (h *Handler) GetImage(w http.ResponseWriter, r *http.Request) {
	img, err := h.images.Load(mux.Vars(r)["id"])
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write(img.Data)
}

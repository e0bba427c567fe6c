package broadcast

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The browser client is served from another origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler handles WebSocket connections.
type Handler struct {
	manager *Manager
	log     zerolog.Logger
}

// NewHandler creates a WebSocket handler.
func NewHandler(manager *Manager, log zerolog.Logger) *Handler {
	return &Handler{manager: manager, log: log}
}

// SetupRoutes configures the WebSocket routes.
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/ws/assets/{id}", h.HandleWebSocket)
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/stats/assets/{id}", h.GetStats).Methods("GET")

	return router
}

// HandleWebSocket upgrades the connection and subscribes it to an asset's
// bid events.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	assetID := mux.Vars(r)["id"]
	if assetID == "" {
		http.Error(w, "asset id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := &Client{
		ID:      uuid.NewString(),
		AssetID: assetID,
		Conn:    conn,
		Send:    make(chan []byte, 256),
	}

	h.manager.RegisterClient(client)
	client.StartReadPump(h.manager.unregister)

	welcome := fmt.Sprintf(`{"type":"connected","assetId":%q,"clientId":%q}`, assetID, client.ID)
	client.Send <- []byte(welcome)
}

// HealthCheck returns service health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"healthy","service":"broadcast"}`)
}

// GetStats reports the subscriber count for an asset.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	assetID := mux.Vars(r)["id"]
	count := h.manager.SubscriberCount(assetID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"assetId":%q,"subscribers":%d}`, assetID, count)
}

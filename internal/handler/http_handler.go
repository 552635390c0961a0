package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/edunderwood/transcript-translate-server/internal/domain"
	"github.com/edunderwood/transcript-translate-server/pkg/response"
)

// StatusSource reads service liveness.
type StatusSource interface {
	Status(serviceID string) domain.ServiceStatus
	Known(serviceID string) bool
	LiveServices() []string
}

// SubscriberSource reads ledger snapshots.
type SubscriberSource interface {
	Snapshot(serviceID string) []domain.LanguageCount
}

// OrganizationSource resolves the organization a service registered with.
type OrganizationSource interface {
	Organization(serviceID string) (string, bool)
}

// RawSource counts raw connections per service.
type RawSource interface {
	Len(serviceID string) int
}

// MirrorSource reads the Redis live-state mirror.
type MirrorSource interface {
	LiveServices(ctx context.Context) ([]string, error)
}

// HTTPHandler serves the status API.
type HTTPHandler struct {
	status        StatusSource
	subscribers   SubscriberSource
	connections   func() int
	organizations OrganizationSource
	raw           RawSource
	mirror        MirrorSource
}

// NewHTTPHandler creates a new HTTP handler. connections may be nil.
func NewHTTPHandler(status StatusSource, subscribers SubscriberSource, connections func() int) *HTTPHandler {
	return &HTTPHandler{
		status:      status,
		subscribers: subscribers,
		connections: connections,
	}
}

// WithOrganizations adds the registered organization to service responses.
func (h *HTTPHandler) WithOrganizations(src OrganizationSource) *HTTPHandler {
	h.organizations = src
	return h
}

// WithRawConnections adds raw connection counts to service responses.
func (h *HTTPHandler) WithRawConnections(src RawSource) *HTTPHandler {
	h.raw = src
	return h
}

// WithMirror makes the health check probe the Redis mirror.
func (h *HTTPHandler) WithMirror(src MirrorSource) *HTTPHandler {
	h.mirror = src
	return h
}

// ServiceResponse describes one service.
type ServiceResponse struct {
	ServiceID      string                 `json:"serviceId"`
	Organization   string                 `json:"organization,omitempty"`
	LiveState      domain.LiveState       `json:"liveState"`
	IsLive         bool                   `json:"isLive"`
	IsStreaming    bool                   `json:"isStreaming"`
	ExpiresAt      *time.Time             `json:"expiresAt,omitempty"`
	Languages      []domain.LanguageCount `json:"languages"`
	RawConnections int                    `json:"rawConnections,omitempty"`
}

// LiveServicesResponse lists live services.
type LiveServicesResponse struct {
	Services []string `json:"services"`
	Total    int      `json:"total"`
}

// GetService handles GET /api/v1/services/{service_id}
func (h *HTTPHandler) GetService(w http.ResponseWriter, r *http.Request) {
	serviceID := mux.Vars(r)["service_id"]
	if serviceID == "" {
		response.BadRequest(w, r, "service_id is required")
		return
	}
	if !h.status.Known(serviceID) {
		response.NotFound(w, r, "service not found")
		return
	}

	st := h.status.Status(serviceID)
	resp := ServiceResponse{
		ServiceID:   serviceID,
		LiveState:   st.LiveState,
		IsLive:      st.LiveState.IsLive(),
		IsStreaming: st.LiveState == domain.Streaming,
		Languages:   h.languages(serviceID),
	}
	if st.ExpiresAt != nil {
		expires := st.ExpiresAt.UTC()
		resp.ExpiresAt = &expires
	}
	if h.organizations != nil {
		resp.Organization, _ = h.organizations.Organization(serviceID)
	}
	if h.raw != nil {
		resp.RawConnections = h.raw.Len(serviceID)
	}
	response.Success(w, r, resp)
}

// GetLanguages handles GET /api/v1/services/{service_id}/languages
// Participants use it to pick a language; offline services have none.
func (h *HTTPHandler) GetLanguages(w http.ResponseWriter, r *http.Request) {
	serviceID := mux.Vars(r)["service_id"]
	if serviceID == "" {
		response.BadRequest(w, r, "service_id is required")
		return
	}

	langs := []domain.LanguageCount{}
	if h.status.Status(serviceID).LiveState.IsLive() {
		langs = h.languages(serviceID)
	}
	response.Success(w, r, domain.SubscribersPayload{Languages: langs})
}

// GetLiveServices handles GET /api/v1/live-services
func (h *HTTPHandler) GetLiveServices(w http.ResponseWriter, r *http.Request) {
	services := h.status.LiveServices()
	if services == nil {
		services = []string{}
	}
	response.Success(w, r, LiveServicesResponse{Services: services, Total: len(services)})
}

// HealthCheck handles GET /health. A failing mirror degrades the status but
// the service keeps coordinating without it.
func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "ok"}
	if h.connections != nil {
		body["connections"] = h.connections()
	}
	if h.mirror != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		live, err := h.mirror.LiveServices(ctx)
		if err != nil {
			body["status"] = "degraded"
			body["mirror"] = map[string]interface{}{"status": "unavailable", "error": err.Error()}
		} else {
			body["mirror"] = map[string]interface{}{"status": "ok", "liveServices": len(live)}
		}
	}
	response.JSON(w, r, http.StatusOK, body)
}

func (h *HTTPHandler) languages(serviceID string) []domain.LanguageCount {
	langs := h.subscribers.Snapshot(serviceID)
	if langs == nil {
		langs = []domain.LanguageCount{}
	}
	return langs
}

// RegisterRoutes registers the HTTP API routes.
func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/services/{service_id}/languages", h.GetLanguages).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/services/{service_id}", h.GetService).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/live-services", h.GetLiveServices).Methods(http.MethodGet)
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
}

// NewRouter builds the full route table.
func NewRouter(ws *WSHandler, api *HTTPHandler) *mux.Router {
	router := mux.NewRouter()
	ws.RegisterRoutes(router)
	api.RegisterRoutes(router)
	return router
}
